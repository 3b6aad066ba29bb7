package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"order-tracking-service/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

// Migrate aplica las migraciones embebidas con goose.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db error: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db error: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect error: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up error: %w", err)
	}
	return nil
}

// PostgresOrderRepository guarda items, dirección e historial como JSONB.
type PostgresOrderRepository struct {
	db *pgxpool.Pool
}

func NewPostgresOrderRepository(db *pgxpool.Pool) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

const orderColumns = `id, items, subtotal, delivery_fee, discount, coupon_code, total, status, seq,
	payment_method, delivery_address, customer_name, customer_phone, otp, history,
	created_at, updated_at, schema_version`

func (r *PostgresOrderRepository) Insert(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("repo.Insert items: %w", err)
	}
	addr, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("repo.Insert address: %w", err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("repo.Insert history: %w", err)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = r.db.Exec(ctx, query,
		o.ID, items, o.Subtotal, o.DeliveryFee, o.Discount, o.CouponCode, o.Total,
		string(o.Status), o.Seq, string(o.PaymentMethod), addr, o.CustomerName, o.CustomerPhone,
		o.OTP, history, o.CreatedAt, o.UpdatedAt, o.SchemaVersion,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("repo.Insert: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo.FindByID: %w", err)
	}
	return o, nil
}

func (r *PostgresOrderRepository) FindAll(ctx context.Context) ([]*model.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *PostgresOrderRepository) FindByStatus(ctx context.Context, status model.Status) ([]*model.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (r *PostgresOrderRepository) FindByCustomerPhone(ctx context.Context, phone string) ([]*model.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_phone = $1 ORDER BY created_at DESC`, phone)
}

func (r *PostgresOrderRepository) query(ctx context.Context, query string, args ...any) ([]*model.Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo.query: %w", err)
	}
	defer rows.Close()

	out := []*model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.query scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.query rows: %w", err)
	}
	return out, nil
}

// UpdateStatus bloquea la fila, desmarca el registro actual y agrega el nuevo.
// Si otra escritura avanzó seq desde la lectura devuelve ErrStatusMismatch.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, expectedSeq int64, status model.Status, record model.StatusRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repo.UpdateStatus begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		raw []byte
		seq int64
	)
	err = tx.QueryRow(ctx, `SELECT seq, history FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&seq, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("repo.UpdateStatus select: %w", err)
	}
	if seq != expectedSeq {
		return ErrStatusMismatch
	}

	var history []model.StatusRecord
	if err := json.Unmarshal(raw, &history); err != nil {
		return fmt.Errorf("repo.UpdateStatus decode: %w", err)
	}
	for i := range history {
		history[i].Current = false
	}
	record.Current = true
	history = append(history, record)

	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("repo.UpdateStatus encode: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, seq = $3, history = $4, updated_at = $5 WHERE id = $1 AND seq = $6`,
		id, string(status), record.Seq, encoded, record.Timestamp, expectedSeq,
	)
	if err != nil {
		return fmt.Errorf("repo.UpdateStatus: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresOrderRepository) RecordLocation(ctx context.Context, loc model.RiderLocation) error {
	query := `
		INSERT INTO rider_locations (order_id, lat, lng, recorded_at, schema_version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE
		SET lat = EXCLUDED.lat, lng = EXCLUDED.lng, recorded_at = EXCLUDED.recorded_at`
	if _, err := r.db.Exec(ctx, query, loc.OrderID, loc.Lat, loc.Lng, loc.Timestamp, model.SchemaVersion); err != nil {
		return fmt.Errorf("repo.RecordLocation: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) LatestLocation(ctx context.Context, orderID string) (*model.RiderLocation, error) {
	loc := model.RiderLocation{OrderID: orderID}
	err := r.db.QueryRow(ctx,
		`SELECT lat, lng, recorded_at FROM rider_locations WHERE order_id = $1`, orderID,
	).Scan(&loc.Lat, &loc.Lng, &loc.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo.LatestLocation: %w", err)
	}
	loc.Timestamp = loc.Timestamp.UTC()
	return &loc, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                    model.Order
		items, addr, history []byte
		status, payment      string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&o.ID, &items, &o.Subtotal, &o.DeliveryFee, &o.Discount, &o.CouponCode, &o.Total,
		&status, &o.Seq, &payment, &addr, &o.CustomerName, &o.CustomerPhone,
		&o.OTP, &history, &createdAt, &updatedAt, &o.SchemaVersion,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.Status(status)
	o.PaymentMethod = model.PaymentMethod(payment)
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(addr, &o.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if err := json.Unmarshal(history, &o.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &o, nil
}
