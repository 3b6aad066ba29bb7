package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-tracking-service/internal/model"
)

type orderStore interface {
	Insert(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindAll(ctx context.Context) ([]*model.Order, error)
	FindByStatus(ctx context.Context, status model.Status) ([]*model.Order, error)
	FindByCustomerPhone(ctx context.Context, phone string) ([]*model.Order, error)
	UpdateStatus(ctx context.Context, id string, expectedSeq int64, status model.Status, record model.StatusRecord) error
	RecordLocation(ctx context.Context, loc model.RiderLocation) error
	LatestLocation(ctx context.Context, orderID string) (*model.RiderLocation, error)
}

var (
	_ orderStore = (*MemoryOrderRepository)(nil)
	_ orderStore = (*MongoOrderRepository)(nil)
	_ orderStore = (*PostgresOrderRepository)(nil)
)

func sampleOrder(id, phone string, created time.Time) *model.Order {
	lat, lng := 31.52, 74.35
	return &model.Order{
		ID: id,
		Items: []model.LineItem{
			{ProductID: "smash-1", Name: "Classic Smash", Quantity: 2, BasePrice: 500, UnitPrice: 500},
		},
		Subtotal:      1000,
		DeliveryFee:   150,
		Total:         1150,
		Status:        model.StatusPlaced,
		Seq:           1,
		PaymentMethod: model.PaymentCashOnDelivery,
		DeliveryAddress: model.Address{
			Label: model.LabelHome, Details: "House 12, Street 4", Area: "Gulberg", City: "Lahore",
			Lat: &lat, Lng: &lng,
		},
		CustomerName:  "Ayesha",
		CustomerPhone: phone,
		OTP:           "4821",
		History: []model.StatusRecord{
			{Status: model.StatusPlaced, ActorRole: model.RoleCustomer, ActorID: phone, Seq: 1, Timestamp: created, Current: true},
		},
		CreatedAt:     created,
		UpdatedAt:     created,
		SchemaVersion: model.SchemaVersion,
	}
}

// runStoreContract ejercita el comportamiento común a todos los backends.
// prefix evita choques de ids entre corridas contra bases compartidas.
func runStoreContract(t *testing.T, repo orderStore, prefix string) {
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	phone := prefix + "-0300"

	first := sampleOrder(prefix+"A", phone, base)
	second := sampleOrder(prefix+"B", phone, base.Add(time.Minute))
	other := sampleOrder(prefix+"C", prefix+"-0333", base.Add(2*time.Minute))

	t.Run("insert and find", func(t *testing.T) {
		require.NoError(t, repo.Insert(ctx, first))
		require.NoError(t, repo.Insert(ctx, second))
		require.NoError(t, repo.Insert(ctx, other))

		got, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, int64(1150), got.Total)
		assert.Equal(t, model.StatusPlaced, got.Status)
		assert.Equal(t, "4821", got.OTP)
		require.Len(t, got.Items, 1)
		assert.Equal(t, 2, got.Items[0].Quantity)
		require.NotNil(t, got.DeliveryAddress.Lat)
		assert.InDelta(t, 31.52, *got.DeliveryAddress.Lat, 1e-9)
	})

	t.Run("duplicate id", func(t *testing.T) {
		assert.ErrorIs(t, repo.Insert(ctx, sampleOrder(first.ID, phone, base)), ErrDuplicateID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = repo.UpdateStatus(ctx, prefix+"missing", 1, model.StatusPreparing, model.StatusRecord{Status: model.StatusPreparing, Seq: 2})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.LatestLocation(ctx, first.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("queries", func(t *testing.T) {
		mine, err := repo.FindByCustomerPhone(ctx, phone)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, second.ID, mine[0].ID, "más nueva primero")

		placed, err := repo.FindByStatus(ctx, model.StatusPlaced)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(placed), 3)
	})

	t.Run("update status appends history", func(t *testing.T) {
		at := base.Add(5 * time.Minute)
		rec := model.StatusRecord{Status: model.StatusPreparing, ActorRole: model.RoleRider, ActorID: "r1", Seq: 2, Timestamp: at}
		require.NoError(t, repo.UpdateStatus(ctx, first.ID, 1, model.StatusPreparing, rec))

		got, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPreparing, got.Status)
		assert.Equal(t, int64(2), got.Seq)
		require.Len(t, got.History, 2)
		assert.False(t, got.History[0].Current)
		assert.True(t, got.History[1].Current)
		assert.Equal(t, model.StatusPreparing, got.CurrentRecord().Status)

		preparing, err := repo.FindByStatus(ctx, model.StatusPreparing)
		require.NoError(t, err)
		ids := make([]string, 0, len(preparing))
		for _, o := range preparing {
			ids = append(ids, o.ID)
		}
		assert.Contains(t, ids, first.ID)
	})

	t.Run("update status with stale seq", func(t *testing.T) {
		// first ya está en preparing con seq 2; quien leyó seq 1 no escribe
		at := base.Add(6 * time.Minute)
		stale := model.StatusRecord{Status: model.StatusCancelled, ActorRole: model.RoleCustomer, ActorID: phone, Seq: 2, Timestamp: at}
		assert.ErrorIs(t, repo.UpdateStatus(ctx, first.ID, 1, model.StatusCancelled, stale), ErrStatusMismatch)

		got, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPreparing, got.Status)
		assert.Equal(t, int64(2), got.Seq)
		require.Len(t, got.History, 2)
		assert.True(t, got.History[1].Current)

		next := model.StatusRecord{Status: model.StatusOutForDelivery, ActorRole: model.RoleRider, ActorID: "r1", Seq: 3, Timestamp: at}
		require.NoError(t, repo.UpdateStatus(ctx, first.ID, 2, model.StatusOutForDelivery, next))
		assert.ErrorIs(t, repo.UpdateStatus(ctx, first.ID, 2, model.StatusCancelled, stale), ErrStatusMismatch)

		got, err = repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOutForDelivery, got.Status)
		assert.Equal(t, int64(3), got.Seq)
		require.Len(t, got.History, 3)
		assert.False(t, got.History[1].Current)
		assert.True(t, got.History[2].Current)
	})

	t.Run("concurrent status writers from same seq", func(t *testing.T) {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := model.StatusRecord{Status: model.StatusPreparing, ActorID: fmt.Sprintf("r%d", i), Seq: 2, Timestamp: base}
				err := repo.UpdateStatus(ctx, second.ID, 1, model.StatusPreparing, rec)
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ErrStatusMismatch)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, ok)

		got, err := repo.FindByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Seq)
		assert.Len(t, got.History, 2)
	})

	t.Run("location last write wins", func(t *testing.T) {
		require.NoError(t, repo.RecordLocation(ctx, model.RiderLocation{OrderID: second.ID, Lat: 31.5, Lng: 74.3, Timestamp: base}))
		require.NoError(t, repo.RecordLocation(ctx, model.RiderLocation{OrderID: second.ID, Lat: 31.6, Lng: 74.31, Timestamp: base.Add(time.Second)}))

		loc, err := repo.LatestLocation(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, loc.OrderID)
		assert.InDelta(t, 31.6, loc.Lat, 1e-9)
		assert.InDelta(t, 74.31, loc.Lng, 1e-9)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = repo.RecordLocation(ctx, model.RiderLocation{OrderID: other.ID, Lat: float64(i), Lng: float64(i), Timestamp: base})
				_, _ = repo.FindByID(ctx, other.ID)
			}(i)
		}
		wg.Wait()

		loc, err := repo.LatestLocation(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, loc.Lat, loc.Lng, fmt.Sprintf("muestra mezclada: %+v", loc))
	})
}
