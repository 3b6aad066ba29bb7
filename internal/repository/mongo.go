package repository

import (
	"context"
	"errors"
	"fmt"

	"order-tracking-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo implementation
type MongoOrderRepository struct {
	col  *mongo.Collection
	locs *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{
		col:  db.Collection("orders"),
		locs: db.Collection("rider_locations"),
	}
}

// EnsureIndexes crea los índices únicos por order_id. Es idempotente.
func (m *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "order_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := m.col.Indexes().CreateOne(ctx, unique); err != nil {
		return fmt.Errorf("repo.EnsureIndexes orders: %w", err)
	}
	if _, err := m.col.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "customer_phone", Value: 1}}}); err != nil {
		return fmt.Errorf("repo.EnsureIndexes orders phone: %w", err)
	}
	if _, err := m.locs.Indexes().CreateOne(ctx, unique); err != nil {
		return fmt.Errorf("repo.EnsureIndexes rider_locations: %w", err)
	}
	return nil
}

func (m *MongoOrderRepository) Insert(ctx context.Context, o *model.Order) error {
	_, err := m.col.InsertOne(ctx, o)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("repo.Insert: %w", err)
	}
	return nil
}

func (m *MongoOrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	var res model.Order
	err := m.col.FindOne(ctx, bson.M{"order_id": id}).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo.FindByID: %w", err)
	}
	return &res, nil
}

// UpdateStatus no valida la transición; eso lo hace el servicio. Solo escribe
// si la orden sigue en expectedSeq.
func (m *MongoOrderRepository) UpdateStatus(ctx context.Context, id string, expectedSeq int64, status model.Status, record model.StatusRecord) error {

	// PASO 1: desmarcar el actual y avanzar seq, condicionado al seq leído
	filter := bson.M{
		"order_id":        id,
		"seq":             expectedSeq,
		"history.current": true,
	}

	update1 := bson.M{
		"$set": bson.M{
			"history.$.current": false,
			"status":            status,
			"seq":               record.Seq,
			"updated_at":        record.Timestamp,
		},
	}

	r1, err := m.col.UpdateOne(ctx, filter, update1)
	if err != nil {
		return fmt.Errorf("repo.UpdateStatus: %w", err)
	}
	if r1.MatchedCount == 0 {
		n, err := m.col.CountDocuments(ctx, bson.M{"order_id": id})
		if err != nil {
			return fmt.Errorf("repo.UpdateStatus count: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrStatusMismatch
	}

	// PASO 2: pushear el nuevo registro
	record.Current = true
	update2 := bson.M{
		"$push": bson.M{
			"history": record,
		},
	}

	if _, err := m.col.UpdateOne(ctx, bson.M{"order_id": id, "seq": record.Seq}, update2); err != nil {
		return fmt.Errorf("repo.UpdateStatus push: %w", err)
	}
	return nil
}

func (m *MongoOrderRepository) FindAll(ctx context.Context) ([]*model.Order, error) {
	return m.find(ctx, bson.M{})
}

func (m *MongoOrderRepository) FindByStatus(ctx context.Context, status model.Status) ([]*model.Order, error) {
	return m.find(ctx, bson.M{"status": status})
}

func (m *MongoOrderRepository) FindByCustomerPhone(ctx context.Context, phone string) ([]*model.Order, error) {
	return m.find(ctx, bson.M{"customer_phone": phone})
}

func (m *MongoOrderRepository) find(ctx context.Context, filter bson.M) ([]*model.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("repo.find: %w", err)
	}
	defer cur.Close(ctx)

	out := []*model.Order{}
	for cur.Next(ctx) {
		var v model.Order
		if err := cur.Decode(&v); err != nil {
			return nil, fmt.Errorf("repo.find decode: %w", err)
		}
		out = append(out, &v)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("repo.find cursor: %w", err)
	}
	return out, nil
}

// RecordLocation hace upsert: una sola muestra por orden.
func (m *MongoOrderRepository) RecordLocation(ctx context.Context, loc model.RiderLocation) error {
	filter := bson.M{"order_id": loc.OrderID}
	update := bson.M{"$set": bson.M{
		"order_id":       loc.OrderID,
		"lat":            loc.Lat,
		"lng":            loc.Lng,
		"timestamp":      loc.Timestamp,
		"schema_version": model.SchemaVersion,
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := m.locs.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("repo.RecordLocation: %w", err)
	}
	return nil
}

func (m *MongoOrderRepository) LatestLocation(ctx context.Context, orderID string) (*model.RiderLocation, error) {
	var res model.RiderLocation
	err := m.locs.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repo.LatestLocation: %w", err)
	}
	return &res, nil
}
