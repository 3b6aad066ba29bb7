package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"order-tracking-service/internal/model"
)

// snapshot es el formato del archivo. Las claves replican el layout lógico:
// órdenes por id y última ubicación por id de orden.
type snapshot struct {
	SchemaVersion  int                             `json:"schemaVersion"`
	Orders         map[string]*model.Order         `json:"orders"`
	RiderLocations map[string]*model.RiderLocation `json:"rider_locations"`
}

// MemoryOrderRepository guarda todo en memoria. Con path no vacío, cada
// escritura se vuelca a un archivo JSON y se recarga al iniciar.
type MemoryOrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]*model.Order
	locations map[string]*model.RiderLocation
	path      string
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:    make(map[string]*model.Order),
		locations: make(map[string]*model.RiderLocation),
	}
}

// NewFileOrderRepository carga el archivo si existe.
func NewFileOrderRepository(path string) (*MemoryOrderRepository, error) {
	r := NewMemoryOrderRepository()
	r.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo.NewFileOrderRepository: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("repo.NewFileOrderRepository decode: %w", err)
	}
	if snap.SchemaVersion > model.SchemaVersion {
		return nil, fmt.Errorf("repo.NewFileOrderRepository: schema %d no soportado", snap.SchemaVersion)
	}
	for id, o := range snap.Orders {
		if o.SchemaVersion == 0 {
			o.SchemaVersion = model.SchemaVersion
		}
		r.orders[id] = o
	}
	for id, loc := range snap.RiderLocations {
		r.locations[id] = loc
	}
	return r, nil
}

func (r *MemoryOrderRepository) Insert(ctx context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return ErrDuplicateID
	}
	r.orders[o.ID] = o.Clone()
	if err := r.persist(); err != nil {
		delete(r.orders, o.ID)
		return err
	}
	return nil
}

func (r *MemoryOrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) FindAll(ctx context.Context) ([]*model.Order, error) {
	return r.filter(func(*model.Order) bool { return true }), nil
}

func (r *MemoryOrderRepository) FindByStatus(ctx context.Context, status model.Status) ([]*model.Order, error) {
	return r.filter(func(o *model.Order) bool { return o.Status == status }), nil
}

func (r *MemoryOrderRepository) FindByCustomerPhone(ctx context.Context, phone string) ([]*model.Order, error) {
	return r.filter(func(o *model.Order) bool { return o.CustomerPhone == phone }), nil
}

// filter devuelve copias, de la más nueva a la más vieja.
func (r *MemoryOrderRepository) filter(keep func(*model.Order) bool) []*model.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdateStatus solo escribe si la orden sigue en expectedSeq.
func (r *MemoryOrderRepository) UpdateStatus(ctx context.Context, id string, expectedSeq int64, status model.Status, record model.StatusRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if prev.Seq != expectedSeq {
		return ErrStatusMismatch
	}

	o := prev.Clone()
	for i := range o.History {
		o.History[i].Current = false
	}
	record.Current = true
	o.History = append(o.History, record)
	o.Status = status
	o.Seq = record.Seq
	o.UpdatedAt = record.Timestamp

	r.orders[id] = o
	if err := r.persist(); err != nil {
		r.orders[id] = prev
		return err
	}
	return nil
}

func (r *MemoryOrderRepository) RecordLocation(ctx context.Context, loc model.RiderLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.locations[loc.OrderID]
	r.locations[loc.OrderID] = &loc
	if err := r.persist(); err != nil {
		if had {
			r.locations[loc.OrderID] = prev
		} else {
			delete(r.locations, loc.OrderID)
		}
		return err
	}
	return nil
}

func (r *MemoryOrderRepository) LatestLocation(ctx context.Context, orderID string) (*model.RiderLocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.locations[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *loc
	return &c, nil
}

// persist se llama con el lock de escritura tomado. Escribe a un temporal y
// renombra para no dejar el archivo a medias. Si falla, quien llama deshace
// el cambio en los mapas.
func (r *MemoryOrderRepository) persist() error {
	if r.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(snapshot{
		SchemaVersion:  model.SchemaVersion,
		Orders:         r.orders,
		RiderLocations: r.locations,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("repo.persist encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".orders-*.json")
	if err != nil {
		return fmt.Errorf("repo.persist: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("repo.persist write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("repo.persist close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("repo.persist rename: %w", err)
	}
	return nil
}
