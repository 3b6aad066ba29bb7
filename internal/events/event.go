package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"order-tracking-service/internal/model"
)

// Nombres de eventos que publica el servicio de órdenes.
const (
	NewOrder            = "new_order"
	OrderStatusUpdate   = "order_status_update"
	RiderLocationUpdate = "rider_location_update"
)

// Event es el sobre que viaja por el bus, local o por broker.
type Event struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent serializa el payload y arma el sobre con un id nuevo.
func NewEvent(name string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

// StatusUpdate es el payload de order_status_update. Seq permite a los
// clientes descartar eventos viejos que lleguen fuera de orden.
type StatusUpdate struct {
	OrderID   string       `json:"orderId"`
	Status    model.Status `json:"status"`
	Seq       int64        `json:"seq"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// LocationUpdate es el payload de rider_location_update.
type LocationUpdate struct {
	OrderID   string    `json:"orderId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}
