package tracking

import (
	"sync"
	"time"

	"order-tracking-service/internal/events"
	"order-tracking-service/internal/model"
)

// Tracker mantiene el estado que ve un cliente suscripto a una orden.
// Descarta eventos de estado con seq menor o igual al que ya tiene, así la
// vista nunca retrocede aunque los eventos lleguen desordenados.
type Tracker struct {
	mu    sync.Mutex
	order *model.Order
	loc   *model.RiderLocation
	route Route
}

func NewTracker(o *model.Order, loc *model.RiderLocation, route Route) *Tracker {
	t := &Tracker{order: o.Clone(), route: route}
	if loc != nil {
		c := *loc
		t.loc = &c
	}
	return t
}

// ApplyStatus devuelve false si el evento es de otra orden o está viejo.
func (t *Tracker) ApplyStatus(u events.StatusUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.OrderID != t.order.ID || u.Seq <= t.order.Seq {
		return false
	}
	for i := range t.order.History {
		t.order.History[i].Current = false
	}
	t.order.History = append(t.order.History, model.StatusRecord{
		Status:    u.Status,
		Seq:       u.Seq,
		Timestamp: u.UpdatedAt,
		Current:   true,
	})
	t.order.Status = u.Status
	t.order.Seq = u.Seq
	t.order.UpdatedAt = u.UpdatedAt
	return true
}

// ApplyLocation ignora muestras más viejas que la que ya tiene.
func (t *Tracker) ApplyLocation(u events.LocationUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.OrderID != t.order.ID {
		return false
	}
	if t.loc != nil && u.Timestamp.Before(t.loc.Timestamp) {
		return false
	}
	t.loc = &model.RiderLocation{OrderID: u.OrderID, Lat: u.Lat, Lng: u.Lng, Timestamp: u.Timestamp}
	return true
}

func (t *Tracker) Status() (model.Status, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Status, t.order.Seq
}

func (t *Tracker) View(now time.Time) View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Project(t.order, t.loc, now, t.route)
}
