package tracking

import (
	"math"
	"time"

	"order-tracking-service/internal/model"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route tiene los dos extremos del mapa de seguimiento.
type Route struct {
	Kitchen  Point `json:"kitchen"`
	Customer Point `json:"customer"`
}

func (r Route) Midpoint() Point {
	return Point{
		Lat: (r.Kitchen.Lat + r.Customer.Lat) / 2,
		Lng: (r.Kitchen.Lng + r.Customer.Lng) / 2,
	}
}

// For usa las coordenadas de la dirección de entrega cuando existen.
func (r Route) For(o *model.Order) Route {
	out := r
	if o.DeliveryAddress.Lat != nil && o.DeliveryAddress.Lng != nil {
		out.Customer = Point{Lat: *o.DeliveryAddress.Lat, Lng: *o.DeliveryAddress.Lng}
	}
	return out
}

type MarkerSource string

const (
	MarkerKitchen  MarkerSource = "kitchen"
	MarkerCustomer MarkerSource = "customer"
	MarkerGPS      MarkerSource = "gps"
	MarkerMidpoint MarkerSource = "midpoint"
)

type RiderMarker struct {
	Position  Point        `json:"position"`
	Source    MarkerSource `json:"source"`
	UpdatedAt *time.Time   `json:"updatedAt,omitempty"`
}

type Step struct {
	Status      model.Status `json:"status"`
	Label       string       `json:"label"`
	Description string       `json:"description"`
	ETALabel    string       `json:"etaLabel"`
	ETA         time.Time    `json:"eta"`
	Completed   bool         `json:"completed"`
}

// View es lo que dibuja la pantalla de seguimiento.
type View struct {
	OrderID          string       `json:"orderId"`
	Status           model.Status `json:"status"`
	Seq              int64        `json:"seq"`
	Cancelled        bool         `json:"cancelled"`
	Steps            []Step       `json:"steps"`
	CurrentStep      int          `json:"currentStep"`
	Rider            RiderMarker  `json:"rider"`
	Route            Route        `json:"route"`
	EstimatedArrival time.Time    `json:"estimatedArrival"`
	MinutesToArrival int          `json:"minutesToArrival"`
	Overdue          bool         `json:"overdue"`
}

type stepDef struct {
	status      model.Status
	label       string
	description string
	etaLabel    string
	offset      time.Duration
}

var steps = []stepDef{
	{model.StatusPlaced, "Order Confirmed", "Secure connection established", "Logged at", 0},
	{model.StatusPreparing, "In Kitchen", "Smashing your burgers now", "Prep Start", 10 * time.Minute},
	{model.StatusOutForDelivery, "On Route", "Rider is navigating to you", "Dispatch", 25 * time.Minute},
	{model.StatusDelivered, "Delivered", "Order completed. Enjoy!", "Arrival", 35 * time.Minute},
}

func stepIndex(s model.Status) int {
	for i, d := range steps {
		if d.status == s {
			return i
		}
	}
	return -1
}

// reachedStep devuelve el último paso alcanzado. Para una orden cancelada
// es el estado previo a la cancelación según el historial.
func reachedStep(o *model.Order) int {
	if idx := stepIndex(o.Status); idx >= 0 {
		return idx
	}
	reached := 0
	for _, h := range o.History {
		if idx := stepIndex(h.Status); idx > reached {
			reached = idx
		}
	}
	return reached
}

// Project es una función pura: mismas entradas, misma salida.
func Project(o *model.Order, loc *model.RiderLocation, now time.Time, route Route) View {
	route = route.For(o)
	current := reachedStep(o)
	cancelled := o.Status == model.StatusCancelled

	v := View{
		OrderID:     o.ID,
		Status:      o.Status,
		Seq:         o.Seq,
		Cancelled:   cancelled,
		Steps:       make([]Step, len(steps)),
		CurrentStep: current,
		Route:       route,
	}

	for i, d := range steps {
		v.Steps[i] = Step{
			Status:      d.status,
			Label:       d.label,
			Description: d.description,
			ETALabel:    d.etaLabel,
			ETA:         o.CreatedAt.Add(d.offset),
			Completed:   i <= current,
		}
	}

	v.EstimatedArrival = v.Steps[len(steps)-1].ETA
	if !o.Status.Final() {
		remaining := v.EstimatedArrival.Sub(now)
		if remaining > 0 {
			v.MinutesToArrival = int(math.Ceil(remaining.Minutes()))
		} else {
			v.Overdue = true
		}
	}

	v.Rider = riderMarker(o.Status, loc, route)
	return v
}

func riderMarker(status model.Status, loc *model.RiderLocation, route Route) RiderMarker {
	switch status {
	case model.StatusDelivered:
		return RiderMarker{Position: route.Customer, Source: MarkerCustomer}
	case model.StatusOutForDelivery:
		if loc != nil {
			ts := loc.Timestamp
			return RiderMarker{Position: Point{Lat: loc.Lat, Lng: loc.Lng}, Source: MarkerGPS, UpdatedAt: &ts}
		}
		return RiderMarker{Position: route.Midpoint(), Source: MarkerMidpoint}
	}
	return RiderMarker{Position: route.Kitchen, Source: MarkerKitchen}
}
