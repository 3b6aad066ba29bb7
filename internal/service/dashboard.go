package service

import (
	"context"

	"order-tracking-service/internal/model"
)

type Dashboard struct {
	TotalOrders   int                  `json:"totalOrders"`
	ByStatus      map[model.Status]int `json:"byStatus"`
	ActiveOrders  int                  `json:"activeOrders"`
	ActiveRiders  int                  `json:"activeRiders"`
	Revenue       int64                `json:"revenue"`
	AverageTicket int64                `json:"averageTicket"`
}

// Dashboard resume las órdenes para el dueño. Revenue cuenta solo entregadas.
func (s *OrderService) Dashboard(ctx context.Context) (Dashboard, error) {
	orders, err := s.repo.FindAll(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{TotalOrders: len(orders), ByStatus: make(map[model.Status]int, len(model.Statuses))}
	for _, st := range model.Statuses {
		d.ByStatus[st] = 0
	}

	riders := map[string]struct{}{}
	delivered := 0
	for _, o := range orders {
		d.ByStatus[o.Status]++
		switch {
		case o.Status == model.StatusDelivered:
			delivered++
			d.Revenue += o.Total
		case !o.Status.Final():
			d.ActiveOrders++
			for _, h := range o.History {
				if h.ActorRole == model.RoleRider {
					riders[h.ActorID] = struct{}{}
				}
			}
		}
	}
	d.ActiveRiders = len(riders)
	if delivered > 0 {
		d.AverageTicket = d.Revenue / int64(delivered)
	}
	return d, nil
}
