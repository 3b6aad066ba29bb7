package service

import (
	"fmt"
	"slices"

	"order-tracking-service/internal/model"
)

// Transiciones permitidas y qué roles pueden dispararlas.
// La entrega solo se alcanza verificando el OTP.
var transitions = map[model.Status]map[model.Status][]model.Role{
	model.StatusPlaced: {
		model.StatusPreparing: {model.RoleRider, model.RoleSystem},
		model.StatusCancelled: {model.RoleCustomer, model.RoleSystem},
	},
	model.StatusPreparing: {
		model.StatusOutForDelivery: {model.RoleRider},
		model.StatusCancelled:      {model.RoleCustomer, model.RoleSystem},
	},
	model.StatusOutForDelivery: {
		model.StatusDelivered: {model.RoleRider},
	},
}

// checkTransition no toca el estado; solo decide si el cambio es legal.
func checkTransition(o *model.Order, to model.Status, actor model.Actor, viaOTP bool) error {
	if !to.Valid() {
		return fmt.Errorf("%w: estado desconocido %q", ErrInvalidTransition, to)
	}
	if o.Status.Final() {
		return ErrFinalState
	}

	allowed, ok := transitions[o.Status][to]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if to == model.StatusDelivered && !viaOTP {
		return ErrOTPRequired
	}
	if actor == nil || !slices.Contains(allowed, actor.ActorRole()) {
		return ErrForbidden
	}

	// un cliente solo puede cancelar sus propias órdenes
	if c, ok := actor.(model.Customer); ok && c.Phone != o.CustomerPhone {
		return ErrForbidden
	}
	return nil
}

// NextStatuses lista los estados a los que el rol puede mover la orden.
func NextStatuses(from model.Status, role model.Role) []model.Status {
	var out []model.Status
	for _, to := range model.Statuses {
		if slices.Contains(transitions[from][to], role) {
			out = append(out, to)
		}
	}
	return out
}
