package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"order-tracking-service/internal/repository"
)

// Errores de negocio exportados (los usa el controller)
var (
	ErrValidation        = errors.New("datos de la orden inválidos")
	ErrNotFound          = repository.ErrNotFound
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("transición de estado inválida")
	ErrFinalState        = fmt.Errorf("%w: la orden está en estado final", ErrInvalidTransition)
	ErrOTPRequired       = fmt.Errorf("%w: la entrega se confirma con el código OTP", ErrInvalidTransition)
	ErrOTPMismatch       = errors.New("el código OTP no coincide")
	ErrOTPLocked         = errors.New("demasiados intentos de OTP para esta orden")
	ErrCouponInvalid     = fmt.Errorf("%w: cupón inexistente", ErrValidation)
	ErrCouponExpired     = fmt.Errorf("%w: cupón vencido", ErrValidation)
)

// ValidationError detalla los campos rechazados. errors.Is(err, ErrValidation) es true.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
