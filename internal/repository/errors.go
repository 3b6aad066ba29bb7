package repository

import "errors"

var (
	ErrNotFound    = errors.New("orden no encontrada")
	ErrDuplicateID = errors.New("ya existe una orden con ese id")

	// ErrStatusMismatch: la orden cambió desde que se leyó.
	ErrStatusMismatch = errors.New("la orden cambió: escritura condicional fallida")
)
