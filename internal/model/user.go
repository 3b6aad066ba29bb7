package model

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleRider    Role = "rider"
	RoleOwner    Role = "owner"
	RoleSystem   Role = "system"
)

var ErrUnknownRole = errors.New("rol desconocido")

// User es lo que devuelve el proveedor de identidad externo.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`
}

// Actor es quien dispara una operación. Solo existen las variantes de este
// paquete: Customer, Rider, Owner y System.
type Actor interface {
	ActorRole() Role
	ActorID() string
	sealed()
}

type Customer struct {
	Name  string
	Phone string
}

type Rider struct {
	ID   string
	Name string
}

type Owner struct {
	ID   string
	Name string
}

// System representa procesos internos (jobs, consumidores de eventos).
type System struct {
	Name string
}

func (c Customer) ActorRole() Role { return RoleCustomer }
func (c Customer) ActorID() string { return c.Phone }
func (Customer) sealed()           {}

func (r Rider) ActorRole() Role { return RoleRider }
func (r Rider) ActorID() string { return r.ID }
func (Rider) sealed()           {}

func (o Owner) ActorRole() Role { return RoleOwner }
func (o Owner) ActorID() string { return o.ID }
func (Owner) sealed()           {}

func (s System) ActorRole() Role { return RoleSystem }
func (s System) ActorID() string { return s.Name }
func (System) sealed()           {}

// NewActor convierte el usuario autenticado en su variante por rol.
func NewActor(u User) (Actor, error) {
	switch u.Role {
	case RoleCustomer:
		if u.Phone == "" {
			return nil, fmt.Errorf("customer %q sin teléfono", u.ID)
		}
		return Customer{Name: u.Name, Phone: u.Phone}, nil
	case RoleRider:
		return Rider{ID: u.ID, Name: u.Name}, nil
	case RoleOwner:
		return Owner{ID: u.ID, Name: u.Name}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRole, u.Role)
}
