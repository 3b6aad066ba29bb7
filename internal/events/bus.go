package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler procesa un evento. Un error o panic se registra en el log y no
// afecta al resto de los suscriptores.
type Handler func(ctx context.Context, ev Event) error

// Publisher es lo único que necesita el servicio de órdenes.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Bus agrega la suscripción. Las implementaciones (en proceso, RabbitMQ,
// Kafka) son intercambiables.
type Bus interface {
	Publisher
	Subscribe(name string, h Handler) *Subscription
	Unsubscribe(sub *Subscription)
}

// Subscription identifica un handler registrado.
type Subscription struct {
	ID   string
	Name string

	handler   Handler
	cancelled atomic.Bool
	once      sync.Once
	remove    func(*Subscription)
}

func newSubscription(name string, h Handler, remove func(*Subscription)) *Subscription {
	return &Subscription{
		ID:      uuid.NewString(),
		Name:    name,
		handler: h,
		remove:  remove,
	}
}

// Cancel da de baja la suscripción. Llamarlo más de una vez no hace nada.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancelled.Store(true)
		if s.remove != nil {
			s.remove(s)
		}
	})
}

func (s *Subscription) Active() bool {
	return s != nil && !s.cancelled.Load()
}
