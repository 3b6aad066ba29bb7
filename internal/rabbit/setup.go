// setup.go
package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/rabbitmq/amqp091-go"

	"order-tracking-service/internal/events"
)

// Channel es la parte de *amqp091.Channel que usa el bus.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Bus publica en un exchange fanout y entrega localmente lo que consume de
// su propia cola. Cada réplica tiene una cola exclusiva, así todas ven todos
// los eventos, incluidos los propios.
type Bus struct {
	ch       Channel
	exchange string
	local    *events.InProcessBus
	done     chan struct{}
}

var _ events.Bus = (*Bus)(nil)

func NewBus(ch Channel, exchange string, local *events.InProcessBus) (*Bus, error) {
	// 1. Declarar el exchange
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declarar exchange %s: %w", exchange, err)
	}

	// 2. Cola exclusiva de esta instancia
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declarar queue: %w", err)
	}

	// 3. Bindear al exchange fanout
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bindear %s a %s: %w", q.Name, exchange, err)
	}

	// 4. Consumir
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consumir %s: %w", q.Name, err)
	}

	b := &Bus{ch: ch, exchange: exchange, local: local, done: make(chan struct{})}
	consumer := NewEventConsumer(local)
	go func() {
		defer close(b.done)
		for m := range msgs {
			_ = consumer.Handle(m.Body)
		}
	}()

	log.Printf("[Rabbit] Suscrito a exchange %s (fanout)", exchange)
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	ev, err := events.NewEvent(name, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return b.ch.PublishWithContext(ctx, b.exchange, name, false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.OccurredAt,
		Type:        name,
		Body:        body,
	})
}

func (b *Bus) Subscribe(name string, h events.Handler) *events.Subscription {
	return b.local.Subscribe(name, h)
}

func (b *Bus) Unsubscribe(sub *events.Subscription) {
	b.local.Unsubscribe(sub)
}

// Close cierra el canal, espera al consumidor y vacía el bus local.
func (b *Bus) Close(ctx context.Context) error {
	if err := b.ch.Close(); err != nil {
		log.Println("[Rabbit] Error cerrando canal:", err)
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.local.Close(ctx)
}
