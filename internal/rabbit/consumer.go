package rabbit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"order-tracking-service/internal/events"
)

// Dispatcher entrega un evento ya armado a los suscriptores locales.
type Dispatcher interface {
	Dispatch(ev events.Event) error
}

// EventConsumer pasa al bus local lo que llega del exchange.
type EventConsumer struct {
	Local Dispatcher
}

func NewEventConsumer(local Dispatcher) *EventConsumer {
	return &EventConsumer{Local: local}
}

var errMissingName = errors.New("evento sin nombre")

func (c *EventConsumer) Handle(msg []byte) error {
	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		log.Println("[Rabbit] Error parseando mensaje:", err)
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Name == "" {
		log.Println("[Rabbit] Mensaje descartado:", errMissingName)
		return errMissingName
	}

	if err := c.Local.Dispatch(ev); err != nil {
		log.Printf("[Rabbit] Error entregando %s (%s): %v", ev.Name, ev.ID, err)
		return err
	}
	return nil
}
