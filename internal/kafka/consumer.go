package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"order-tracking-service/internal/events"
)

// Dispatcher entrega un evento ya armado a los suscriptores locales.
type Dispatcher interface {
	Dispatch(ev events.Event) error
}

type ConsumerGroupHandler struct {
	Local Dispatcher
}

func (ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marca todos los mensajes, aun los que no se pueden decodificar:
// reintentar un mensaje roto no lo arregla.
func (h ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev events.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.Name == "" {
			log.Printf("[Kafka] Mensaje inválido topic=%s partition=%d offset=%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		} else if err := h.Local.Dispatch(ev); err != nil {
			log.Printf("[Kafka] Error entregando %s: %v", ev.Name, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// runConsumer consume hasta que se cancele ctx. Consume vuelve en cada
// rebalanceo, por eso el loop.
func runConsumer(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler sarama.ConsumerGroupHandler) {
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			log.Printf("[Kafka] Error from consumer: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
