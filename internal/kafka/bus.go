package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"order-tracking-service/internal/events"
)

type BusConfig struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
}

type publisher interface {
	Publish(topic, key string, message []byte) error
	Close() error
}

// Bus publica los eventos en un topic y entrega localmente lo que consume.
// Cada instancia usa su propio consumer group, así todas reciben todo.
type Bus struct {
	producer publisher
	topic    string
	local    *events.InProcessBus
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ events.Bus = (*Bus)(nil)

func NewBus(cfg BusConfig, local *events.InProcessBus) (*Bus, error) {
	producer, err := NewSaramaProducer(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	groupID := cfg.GroupPrefix + "-" + uuid.NewString()
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, config)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}

	b := newBus(producer, cfg.Topic, local)
	b.group = group

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go func() {
		defer close(b.done)
		runConsumer(ctx, group, []string{cfg.Topic}, ConsumerGroupHandler{Local: local})
	}()

	log.Printf("[Kafka] Suscrito a topic %s (group %s)", cfg.Topic, groupID)
	return b, nil
}

func newBus(p publisher, topic string, local *events.InProcessBus) *Bus {
	return &Bus{producer: p, topic: topic, local: local, done: make(chan struct{})}
}

// Publish usa el nombre del evento como key.
func (b *Bus) Publish(_ context.Context, name string, payload any) error {
	ev, err := events.NewEvent(name, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.producer.Publish(b.topic, name, body)
}

func (b *Bus) Subscribe(name string, h events.Handler) *events.Subscription {
	return b.local.Subscribe(name, h)
}

func (b *Bus) Unsubscribe(sub *events.Subscription) {
	b.local.Unsubscribe(sub)
}

func (b *Bus) Close(ctx context.Context) error {
	var errs []error
	if b.cancel != nil {
		b.cancel()
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.group != nil {
		errs = append(errs, b.group.Close())
	}
	errs = append(errs, b.producer.Close(), b.local.Close(ctx))
	return errors.Join(errs...)
}
