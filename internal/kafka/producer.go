package kafka

import (
	"log"
	"time"

	"github.com/IBM/sarama"
)

type SaramaProducer struct {
	producer sarama.SyncProducer
}

func NewSaramaProducer(brokers []string) (*SaramaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	// mismo nombre de evento, misma partición: se conserva el orden
	config.Producer.Partitioner = sarama.NewHashPartitioner
	prod, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &SaramaProducer{producer: prod}, nil
}

func (p *SaramaProducer) Publish(topic, key string, message []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(message),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("[Kafka] Failed to send %s to topic %s: %v", key, topic, err)
		return err
	}
	log.Printf("[Kafka] %s stored in topic(%s)/partition(%d)/offset(%d)", key, topic, partition, offset)
	return nil
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
