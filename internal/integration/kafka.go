package integration

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer writes one message to the broker.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaProducer is a Producer backed by a kafka-go Writer. Messages are hashed by
// key so events of one credit lot or user stay on one partition.
type KafkaProducer struct {
	w *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaProducer) WriteMessage(ctx context.Context, msg kafka.Message) error {
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaProducer) Close() error {
	return p.w.Close()
}
