// Package kafka publishes and tails the event stream with kafka-go.
package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// ContentType is stamped on every published message.
const ContentType = "application/json"

// Producer is the kafka-go alternative to the Sarama publisher. Events are
// keyed by name so each event kind stays ordered on one partition.
type Producer struct {
	writer *kafka.Writer
}

type ProducerOption func(*kafka.Writer)

// WithWriteTimeout bounds a single WriteMessages call.
func WithWriteTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) { w.WriteTimeout = d }
}

// WithMaxAttempts sets how many times kafka-go retries a batch before
// reporting failure to the broadcaster.
func WithMaxAttempts(n int) ProducerOption {
	return func(w *kafka.Writer) { w.MaxAttempts = n }
}

func NewProducer(brokers []string, topic string, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	for _, o := range opts {
		o(w)
	}
	return &Producer{writer: w}
}

// Publish writes one event and waits for all replicas to acknowledge it.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(ContentType)},
			{Key: "event", Value: []byte(key)},
		},
	})
	return errors.Wrapf(err, "kafka-go publish %s", key)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
