package kafka

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"tradebook/domain/event"
)

// Consumer reads event envelopes from the topic.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins group when it is set; otherwise it reads partition 0
// from the first offset.
func NewConsumer(brokers []string, topic, group string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group != "" {
		cfg.GroupID = group
	} else {
		cfg.StartOffset = kafka.FirstOffset
	}
	return &Consumer{reader: kafka.NewReader(cfg)}
}

// Next blocks for the next envelope.
func (c *Consumer) Next(ctx context.Context) (event.Envelope, error) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return event.Envelope{}, errors.Wrap(err, "kafka-go read")
	}
	env, err := event.Unmarshal(m.Value)
	if err != nil {
		return event.Envelope{}, errors.Wrapf(err, "decode offset %d", m.Offset)
	}
	return env, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
