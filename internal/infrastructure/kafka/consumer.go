package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Handler processes one message. Returning an error leaves the message
// committed anyway: redelivery decisions belong to the delayed retry queue,
// not to Kafka offsets, so a poisoned message can never wedge a partition.
type Handler func(ctx context.Context, key, value []byte) error

// Consumer reads a topic inside a consumer group. The group gives
// single-consumer-per-partition exclusivity, which is what guarantees a
// settlement job is never processed by two workers at once.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
}

func NewConsumer(brokers []string, topic, groupID string, handler Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		handler: handler,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			slog.Error("message handler failed", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
