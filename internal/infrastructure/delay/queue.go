// Package delay implements scheduled re-enqueueing on a Redis sorted set.
// A retry is a ZSET member scored by its due time; nothing sleeps, no worker
// is held for the delay duration. A scheduler goroutine moves due entries
// back onto Kafka.
package delay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/tappay/internal/infrastructure/kafka"
	"github.com/honeynil/tappay/internal/infrastructure/redis"
)

const zsetKey = "delayed_jobs"

// Scheduler is the narrow side of the queue that producers of retries use.
type Scheduler interface {
	Schedule(ctx context.Context, topic, key string, value []byte, delay time.Duration) error
}

type envelope struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type Queue struct {
	client   redis.RedisClient
	producer kafka.KafkaProducer
	interval time.Duration
}

func NewQueue(client redis.RedisClient, producer kafka.KafkaProducer) *Queue {
	return &Queue{client: client, producer: producer, interval: time.Second}
}

// Schedule enqueues the message onto topic after the given delay.
func (q *Queue) Schedule(ctx context.Context, topic, key string, value []byte, delay time.Duration) error {
	env := envelope{
		ID:    uuid.NewString(),
		Topic: topic,
		Key:   key,
		Value: value,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal delayed job: %w", err)
	}

	due := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, zsetKey, due, string(raw)); err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}
	slog.Info("job scheduled", "topic", topic, "key", key, "delay", delay)
	return nil
}

// Run polls for due jobs until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainDue(ctx)
		}
	}
}

func (q *Queue) drainDue(ctx context.Context) {
	now := float64(time.Now().Unix())
	members, err := q.client.ZRangeByScore(ctx, zsetKey, 0, now)
	if err != nil {
		slog.Error("failed to read delayed jobs", "error", err)
		return
	}

	for _, member := range members {
		// Claim before producing: ZREM hands the entry to exactly one
		// scheduler instance.
		removed, err := q.client.ZRem(ctx, zsetKey, member)
		if err != nil {
			slog.Error("failed to claim delayed job", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(member), &env); err != nil {
			slog.Error("malformed delayed job dropped", "error", err)
			continue
		}

		if err := q.producer.Send(ctx, env.Topic, env.Key, env.Value); err != nil {
			// Put it back for the next tick rather than losing it.
			if zerr := q.client.ZAdd(ctx, zsetKey, now, member); zerr != nil {
				slog.Error("failed to requeue delayed job", "topic", env.Topic, "key", env.Key, "error", zerr)
			}
		}
	}
}
