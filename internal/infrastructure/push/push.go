// Package push delivers best-effort, at-most-once events to a payer's
// connected session. Absence of a subscriber is not an error.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/tappay/internal/infrastructure/redis"
)

type Notifier interface {
	EmitToUser(ctx context.Context, userID, event string, payload interface{}) error
}

// RedisNotifier publishes to a per-user Pub/Sub channel that session
// gateways subscribe to.
type RedisNotifier struct {
	client redis.RedisClient
}

func NewRedisNotifier(client redis.RedisClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

type message struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

func (n *RedisNotifier) EmitToUser(ctx context.Context, userID, event string, payload interface{}) error {
	raw, err := json.Marshal(message{Event: event, Payload: payload, Timestamp: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	channel := fmt.Sprintf("user:%s:events", userID)
	if err := n.client.Publish(ctx, channel, string(raw)); err != nil {
		slog.Warn("push publish failed", "user_id", userID, "event", event, "error", err)
		return err
	}
	return nil
}
