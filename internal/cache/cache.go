// Package cache is the read-through layer in front of the persistent store.
// Every call carries a bounded timeout and every failure degrades to the
// caller's loader; a hung or dead Redis slows the request down by at most
// the timeout, it never breaks it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/tappay/internal/infrastructure/redis"
)

// Class names a cached data kind; each class has its own TTL.
type Class string

const (
	ClassCardStatus  Class = "card_status"
	ClassDailySpend  Class = "daily_spend"
	ClassFraudScore  Class = "fraud_score"
	ClassAuthVerdict Class = "auth_verdict"
)

type Store struct {
	client  redis.RedisClient
	ttls    map[Class]time.Duration
	timeout time.Duration
}

func NewStore(client redis.RedisClient, ttls map[Class]time.Duration, timeout time.Duration) *Store {
	return &Store{client: client, ttls: ttls, timeout: timeout}
}

func (s *Store) key(class Class, id string) string {
	return fmt.Sprintf("%s:%s", class, id)
}

func (s *Store) ttl(class Class) time.Duration {
	if d, ok := s.ttls[class]; ok {
		return d
	}
	return time.Minute
}

// Get unmarshals the cached entry for (class, id) into dest. Returns
// redis.ErrKeyNotFound on a miss; any other error means degraded cache.
func (s *Store) Get(ctx context.Context, class Class, id string, dest interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(class, id))
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dest)
}

// Set writes best-effort: failures are logged and swallowed.
func (s *Store) Set(ctx context.Context, class Class, id string, value interface{}) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		slog.Error("failed to marshal cache entry", "class", class, "id", id, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.key(class, id), string(raw), s.ttl(class)); err != nil {
		slog.Warn("cache write failed", "class", class, "id", id, "error", err)
	}
}

// SetWithTTL writes best-effort with an explicit TTL, for entries whose
// lifetime depends on their value (approval vs denial verdicts).
func (s *Store) SetWithTTL(ctx context.Context, class Class, id string, value interface{}, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		slog.Error("failed to marshal cache entry", "class", class, "id", id, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.key(class, id), string(raw), ttl); err != nil {
		slog.Warn("cache write failed", "class", class, "id", id, "error", err)
	}
}

// GetOrLoad reads through the cache. On a miss or a degraded cache it calls
// load, writes the result back best-effort, and returns it.
func (s *Store) GetOrLoad(ctx context.Context, class Class, id string, dest interface{}, load func(context.Context) (interface{}, error)) error {
	err := s.Get(ctx, class, id, dest)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("cache read failed, falling back to store", "class", class, "id", id, "error", err)
	}

	value, err := load(ctx)
	if err != nil {
		return err
	}
	s.Set(ctx, class, id, value)

	// Round-trip through JSON so dest is filled the same way a cache hit
	// would fill it.
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// BatchEntry describes one slot of a batched read.
type BatchEntry struct {
	Class Class
	ID    string
}

// GetBatch fetches all entries in a single MGET round trip. The result slice
// is index-aligned with entries; a miss or degraded cache yields "".
func (s *Store) GetBatch(ctx context.Context, entries []BatchEntry) []string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = s.key(e.Class, e.ID)
	}

	vals, err := s.client.MGet(ctx, keys...)
	if err != nil {
		slog.Warn("batched cache read failed, falling back to store", "keys", len(keys), "error", err)
		return make([]string, len(entries))
	}
	return vals
}
