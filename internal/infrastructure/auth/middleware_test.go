package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/tappay/internal/models"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "test-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTMiddleware(t *testing.T) {
	var gotAccountID string
	handler := JWTMiddleware(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccountID, _ = r.Context().Value(ContextAccountID).(string)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token passes the account through", func(t *testing.T) {
		gotAccountID = ""
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-1", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, testJWTSecret, jwt.MapClaims{"account_id": "acct-1"}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acct-1", gotAccountID)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-1", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, "other-secret", jwt.MapClaims{"account_id": "acct-1"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without account_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-1", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, testJWTSecret, jwt.MapClaims{"sub": "x"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

type keyRepo struct {
	keys map[string]*models.APIKey
}

func (r *keyRepo) GetByID(ctx context.Context, id string) (*models.Merchant, error) {
	return nil, pkgerrors.ErrMerchantNotFound
}

func (r *keyRepo) GetTerminal(ctx context.Context, id string) (*models.Terminal, error) {
	return nil, pkgerrors.ErrMerchantNotFound
}

func (r *keyRepo) AddStats(ctx context.Context, merchantID string, amount int64) error { return nil }

func (r *keyRepo) GetAPIKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	key, ok := r.keys[keyID]
	if !ok {
		return nil, pkgerrors.ErrInvalidAPIKey
	}
	return key, nil
}

// counterRedis implements the counter half of the Redis interface for the
// rate limiter.
type counterRedis struct {
	mu       sync.Mutex
	counters map[string]int64
	failing  bool
}

func newCounterRedis() *counterRedis { return &counterRedis{counters: map[string]int64{}} }

func (c *counterRedis) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return 0, errors.New("connection refused")
	}
	c.counters[key]++
	return c.counters[key], nil
}

func (c *counterRedis) Expire(ctx context.Context, key string, d time.Duration) error { return nil }

func (c *counterRedis) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (c *counterRedis) MGet(ctx context.Context, keys ...string) ([]string, error) {
	return make([]string, len(keys)), nil
}
func (c *counterRedis) Set(ctx context.Context, key string, value interface{}, d time.Duration) error {
	return nil
}
func (c *counterRedis) SetNX(ctx context.Context, key string, value interface{}, d time.Duration) (bool, error) {
	return true, nil
}
func (c *counterRedis) Del(ctx context.Context, key string) error { return nil }
func (c *counterRedis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return nil
}
func (c *counterRedis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return nil, nil
}
func (c *counterRedis) ZRem(ctx context.Context, key string, member string) (int64, error) {
	return 0, nil
}
func (c *counterRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}
func (c *counterRedis) Close() error { return nil }

func TestAPIKeyMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &keyRepo{keys: map[string]*models.APIKey{
		"key-1": {ID: "key-1", MerchantID: "merch-1", SecretHash: string(hash), Active: true},
		"key-2": {ID: "key-2", MerchantID: "merch-2", SecretHash: string(hash), Active: false},
	}}

	newHandler := func(client *counterRedis, limit int) (http.Handler, *string) {
		var gotMerchantID string
		h := APIKeyMiddleware(repo, client, limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMerchantID, _ = r.Context().Value(ContextMerchantID).(string)
			w.WriteHeader(http.StatusOK)
		}))
		return h, &gotMerchantID
	}

	do := func(h http.Handler, apiKey string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/authorize", nil)
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid key resolves the merchant", func(t *testing.T) {
		h, merchantID := newHandler(newCounterRedis(), 100)
		rec := do(h, "key-1.s3cret")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "merch-1", *merchantID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		h, _ := newHandler(newCounterRedis(), 100)
		assert.Equal(t, http.StatusUnauthorized, do(h, "key-1.wrong").Code)
	})

	t.Run("unknown key id", func(t *testing.T) {
		h, _ := newHandler(newCounterRedis(), 100)
		assert.Equal(t, http.StatusUnauthorized, do(h, "key-missing.s3cret").Code)
	})

	t.Run("deactivated key", func(t *testing.T) {
		h, _ := newHandler(newCounterRedis(), 100)
		assert.Equal(t, http.StatusUnauthorized, do(h, "key-2.s3cret").Code)
	})

	t.Run("missing or malformed header", func(t *testing.T) {
		h, _ := newHandler(newCounterRedis(), 100)
		assert.Equal(t, http.StatusUnauthorized, do(h, "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(h, "no-dot-here").Code)
	})

	t.Run("limit exhaustion returns 429", func(t *testing.T) {
		h, _ := newHandler(newCounterRedis(), 2)
		assert.Equal(t, http.StatusOK, do(h, "key-1.s3cret").Code)
		assert.Equal(t, http.StatusOK, do(h, "key-1.s3cret").Code)
		assert.Equal(t, http.StatusTooManyRequests, do(h, "key-1.s3cret").Code)
	})

	t.Run("degraded limiter fails open", func(t *testing.T) {
		client := newCounterRedis()
		client.failing = true
		h, _ := newHandler(client, 1)
		assert.Equal(t, http.StatusOK, do(h, "key-1.s3cret").Code)
		assert.Equal(t, http.StatusOK, do(h, "key-1.s3cret").Code)
	})
}
