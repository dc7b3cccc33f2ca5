package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stderrors "errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/tappay/internal/infrastructure/redis"
	"github.com/honeynil/tappay/internal/repository"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const (
	ContextAccountID  contextKey = "account_id"
	ContextMerchantID contextKey = "merchant_id"
)

// JWTMiddleware authenticates payer sessions. Tokens are minted by the
// external wallet backend; we only verify the HS256 signature and claims.
func JWTMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			accountID, ok := claims["account_id"].(string)
			if !ok || accountID == "" {
				http.Error(w, "invalid account_id in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAccountID, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyMiddleware authenticates merchant callers. Keys look like
// "<key id>.<secret>"; only the bcrypt hash of the secret is stored. Every
// authenticated request also consumes one slot of the caller's per-minute
// rate limit.
func APIKeyMiddleware(merchants repository.MerchantRepository, redisClient redis.RedisClient, limitPerMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			keyID, secret, ok := strings.Cut(rawKey, ".")
			if !ok || keyID == "" || secret == "" {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}

			key, err := merchants.GetAPIKey(r.Context(), keyID)
			if err != nil {
				if !stderrors.Is(err, pkgerrors.ErrInvalidAPIKey) {
					slog.Error("api key lookup failed", "key_id", keyID, "error", err)
				}
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			if !key.Active {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}

			if !allowRequest(r.Context(), redisClient, keyID, limitPerMinute) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			ctx := context.WithValue(r.Context(), ContextMerchantID, key.MerchantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// allowRequest implements a fixed one-minute window in Redis so every
// process instance sees the same counter. A degraded Redis fails open:
// availability of the payment path wins over precision of the limiter.
func allowRequest(ctx context.Context, redisClient redis.RedisClient, keyID string, limit int) bool {
	window := time.Now().Unix() / 60
	counterKey := fmt.Sprintf("ratelimit:%s:%d", keyID, window)

	count, err := redisClient.Incr(ctx, counterKey)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key_id", keyID, "error", err)
		return true
	}
	if count == 1 {
		if err := redisClient.Expire(ctx, counterKey, 2*time.Minute); err != nil {
			slog.Warn("failed to expire rate limit counter", "key_id", keyID, "error", err)
		}
	}
	return count <= int64(limit)
}
