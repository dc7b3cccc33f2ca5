package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string
	LedgerURL    string

	// Authorization fast path.
	AuthLatencyBudget time.Duration
	CacheTimeout      time.Duration
	ApprovalTTL       time.Duration
	DenialTTL         time.Duration
	CardStatusTTL     time.Duration
	DailySpendTTL     time.Duration
	FraudScoreTTL     time.Duration

	// Fraud heuristic thresholds.
	FraudHighAmount     int64
	FraudVeryHighAmount int64
	FraudNightStartHour int
	FraudNightEndHour   int

	// Settlement pipeline.
	SettlementTopic    string
	WebhookTopic       string
	ConsumerGroup      string
	MaxSettlementTries int

	// Webhook delivery.
	WebhookTimeout time.Duration
	WebhookBackoff []time.Duration

	// Per-API-key request ceiling over a one minute window.
	RateLimitPerMinute int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:  getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=tappay sslmode=disable"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		JWTSecret:    getEnv("JWT_SECRET", "supersecret"),
		LedgerURL:    getEnv("LEDGER_URL", "http://localhost:9545"),

		AuthLatencyBudget: getDuration("AUTH_LATENCY_BUDGET", 100*time.Millisecond),
		CacheTimeout:      getDuration("CACHE_TIMEOUT", 50*time.Millisecond),
		ApprovalTTL:       getDuration("AUTH_APPROVAL_TTL", 5*time.Minute),
		DenialTTL:         getDuration("AUTH_DENIAL_TTL", 30*time.Second),
		CardStatusTTL:     getDuration("CARD_STATUS_TTL", 30*time.Second),
		DailySpendTTL:     getDuration("DAILY_SPEND_TTL", 10*time.Second),
		FraudScoreTTL:     getDuration("FRAUD_SCORE_TTL", time.Minute),

		FraudHighAmount:     getInt64("FRAUD_HIGH_AMOUNT", 1_000_000),
		FraudVeryHighAmount: getInt64("FRAUD_VERY_HIGH_AMOUNT", 5_000_000),
		FraudNightStartHour: getInt("FRAUD_NIGHT_START_HOUR", 0),
		FraudNightEndHour:   getInt("FRAUD_NIGHT_END_HOUR", 5),

		SettlementTopic:    getEnv("SETTLEMENT_TOPIC", "settlements"),
		WebhookTopic:       getEnv("WEBHOOK_TOPIC", "webhooks"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "tappay-workers"),
		MaxSettlementTries: getInt("MAX_SETTLEMENT_TRIES", 5),

		WebhookTimeout: getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookBackoff: []time.Duration{
			30 * time.Second,
			time.Minute,
			5 * time.Minute,
			10 * time.Minute,
			30 * time.Minute,
		},

		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"ledger_url", cfg.LedgerURL)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid int env var, using default", "key", key, "value", v)
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid int env var, using default", "key", key, "value", v)
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration env var, using default", "key", key, "value", v)
	}
	return def
}
