package risk

import (
	"testing"
	"time"

	"github.com/honeynil/tappay/internal/models"
	"github.com/stretchr/testify/assert"
)

var testFraudConfig = FraudConfig{
	HighAmount:     1_000_000,
	VeryHighAmount: 5_000_000,
	NightStartHour: 0,
	NightEndHour:   5,
}

func TestEvaluateCard(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil card", func(t *testing.T) {
		res := EvaluateCard(nil, now)
		assert.False(t, res.Valid)
		assert.Equal(t, models.ReasonNotFound, res.Reason)
	})

	t.Run("blocked card", func(t *testing.T) {
		card := &models.Card{Active: true, Blocked: true, ExpiresAt: now.AddDate(1, 0, 0)}
		res := EvaluateCard(card, now)
		assert.False(t, res.Valid)
		assert.Equal(t, models.ReasonBlocked, res.Reason)
	})

	t.Run("inactive card", func(t *testing.T) {
		card := &models.Card{Active: false, ExpiresAt: now.AddDate(1, 0, 0)}
		res := EvaluateCard(card, now)
		assert.False(t, res.Valid)
		assert.Equal(t, models.ReasonInactive, res.Reason)
	})

	t.Run("expired card", func(t *testing.T) {
		card := &models.Card{Active: true, ExpiresAt: now.AddDate(0, 0, -1)}
		res := EvaluateCard(card, now)
		assert.False(t, res.Valid)
		assert.Equal(t, models.ReasonExpired, res.Reason)
	})

	t.Run("valid card", func(t *testing.T) {
		card := &models.Card{Active: true, ExpiresAt: now.AddDate(1, 0, 0)}
		res := EvaluateCard(card, now)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Reason)
	})
}

func TestEvaluateLimits(t *testing.T) {
	limits := models.CardLimits{
		DailyLimit:    2_000_000,
		MonthlyLimit:  20_000_000,
		SingleTxLimit: 1_000_000,
	}

	t.Run("amount exceeds daily headroom", func(t *testing.T) {
		res := EvaluateLimits(limits, 1_900_000, 0, 150_000)
		assert.False(t, res.Valid)
		assert.Equal(t, int64(100_000), res.RemainingDaily)
	})

	t.Run("amount within headroom", func(t *testing.T) {
		res := EvaluateLimits(limits, 1_900_000, 0, 100_000)
		assert.True(t, res.Valid)
		assert.Equal(t, int64(100_000), res.RemainingDaily)
	})

	t.Run("single transaction ceiling", func(t *testing.T) {
		res := EvaluateLimits(limits, 0, 0, 1_000_001)
		assert.False(t, res.Valid)
		assert.Equal(t, int64(2_000_000), res.RemainingDaily)
	})

	t.Run("remaining clamped at zero", func(t *testing.T) {
		res := EvaluateLimits(limits, 2_500_000, 0, 1)
		assert.False(t, res.Valid)
		assert.Equal(t, int64(0), res.RemainingDaily)
	})

	t.Run("amount exceeds monthly headroom", func(t *testing.T) {
		res := EvaluateLimits(limits, 0, 19_990_000, 50_000)
		assert.False(t, res.Valid)
		assert.Equal(t, int64(2_000_000), res.RemainingDaily)
	})

	t.Run("monthly limit exhausted", func(t *testing.T) {
		res := EvaluateLimits(limits, 0, 20_000_000, 1)
		assert.False(t, res.Valid)
	})

	t.Run("amount within monthly headroom", func(t *testing.T) {
		res := EvaluateLimits(limits, 0, 19_950_000, 50_000)
		assert.True(t, res.Valid)
	})
}

func TestEvaluateFraud(t *testing.T) {
	t.Run("quiet daytime transaction", func(t *testing.T) {
		res := EvaluateFraud(testFraudConfig, 1, 50_000, 14)
		assert.False(t, res.IsRisk)
		assert.Equal(t, 0, res.Score)
		assert.Empty(t, res.Reasons)
	})

	t.Run("velocity burst at night", func(t *testing.T) {
		// 11 transactions in 5 minutes, 12th tap at 2am.
		res := EvaluateFraud(testFraudConfig, 11, 50_000, 2)
		assert.True(t, res.IsRisk)
		assert.GreaterOrEqual(t, res.Score, 95)
		assert.Contains(t, res.Reasons, "high_velocity")
		assert.Contains(t, res.Reasons, "very_high_velocity")
		assert.Contains(t, res.Reasons, "night_hour")
	})

	t.Run("high amount alone is not risk", func(t *testing.T) {
		res := EvaluateFraud(testFraudConfig, 0, 1_500_000, 14)
		assert.False(t, res.IsRisk)
		assert.Equal(t, 20, res.Score)
	})

	t.Run("very high amount at night", func(t *testing.T) {
		res := EvaluateFraud(testFraudConfig, 0, 6_000_000, 3)
		assert.True(t, res.IsRisk)
		assert.Equal(t, 75, res.Score)
	})

	t.Run("fails closed on bad inputs", func(t *testing.T) {
		res := EvaluateFraud(testFraudConfig, 0, 100, 25)
		assert.True(t, res.IsRisk)
		assert.Equal(t, 100, res.Score)

		res = EvaluateFraud(FraudConfig{}, 0, 100, 12)
		assert.True(t, res.IsRisk)
		assert.Equal(t, 100, res.Score)
	})

	t.Run("night window wrapping midnight", func(t *testing.T) {
		cfg := testFraudConfig
		cfg.NightStartHour = 22
		cfg.NightEndHour = 5

		res := EvaluateFraud(cfg, 0, 100, 23)
		assert.Equal(t, 15, res.Score)

		res = EvaluateFraud(cfg, 0, 100, 3)
		assert.Equal(t, 15, res.Score)

		res = EvaluateFraud(cfg, 0, 100, 12)
		assert.Equal(t, 0, res.Score)
	})
}
