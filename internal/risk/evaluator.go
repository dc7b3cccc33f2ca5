// Package risk holds the pure evaluation functions behind an authorization
// verdict: card validity, spend-limit headroom, and the fraud heuristic.
// Everything here is side-effect-free given its inputs so the authorization
// service can run the three checks concurrently.
package risk

import (
	"time"

	"github.com/honeynil/tappay/internal/models"
)

type CardResult struct {
	Valid  bool
	Reason string
}

type LimitsResult struct {
	Valid          bool
	RemainingDaily int64
}

type FraudResult struct {
	IsRisk  bool
	Score   int
	Reasons []string
}

// Fraud weight table. Scores over RiskThreshold deny the transaction.
const (
	weightVelocityHigh     = 50 // >=5 transactions in 5 minutes
	weightVelocityVeryHigh = 30 // >=10, on top of weightVelocityHigh
	weightHighAmount       = 20
	weightVeryHighAmount   = 40 // on top of weightHighAmount
	weightNightHour        = 15

	RiskThreshold = 70
)

type FraudConfig struct {
	HighAmount     int64
	VeryHighAmount int64
	NightStartHour int
	NightEndHour   int
}

// EvaluateCard checks that the card can transact at all.
func EvaluateCard(card *models.Card, now time.Time) CardResult {
	if card == nil {
		return CardResult{Valid: false, Reason: models.ReasonNotFound}
	}
	if card.Blocked {
		return CardResult{Valid: false, Reason: models.ReasonBlocked}
	}
	if !card.Active {
		return CardResult{Valid: false, Reason: models.ReasonInactive}
	}
	if !card.ExpiresAt.IsZero() && now.After(card.ExpiresAt) {
		return CardResult{Valid: false, Reason: models.ReasonExpired}
	}
	return CardResult{Valid: true}
}

// EvaluateLimits checks the amount against daily and monthly headroom and
// the single-transaction ceiling. RemainingDaily is clamped at zero.
func EvaluateLimits(limits models.CardLimits, todaySpent, monthSpent, amount int64) LimitsResult {
	remaining := limits.DailyLimit - todaySpent
	if remaining < 0 {
		remaining = 0
	}
	remainingMonthly := limits.MonthlyLimit - monthSpent
	if remainingMonthly < 0 {
		remainingMonthly = 0
	}
	valid := amount <= remaining && amount <= remainingMonthly && amount <= limits.SingleTxLimit
	return LimitsResult{Valid: valid, RemainingDaily: remaining}
}

// EvaluateFraud scores the transaction with the fixed weight table. Any
// internal inconsistency fails closed: risk with the maximum score.
func EvaluateFraud(cfg FraudConfig, recentTxCount5Min int, amount int64, hourOfDay int) FraudResult {
	if hourOfDay < 0 || hourOfDay > 23 || amount < 0 || cfg.HighAmount <= 0 || cfg.VeryHighAmount <= 0 {
		return FraudResult{IsRisk: true, Score: 100, Reasons: []string{"internal_error"}}
	}

	score := 0
	var reasons []string

	if recentTxCount5Min >= 5 {
		score += weightVelocityHigh
		reasons = append(reasons, "high_velocity")
	}
	if recentTxCount5Min >= 10 {
		score += weightVelocityVeryHigh
		reasons = append(reasons, "very_high_velocity")
	}
	if amount > cfg.HighAmount {
		score += weightHighAmount
		reasons = append(reasons, "high_amount")
	}
	if amount > cfg.VeryHighAmount {
		score += weightVeryHighAmount
		reasons = append(reasons, "very_high_amount")
	}
	if inNightWindow(hourOfDay, cfg.NightStartHour, cfg.NightEndHour) {
		score += weightNightHour
		reasons = append(reasons, "night_hour")
	}

	return FraudResult{IsRisk: score > RiskThreshold, Score: score, Reasons: reasons}
}

// inNightWindow handles windows that wrap midnight, e.g. 22-5.
func inNightWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}
