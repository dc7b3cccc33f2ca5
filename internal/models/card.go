package models

import "time"

type Card struct {
	ID               string     `json:"id"`
	AccountID        string     `json:"account_id"`
	Active           bool       `json:"active"`
	Blocked          bool       `json:"blocked"`
	BlockedReason    string     `json:"blocked_reason,omitempty"`
	BlockedAt        *time.Time `json:"blocked_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	DailyLimit       int64      `json:"daily_limit"`
	MonthlyLimit     int64      `json:"monthly_limit"`
	SingleTxLimit    int64      `json:"single_tx_limit"`
	DailySpent       int64      `json:"daily_spent"`
	MonthlySpent     int64      `json:"monthly_spent"`
	LimitsResetDate  time.Time  `json:"limits_reset_date"`
	CreatedAt        time.Time  `json:"created_at"`
}

// CardLimits is the snapshot the authorization path evaluates against.
type CardLimits struct {
	DailyLimit    int64 `json:"daily_limit"`
	MonthlyLimit  int64 `json:"monthly_limit"`
	SingleTxLimit int64 `json:"single_tx_limit"`
}

func (c *Card) Limits() CardLimits {
	return CardLimits{
		DailyLimit:    c.DailyLimit,
		MonthlyLimit:  c.MonthlyLimit,
		SingleTxLimit: c.SingleTxLimit,
	}
}

// NeedsMonthlyReset reports whether the monthly counter belongs to a past month.
func (c *Card) NeedsMonthlyReset(now time.Time) bool {
	y1, m1, _ := c.LimitsResetDate.UTC().Date()
	y2, m2, _ := now.UTC().Date()
	return y1 != y2 || m1 != m2
}
