package models

import "time"

// Reason codes returned with authorization denials. These are stable API
// values, not display strings.
const (
	ReasonNotFound      = "NOT_FOUND"
	ReasonBlocked       = "BLOCKED"
	ReasonInactive      = "INACTIVE"
	ReasonExpired       = "EXPIRED"
	ReasonLimitExceeded = "LIMIT_EXCEEDED"
	ReasonFraudRisk     = "FRAUD_RISK"
	ReasonInvalidInput  = "INVALID_INPUT"
	ReasonInternal      = "INTERNAL"
)

// AuthorizationVerdict lives only in the cache; it is never persisted.
// Expiry is by TTL, entries are never explicitly deleted.
type AuthorizationVerdict struct {
	Authorized     bool      `json:"authorized"`
	AuthCode       string    `json:"auth_code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	RemainingDaily int64     `json:"remaining_daily,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// AuthorizationResult is the response shape seen by the terminal.
type AuthorizationResult struct {
	Authorized       bool   `json:"authorized"`
	AuthCode         string `json:"auth_code,omitempty"`
	Reason           string `json:"reason,omitempty"`
	RemainingDaily   int64  `json:"remaining_daily,omitempty"`
	Fallback         bool   `json:"fallback,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}
