package models

import "time"

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether no further status transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo enforces the settlement state machine:
// pending -> processing -> completed|failed, and pending -> cancelled.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type TransactionType string

const (
	TypePayment TransactionType = "payment"
	TypeRefund  TransactionType = "refund"
)

type Transaction struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id"`
	CardID        string            `json:"card_id"`
	MerchantID    string            `json:"merchant_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	LedgerTxHash  string            `json:"ledger_tx_hash,omitempty"`
	NetworkFee    int64             `json:"network_fee"`
	FailureReason string            `json:"failure_reason,omitempty"`
	// RefundTxID references the refund transaction that covers this payment.
	// A refund never mutates the original's status.
	RefundTxID   string              `json:"refund_tx_id,omitempty"`
	RefundAmount int64               `json:"refund_amount,omitempty"`
	RefundedAt   *time.Time          `json:"refunded_at,omitempty"`
	Metadata     TransactionMetadata `json:"metadata"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// TransactionMetadata is a typed, versioned side-record. Free-form maps make
// the transaction invariants uncheckable, so every field is explicit.
type TransactionMetadata struct {
	SchemaVersion int    `json:"schema_version"`
	TerminalID    string `json:"terminal_id,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
	AttemptCount  int    `json:"attempt_count,omitempty"`
	OriginalTxID  string `json:"original_tx_id,omitempty"`
}

const MetadataSchemaVersion = 1
