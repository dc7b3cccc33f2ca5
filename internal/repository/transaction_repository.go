package repository

import (
	"context"
	"time"

	"github.com/honeynil/tappay/internal/models"
)

// TransactionRepository owns the transaction state machine. Every status
// mutation is guarded by the expected current status in SQL, so a terminal
// transaction can never be moved again regardless of worker races.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.Transaction, error)

	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id, ledgerTxHash string, networkFee int64) error
	Fail(ctx context.Context, id, reason string) error
	Cancel(ctx context.Context, id string) error
	StampRefund(ctx context.Context, id, refundTxID string, amount int64, at time.Time) error

	// Aggregates feeding the authorization fast path.
	CountByCardSince(ctx context.Context, cardID string, since time.Time) (int, error)
	SumCompletedByCardSince(ctx context.Context, cardID string, since time.Time) (int64, error)
}
