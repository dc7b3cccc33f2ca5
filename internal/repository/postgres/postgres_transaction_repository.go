package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/tappay/internal/models"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const txColumns = `id, correlation_id, card_id, merchant_id, amount, currency, type, status,
	COALESCE(ledger_tx_hash, ''), network_fee, COALESCE(failure_reason, ''),
	COALESCE(refund_tx_id, ''), refund_amount, refunded_at, metadata, created_at, completed_at`

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer observe(span, "CreateTransaction", time.Now(), &err)

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		return err
	}
	if tx.Amount <= 0 {
		err = fmt.Errorf("%w: amount must be positive", pkgerrors.ErrInvalidInput)
		return err
	}
	if tx.Type != models.TypePayment && tx.Type != models.TypeRefund {
		err = fmt.Errorf("%w: unknown transaction type %q", pkgerrors.ErrInvalidInput, tx.Type)
		return err
	}

	span.SetAttributes(
		attribute.String("transaction_id", tx.ID),
		attribute.String("card_id", tx.CardID),
		attribute.Int64("amount", tx.Amount),
	)

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO transactions
		(id, correlation_id, card_id, merchant_id, amount, currency, type, status, network_fee, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		tx.ID, tx.CorrelationID, tx.CardID, tx.MerchantID, tx.Amount, tx.Currency,
		tx.Type, tx.Status, tx.NetworkFee, metadata,
	).Scan(&tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "transaction_id", tx.ID, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "transaction_id", tx.ID, "card_id", tx.CardID, "amount", tx.Amount, "status", tx.Status)
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer observe(span, "GetTransactionByID", time.Now(), &err)

	tx, err := r.scanOne(ctx, fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, txColumns), id)
	return tx, err
}

func (r *PostgresTransactionRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByCorrelationID")
	defer observe(span, "GetTransactionByCorrelationID", time.Now(), &err)

	tx, err := r.scanOne(ctx, fmt.Sprintf(`SELECT %s FROM transactions WHERE correlation_id = $1`, txColumns), correlationID)
	return tx, err
}

func (r *PostgresTransactionRepository) scanOne(ctx context.Context, query, arg string) (*models.Transaction, error) {
	var tx models.Transaction
	var metadata []byte
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&tx.ID, &tx.CorrelationID, &tx.CardID, &tx.MerchantID, &tx.Amount, &tx.Currency,
		&tx.Type, &tx.Status, &tx.LedgerTxHash, &tx.NetworkFee, &tx.FailureReason,
		&tx.RefundTxID, &tx.RefundAmount, &tx.RefundedAt, &metadata, &tx.CreatedAt, &tx.CompletedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction", "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &tx, nil
}

// transition performs a status change guarded by the expected current status.
// Zero rows affected means the guard failed: the row either does not exist or
// is already past the expected state.
func (r *PostgresTransactionRepository) transition(ctx context.Context, id string, from, to models.TransactionStatus, extra string, args ...interface{}) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.ErrInvalidStatusChange
	}

	query := fmt.Sprintf(`UPDATE transactions SET status = $2%s WHERE id = $1 AND status = $3`, extra)
	allArgs := append([]interface{}{id, to, from}, args...)
	res, err := r.db.ExecContext(ctx, query, allArgs...)
	if err != nil {
		slog.Error("failed to update transaction status", "transaction_id", id, "from", from, "to", to, "error", err)
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return pkgerrors.ErrInvalidStatusChange
	}
	slog.Info("transaction status updated", "transaction_id", id, "from", from, "to", to)
	return nil
}

func (r *PostgresTransactionRepository) MarkProcessing(ctx context.Context, id string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "MarkTransactionProcessing")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer observe(span, "MarkTransactionProcessing", time.Now(), &err)

	err = r.transition(ctx, id, models.StatusPending, models.StatusProcessing, "")
	return err
}

func (r *PostgresTransactionRepository) Complete(ctx context.Context, id, ledgerTxHash string, networkFee int64) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CompleteTransaction")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer observe(span, "CompleteTransaction", time.Now(), &err)

	err = r.transition(ctx, id, models.StatusProcessing, models.StatusCompleted,
		", ledger_tx_hash = $4, network_fee = $5, completed_at = now()", ledgerTxHash, networkFee)
	return err
}

func (r *PostgresTransactionRepository) Fail(ctx context.Context, id, reason string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "FailTransaction")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer observe(span, "FailTransaction", time.Now(), &err)

	err = r.transition(ctx, id, models.StatusProcessing, models.StatusFailed,
		", failure_reason = $4, completed_at = now()", reason)
	return err
}

func (r *PostgresTransactionRepository) Cancel(ctx context.Context, id string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CancelTransaction")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer observe(span, "CancelTransaction", time.Now(), &err)

	err = r.transition(ctx, id, models.StatusPending, models.StatusCancelled, "")
	if stderrors.Is(err, pkgerrors.ErrInvalidStatusChange) {
		err = pkgerrors.ErrNotCancellable
	}
	return err
}

// StampRefund marks the original transaction as refunded. It deliberately
// never touches the status column.
func (r *PostgresTransactionRepository) StampRefund(ctx context.Context, id, refundTxID string, amount int64, at time.Time) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "StampRefund")
	span.SetAttributes(attribute.String("transaction_id", id))
	defer observe(span, "StampRefund", time.Now(), &err)

	query := `UPDATE transactions SET refund_tx_id = $2, refund_amount = $3, refunded_at = $4
		WHERE id = $1 AND status = 'completed' AND refund_tx_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, refundTxID, amount, at)
	if err != nil {
		slog.Error("failed to stamp refund", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to stamp refund: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		err = pkgerrors.ErrAlreadyRefunded
		return err
	}
	return nil
}

func (r *PostgresTransactionRepository) CountByCardSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CountByCardSince")
	defer observe(span, "CountByCardSince", time.Now(), &err)

	var count int
	query := `SELECT COUNT(*) FROM transactions WHERE card_id = $1 AND created_at >= $2`
	err = r.db.QueryRowContext(ctx, query, cardID, since).Scan(&count)
	if err != nil {
		slog.Error("failed to count transactions", "card_id", cardID, "error", err)
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (r *PostgresTransactionRepository) SumCompletedByCardSince(ctx context.Context, cardID string, since time.Time) (int64, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "SumCompletedByCardSince")
	defer observe(span, "SumCompletedByCardSince", time.Now(), &err)

	var sum int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE card_id = $1 AND type = 'payment' AND status IN ('pending', 'processing', 'completed') AND created_at >= $2`
	err = r.db.QueryRowContext(ctx, query, cardID, since).Scan(&sum)
	if err != nil {
		slog.Error("failed to sum transactions", "card_id", cardID, "error", err)
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
