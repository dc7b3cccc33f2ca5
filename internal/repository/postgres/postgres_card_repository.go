package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/tappay/internal/models"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresCardRepository struct {
	db *sql.DB
}

func NewPostgresCardRepository(db *sql.DB) *PostgresCardRepository {
	return &PostgresCardRepository{db: db}
}

func (r *PostgresCardRepository) GetByID(ctx context.Context, id string) (*models.Card, error) {
	var err error
	tracer := otel.Tracer("card-repository")
	ctx, span := tracer.Start(ctx, "GetCardByID")
	span.SetAttributes(attribute.String("card_id", id))
	defer observe(span, "GetCardByID", time.Now(), &err)

	var card models.Card
	query := `SELECT id, account_id, active, blocked, COALESCE(blocked_reason, ''), blocked_at,
		expires_at, daily_limit, monthly_limit, single_tx_limit,
		daily_spent, monthly_spent, limits_reset_date, created_at
		FROM cards WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&card.ID, &card.AccountID, &card.Active, &card.Blocked, &card.BlockedReason, &card.BlockedAt,
		&card.ExpiresAt, &card.DailyLimit, &card.MonthlyLimit, &card.SingleTxLimit,
		&card.DailySpent, &card.MonthlySpent, &card.LimitsResetDate, &card.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrCardNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get card", "method", "GetByID", "card_id", id, "error", err)
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

// AddUsage resets stale counters and adds the debit in one statement, so the
// limit invariant holds even with concurrent workers.
func (r *PostgresCardRepository) AddUsage(ctx context.Context, cardID string, amount int64, now time.Time) error {
	var err error
	tracer := otel.Tracer("card-repository")
	ctx, span := tracer.Start(ctx, "AddCardUsage")
	span.SetAttributes(attribute.String("card_id", cardID), attribute.Int64("amount", amount))
	defer observe(span, "AddCardUsage", time.Now(), &err)

	day := now.UTC().Truncate(24 * time.Hour)
	query := `UPDATE cards SET
		daily_spent = CASE WHEN limits_reset_date < $2 THEN $3 ELSE daily_spent + $3 END,
		monthly_spent = CASE WHEN date_trunc('month', limits_reset_date) < date_trunc('month', $2::timestamptz)
			THEN $3 ELSE monthly_spent + $3 END,
		limits_reset_date = $2
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, cardID, day, amount)
	if err != nil {
		slog.Error("failed to add card usage", "method", "AddUsage", "card_id", cardID, "error", err)
		return fmt.Errorf("failed to add card usage: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		err = pkgerrors.ErrCardNotFound
		return err
	}
	slog.Info("card usage updated", "card_id", cardID, "amount", amount)
	return nil
}
