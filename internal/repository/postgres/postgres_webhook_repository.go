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
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresWebhookRepository struct {
	db *sql.DB
}

func NewPostgresWebhookRepository(db *sql.DB) *PostgresWebhookRepository {
	return &PostgresWebhookRepository{db: db}
}

func (r *PostgresWebhookRepository) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	var err error
	tracer := otel.Tracer("webhook-repository")
	ctx, span := tracer.Start(ctx, "CreateSubscription")
	span.SetAttributes(attribute.String("merchant_id", sub.MerchantID))
	defer observe(span, "CreateSubscription", time.Now(), &err)

	events := make([]string, len(sub.Events))
	for i, e := range sub.Events {
		events[i] = string(e)
	}

	query := `INSERT INTO webhook_subscriptions (id, merchant_id, url, events, secret, max_failures, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		sub.ID, sub.MerchantID, sub.URL, pq.Array(events), sub.Secret, sub.MaxFailures, sub.Active,
	).Scan(&sub.CreatedAt)
	if err != nil {
		slog.Error("failed to create webhook subscription", "merchant_id", sub.MerchantID, "error", err)
		return fmt.Errorf("failed to create webhook subscription: %w", err)
	}
	slog.Info("webhook subscription created", "subscription_id", sub.ID, "merchant_id", sub.MerchantID, "url", sub.URL)
	return nil
}

const subColumns = `id, merchant_id, url, events, secret, consecutive_failures, max_failures, active,
	COALESCE(last_delivery_status, ''), last_delivery_at, created_at`

func (r *PostgresWebhookRepository) GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	var err error
	tracer := otel.Tracer("webhook-repository")
	ctx, span := tracer.Start(ctx, "GetSubscriptionByID")
	span.SetAttributes(attribute.String("subscription_id", id))
	defer observe(span, "GetSubscriptionByID", time.Now(), &err)

	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE id = $1`, subColumns)
	sub, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrSubscriptionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get webhook subscription", "subscription_id", id, "error", err)
		return nil, fmt.Errorf("failed to get webhook subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresWebhookRepository) ListActiveByMerchant(ctx context.Context, merchantID string) ([]models.WebhookSubscription, error) {
	var err error
	tracer := otel.Tracer("webhook-repository")
	ctx, span := tracer.Start(ctx, "ListActiveSubscriptions")
	span.SetAttributes(attribute.String("merchant_id", merchantID))
	defer observe(span, "ListActiveSubscriptions", time.Now(), &err)

	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE merchant_id = $1 AND active`, subColumns)
	rows, err := r.db.QueryContext(ctx, query, merchantID)
	if err != nil {
		slog.Error("failed to list webhook subscriptions", "merchant_id", merchantID, "error", err)
		return nil, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.WebhookSubscription
	for rows.Next() {
		sub, scanErr := r.scan(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan webhook subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresWebhookRepository) scan(row rowScanner) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	var events pq.StringArray
	err := row.Scan(
		&sub.ID, &sub.MerchantID, &sub.URL, &events, &sub.Secret,
		&sub.ConsecutiveFailures, &sub.MaxFailures, &sub.Active,
		&sub.LastDeliveryStatus, &sub.LastDeliveryAt, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Events = make([]models.WebhookEvent, len(events))
	for i, e := range events {
		sub.Events[i] = models.WebhookEvent(e)
	}
	return &sub, nil
}

func (r *PostgresWebhookRepository) RecordSuccess(ctx context.Context, id string) error {
	var err error
	tracer := otel.Tracer("webhook-repository")
	ctx, span := tracer.Start(ctx, "RecordDeliverySuccess")
	span.SetAttributes(attribute.String("subscription_id", id))
	defer observe(span, "RecordDeliverySuccess", time.Now(), &err)

	query := `UPDATE webhook_subscriptions
		SET consecutive_failures = 0, last_delivery_status = 'success', last_delivery_at = now()
		WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Error("failed to record webhook success", "subscription_id", id, "error", err)
		return fmt.Errorf("failed to record webhook success: %w", err)
	}
	return nil
}

func (r *PostgresWebhookRepository) RecordFailure(ctx context.Context, id string) (int, bool, error) {
	var err error
	tracer := otel.Tracer("webhook-repository")
	ctx, span := tracer.Start(ctx, "RecordDeliveryFailure")
	span.SetAttributes(attribute.String("subscription_id", id))
	defer observe(span, "RecordDeliveryFailure", time.Now(), &err)

	// Increment and deactivate in one statement so the threshold fires
	// exactly once even with concurrent delivery workers.
	query := `UPDATE webhook_subscriptions
		SET consecutive_failures = consecutive_failures + 1,
			last_delivery_status = 'failure',
			last_delivery_at = now(),
			active = active AND (consecutive_failures + 1 < max_failures)
		WHERE id = $1
		RETURNING consecutive_failures, active`
	var failures int
	var active bool
	err = r.db.QueryRowContext(ctx, query, id).Scan(&failures, &active)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrSubscriptionNotFound
		return 0, false, err
	}
	if err != nil {
		slog.Error("failed to record webhook failure", "subscription_id", id, "error", err)
		return 0, false, fmt.Errorf("failed to record webhook failure: %w", err)
	}
	if !active {
		slog.Warn("webhook subscription deactivated", "subscription_id", id, "failures", failures)
	}
	return failures, !active, nil
}

func (r *PostgresWebhookRepository) Reactivate(ctx context.Context, id string) error {
	var err error
	tracer := otel.Tracer("webhook-repository")
	ctx, span := tracer.Start(ctx, "ReactivateSubscription")
	span.SetAttributes(attribute.String("subscription_id", id))
	defer observe(span, "ReactivateSubscription", time.Now(), &err)

	query := `UPDATE webhook_subscriptions SET active = true, consecutive_failures = 0 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Error("failed to reactivate webhook subscription", "subscription_id", id, "error", err)
		return fmt.Errorf("failed to reactivate webhook subscription: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		err = pkgerrors.ErrSubscriptionNotFound
		return err
	}
	slog.Info("webhook subscription reactivated", "subscription_id", id)
	return nil
}
