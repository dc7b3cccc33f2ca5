package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/tappay/internal/models"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookRepo(t *testing.T) (*PostgresWebhookRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresWebhookRepository(db), mock
}

func TestWebhookRecordFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("below the threshold stays active", func(t *testing.T) {
		repo, mock := newWebhookRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta("active = active AND (consecutive_failures + 1 < max_failures)")).
			WithArgs("sub-1").
			WillReturnRows(sqlmock.NewRows([]string{"consecutive_failures", "active"}).AddRow(3, true))

		failures, deactivated, err := repo.RecordFailure(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, 3, failures)
		assert.False(t, deactivated)
	})

	t.Run("threshold failure deactivates", func(t *testing.T) {
		repo, mock := newWebhookRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE webhook_subscriptions")).
			WithArgs("sub-1").
			WillReturnRows(sqlmock.NewRows([]string{"consecutive_failures", "active"}).AddRow(5, false))

		failures, deactivated, err := repo.RecordFailure(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, 5, failures)
		assert.True(t, deactivated)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		repo, mock := newWebhookRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE webhook_subscriptions")).
			WithArgs("sub-gone").
			WillReturnRows(sqlmock.NewRows([]string{"consecutive_failures", "active"}))

		_, _, err := repo.RecordFailure(ctx, "sub-gone")
		assert.ErrorIs(t, err, pkgerrors.ErrSubscriptionNotFound)
	})
}

func TestWebhookReactivate(t *testing.T) {
	ctx := context.Background()

	t.Run("zeroes the counter", func(t *testing.T) {
		repo, mock := newWebhookRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("SET active = true, consecutive_failures = 0")).
			WithArgs("sub-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Reactivate(ctx, "sub-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown subscription", func(t *testing.T) {
		repo, mock := newWebhookRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE webhook_subscriptions")).
			WithArgs("sub-gone").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Reactivate(ctx, "sub-gone"), pkgerrors.ErrSubscriptionNotFound)
	})
}

func TestWebhookListActiveByMerchant(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	// pq.StringArray scans from the textual array representation.
	rows := sqlmock.NewRows([]string{
		"id", "merchant_id", "url", "events", "secret", "consecutive_failures",
		"max_failures", "active", "last_delivery_status", "last_delivery_at", "created_at",
	}).AddRow(
		"sub-1", "merch-1", "https://example.com/hook", []byte("{payment.completed,payment.failed}"),
		"whsec_x", 0, 5, true, "", nil, time.Now(),
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE merchant_id = $1 AND active")).
		WithArgs("merch-1").
		WillReturnRows(rows)

	subs, err := repo.ListActiveByMerchant(context.Background(), "merch-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, []models.WebhookEvent{models.EventPaymentCompleted, models.EventPaymentFailed}, subs[0].Events)
}
