package service

import (
	"context"
	"strings"
	"testing"

	"github.com/honeynil/tappay/internal/models"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("mints a fresh secret per subscription", func(t *testing.T) {
		var created []*models.WebhookSubscription
		repo := &mockWebhookRepo{create: func(_ context.Context, sub *models.WebhookSubscription) error {
			created = append(created, sub)
			return nil
		}}
		svc := NewWebhookService(repo)

		first, err := svc.CreateSubscription(ctx, "merch-1", "https://example.com/hook", []models.WebhookEvent{models.EventPaymentCompleted}, 0)
		require.NoError(t, err)
		second, err := svc.CreateSubscription(ctx, "merch-1", "https://example.com/hook", []models.WebhookEvent{models.EventPaymentCompleted}, 0)
		require.NoError(t, err)

		assert.Len(t, created, 2)
		assert.True(t, strings.HasPrefix(first.Secret, "whsec_"))
		assert.Len(t, first.Secret, len("whsec_")+64)
		assert.NotEqual(t, first.Secret, second.Secret)
		assert.NotEqual(t, first.ID, second.ID)
		assert.True(t, first.Active)
		assert.Equal(t, 5, first.MaxFailures, "zero max failures falls back to the default")
	})

	t.Run("rejects an unusable url", func(t *testing.T) {
		svc := NewWebhookService(&mockWebhookRepo{})
		for _, target := range []string{"", "not a url", "/relative/path", "example.com/hook"} {
			_, err := svc.CreateSubscription(ctx, "merch-1", target, []models.WebhookEvent{models.EventPaymentCompleted}, 5)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput, "url %q", target)
		}
	})

	t.Run("rejects an empty event list", func(t *testing.T) {
		svc := NewWebhookService(&mockWebhookRepo{})
		_, err := svc.CreateSubscription(ctx, "merch-1", "https://example.com/hook", nil, 5)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestReactivate(t *testing.T) {
	ctx := context.Background()

	sub := &models.WebhookSubscription{ID: "sub-1", MerchantID: "merch-1", Active: false}

	t.Run("owner reactivates", func(t *testing.T) {
		reactivated := false
		repo := &mockWebhookRepo{
			getByID:    func(context.Context, string) (*models.WebhookSubscription, error) { return sub, nil },
			reactivate: func(context.Context, string) error { reactivated = true; return nil },
		}
		require.NoError(t, NewWebhookService(repo).Reactivate(ctx, "sub-1", "merch-1"))
		assert.True(t, reactivated)
	})

	t.Run("foreign merchant cannot see the subscription", func(t *testing.T) {
		repo := &mockWebhookRepo{
			getByID: func(context.Context, string) (*models.WebhookSubscription, error) { return sub, nil },
			reactivate: func(context.Context, string) error {
				t.Fatal("must not reactivate a foreign subscription")
				return nil
			},
		}
		err := NewWebhookService(repo).Reactivate(ctx, "sub-1", "merch-other")
		assert.ErrorIs(t, err, pkgerrors.ErrSubscriptionNotFound)
	})
}
