package repository

import (
	"context"

	"github.com/honeynil/tappay/internal/models"
)

type WebhookRepository interface {
	Create(ctx context.Context, sub *models.WebhookSubscription) error
	GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error)
	ListActiveByMerchant(ctx context.Context, merchantID string) ([]models.WebhookSubscription, error)

	// RecordSuccess resets the consecutive-failure counter.
	RecordSuccess(ctx context.Context, id string) error
	// RecordFailure increments the counter and deactivates the subscription
	// when it reaches max_failures, atomically. Returns the new counter value
	// and whether the subscription was deactivated by this failure.
	RecordFailure(ctx context.Context, id string) (failures int, deactivated bool, err error)
	// Reactivate re-enables a deactivated subscription and zeroes the counter.
	Reactivate(ctx context.Context, id string) error
}
