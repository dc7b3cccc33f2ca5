package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/honeynil/tappay/internal/models"
	"github.com/honeynil/tappay/internal/repository"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
)

type WebhookService interface {
	CreateSubscription(ctx context.Context, merchantID, targetURL string, events []models.WebhookEvent, maxFailures int) (*models.WebhookSubscription, error)
	Reactivate(ctx context.Context, id, merchantID string) error
}

type webhookService struct {
	repo repository.WebhookRepository
}

func NewWebhookService(repo repository.WebhookRepository) *webhookService {
	return &webhookService{repo: repo}
}

// CreateSubscription mints the signing secret server-side; the merchant sees
// it exactly once, in the creation response.
func (s *webhookService) CreateSubscription(ctx context.Context, merchantID, targetURL string, events []models.WebhookEvent, maxFailures int) (*models.WebhookSubscription, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid webhook url", pkgerrors.ErrInvalidInput)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: at least one event required", pkgerrors.ErrInvalidInput)
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	sub := &models.WebhookSubscription{
		ID:          uuid.NewString(),
		MerchantID:  merchantID,
		URL:         targetURL,
		Events:      events,
		Secret:      "whsec_" + hex.EncodeToString(secretBytes),
		MaxFailures: maxFailures,
		Active:      true,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Reactivate re-enables delivery and resets the failure counter.
func (s *webhookService) Reactivate(ctx context.Context, id, merchantID string) error {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sub.MerchantID != merchantID {
		return pkgerrors.ErrSubscriptionNotFound
	}
	if err := s.repo.Reactivate(ctx, id); err != nil {
		return err
	}
	slog.Info("webhook subscription reactivated", "subscription_id", id, "merchant_id", merchantID)
	return nil
}
