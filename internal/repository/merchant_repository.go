package repository

import (
	"context"

	"github.com/honeynil/tappay/internal/models"
)

type MerchantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Merchant, error)
	GetTerminal(ctx context.Context, terminalID string) (*models.Terminal, error)
	// AddStats bumps the merchant's aggregate transaction count and volume.
	AddStats(ctx context.Context, merchantID string, amount int64) error
	GetAPIKey(ctx context.Context, keyID string) (*models.APIKey, error)
}
