package repository

import (
	"context"
	"time"

	"github.com/honeynil/tappay/internal/models"
)

type CardRepository interface {
	GetByID(ctx context.Context, id string) (*models.Card, error)
	// AddUsage atomically adds amount to the daily and monthly counters,
	// resetting whichever counter belongs to a past period first.
	AddUsage(ctx context.Context, cardID string, amount int64, now time.Time) error
}
