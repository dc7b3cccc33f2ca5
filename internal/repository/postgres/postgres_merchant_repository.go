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

type PostgresMerchantRepository struct {
	db *sql.DB
}

func NewPostgresMerchantRepository(db *sql.DB) *PostgresMerchantRepository {
	return &PostgresMerchantRepository{db: db}
}

func (r *PostgresMerchantRepository) GetByID(ctx context.Context, id string) (*models.Merchant, error) {
	var err error
	tracer := otel.Tracer("merchant-repository")
	ctx, span := tracer.Start(ctx, "GetMerchantByID")
	span.SetAttributes(attribute.String("merchant_id", id))
	defer observe(span, "GetMerchantByID", time.Now(), &err)

	var m models.Merchant
	query := `SELECT id, name, settlement_address, active, tx_count, tx_volume, created_at
		FROM merchants WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Name, &m.SettlementAddress, &m.Active, &m.TxCount, &m.TxVolume, &m.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrMerchantNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get merchant", "method", "GetByID", "merchant_id", id, "error", err)
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	return &m, nil
}

func (r *PostgresMerchantRepository) GetTerminal(ctx context.Context, terminalID string) (*models.Terminal, error) {
	var err error
	tracer := otel.Tracer("merchant-repository")
	ctx, span := tracer.Start(ctx, "GetTerminal")
	span.SetAttributes(attribute.String("terminal_id", terminalID))
	defer observe(span, "GetTerminal", time.Now(), &err)

	var t models.Terminal
	query := `SELECT id, merchant_id, label, active FROM terminals WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, terminalID).Scan(&t.ID, &t.MerchantID, &t.Label, &t.Active)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrMerchantNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get terminal", "method", "GetTerminal", "terminal_id", terminalID, "error", err)
		return nil, fmt.Errorf("failed to get terminal: %w", err)
	}
	return &t, nil
}

func (r *PostgresMerchantRepository) AddStats(ctx context.Context, merchantID string, amount int64) error {
	var err error
	tracer := otel.Tracer("merchant-repository")
	ctx, span := tracer.Start(ctx, "AddMerchantStats")
	span.SetAttributes(attribute.String("merchant_id", merchantID), attribute.Int64("amount", amount))
	defer observe(span, "AddMerchantStats", time.Now(), &err)

	query := `UPDATE merchants SET tx_count = tx_count + 1, tx_volume = tx_volume + $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, merchantID, amount)
	if err != nil {
		slog.Error("failed to update merchant stats", "method", "AddStats", "merchant_id", merchantID, "error", err)
		return fmt.Errorf("failed to update merchant stats: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		err = pkgerrors.ErrMerchantNotFound
		return err
	}
	return nil
}

func (r *PostgresMerchantRepository) GetAPIKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	var err error
	tracer := otel.Tracer("merchant-repository")
	ctx, span := tracer.Start(ctx, "GetAPIKey")
	defer observe(span, "GetAPIKey", time.Now(), &err)

	var k models.APIKey
	query := `SELECT id, merchant_id, secret_hash, active, created_at FROM api_keys WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, keyID).Scan(&k.ID, &k.MerchantID, &k.SecretHash, &k.Active, &k.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrInvalidAPIKey
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get api key", "method", "GetAPIKey", "error", err)
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}
