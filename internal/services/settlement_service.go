package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/honeynil/tappay/internal/cache"
	"github.com/honeynil/tappay/internal/infrastructure/kafka"
	"github.com/honeynil/tappay/internal/models"
	"github.com/honeynil/tappay/internal/repository"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// SettlementJob is the queue payload: the correlation id is the only
// reliable dedupe key across retries, everything else is re-read from the
// transaction record.
type SettlementJob struct {
	CorrelationID string `json:"correlation_id"`
	Attempt       int    `json:"attempt"`
}

type SettlementService interface {
	Settle(ctx context.Context, cardID string, amount int64, merchantID, terminalID, authCode string, correlationID string) (*models.Transaction, error)
	Get(ctx context.Context, id string) (*models.Transaction, error)
	Cancel(ctx context.Context, id, accountID string) error
	Refund(ctx context.Context, originalTxID string, amount int64, merchantID string) (*models.Transaction, error)
}

type settlementService struct {
	txRepo       repository.TransactionRepository
	cardRepo     repository.CardRepository
	merchantRepo repository.MerchantRepository
	cache        *cache.Store
	producer     kafka.KafkaProducer
	topic        string
	currency     string
}

func NewSettlementService(
	txRepo repository.TransactionRepository,
	cardRepo repository.CardRepository,
	merchantRepo repository.MerchantRepository,
	cacheStore *cache.Store,
	producer kafka.KafkaProducer,
	topic string,
) *settlementService {
	return &settlementService{
		txRepo:       txRepo,
		cardRepo:     cardRepo,
		merchantRepo: merchantRepo,
		cache:        cacheStore,
		producer:     producer,
		topic:        topic,
		currency:     "TPC",
	}
}

// Settle accepts an authorized payment and enqueues it for asynchronous
// execution against the ledger. Replays of the same correlation id return
// the existing transaction instead of creating a second one.
func (s *settlementService) Settle(ctx context.Context, cardID string, amount int64, merchantID, terminalID, authCode, correlationID string) (*models.Transaction, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "Settle")
	defer span.End()

	if cardID == "" || merchantID == "" || amount <= 0 || correlationID == "" {
		span.SetStatus(codes.Error, "invalid input")
		return nil, pkgerrors.ErrInvalidInput
	}

	if existing, err := s.txRepo.GetByCorrelationID(ctx, correlationID); err == nil {
		slog.Info("settlement replay, returning existing transaction",
			"correlation_id", correlationID, "transaction_id", existing.ID)
		return existing, nil
	} else if !stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
		span.RecordError(err)
		return nil, err
	}

	// The authorization verdict is the ticket into settlement. It lives only
	// in the cache and expires on its own; an expired or missing verdict
	// means the tap must be re-authorized.
	var verdict models.AuthorizationVerdict
	key := VerdictKey(cardID, amount)
	if err := s.cache.Get(ctx, cache.ClassAuthVerdict, key, &verdict); err != nil {
		slog.Warn("no authorization verdict for settlement", "card_id", cardID, "error", err)
		span.SetStatus(codes.Error, "authorization required")
		return nil, pkgerrors.ErrNotAuthorized
	}
	if !verdict.Authorized || verdict.AuthCode != authCode || verdict.ExpiresAt.Before(time.Now()) {
		span.SetStatus(codes.Error, "authorization mismatch")
		return nil, pkgerrors.ErrNotAuthorized
	}

	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !merchant.Active {
		return nil, pkgerrors.ErrMerchantInactive
	}
	if terminalID != "" {
		terminal, err := s.merchantRepo.GetTerminal(ctx, terminalID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if terminal.MerchantID != merchantID || !terminal.Active {
			return nil, pkgerrors.ErrTerminalInactive
		}
	}

	tx := &models.Transaction{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		CardID:        cardID,
		MerchantID:    merchantID,
		Amount:        amount,
		Currency:      s.currency,
		Type:          models.TypePayment,
		Status:        models.StatusPending,
		Metadata: models.TransactionMetadata{
			SchemaVersion: models.MetadataSchemaVersion,
			TerminalID:    terminalID,
			AuthCode:      authCode,
		},
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.enqueue(ctx, correlationID); err != nil {
		// No job means no worker will ever touch this transaction; cancel it
		// so it does not sit pending forever.
		span.RecordError(err)
		if cancelErr := s.txRepo.Cancel(ctx, tx.ID); cancelErr != nil {
			slog.Error("failed to cancel orphaned transaction",
				"transaction_id", tx.ID, "error", cancelErr)
		}
		return nil, fmt.Errorf("failed to enqueue settlement: %w", err)
	}

	slog.Info("settlement enqueued",
		"transaction_id", tx.ID, "correlation_id", correlationID, "card_id", cardID, "amount", amount)
	return tx, nil
}

func (s *settlementService) enqueue(ctx context.Context, correlationID string) error {
	job, err := json.Marshal(SettlementJob{CorrelationID: correlationID})
	if err != nil {
		return fmt.Errorf("failed to marshal settlement job: %w", err)
	}
	return s.producer.Send(ctx, s.topic, correlationID, job)
}

func (s *settlementService) Get(ctx context.Context, id string) (*models.Transaction, error) {
	return s.txRepo.GetByID(ctx, id)
}

// Cancel is honored only while the transaction is still pending; once a
// worker has moved it to processing a ledger call may already be in flight.
func (s *settlementService) Cancel(ctx context.Context, id, accountID string) error {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "Cancel")
	defer span.End()

	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	card, err := s.cardRepo.GetByID(ctx, tx.CardID)
	if err != nil {
		return err
	}
	if card.AccountID != accountID {
		return pkgerrors.ErrTransactionNotFound
	}

	if err := s.txRepo.Cancel(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	slog.Info("transaction cancelled", "transaction_id", id)
	return nil
}

// Refund creates a distinct, audited transaction referencing the original.
// The original's status is never touched; only its refund stamps change,
// and that happens when the refund settles.
func (s *settlementService) Refund(ctx context.Context, originalTxID string, amount int64, merchantID string) (*models.Transaction, error) {
	tracer := otel.Tracer("settlement-service")
	ctx, span := tracer.Start(ctx, "Refund")
	defer span.End()

	original, err := s.txRepo.GetByID(ctx, originalTxID)
	if err != nil {
		return nil, err
	}
	if original.MerchantID != merchantID {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if original.Status != models.StatusCompleted {
		return nil, pkgerrors.ErrNotRefundable
	}
	if original.RefundTxID != "" {
		return nil, pkgerrors.ErrAlreadyRefunded
	}
	if amount <= 0 || amount > original.Amount {
		return nil, pkgerrors.ErrInvalidInput
	}

	refund := &models.Transaction{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		CardID:        original.CardID,
		MerchantID:    merchantID,
		Amount:        amount,
		Currency:      original.Currency,
		Type:          models.TypeRefund,
		Status:        models.StatusPending,
		Metadata: models.TransactionMetadata{
			SchemaVersion: models.MetadataSchemaVersion,
			OriginalTxID:  originalTxID,
		},
	}
	if err := s.txRepo.Create(ctx, refund); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.enqueue(ctx, refund.CorrelationID); err != nil {
		span.RecordError(err)
		if cancelErr := s.txRepo.Cancel(ctx, refund.ID); cancelErr != nil {
			slog.Error("failed to cancel orphaned refund", "transaction_id", refund.ID, "error", cancelErr)
		}
		return nil, fmt.Errorf("failed to enqueue refund: %w", err)
	}

	slog.Info("refund enqueued", "transaction_id", refund.ID, "original_tx_id", originalTxID, "amount", amount)
	return refund, nil
}
