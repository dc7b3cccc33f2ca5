package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/tappay/internal/infrastructure/delay"
	"github.com/honeynil/tappay/internal/infrastructure/ledger"
	"github.com/honeynil/tappay/internal/infrastructure/observability"
	"github.com/honeynil/tappay/internal/infrastructure/push"
	"github.com/honeynil/tappay/internal/models"
	"github.com/honeynil/tappay/internal/notifications"
	"github.com/honeynil/tappay/internal/repository"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SettlementWorker executes queued payments against the external ledger.
// Workers are stateless: everything that matters lives in the transaction
// record and the queue, so any number of them can run in parallel.
type SettlementWorker struct {
	txRepo       repository.TransactionRepository
	cardRepo     repository.CardRepository
	merchantRepo repository.MerchantRepository
	ledger       ledger.Client
	pusher       push.Notifier
	webhooks     notifications.Dispatcher
	delayed      delay.Scheduler
	topic        string
	maxTries     int
}

func NewSettlementWorker(
	txRepo repository.TransactionRepository,
	cardRepo repository.CardRepository,
	merchantRepo repository.MerchantRepository,
	ledgerClient ledger.Client,
	pusher push.Notifier,
	webhooks notifications.Dispatcher,
	delayed delay.Scheduler,
	topic string,
	maxTries int,
) *SettlementWorker {
	return &SettlementWorker{
		txRepo:       txRepo,
		cardRepo:     cardRepo,
		merchantRepo: merchantRepo,
		ledger:       ledgerClient,
		pusher:       pusher,
		webhooks:     webhooks,
		delayed:      delayed,
		topic:        topic,
		maxTries:     maxTries,
	}
}

// HandleJob is the Kafka handler for the settlement topic.
func (w *SettlementWorker) HandleJob(ctx context.Context, _, value []byte) error {
	var job SettlementJob
	if err := json.Unmarshal(value, &job); err != nil {
		slog.Error("malformed settlement job dropped", "error", err)
		return nil
	}
	return w.process(ctx, job)
}

func (w *SettlementWorker) process(ctx context.Context, job SettlementJob) error {
	tracer := otel.Tracer("settlement-worker")
	ctx, span := tracer.Start(ctx, "ProcessSettlement")
	span.SetAttributes(
		attribute.String("correlation_id", job.CorrelationID),
		attribute.Int("attempt", job.Attempt),
	)
	defer span.End()

	tx, err := w.txRepo.GetByCorrelationID(ctx, job.CorrelationID)
	if stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
		// A job without a transaction is an upstream programming error, not
		// a transient fault. Fail it permanently and loudly.
		slog.Error("settlement job references missing transaction, dropping",
			"correlation_id", job.CorrelationID)
		span.SetStatus(codes.Error, "transaction missing")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return w.retryOrFail(ctx, nil, "", job, err)
	}

	// Replays of an already-settled job are no-ops: the ledger call must not
	// run twice for one correlation id.
	if tx.Status.Terminal() {
		slog.Info("settlement job already terminal, skipping",
			"transaction_id", tx.ID, "status", tx.Status)
		return nil
	}

	card, err := w.cardRepo.GetByID(ctx, tx.CardID)
	if err != nil {
		span.RecordError(err)
		return w.retryOrFail(ctx, tx, "", job, err)
	}

	if tx.Status == models.StatusPending {
		if err := w.txRepo.MarkProcessing(ctx, tx.ID); err != nil {
			if stderrors.Is(err, pkgerrors.ErrInvalidStatusChange) {
				// Lost the race to another worker or a cancel; nothing to do.
				slog.Info("transaction no longer pending, skipping", "transaction_id", tx.ID)
				return nil
			}
			span.RecordError(err)
			return w.retryOrFail(ctx, tx, card.AccountID, job, err)
		}
		w.emitPush(ctx, card.AccountID, "payment.processing", tx)
	}

	// A card can be blocked between authorization and settlement; this is
	// the consistency boundary, so re-validate before touching the ledger.
	if tx.Type == models.TypePayment && (card.Blocked || !card.Active) {
		w.fail(ctx, tx, card.AccountID, "card no longer active")
		return nil
	}

	merchant, err := w.merchantRepo.GetByID(ctx, tx.MerchantID)
	if err != nil {
		span.RecordError(err)
		return w.retryOrFail(ctx, tx, card.AccountID, job, err)
	}

	confirmation, err := w.transfer(ctx, tx, card, merchant)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrInsufficientLedgerFunds) {
			// Retrying an identical debit against an insufficient balance
			// cannot succeed.
			w.fail(ctx, tx, card.AccountID, "insufficient funds on ledger")
			return nil
		}
		span.RecordError(err)
		return w.retryOrFail(ctx, tx, card.AccountID, job, err)
	}

	w.complete(ctx, tx, card, merchant, confirmation)
	return nil
}

func (w *SettlementWorker) transfer(ctx context.Context, tx *models.Transaction, card *models.Card, merchant *models.Merchant) (*ledger.Confirmation, error) {
	req := ledger.TransferRequest{
		FromAccount: card.AccountID,
		ToAddress:   merchant.SettlementAddress,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Reference:   tx.CorrelationID,
	}
	if tx.Type == models.TypeRefund {
		// Refunds flow the other way: merchant settlement address back to
		// the payer's account.
		req.FromAccount = merchant.SettlementAddress
		req.ToAddress = card.AccountID
	}

	txHash, err := w.ledger.SubmitTransfer(ctx, req)
	if err != nil {
		return nil, err
	}
	return w.ledger.WaitForConfirmation(ctx, txHash)
}

func (w *SettlementWorker) complete(ctx context.Context, tx *models.Transaction, card *models.Card, merchant *models.Merchant, conf *ledger.Confirmation) {
	if err := w.txRepo.Complete(ctx, tx.ID, conf.TxHash, conf.NetworkFee); err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidStatusChange) {
			// Another worker already completed it; counters were updated there.
			slog.Info("transaction completed elsewhere, skipping", "transaction_id", tx.ID)
			return
		}
		slog.Error("failed to mark transaction completed", "transaction_id", tx.ID, "error", err)
		return
	}
	observability.SettlementOutcomes.WithLabelValues(string(models.StatusCompleted)).Inc()

	switch tx.Type {
	case models.TypePayment:
		if err := w.cardRepo.AddUsage(ctx, card.ID, tx.Amount, time.Now()); err != nil {
			slog.Error("failed to update card usage", "card_id", card.ID, "error", err)
		}
		if err := w.merchantRepo.AddStats(ctx, merchant.ID, tx.Amount); err != nil {
			slog.Error("failed to update merchant stats", "merchant_id", merchant.ID, "error", err)
		}
		w.emitPush(ctx, card.AccountID, "payment.completed", tx)
		w.webhooks.Dispatch(ctx, merchant.ID, models.EventPaymentCompleted, tx)

	case models.TypeRefund:
		if tx.Metadata.OriginalTxID != "" {
			if err := w.txRepo.StampRefund(ctx, tx.Metadata.OriginalTxID, tx.ID, tx.Amount, time.Now()); err != nil {
				slog.Error("failed to stamp refund on original",
					"original_tx_id", tx.Metadata.OriginalTxID, "refund_tx_id", tx.ID, "error", err)
			}
		}
		w.emitPush(ctx, card.AccountID, "payment.refunded", tx)
		w.webhooks.Dispatch(ctx, merchant.ID, models.EventPaymentRefunded, tx)
	}

	slog.Info("settlement completed",
		"transaction_id", tx.ID, "ledger_tx_hash", conf.TxHash, "network_fee", conf.NetworkFee)
}

func (w *SettlementWorker) fail(ctx context.Context, tx *models.Transaction, accountID, reason string) {
	if err := w.txRepo.Fail(ctx, tx.ID, reason); err != nil {
		if !stderrors.Is(err, pkgerrors.ErrInvalidStatusChange) {
			slog.Error("failed to mark transaction failed", "transaction_id", tx.ID, "error", err)
		}
		return
	}
	observability.SettlementOutcomes.WithLabelValues(string(models.StatusFailed)).Inc()
	slog.Warn("settlement failed", "transaction_id", tx.ID, "reason", reason)

	w.emitPush(ctx, accountID, "payment.failed", tx)
	w.webhooks.Dispatch(ctx, tx.MerchantID, models.EventPaymentFailed, tx)
}

// retryOrFail schedules the next attempt with exponential backoff, or gives
// up past the ceiling and stamps the transaction failed. Transient store
// errors take this path too: returning them to the consumer would only
// commit the offset and strand the transaction mid-settlement. tx is nil
// when the transaction itself could not be loaded.
func (w *SettlementWorker) retryOrFail(ctx context.Context, tx *models.Transaction, accountID string, job SettlementJob, cause error) error {
	next := job.Attempt + 1
	if next >= w.maxTries {
		if tx == nil {
			slog.Error("settlement gave up, transaction unreachable",
				"correlation_id", job.CorrelationID, "attempts", next, "cause", cause)
			return nil
		}
		w.fail(ctx, tx, accountID, fmt.Sprintf("settlement gave up after %d attempts: %v", next, cause))
		return nil
	}

	retry := SettlementJob{CorrelationID: job.CorrelationID, Attempt: next}
	raw, err := json.Marshal(retry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}
	wait := backoffDelay(next)
	if err := w.delayed.Schedule(ctx, w.topic, job.CorrelationID, raw, wait); err != nil {
		// With no retry in flight the transaction must not stay open.
		if tx != nil {
			w.fail(ctx, tx, accountID, "settlement retry could not be scheduled")
			return nil
		}
		return fmt.Errorf("failed to schedule settlement retry: %w", err)
	}
	slog.Warn("settlement retry scheduled",
		"correlation_id", job.CorrelationID, "attempt", next, "delay", wait, "cause", cause)
	return nil
}

// backoffDelay doubles per attempt starting at 5s: 5s, 10s, 20s, 40s, ...
func backoffDelay(attempt int) time.Duration {
	d := 5 * time.Second << uint(attempt-1)
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

func (w *SettlementWorker) emitPush(ctx context.Context, accountID, event string, tx *models.Transaction) {
	if err := w.pusher.EmitToUser(ctx, accountID, event, tx); err != nil {
		slog.Warn("push notification failed", "account_id", accountID, "event", event, "error", err)
	}
}
