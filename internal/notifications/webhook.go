// Package notifications fans settlement outcomes out to merchants (signed
// webhooks with bounded retry) and payers (best-effort push). Nothing in
// here can fail a payment: delivery errors stay inside the fan-out.
package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/honeynil/tappay/internal/infrastructure/delay"
	"github.com/honeynil/tappay/internal/infrastructure/kafka"
	"github.com/honeynil/tappay/internal/infrastructure/observability"
	"github.com/honeynil/tappay/internal/models"
	"github.com/honeynil/tappay/internal/repository"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
)

// DeliveryJob is one attempt at delivering one event to one subscription.
// It travels through the webhook Kafka topic and, between retries, through
// the delayed queue.
type DeliveryJob struct {
	DeliveryID     string              `json:"delivery_id"`
	SubscriptionID string              `json:"subscription_id"`
	MerchantID     string              `json:"merchant_id"`
	Event          models.WebhookEvent `json:"event"`
	Data           json.RawMessage     `json:"data"`
	Attempt        int                 `json:"attempt"`
}

// Dispatcher is what the settlement worker sees: enqueue events, nothing
// about delivery mechanics.
type Dispatcher interface {
	Dispatch(ctx context.Context, merchantID string, event models.WebhookEvent, data interface{})
}

type WebhookDispatcher struct {
	repo     repository.WebhookRepository
	producer kafka.KafkaProducer
	delayed  delay.Scheduler
	client   *http.Client
	topic    string
	backoff  []time.Duration
}

func NewWebhookDispatcher(
	repo repository.WebhookRepository,
	producer kafka.KafkaProducer,
	delayed delay.Scheduler,
	topic string,
	timeout time.Duration,
	backoff []time.Duration,
) *WebhookDispatcher {
	return &WebhookDispatcher{
		repo:     repo,
		producer: producer,
		delayed:  delayed,
		client:   &http.Client{Timeout: timeout},
		topic:    topic,
		backoff:  backoff,
	}
}

// Dispatch enqueues one delivery job per active subscription of the merchant
// that wants this event. Fire-and-forget for the caller: failures are logged,
// never returned to the payment path.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, merchantID string, event models.WebhookEvent, data interface{}) {
	subs, err := d.repo.ListActiveByMerchant(ctx, merchantID)
	if err != nil {
		slog.Error("failed to list webhook subscriptions", "merchant_id", merchantID, "event", event, "error", err)
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal webhook data", "merchant_id", merchantID, "event", event, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Subscribed(event) {
			continue
		}
		job := DeliveryJob{
			DeliveryID:     uuid.NewString(),
			SubscriptionID: sub.ID,
			MerchantID:     merchantID,
			Event:          event,
			Data:           raw,
			Attempt:        0,
		}
		jobBytes, err := json.Marshal(job)
		if err != nil {
			slog.Error("failed to marshal delivery job", "subscription_id", sub.ID, "error", err)
			continue
		}
		if err := d.producer.Send(ctx, d.topic, job.DeliveryID, jobBytes); err != nil {
			slog.Error("failed to enqueue webhook delivery", "subscription_id", sub.ID, "event", event, "error", err)
		}
	}
}

// HandleJob is the Kafka handler for the webhook topic.
func (d *WebhookDispatcher) HandleJob(ctx context.Context, _, value []byte) error {
	var job DeliveryJob
	if err := json.Unmarshal(value, &job); err != nil {
		slog.Error("malformed webhook delivery job dropped", "error", err)
		return nil
	}
	return d.deliver(ctx, job)
}

func (d *WebhookDispatcher) deliver(ctx context.Context, job DeliveryJob) error {
	sub, err := d.repo.GetByID(ctx, job.SubscriptionID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrSubscriptionNotFound) {
			slog.Warn("webhook subscription gone, dropping delivery", "subscription_id", job.SubscriptionID)
			return nil
		}
		return err
	}
	// A subscription deactivated after this job was scheduled swallows the
	// delivery, including already-scheduled retries.
	if !sub.Active {
		observability.WebhookDeliveries.WithLabelValues("skipped_inactive").Inc()
		slog.Info("webhook subscription inactive, dropping delivery", "subscription_id", sub.ID, "delivery_id", job.DeliveryID)
		return nil
	}

	if err := d.post(ctx, sub, job); err != nil {
		observability.WebhookDeliveries.WithLabelValues("failure").Inc()
		slog.Error("webhook delivery failed",
			"subscription_id", sub.ID,
			"delivery_id", job.DeliveryID,
			"attempt", job.Attempt,
			"error", err)
		return d.handleFailure(ctx, sub, job)
	}

	observability.WebhookDeliveries.WithLabelValues("success").Inc()
	if err := d.repo.RecordSuccess(ctx, sub.ID); err != nil {
		slog.Error("failed to record webhook success", "subscription_id", sub.ID, "error", err)
	}
	slog.Info("webhook delivered", "subscription_id", sub.ID, "delivery_id", job.DeliveryID, "event", job.Event)
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, sub *models.WebhookSubscription, job DeliveryJob) error {
	payload := models.WebhookPayload{
		ID:         job.DeliveryID,
		Event:      job.Event,
		Data:       json.RawMessage(job.Data),
		Timestamp:  time.Now().Unix(),
		MerchantID: job.MerchantID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(sub.Secret, body))
	req.Header.Set("X-Webhook-Event", string(job.Event))
	req.Header.Set("X-Webhook-Delivery", job.DeliveryID)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(payload.Timestamp, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *WebhookDispatcher) handleFailure(ctx context.Context, sub *models.WebhookSubscription, job DeliveryJob) error {
	failures, deactivated, err := d.repo.RecordFailure(ctx, sub.ID)
	if err != nil {
		return err
	}
	if deactivated {
		observability.WebhookDeliveries.WithLabelValues("deactivated").Inc()
		slog.Warn("webhook subscription deactivated after consecutive failures",
			"subscription_id", sub.ID, "failures", failures)
		return nil
	}

	job.Attempt++
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}
	wait := d.backoffFor(job.Attempt)
	if err := d.delayed.Schedule(ctx, d.topic, job.DeliveryID, jobBytes, wait); err != nil {
		return fmt.Errorf("failed to schedule webhook retry: %w", err)
	}
	slog.Info("webhook retry scheduled",
		"subscription_id", sub.ID, "delivery_id", job.DeliveryID, "attempt", job.Attempt, "delay", wait)
	return nil
}

// backoffFor returns the ladder rung for the attempt, clamped at the last.
func (d *WebhookDispatcher) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

// Sign computes the hex HMAC-SHA256 of the raw body under the subscription
// secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound callback signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
