package models

import "time"

type WebhookEvent string

const (
	EventPaymentCompleted WebhookEvent = "payment.completed"
	EventPaymentFailed    WebhookEvent = "payment.failed"
	EventPaymentRefunded  WebhookEvent = "payment.refunded"
)

type WebhookSubscription struct {
	ID                  string         `json:"id"`
	MerchantID          string         `json:"merchant_id"`
	URL                 string         `json:"url"`
	Events              []WebhookEvent `json:"events"`
	Secret              string         `json:"-"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	MaxFailures         int            `json:"max_failures"`
	Active              bool           `json:"active"`
	LastDeliveryStatus  string         `json:"last_delivery_status,omitempty"`
	LastDeliveryAt      *time.Time     `json:"last_delivery_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Subscribed reports whether the subscription wants the given event.
func (s *WebhookSubscription) Subscribed(event WebhookEvent) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookPayload is the wire body delivered to merchants. The HMAC signature
// is computed over the exact serialized bytes of this struct.
type WebhookPayload struct {
	ID         string       `json:"id"`
	Event      WebhookEvent `json:"event"`
	Data       any          `json:"data"`
	Timestamp  int64        `json:"timestamp"`
	MerchantID string       `json:"merchant_id"`
}
