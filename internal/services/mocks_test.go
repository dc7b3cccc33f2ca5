package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/honeynil/tappay/internal/infrastructure/ledger"
	"github.com/honeynil/tappay/internal/infrastructure/redis"
	"github.com/honeynil/tappay/internal/models"
)

// Hand-written fakes with function fields: tests override only the calls
// they care about, everything else fails loudly through the nil function.

type mockCardRepo struct {
	getByID  func(ctx context.Context, id string) (*models.Card, error)
	addUsage func(ctx context.Context, cardID string, amount int64, now time.Time) error

	mu         sync.Mutex
	usageCalls int
}

func (m *mockCardRepo) GetByID(ctx context.Context, id string) (*models.Card, error) {
	return m.getByID(ctx, id)
}

func (m *mockCardRepo) AddUsage(ctx context.Context, cardID string, amount int64, now time.Time) error {
	m.mu.Lock()
	m.usageCalls++
	m.mu.Unlock()
	if m.addUsage != nil {
		return m.addUsage(ctx, cardID, amount, now)
	}
	return nil
}

type mockTxRepo struct {
	create             func(ctx context.Context, tx *models.Transaction) error
	getByID            func(ctx context.Context, id string) (*models.Transaction, error)
	getByCorrelationID func(ctx context.Context, correlationID string) (*models.Transaction, error)
	markProcessing     func(ctx context.Context, id string) error
	complete           func(ctx context.Context, id, ledgerTxHash string, networkFee int64) error
	fail               func(ctx context.Context, id, reason string) error
	cancel             func(ctx context.Context, id string) error
	stampRefund        func(ctx context.Context, id, refundTxID string, amount int64, at time.Time) error
	countByCardSince   func(ctx context.Context, cardID string, since time.Time) (int, error)
	sumByCardSince     func(ctx context.Context, cardID string, since time.Time) (int64, error)
}

func (m *mockTxRepo) Create(ctx context.Context, tx *models.Transaction) error {
	return m.create(ctx, tx)
}

func (m *mockTxRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return m.getByID(ctx, id)
}

func (m *mockTxRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*models.Transaction, error) {
	return m.getByCorrelationID(ctx, correlationID)
}

func (m *mockTxRepo) MarkProcessing(ctx context.Context, id string) error {
	return m.markProcessing(ctx, id)
}

func (m *mockTxRepo) Complete(ctx context.Context, id, ledgerTxHash string, networkFee int64) error {
	return m.complete(ctx, id, ledgerTxHash, networkFee)
}

func (m *mockTxRepo) Fail(ctx context.Context, id, reason string) error {
	return m.fail(ctx, id, reason)
}

func (m *mockTxRepo) Cancel(ctx context.Context, id string) error {
	return m.cancel(ctx, id)
}

func (m *mockTxRepo) StampRefund(ctx context.Context, id, refundTxID string, amount int64, at time.Time) error {
	return m.stampRefund(ctx, id, refundTxID, amount, at)
}

func (m *mockTxRepo) CountByCardSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return m.countByCardSince(ctx, cardID, since)
}

func (m *mockTxRepo) SumCompletedByCardSince(ctx context.Context, cardID string, since time.Time) (int64, error) {
	return m.sumByCardSince(ctx, cardID, since)
}

type mockMerchantRepo struct {
	getByID     func(ctx context.Context, id string) (*models.Merchant, error)
	getTerminal func(ctx context.Context, terminalID string) (*models.Terminal, error)
	getAPIKey   func(ctx context.Context, keyID string) (*models.APIKey, error)

	mu         sync.Mutex
	statsCalls int
}

func (m *mockMerchantRepo) GetByID(ctx context.Context, id string) (*models.Merchant, error) {
	return m.getByID(ctx, id)
}

func (m *mockMerchantRepo) GetTerminal(ctx context.Context, terminalID string) (*models.Terminal, error) {
	return m.getTerminal(ctx, terminalID)
}

func (m *mockMerchantRepo) AddStats(ctx context.Context, merchantID string, amount int64) error {
	m.mu.Lock()
	m.statsCalls++
	m.mu.Unlock()
	return nil
}

func (m *mockMerchantRepo) GetAPIKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	return m.getAPIKey(ctx, keyID)
}

type mockWebhookRepo struct {
	create               func(ctx context.Context, sub *models.WebhookSubscription) error
	getByID              func(ctx context.Context, id string) (*models.WebhookSubscription, error)
	listActiveByMerchant func(ctx context.Context, merchantID string) ([]models.WebhookSubscription, error)
	recordSuccess        func(ctx context.Context, id string) error
	recordFailure        func(ctx context.Context, id string) (int, bool, error)
	reactivate           func(ctx context.Context, id string) error
}

func (m *mockWebhookRepo) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	return m.create(ctx, sub)
}

func (m *mockWebhookRepo) GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	return m.getByID(ctx, id)
}

func (m *mockWebhookRepo) ListActiveByMerchant(ctx context.Context, merchantID string) ([]models.WebhookSubscription, error) {
	return m.listActiveByMerchant(ctx, merchantID)
}

func (m *mockWebhookRepo) RecordSuccess(ctx context.Context, id string) error {
	return m.recordSuccess(ctx, id)
}

func (m *mockWebhookRepo) RecordFailure(ctx context.Context, id string) (int, bool, error) {
	return m.recordFailure(ctx, id)
}

func (m *mockWebhookRepo) Reactivate(ctx context.Context, id string) error {
	return m.reactivate(ctx, id)
}

type mockLedger struct {
	submitTransfer func(ctx context.Context, req ledger.TransferRequest) (string, error)

	mu        sync.Mutex
	transfers []ledger.TransferRequest
}

func (m *mockLedger) GetBalance(ctx context.Context, account string) (int64, error) {
	return 0, nil
}

func (m *mockLedger) SubmitTransfer(ctx context.Context, req ledger.TransferRequest) (string, error) {
	m.mu.Lock()
	m.transfers = append(m.transfers, req)
	m.mu.Unlock()
	if m.submitTransfer != nil {
		return m.submitTransfer(ctx, req)
	}
	return "0xabc", nil
}

func (m *mockLedger) WaitForConfirmation(ctx context.Context, txHash string) (*ledger.Confirmation, error) {
	return &ledger.Confirmation{TxHash: txHash, NetworkFee: 3}, nil
}

type mockPusher struct {
	mu     sync.Mutex
	events []string
}

func (m *mockPusher) EmitToUser(ctx context.Context, userID, event string, payload interface{}) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []models.WebhookEvent
}

func (m *mockDispatcher) Dispatch(ctx context.Context, merchantID string, event models.WebhookEvent, data interface{}) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

type scheduled struct {
	topic string
	key   string
	value []byte
	delay time.Duration
}

type mockScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
	err  error
}

func (m *mockScheduler) Schedule(ctx context.Context, topic, key string, value []byte, delay time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.jobs = append(m.jobs, scheduled{topic: topic, key: key, value: value, delay: delay})
	m.mu.Unlock()
	return nil
}

type produced struct {
	topic string
	key   string
	value []byte
}

type mockProducer struct {
	mu       sync.Mutex
	messages []produced
	err      error
}

func (m *mockProducer) Send(ctx context.Context, topic, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.messages = append(m.messages, produced{topic: topic, key: key, value: value})
	m.mu.Unlock()
	return nil
}

func (m *mockProducer) Close() error { return nil }

// fakeRedis backs a real cache.Store in tests. failing simulates a degraded
// cache where every operation errors.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	failing bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

var errRedisDown = errors.New("connection refused")

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errRedisDown
	}
	val, ok := f.data[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return val, nil
}

func (f *fakeRedis) MGet(ctx context.Context, keys ...string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errRedisDown
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = f.data[k]
	}
	return out, nil
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errRedisDown
	}
	f.data[key] = value.(string)
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeRedis) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return nil
}

func (f *fakeRedis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return nil, nil
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, member string) (int64, error) {
	return 0, nil
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (f *fakeRedis) Close() error { return nil }
