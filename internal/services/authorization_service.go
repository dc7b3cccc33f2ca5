package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	stderrors "errors"

	"github.com/honeynil/tappay/internal/cache"
	"github.com/honeynil/tappay/internal/infrastructure/observability"
	"github.com/honeynil/tappay/internal/models"
	"github.com/honeynil/tappay/internal/repository"
	"github.com/honeynil/tappay/internal/risk"
	pkgerrors "github.com/honeynil/tappay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// AuthorizationService answers "can this tap proceed" within the latency
// budget. It never returns an error: every failure degrades to a denial so
// the terminal always renders a deterministic verdict.
type AuthorizationService interface {
	Authorize(ctx context.Context, cardID string, amount int64, terminalID string) *models.AuthorizationResult
}

type AuthorizationConfig struct {
	Fraud         risk.FraudConfig
	ApprovalTTL   time.Duration
	DenialTTL     time.Duration
	LatencyBudget time.Duration
}

type authorizationService struct {
	cardRepo repository.CardRepository
	txRepo   repository.TransactionRepository
	cache    *cache.Store
	cfg      AuthorizationConfig
	now      func() time.Time
}

func NewAuthorizationService(
	cardRepo repository.CardRepository,
	txRepo repository.TransactionRepository,
	cacheStore *cache.Store,
	cfg AuthorizationConfig,
) *authorizationService {
	return &authorizationService{
		cardRepo: cardRepo,
		txRepo:   txRepo,
		cache:    cacheStore,
		cfg:      cfg,
		now:      time.Now,
	}
}

// VerdictKey is deterministic over (cardId, amount in base units) so
// repeated taps for the same purchase hit the cached verdict.
func VerdictKey(cardID string, amount int64) string {
	return fmt.Sprintf("%s:%d", cardID, amount)
}

func (s *authorizationService) Authorize(ctx context.Context, cardID string, amount int64, terminalID string) (result *models.AuthorizationResult) {
	tracer := otel.Tracer("authorization-service")
	ctx, span := tracer.Start(ctx, "Authorize")
	defer span.End()

	start := s.now()
	defer func() {
		// Whatever breaks inside, the terminal gets a denial, not a 5xx.
		if r := recover(); r != nil {
			slog.Error("authorization panicked, denying", "card_id", cardID, "panic", r)
			span.SetStatus(codes.Error, "panic")
			result = &models.AuthorizationResult{Authorized: false, Reason: models.ReasonInternal, Fallback: true}
		}
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		verdict := "denied"
		if result.Authorized {
			verdict = "approved"
		}
		observability.AuthorizationVerdicts.WithLabelValues(verdict, result.Reason).Inc()
		observability.AuthorizationDuration.Observe(time.Since(start).Seconds())
		if elapsed := time.Since(start); elapsed > s.cfg.LatencyBudget {
			slog.Warn("authorization exceeded latency budget",
				"card_id", cardID, "elapsed", elapsed, "budget", s.cfg.LatencyBudget)
		}
	}()

	if cardID == "" || amount <= 0 {
		return &models.AuthorizationResult{Authorized: false, Reason: models.ReasonInvalidInput}
	}

	key := VerdictKey(cardID, amount)
	var cached models.AuthorizationVerdict
	if err := s.cache.Get(ctx, cache.ClassAuthVerdict, key, &cached); err == nil && cached.ExpiresAt.After(s.now()) {
		slog.Info("authorization served from cache", "card_id", cardID, "authorized", cached.Authorized)
		return &models.AuthorizationResult{
			Authorized:     cached.Authorized,
			AuthCode:       cached.AuthCode,
			Reason:         cached.Reason,
			RemainingDaily: cached.RemainingDaily,
		}
	}

	in, err := s.loadInputs(ctx, cardID)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrCardNotFound) {
		slog.Error("authorization inputs unavailable, denying", "card_id", cardID, "error", err)
		span.RecordError(err)
		return &models.AuthorizationResult{Authorized: false, Reason: models.ReasonInternal, Fallback: true}
	}

	// The three evaluations are independent pure functions; run them
	// concurrently and join.
	now := s.now()
	var (
		wg           sync.WaitGroup
		cardResult   risk.CardResult
		limitsResult risk.LimitsResult
		fraudResult  risk.FraudResult
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		cardResult = risk.EvaluateCard(in.card, now)
	}()
	go func() {
		defer wg.Done()
		var limits models.CardLimits
		var monthSpent int64
		if in.card != nil {
			limits = in.card.Limits()
			// The monthly counter only resets when the card transacts, so a
			// stale one from a past month must not eat this month's headroom.
			if !in.card.NeedsMonthlyReset(now) {
				monthSpent = in.card.MonthlySpent
			}
		}
		limitsResult = risk.EvaluateLimits(limits, in.todaySpent, monthSpent, amount)
	}()
	go func() {
		defer wg.Done()
		fraudResult = risk.EvaluateFraud(s.cfg.Fraud, in.recentTxCount, amount, now.Hour())
	}()
	wg.Wait()

	verdict := s.composeVerdict(cardResult, limitsResult, fraudResult)
	verdict.RemainingDaily = limitsResult.RemainingDaily
	ttl := s.cfg.DenialTTL
	if verdict.Authorized {
		ttl = s.cfg.ApprovalTTL
	}
	verdict.ExpiresAt = s.now().Add(ttl)
	s.cache.SetWithTTL(ctx, cache.ClassAuthVerdict, key, verdict, ttl)

	slog.Info("authorization decided",
		"card_id", cardID,
		"terminal_id", terminalID,
		"amount", amount,
		"authorized", verdict.Authorized,
		"reason", verdict.Reason,
		"fraud_score", fraudResult.Score)

	return &models.AuthorizationResult{
		Authorized:     verdict.Authorized,
		AuthCode:       verdict.AuthCode,
		Reason:         verdict.Reason,
		RemainingDaily: limitsResult.RemainingDaily,
	}
}

type authInputs struct {
	card          *models.Card
	todaySpent    int64
	recentTxCount int
}

// loadInputs resolves the card snapshot, today's spend and the 5-minute
// velocity count. One batched cache round trip first; each miss falls back
// to the store concurrently and is written back best-effort.
func (s *authorizationService) loadInputs(ctx context.Context, cardID string) (*authInputs, error) {
	batch := s.cache.GetBatch(ctx, []cache.BatchEntry{
		{Class: cache.ClassCardStatus, ID: cardID},
		{Class: cache.ClassDailySpend, ID: cardID},
		{Class: cache.ClassFraudScore, ID: cardID},
	})

	in := &authInputs{}
	var (
		wg                          sync.WaitGroup
		cardErr, spendErr, velocErr error
	)
	now := s.now()

	wg.Add(3)
	go func() {
		defer wg.Done()
		if batch[0] != "" {
			var card models.Card
			if err := json.Unmarshal([]byte(batch[0]), &card); err == nil {
				in.card = &card
				return
			}
		}
		card, err := s.cardRepo.GetByID(ctx, cardID)
		if err != nil {
			cardErr = err
			return
		}
		in.card = card
		s.cache.Set(ctx, cache.ClassCardStatus, cardID, card)
	}()
	go func() {
		defer wg.Done()
		if batch[1] != "" {
			if err := json.Unmarshal([]byte(batch[1]), &in.todaySpent); err == nil {
				return
			}
		}
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		spent, err := s.txRepo.SumCompletedByCardSince(ctx, cardID, dayStart)
		if err != nil {
			spendErr = err
			return
		}
		in.todaySpent = spent
		s.cache.Set(ctx, cache.ClassDailySpend, cardID, spent)
	}()
	go func() {
		defer wg.Done()
		if batch[2] != "" {
			if err := json.Unmarshal([]byte(batch[2]), &in.recentTxCount); err == nil {
				return
			}
		}
		count, err := s.txRepo.CountByCardSince(ctx, cardID, now.Add(-5*time.Minute))
		if err != nil {
			velocErr = err
			return
		}
		in.recentTxCount = count
		s.cache.Set(ctx, cache.ClassFraudScore, cardID, count)
	}()
	wg.Wait()

	if cardErr != nil {
		return in, cardErr
	}
	if spendErr != nil {
		return in, spendErr
	}
	if velocErr != nil {
		// Missing velocity data fails closed inside the evaluator, not open
		// here: report the degradation and deny upstream.
		return in, velocErr
	}
	return in, nil
}

func (s *authorizationService) composeVerdict(card risk.CardResult, limits risk.LimitsResult, fraud risk.FraudResult) models.AuthorizationVerdict {
	switch {
	case !card.Valid:
		return models.AuthorizationVerdict{Authorized: false, Reason: card.Reason}
	case !limits.Valid:
		return models.AuthorizationVerdict{Authorized: false, Reason: models.ReasonLimitExceeded}
	case fraud.IsRisk:
		return models.AuthorizationVerdict{Authorized: false, Reason: models.ReasonFraudRisk}
	default:
		return models.AuthorizationVerdict{Authorized: true, AuthCode: mintAuthCode()}
	}
}

// mintAuthCode builds a short-lived code: time prefix plus random suffix.
// Collisions are accepted as negligible; this is not a cryptographic token.
func mintAuthCode() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// Panic is converted into a denial by the top-level recover.
		panic(fmt.Sprintf("rand unavailable: %v", err))
	}
	return fmt.Sprintf("AUTH-%s-%s", time.Now().UTC().Format("150405"), hex.EncodeToString(suffix))
}
