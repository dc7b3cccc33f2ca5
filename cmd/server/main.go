package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/tappay/internal/api"
	"github.com/honeynil/tappay/internal/cache"
	"github.com/honeynil/tappay/internal/config"
	"github.com/honeynil/tappay/internal/handler"
	"github.com/honeynil/tappay/internal/infrastructure/delay"
	"github.com/honeynil/tappay/internal/infrastructure/kafka"
	"github.com/honeynil/tappay/internal/infrastructure/ledger"
	"github.com/honeynil/tappay/internal/infrastructure/push"
	"github.com/honeynil/tappay/internal/infrastructure/redis"
	"github.com/honeynil/tappay/internal/notifications"
	"github.com/honeynil/tappay/internal/observability"
	core "github.com/honeynil/tappay/internal/repository/postgres"
	"github.com/honeynil/tappay/internal/risk"
	service "github.com/honeynil/tappay/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	shutdown, _ := observability.Setup("tappay")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	cardRepo := core.NewPostgresCardRepository(db)
	merchantRepo := core.NewPostgresMerchantRepository(db)
	txRepo := core.NewPostgresTransactionRepository(db)
	webhookRepo := core.NewPostgresWebhookRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	cacheStore := cache.NewStore(redisClient, map[cache.Class]time.Duration{
		cache.ClassCardStatus: cfg.CardStatusTTL,
		cache.ClassDailySpend: cfg.DailySpendTTL,
		cache.ClassFraudScore: cfg.FraudScoreTTL,
	}, cfg.CacheTimeout)

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	delayed := delay.NewQueue(redisClient, producer)
	ledgerClient := ledger.NewHTTPClient(cfg.LedgerURL)
	pusher := push.NewRedisNotifier(redisClient)
	webhookDispatcher := notifications.NewWebhookDispatcher(
		webhookRepo, producer, delayed, cfg.WebhookTopic, cfg.WebhookTimeout, cfg.WebhookBackoff)

	authService := service.NewAuthorizationService(cardRepo, txRepo, cacheStore, service.AuthorizationConfig{
		Fraud: risk.FraudConfig{
			HighAmount:     cfg.FraudHighAmount,
			VeryHighAmount: cfg.FraudVeryHighAmount,
			NightStartHour: cfg.FraudNightStartHour,
			NightEndHour:   cfg.FraudNightEndHour,
		},
		ApprovalTTL:   cfg.ApprovalTTL,
		DenialTTL:     cfg.DenialTTL,
		LatencyBudget: cfg.AuthLatencyBudget,
	})
	settlementService := service.NewSettlementService(
		txRepo, cardRepo, merchantRepo, cacheStore, producer, cfg.SettlementTopic)
	webhookService := service.NewWebhookService(webhookRepo)

	worker := service.NewSettlementWorker(
		txRepo, cardRepo, merchantRepo, ledgerClient, pusher, webhookDispatcher,
		delayed, cfg.SettlementTopic, cfg.MaxSettlementTries)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	settlementConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.SettlementTopic, cfg.ConsumerGroup, worker.HandleJob)
	webhookConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.WebhookTopic, cfg.ConsumerGroup+"-webhooks", webhookDispatcher.HandleJob)
	go settlementConsumer.Consume(workerCtx)
	go webhookConsumer.Consume(workerCtx)
	go delayed.Run(workerCtx)
	defer settlementConsumer.Close()
	defer webhookConsumer.Close()

	h := handler.NewHandler(authService, settlementService, webhookService)
	router := api.SetupRouter(h, merchantRepo, redisClient, cfg)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
