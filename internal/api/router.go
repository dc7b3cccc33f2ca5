package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/tappay/internal/config"
	"github.com/honeynil/tappay/internal/handler"
	"github.com/honeynil/tappay/internal/infrastructure/auth"
	"github.com/honeynil/tappay/internal/infrastructure/redis"
	"github.com/honeynil/tappay/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration)
}

func SetupRouter(
	h *handler.Handler,
	merchants repository.MerchantRepository,
	redisClient redis.RedisClient,
	cfg *config.Config,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	apiKeyAuth := auth.APIKeyMiddleware(merchants, redisClient, cfg.RateLimitPerMinute)
	jwtAuth := auth.JWTMiddleware(cfg.JWTSecret)

	// Terminal fast path and merchant management share API-key auth.
	r.Handle("/authorize", apiKeyAuth(http.HandlerFunc(h.Authorize))).Methods("POST")
	r.Handle("/settle", apiKeyAuth(http.HandlerFunc(h.Settle))).Methods("POST")
	r.Handle("/transactions/{id}/refund", apiKeyAuth(http.HandlerFunc(h.RefundTransaction))).Methods("POST")
	r.Handle("/webhooks", apiKeyAuth(http.HandlerFunc(h.CreateWebhook))).Methods("POST")
	r.Handle("/webhooks/{id}/reactivate", apiKeyAuth(http.HandlerFunc(h.ReactivateWebhook))).Methods("POST")

	// Payer wallet-session routes.
	r.Handle("/transactions/{id}", jwtAuth(http.HandlerFunc(h.GetTransaction))).Methods("GET")
	r.Handle("/transactions/{id}/cancel", jwtAuth(http.HandlerFunc(h.CancelTransaction))).Methods("POST")

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := fmt.Sprintf("%d", recorder.status)
		RequestCounter.WithLabelValues(r.Method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder для захвата статуса ответа
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
