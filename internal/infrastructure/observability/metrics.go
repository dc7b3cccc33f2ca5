package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AuthorizationVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_verdicts_total",
			Help: "Authorization outcomes by verdict and reason",
		},
		[]string{"verdict", "reason"},
	)

	AuthorizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authorization_duration_seconds",
			Help:    "Duration of the authorization fast path in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	SettlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outcomes_total",
			Help: "Terminal settlement outcomes",
		},
		[]string{"status"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		AuthorizationVerdicts,
		AuthorizationDuration,
		SettlementOutcomes,
		WebhookDeliveries,
	)
}
