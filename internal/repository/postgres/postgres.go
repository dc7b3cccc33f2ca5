package repository

import (
	"time"

	"github.com/honeynil/tappay/internal/infrastructure/observability"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// observe records the metric/trace tail every repository method shares.
// Call as: defer observe(span, "MethodName", time.Now(), &err).
func observe(span trace.Span, method string, start time.Time, errp *error) {
	status := "success"
	if *errp != nil {
		status = "error"
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
	observability.RepositoryCalls.WithLabelValues(method, status).Inc()
	observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
