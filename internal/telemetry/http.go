package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const httpScopeName = "github.com/pcgarena/arena/httpapi"

// HTTPMetrics counts requests, durations, and error responses per
// route. Instruments are no-ops when telemetry is disabled.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func NewHTTPMetrics() *HTTPMetrics {
	m := Meter(httpScopeName)
	requests, _ := m.Int64Counter("arena.http.requests",
		metric.WithDescription("Total HTTP requests served"),
	)
	duration, _ := m.Float64Histogram("arena.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("arena.http.errors",
		metric.WithDescription("Total HTTP responses with status >= 500"),
	)
	return &HTTPMetrics{requests: requests, duration: duration, errors: errs}
}

// Observe records one completed request.
func (m *HTTPMetrics) Observe(ctx context.Context, route, method string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("http.method", method),
		attribute.Int("http.status_code", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	if status >= 500 {
		m.errors.Add(ctx, 1, attrs)
	}
}
