package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/certified-builder/api/internal/domain"
)

const metricsNamespace = "certified_builder"

// Metrics holds the Prometheus collectors exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	intakeOrders  *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	events        *prometheus.CounterVec
	linkRefreshes *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry, together with the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		intakeOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "intake_orders_total",
			Help:      "Orders seen by intake batches, by classification.",
		}, []string{"classification"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_publishes_total",
			Help:      "Build messages published, by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "certificate_events_total",
			Help:      "Completion events handled, by outcome.",
		}, []string{"outcome"}),
		linkRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "certificate_link_refreshes_total",
			Help:      "Lazy certificate link refreshes, by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verifications_total",
			Help:      "Token verifications, by kind, result and reason.",
		}, []string{"kind", "result", "reason"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpLatency,
		m.intakeOrders,
		m.publishes,
		m.events,
		m.linkRefreshes,
		m.verifications,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := SanitizeRoute(routePattern(r))
			method := SanitizeMethod(r.Method)
			m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.httpLatency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		})
	}
}

// RecordBatch counts the classification of one intake batch.
func (m *Metrics) RecordBatch(existing, created, failed int) {
	if m == nil {
		return
	}
	m.intakeOrders.WithLabelValues("existing").Add(float64(existing))
	m.intakeOrders.WithLabelValues("new").Add(float64(created))
	m.intakeOrders.WithLabelValues("failed").Add(float64(failed))
}

// RecordPublish counts one build message publish attempt.
func (m *Metrics) RecordPublish(err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(resultLabel(err)).Inc()
}

// RecordEvents counts the outcome of one completion message.
func (m *Metrics) RecordEvents(outcome domain.EventOutcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues("processed").Add(float64(outcome.Processed))
	m.events.WithLabelValues("skipped").Add(float64(outcome.Skipped))
	m.events.WithLabelValues("failed").Add(float64(outcome.Failed))
}

// RecordLinkRefresh counts one lazy link refresh.
func (m *Metrics) RecordLinkRefresh(err error) {
	if m == nil {
		return
	}
	m.linkRefreshes.WithLabelValues(resultLabel(err)).Inc()
}

// RecordVerification implements auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	result := "rejected"
	if success {
		result = "accepted"
	}
	m.verifications.WithLabelValues(kind, result, reason).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
