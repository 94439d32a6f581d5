package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the exchange's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transactions *prometheus.CounterVec
	txDuration   *prometheus.HistogramVec
	subCalls     *prometheus.CounterVec
	replies      *prometheus.CounterVec
	webhooks     *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "transactions_total",
			Help:      "Exchange transactions segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of exchange transactions including nested calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}, []string{"operation"}),
		subCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "sub_calls_total",
			Help:      "Nested gateway calls segmented by kind and outcome.",
		}, []string{"kind", "outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "engine",
			Name:      "replies_total",
			Help:      "Sub-call outcomes delivered to the completion handler, by tag.",
		}, []string{"tag", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts segmented by outcome.",
		}, []string{"outcome"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.transactions,
		m.txDuration,
		m.subCalls,
		m.replies,
		m.webhooks,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// ObserveTransaction records a finished transaction.
func (m *Metrics) ObserveTransaction(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(operation, outcome(err)).Inc()
	m.txDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveSubCall records a nested gateway call.
func (m *Metrics) ObserveSubCall(kind string, err error) {
	if m == nil {
		return
	}
	m.subCalls.WithLabelValues(kind, outcome(err)).Inc()
}

// ObserveReply records a sub-call outcome delivered to the completion
// handler.
func (m *Metrics) ObserveReply(tag string, succeeded bool) {
	if m == nil {
		return
	}
	result := "success"
	if !succeeded {
		result = "error"
	}
	m.replies.WithLabelValues(tag, result).Inc()
}

// ObserveWebhook records a webhook delivery attempt.
func (m *Metrics) ObserveWebhook(err error) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome(err)).Inc()
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the matched
// chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
