package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing event pipeline metrics
	EventsReceivedTotal *prometheus.CounterVec
	EventsAppliedTotal  *prometheus.CounterVec
	EventsRejectedTotal *prometheus.CounterVec
	EventsReplayedTotal *prometheus.CounterVec
	EventHandleDuration *prometheus.HistogramVec

	// Credit ledger metrics
	CreditsGrantedTotal *prometheus.CounterVec
	CreditsSpentTotal   *prometheus.CounterVec

	// Checkout metrics
	CheckoutsCreatedTotal  *prometheus.CounterVec
	CheckoutsRejectedTotal *prometheus.CounterVec

	// Subscription metrics
	ActiveSubscriptions prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelmint_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		EventsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_billing_events_received_total",
				Help: "Billing events received from provider webhooks",
			},
			[]string{"provider", "type"},
		),
		EventsAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_billing_events_applied_total",
				Help: "Billing events applied exactly once",
			},
			[]string{"provider", "type"},
		),
		EventsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_billing_events_rejected_total",
				Help: "Billing events rejected by validation or business rules",
			},
			[]string{"provider", "reason"},
		),
		EventsReplayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_billing_events_replayed_total",
				Help: "Redelivered billing events answered from the idempotency record",
			},
			[]string{"provider"},
		),
		EventHandleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelmint_billing_event_handle_duration_seconds",
				Help:    "Billing event handling duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"provider", "type"},
		),

		CreditsGrantedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_credits_granted_total",
				Help: "Credits granted through the ledger",
			},
			[]string{"reason"},
		),
		CreditsSpentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_credits_spent_total",
				Help: "Credits debited through the ledger",
			},
			[]string{"reason"},
		),

		CheckoutsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_checkouts_created_total",
				Help: "Checkout sessions created with a payment provider",
			},
			[]string{"provider", "plan"},
		),
		CheckoutsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmint_checkouts_rejected_total",
				Help: "Checkout attempts rejected before reaching the provider",
			},
			[]string{"provider", "reason"},
		),

		ActiveSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelmint_active_subscriptions",
				Help: "Subscriptions currently blocking a new checkout",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelmint_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pixelmint_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsReceivedTotal,
		m.EventsAppliedTotal,
		m.EventsRejectedTotal,
		m.EventsReplayedTotal,
		m.EventHandleDuration,
		m.CreditsGrantedTotal,
		m.CreditsSpentTotal,
		m.CheckoutsCreatedTotal,
		m.CheckoutsRejectedTotal,
		m.ActiveSubscriptions,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveDBStats copies connection pool gauges from sql.DBStats.
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
