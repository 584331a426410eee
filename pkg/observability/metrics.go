package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access check metrics
	AccessChecksTotal    *prometheus.CounterVec
	AccessCheckDuration  *prometheus.HistogramVec

	// Hierarchy mutation metrics
	MutationsTotal         *prometheus.CounterVec
	InvariantViolationsTotal *prometheus.CounterVec
	ReassignedMembers      prometheus.Histogram

	// Decision cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal *prometheus.CounterVec

	// Database pool metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_access_checks_total",
				Help: "Total number of module access checks by decision and reason",
			},
			[]string{"decision", "reason"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_access_check_duration_seconds",
				Help:    "Module access check duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"reason"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_membership_mutations_total",
				Help: "Total number of membership graph mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		InvariantViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_invariant_violations_total",
				Help: "Total number of rejected mutations by violated invariant",
			},
			[]string{"invariant"},
		),
		ReassignedMembers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_reassigned_members",
				Help:    "Members reassigned per cascading supervisor reassignment",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_decision_cache_hits_total",
				Help: "Total number of decision cache hits by layer",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_decision_cache_misses_total",
				Help: "Total number of decision cache misses by layer",
			},
			[]string{"layer"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_writes_total",
				Help: "Total number of audit trail writes by status",
			},
			[]string{"status"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.MutationsTotal,
		m.InvariantViolationsTotal,
		m.ReassignedMembers,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuditWritesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveAccessCheck records one access check decision
func (m *Metrics) ObserveAccessCheck(allowed bool, reason string, duration time.Duration) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AccessChecksTotal.WithLabelValues(decision, reason).Inc()
	m.AccessCheckDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// ObserveMutation records one membership mutation attempt
func (m *Metrics) ObserveMutation(operation, outcome string) {
	m.MutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// CollectDBStats copies sql.DB pool statistics into gauges
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
