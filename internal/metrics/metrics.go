// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rnrlcrm/tradedesk/internal/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Matching pipeline metrics
	CandidatesConsidered   *prometheus.CounterVec
	LocationFilterRejected prometheus.Counter
	MatchResultsTotal      *prometheus.CounterVec
	MatchPipelineDuration  *prometheus.HistogramVec

	// Risk orchestrator metrics
	RiskDecisionsTotal *prometheus.CounterVec
	RiskMLCircuitState prometheus.Gauge

	// Allocator metrics
	AllocationAttemptsTotal *prometheus.CounterVec

	// Webhook delivery metrics
	WebhookDeliveriesTotal   *prometheus.CounterVec
	WebhookDeliveryDuration  *prometheus.HistogramVec
	WebhookDLQSize           *prometheus.GaugeVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Matching pipeline metrics
		CandidatesConsidered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_candidates_considered_total",
				Help: "Total number of requirement/availability candidates scored",
			},
			[]string{"service", "side", "outcome"},
		),
		LocationFilterRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_location_filter_rejected_total",
				Help: "Total number of candidates excluded by the location hard filter before scoring",
			},
		),
		MatchResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_results_total",
				Help: "Total number of match results returned above threshold",
			},
			[]string{"service", "commodity"},
		),
		MatchPipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_pipeline_duration_seconds",
				Help:    "Duration of a full find-matches pipeline invocation",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"service", "side"},
		),

		// Risk orchestrator metrics
		RiskDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_decisions_total",
				Help: "Total number of risk orchestrator decisions by final status",
			},
			[]string{"service", "status", "ml_available"},
		),
		RiskMLCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "risk_ml_circuit_state",
				Help: "ML tier-2 circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),

		// Allocator metrics
		AllocationAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allocation_attempts_total",
				Help: "Total number of atomic allocation attempts by outcome",
			},
			[]string{"service", "outcome"},
		),

		// Webhook delivery metrics
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts by outcome",
			},
			[]string{"service", "outcome"},
		),
		WebhookDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Duration of a webhook HTTP delivery attempt",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),
		WebhookDLQSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webhook_dlq_size",
				Help: "Current number of dead-lettered webhook deliveries per organization",
			},
			[]string{"service", "organization_id"},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.CandidatesConsidered,
			m.LocationFilterRejected,
			m.MatchResultsTotal,
			m.MatchPipelineDuration,
			m.RiskDecisionsTotal,
			m.RiskMLCircuitState,
			m.AllocationAttemptsTotal,
			m.WebhookDeliveriesTotal,
			m.WebhookDeliveryDuration,
			m.WebhookDLQSize,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordCandidate records the outcome of considering one match candidate.
func (m *Metrics) RecordCandidate(service, side, outcome string) {
	m.CandidatesConsidered.WithLabelValues(service, side, outcome).Inc()
}

// RecordLocationFilterRejected records a candidate excluded before scoring.
func (m *Metrics) RecordLocationFilterRejected() {
	m.LocationFilterRejected.Inc()
}

// RecordMatchPipeline records one find-matches invocation.
func (m *Metrics) RecordMatchPipeline(service, side, commodity string, resultCount int, duration time.Duration) {
	m.MatchPipelineDuration.WithLabelValues(service, side).Observe(duration.Seconds())
	if resultCount > 0 {
		m.MatchResultsTotal.WithLabelValues(service, commodity).Add(float64(resultCount))
	}
}

// RecordRiskDecision records a fused risk orchestrator decision.
func (m *Metrics) RecordRiskDecision(service, status string, mlAvailable bool) {
	m.RiskDecisionsTotal.WithLabelValues(service, status, boolLabel(mlAvailable)).Inc()
}

// SetRiskMLCircuitState publishes the current ML circuit breaker state (0/1/2).
func (m *Metrics) SetRiskMLCircuitState(state int) {
	m.RiskMLCircuitState.Set(float64(state))
}

// RecordAllocationAttempt records the outcome of one allocation attempt.
func (m *Metrics) RecordAllocationAttempt(service, outcome string) {
	m.AllocationAttemptsTotal.WithLabelValues(service, outcome).Inc()
}

// RecordWebhookDelivery records the outcome of a webhook delivery attempt.
func (m *Metrics) RecordWebhookDelivery(service, outcome string, duration time.Duration) {
	m.WebhookDeliveriesTotal.WithLabelValues(service, outcome).Inc()
	m.WebhookDeliveryDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetWebhookDLQSize publishes the current DLQ size for an organization.
func (m *Metrics) SetWebhookDLQSize(service, orgID string, size int) {
	m.WebhookDLQSize.WithLabelValues(service, orgID).Set(float64(size))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
