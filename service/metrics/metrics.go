package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Chain node metrics
	nodeCallsTotal   *prometheus.CounterVec
	nodeCallDuration *prometheus.HistogramVec
	nodeCallRetries  *prometheus.CounterVec

	// Block event subscriber metrics
	beatMessagesTotal  *prometheus.CounterVec
	beatReconnectsTotal prometheus.Counter
	beatWatchersActive  prometheus.Gauge

	// Refetch governor metrics
	refetchAttemptsTotal *prometheus.CounterVec

	// Checkout metrics
	checkoutTransitionsTotal *prometheus.CounterVec
	purchasesWrittenTotal    prometheus.Counter
	emailSendsTotal          *prometheus.CounterVec
	balanceMismatchesTotal   prometheus.Counter

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		nodeCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_calls_total",
				Help: "Total number of chain node calls by method and status",
			},
			[]string{"method", "status"},
		),
		nodeCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "node_call_duration_seconds",
				Help:    "Duration of chain node calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		nodeCallRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_call_retries_total",
				Help: "Total number of chain node call retry attempts",
			},
			[]string{"method", "reason"},
		),

		beatMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beat_messages_total",
				Help: "Total number of block events received, by relevance",
			},
			[]string{"relevance"},
		),
		beatReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "beat_reconnects_total",
				Help: "Total number of block event subscription reconnects",
			},
		),
		beatWatchersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beat_watchers_active",
				Help: "Number of active block event watchers",
			},
		),

		refetchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refetch_attempts_total",
				Help: "Refetch governor decisions by key class and outcome",
			},
			[]string{"key_class", "decision"},
		),

		checkoutTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_transitions_total",
				Help: "Total number of checkout state transitions",
			},
			[]string{"to"},
		),
		purchasesWrittenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "purchases_written_total",
				Help: "Total number of purchase records written",
			},
		),
		emailSendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "email_sends_total",
				Help: "Total number of confirmation email send attempts",
			},
			[]string{"status"},
		),
		balanceMismatchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "balance_mismatches_total",
				Help: "Total number of post-confirmation balance mismatch warnings",
			},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Chain node metric helpers

// RecordNodeCall records a chain node call with duration.
func (m *Metrics) RecordNodeCall(method, status string, duration float64) {
	m.nodeCallsTotal.WithLabelValues(method, status).Inc()
	m.nodeCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordNodeRetry records a retry attempt against the node or signer.
func (m *Metrics) RecordNodeRetry(method, reason string) {
	m.nodeCallRetries.WithLabelValues(method, reason).Inc()
}

// Block event subscriber helpers

// RecordBeat records a received block event. Relevance is "relevant" or "ignored".
func (m *Metrics) RecordBeat(relevance string) {
	m.beatMessagesTotal.WithLabelValues(relevance).Inc()
}

// RecordBeatReconnect records a subscription reconnect.
func (m *Metrics) RecordBeatReconnect() {
	m.beatReconnectsTotal.Inc()
}

// RecordWatcherChange records a change in active watcher count.
func (m *Metrics) RecordWatcherChange(delta float64) {
	m.beatWatchersActive.Add(delta)
}

// Refetch governor helpers

// RecordRefetch records a governor decision. Decision is "permitted" or "skipped";
// keyClass is the key prefix (e.g. "receipt", "balance").
func (m *Metrics) RecordRefetch(keyClass, decision string) {
	m.refetchAttemptsTotal.WithLabelValues(keyClass, decision).Inc()
}

// Checkout helpers

// RecordCheckoutTransition records a state machine transition.
func (m *Metrics) RecordCheckoutTransition(to string) {
	m.checkoutTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordPurchaseWritten records a persisted purchase record.
func (m *Metrics) RecordPurchaseWritten() {
	m.purchasesWrittenTotal.Inc()
}

// RecordEmailSend records a confirmation email attempt.
func (m *Metrics) RecordEmailSend(status string) {
	m.emailSendsTotal.WithLabelValues(status).Inc()
}

// RecordBalanceMismatch records a reconciliation warning.
func (m *Metrics) RecordBalanceMismatch() {
	m.balanceMismatchesTotal.Inc()
}

// Database helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// statusCodeToString buckets HTTP status codes into class strings.
func statusCodeToString(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
