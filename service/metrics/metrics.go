package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Indexer request metrics
	indexerRequestsTotal   *prometheus.CounterVec
	indexerRequestDuration *prometheus.HistogramVec
	indexerRetries         *prometheus.CounterVec
	indexerRecordsPerPage  *prometheus.HistogramVec

	// Query and aggregation metrics
	queryOutcomesTotal      *prometheus.CounterVec
	queryRecordsTotal       *prometheus.CounterVec
	transactionsMerged      *prometheus.CounterVec
	transactionsDuplicate   *prometheus.CounterVec
	deduplicationRatio      *prometheus.GaugeVec
	transactionDecodeIssues *prometheus.CounterVec

	// Fetch metrics
	fetchDuration        *prometheus.HistogramVec
	fetchExecutionsTotal *prometheus.CounterVec

	// Workflow metrics
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	reportCacheLookups  *prometheus.CounterVec

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
		indexerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_requests_total",
				Help: "Total number of page requests sent to the indexing service by backend and status",
			},
			[]string{"backend", "status"},
		),
		indexerRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_request_duration_seconds",
				Help:    "Duration of indexing service page requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"backend"},
		),
		indexerRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_retries_total",
				Help: "Total number of page request retries",
			},
			[]string{"backend", "reason"},
		),
		indexerRecordsPerPage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_records_per_page",
				Help:    "Number of transaction records returned per page",
				Buckets: []float64{0, 1, 10, 25, 50, 100},
			},
			[]string{"backend"},
		),

		queryOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_outcomes_total",
				Help: "Total number of executed queries by angle and final status",
			},
			[]string{"angle", "status"},
		),
		queryRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_records_total",
				Help: "Total number of raw records returned per query angle",
			},
			[]string{"angle"},
		),
		transactionsMerged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_merged_total",
				Help: "Total number of distinct transactions merged into a result set",
			},
			[]string{"backend"},
		),
		transactionsDuplicate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_duplicate_total",
				Help: "Total number of records dropped because their hash was already merged",
			},
			[]string{"backend"},
		),
		deduplicationRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transactions_deduplication_ratio",
				Help: "Ratio of duplicate records to total records in the last aggregation (0.0-1.0)",
			},
			[]string{"backend"},
		),
		transactionDecodeIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_decode_issues_total",
				Help: "Total number of transactions with fields left undecoded",
			},
			[]string{"backend"},
		),

		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "history_fetch_duration_seconds",
				Help:    "Duration of full account history fetches in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		fetchExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "history_fetch_executions_total",
				Help: "Total number of account history fetches",
			},
			[]string{"status"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_workflow_duration_seconds",
				Help:    "Duration of fetch history workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_workflow_executions_total",
				Help: "Total number of fetch history workflow executions",
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_activity_duration_seconds",
				Help:    "Duration of fetch history activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
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
		reportCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_cache_lookups_total",
				Help: "Total number of report cache lookups by result",
			},
			[]string{"result"},
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

// Indexer request metric helpers

// RecordIndexerRequest records one page request attempt with its duration.
func (m *Metrics) RecordIndexerRequest(backend, status string, duration float64) {
	m.indexerRequestsTotal.WithLabelValues(backend, status).Inc()
	m.indexerRequestDuration.WithLabelValues(backend).Observe(duration)
}

// RecordIndexerRetry records a retry attempt.
func (m *Metrics) RecordIndexerRetry(backend, reason string) {
	m.indexerRetries.WithLabelValues(backend, reason).Inc()
}

// RecordRecordsPerPage records the size of a fetched page.
func (m *Metrics) RecordRecordsPerPage(backend string, count int) {
	m.indexerRecordsPerPage.WithLabelValues(backend).Observe(float64(count))
}

// Query and aggregation metric helpers

// RecordQueryOutcome records the final status of one query and its records.
func (m *Metrics) RecordQueryOutcome(angle, status string, records int) {
	m.queryOutcomesTotal.WithLabelValues(angle, status).Inc()
	m.queryRecordsTotal.WithLabelValues(angle).Add(float64(records))
}

// RecordMerge records the outcome of merging records into a transaction set.
func (m *Metrics) RecordMerge(backend string, merged, duplicates int) {
	m.transactionsMerged.WithLabelValues(backend).Add(float64(merged))
	m.transactionsDuplicate.WithLabelValues(backend).Add(float64(duplicates))
	if total := merged + duplicates; total > 0 {
		m.deduplicationRatio.WithLabelValues(backend).Set(float64(duplicates) / float64(total))
	}
}

// RecordDecodeIssue records a transaction with undecoded fields.
func (m *Metrics) RecordDecodeIssue(backend string) {
	m.transactionDecodeIssues.WithLabelValues(backend).Inc()
}

// Fetch metric helpers

// RecordFetch records a complete history fetch.
func (m *Metrics) RecordFetch(status string, duration float64) {
	m.fetchDuration.WithLabelValues(status).Observe(duration)
	m.fetchExecutionsTotal.WithLabelValues(status).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.workflowDuration.WithLabelValues(status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordReportCacheLookup records a cache hit or miss.
func (m *Metrics) RecordReportCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCacheLookups.WithLabelValues(result).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
