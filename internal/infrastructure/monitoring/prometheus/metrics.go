package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds all application metrics.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// gRPC layer
	GRPCRequestsTotal   CounterVec
	GRPCRequestDuration HistogramVec

	// Extraction
	DocumentsProcessed  CounterVec
	ExtractionDuration  HistogramVec
	InfectionsFound     CounterVec
	IncidentsFound      CounterVec
	TablesClassified    CounterVec
	ExtractionBatchSize HistogramVec
	ExtractionInFlight  GaugeVec

	// Infrastructure
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	DBQueryDuration        HistogramVec
	MessagesConsumed       CounterVec
	MessageProcessDuration HistogramVec
	DeadLetteredTotal      CounterVec
	SinkFailuresTotal      CounterVec

	// System health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

var (
	DefaultHTTPDurationBuckets       = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultExtractionDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}
	DefaultDBDurationBuckets         = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
	DefaultCountBuckets              = []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500}
)

// NewAppMetrics registers all metrics on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	m.GRPCRequestsTotal = collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "method", "code")
	m.GRPCRequestDuration = collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "method")

	m.DocumentsProcessed = collector.RegisterCounter("documents_processed_total", "Documents processed", "source", "status")
	m.ExtractionDuration = collector.RegisterHistogram("extraction_duration_seconds", "Per-document extraction duration", DefaultExtractionDurationBuckets, "source")
	m.InfectionsFound = collector.RegisterCounter("infections_found_total", "Infection spans extracted", "source")
	m.IncidentsFound = collector.RegisterCounter("incidents_found_total", "Structured incidents extracted", "source", "type")
	m.TablesClassified = collector.RegisterCounter("tables_classified_total", "Tables whose columns were classified", "source")
	m.ExtractionBatchSize = collector.RegisterHistogram("extraction_batch_size", "Documents per batch request", DefaultCountBuckets, "source")
	m.ExtractionInFlight = collector.RegisterGauge("extraction_in_flight", "Documents being extracted", "source")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "db", "operation")
	m.MessagesConsumed = collector.RegisterCounter("messages_consumed_total", "Kafka messages consumed", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("message_process_duration_seconds", "Kafka message processing duration", DefaultHTTPDurationBuckets, "topic")
	m.DeadLetteredTotal = collector.RegisterCounter("dead_lettered_total", "Messages routed to the dead-letter topic", "topic")
	m.SinkFailuresTotal = collector.RegisterCounter("sink_failures_total", "Failed writes to a result sink", "sink")

	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_code")

	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordGRPCRequest(metrics *AppMetrics, method, code string, duration time.Duration) {
	metrics.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	metrics.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordExtraction records one processed document. incidentTypes holds the
// type of every extracted incident.
func RecordExtraction(metrics *AppMetrics, source string, duration time.Duration, infections int, incidentTypes []string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.DocumentsProcessed.WithLabelValues(source, status).Inc()
	metrics.ExtractionDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		return
	}
	metrics.InfectionsFound.WithLabelValues(source).Add(float64(infections))
	for _, t := range incidentTypes {
		metrics.IncidentsFound.WithLabelValues(source, t).Inc()
	}
}

func RecordDBQuery(metrics *AppMetrics, db, operation string, duration time.Duration, err error) {
	metrics.DBQueryDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(db, "query_error").Inc()
	}
}

func RecordCacheAccess(metrics *AppMetrics, cache string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

func RecordMessage(metrics *AppMetrics, topic string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.MessagesConsumed.WithLabelValues(topic, status).Inc()
	metrics.MessageProcessDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

func RecordError(metrics *AppMetrics, component, code string) {
	metrics.ErrorsTotal.WithLabelValues(component, code).Inc()
}
