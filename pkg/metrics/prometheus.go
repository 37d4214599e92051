// Package metrics provides Prometheus metrics for the expertrank service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	// Mutation intake
	mutationsReceived  *prometheus.CounterVec
	mutationsDuplicate prometheus.Counter
	mutationsRejected  prometheus.Counter
	mutationsProcessed *prometheus.CounterVec

	// Recompute pipeline
	recomputeLatency  prometheus.Histogram
	scopeSize         prometheus.Histogram
	pairComputations  *prometheus.CounterVec
	pairFailures      *prometheus.CounterVec
	pairLatency       prometheus.Histogram
	coalescedKeys     prometheus.Counter
	aggregatesWritten *prometheus.CounterVec
	purges            *prometheus.CounterVec
	storageRetries    prometheus.Counter
	failedLedgerSize  prometheus.Gauge

	// Storage
	storeLatency   *prometheus.HistogramVec
	rankingEntries *prometheus.GaugeVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // custom registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "expertrank",
		subsystem:      "relevancy",
		latencyBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.latencyBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.mutationsReceived = m.counterVec("mutations_received_total",
		"Mutation events accepted by the inbound trigger", "kind", "action")
	m.mutationsDuplicate = m.counter("mutations_duplicate_total",
		"Mutation events dropped because their id was already seen")
	m.mutationsRejected = m.counter("mutations_rejected_total",
		"Mutation events rejected on backpressure or shutdown")
	m.mutationsProcessed = m.counterVec("mutations_processed_total",
		"Mutation events that finished recomputation by outcome", "outcome")

	m.recomputeLatency = m.histogram("recompute_latency_milliseconds",
		"End-to-end recomputation latency per mutation event", m.latencyBuckets)
	m.scopeSize = m.histogram("scope_pairs",
		"Number of pairs in a resolved recompute scope", []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000})
	m.pairComputations = m.counterVec("pair_computations_total",
		"Pair scores recomputed and written", "kind")
	m.pairFailures = m.counterVec("pair_failures_total",
		"Pair computations left stale after a failure", "kind", "reason")
	m.pairLatency = m.histogram("pair_latency_milliseconds",
		"Latency of one pair computation including reads and write", m.latencyBuckets)
	m.coalescedKeys = m.counter("coalesced_keys_total",
		"Pair or aggregate keys handed to an in-flight recomputation")
	m.aggregatesWritten = m.counterVec("aggregates_written_total",
		"Average relevancy values written", "kind")
	m.purges = m.counterVec("purges_total",
		"Entities whose derived scores were removed on deletion", "kind")
	m.storageRetries = m.counter("storage_retries_total",
		"Storage operations retried after a transient failure")
	m.failedLedgerSize = m.gauge("failed_events",
		"Mutation events currently held for reconciliation")

	m.storeLatency = m.histogramVec("store_latency_milliseconds",
		"Latency of derived score store operations", "op")
	m.rankingEntries = m.gaugeVec("ranking_entries",
		"Entities held in the relevancy leaderboard", "kind")

	m.queueSize = m.gauge("queue_size", "Current size of the mutation queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the mutation queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Mutation queue fill ratio (0-1)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Mutation events enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Mutation events dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total",
		"Failed enqueue attempts by reason", "reason")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of recompute workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time a worker spends on one mutation event", m.latencyBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Mutation events a worker could not finish cleanly")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
}

// RecordMutationReceived counts an accepted mutation event.
func RecordMutationReceived(kind, action string) {
	globalManager.mutationsReceived.WithLabelValues(kind, action).Inc()
}

// RecordMutationDuplicate counts a redelivered mutation event.
func RecordMutationDuplicate() { globalManager.mutationsDuplicate.Inc() }

// RecordMutationRejected counts a mutation event that could not be queued.
func RecordMutationRejected() { globalManager.mutationsRejected.Inc() }

// RecordMutationProcessed counts a finished mutation event by outcome.
func RecordMutationProcessed(outcome string) {
	globalManager.mutationsProcessed.WithLabelValues(outcome).Inc()
}

// RecordRecomputeLatency records end-to-end recomputation latency.
func RecordRecomputeLatency(latencyMs float64) { globalManager.recomputeLatency.Observe(latencyMs) }

// RecordScopeSize records the number of pairs in a resolved scope.
func RecordScopeSize(pairs int) { globalManager.scopeSize.Observe(float64(pairs)) }

// RecordPairComputed counts a written pair score.
func RecordPairComputed(kind string) { globalManager.pairComputations.WithLabelValues(kind).Inc() }

// RecordPairFailure counts a pair left stale.
func RecordPairFailure(kind, reason string) {
	globalManager.pairFailures.WithLabelValues(kind, reason).Inc()
}

// RecordPairLatency records the latency of a single pair computation.
func RecordPairLatency(latencyMs float64) { globalManager.pairLatency.Observe(latencyMs) }

// RecordCoalesced counts a key handed to an in-flight recomputation.
func RecordCoalesced() { globalManager.coalescedKeys.Inc() }

// RecordAggregateWritten counts a written average relevancy value.
func RecordAggregateWritten(kind string) {
	globalManager.aggregatesWritten.WithLabelValues(kind).Inc()
}

// RecordPurge counts an entity whose derived scores were removed.
func RecordPurge(kind string) { globalManager.purges.WithLabelValues(kind).Inc() }

// RecordStorageRetry counts a retried storage operation.
func RecordStorageRetry() { globalManager.storageRetries.Inc() }

// UpdateFailedLedgerSize sets the number of events held for reconciliation.
func UpdateFailedLedgerSize(n int) { globalManager.failedLedgerSize.Set(float64(n)) }

// RecordStoreLatency records a derived score store operation latency.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateRankingEntries sets the leaderboard size of one entity kind.
func UpdateRankingEntries(kind string, n int) {
	globalManager.rankingEntries.WithLabelValues(kind).Set(float64(n))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a failed enqueue by reason.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
