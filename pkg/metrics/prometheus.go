// Package metrics provides Prometheus metrics for the beerduel rating engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Duel Metrics
	duelsRecorded  *prometheus.CounterVec
	duelsFailed    *prometheus.CounterVec
	duelConflicts  prometheus.Counter
	duelLatency    prometheus.Histogram
	ratingDelta    prometheus.Histogram
	pairsSelected  *prometheus.CounterVec
	duplicateIDs   *prometheus.CounterVec
	activeItems    prometheus.Gauge
	lockWaitMillis prometheus.Histogram

	// Progress Metrics
	xpAwarded     *prometheus.CounterVec
	xpAwardErrors *prometheus.CounterVec
	levelUps      prometheus.Counter

	// Classification Metrics
	classificationRuns     prometheus.Counter
	classificationSkipped  *prometheus.CounterVec
	classificationDuration prometheus.Histogram
	tierSize               *prometheus.GaugeVec

	// Ranking Cache Metrics
	rankingRefreshDuration prometheus.Histogram
	rankingRefreshErrors   prometheus.Counter
	rankingSize            prometheus.Gauge
	rankingLastRefreshUnix prometheus.Gauge
	rankingInvalidations   prometheus.Counter

	// Store Metrics
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Queue Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "beerduel",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.duelsRecorded = m.counterVec("duels_recorded_total", "Duel outcomes durably applied, by result", "result")
	m.duelsFailed = m.counterVec("duels_failed_total", "Duel outcomes rejected or not applied, by reason", "reason")
	m.duelConflicts = m.counter("duel_conflicts_total", "Optimistic write conflicts retried while recording duels")
	m.duelLatency = m.histogram("duel_latency_milliseconds", "End-to-end latency of recording a duel outcome", m.histogramBuckets)
	m.ratingDelta = m.histogram("rating_delta_points", "Absolute rating change applied per duel",
		[]float64{0.5, 1, 2, 4, 8, 12, 16, 24, 32, 48, 64})
	m.pairsSelected = m.counterVec("pairs_selected_total", "Pairs handed out for dueling, fresh or repeated", "kind")
	m.duplicateIDs = m.counterVec("duplicates_total", "Duplicate ids rejected by the deduper", "kind")
	m.activeItems = m.gauge("active_items", "Number of active items in the latest ranking snapshot")
	m.lockWaitMillis = m.histogram("lock_wait_milliseconds", "Time spent waiting for per-item duel locks", m.histogramBuckets)

	m.xpAwarded = m.counterVec("xp_awarded_total", "Experience points awarded, by source", "source")
	m.xpAwardErrors = m.counterVec("xp_award_errors_total", "Experience awards that failed, by source", "source")
	m.levelUps = m.counter("level_ups_total", "Number of user level-ups")

	m.classificationRuns = m.counter("classification_runs_total", "Completed rarity classification passes")
	m.classificationSkipped = m.counterVec("classification_skipped_total", "Skipped rarity classification passes, by reason", "reason")
	m.classificationDuration = m.histogram("classification_duration_milliseconds", "Duration of a rarity classification pass", m.histogramBuckets)
	m.tierSize = m.gaugeVec("rarity_tier_size", "Number of items per rarity tier after the last pass", "tier")

	m.rankingRefreshDuration = m.histogram("ranking_refresh_duration_milliseconds", "Duration of a ranking cache rebuild", m.histogramBuckets)
	m.rankingRefreshErrors = m.counter("ranking_refresh_errors_total", "Ranking cache rebuilds that failed and kept the previous snapshot")
	m.rankingSize = m.gauge("ranking_size", "Entries in the current ranking snapshot")
	m.rankingLastRefreshUnix = m.gauge("ranking_last_refresh_unix", "Unix time of the last successful ranking rebuild")
	m.rankingInvalidations = m.counter("ranking_invalidations_total", "Explicit ranking cache invalidations")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Latency of store operations", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store operations that returned an error", "op")

	m.queueSize = m.gauge("queue_size", "Current size of the experience event queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the experience event queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Experience event queue utilization (0.0-1.0)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Events enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts that failed")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of experience workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Worker processing errors")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint, method and type",
		"endpoint", "method", "error_type")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Duel Metrics Functions.

// RecordDuelRecorded counts a durably applied duel; result is "decisive" or "draw".
func RecordDuelRecorded(result string) {
	globalManager.duelsRecorded.WithLabelValues(result).Inc()
}

// RecordDuelFailed counts a duel that was rejected or not applied.
func RecordDuelFailed(reason string) {
	globalManager.duelsFailed.WithLabelValues(reason).Inc()
}

// RecordDuelConflict counts an optimistic write conflict.
func RecordDuelConflict() {
	globalManager.duelConflicts.Inc()
}

// RecordDuelLatency records how long recording a duel took.
func RecordDuelLatency(latencyMs float64) {
	globalManager.duelLatency.Observe(latencyMs)
}

// ObserveRatingDelta records the absolute rating change of a duel.
func ObserveRatingDelta(delta float64) {
	if delta < 0 {
		delta = -delta
	}
	globalManager.ratingDelta.Observe(delta)
}

// RecordPairSelected counts a pair handed to a user. fresh is false for fallback repeats.
func RecordPairSelected(fresh bool) {
	kind := "fresh"
	if !fresh {
		kind = "repeat"
	}
	globalManager.pairsSelected.WithLabelValues(kind).Inc()
}

// RecordDuplicate counts an id rejected by a deduper ("outcome", "xp").
func RecordDuplicate(kind string) {
	globalManager.duplicateIDs.WithLabelValues(kind).Inc()
}

// UpdateActiveItems sets the number of active items.
func UpdateActiveItems(count int) {
	globalManager.activeItems.Set(float64(count))
}

// RecordLockWait records time spent acquiring per-item locks.
func RecordLockWait(latencyMs float64) {
	globalManager.lockWaitMillis.Observe(latencyMs)
}

// Progress Metrics Functions.

// RecordXPAwarded adds awarded experience for a source.
func RecordXPAwarded(source string, amount int64) {
	globalManager.xpAwarded.WithLabelValues(source).Add(float64(amount))
}

// RecordXPAwardError counts a failed award.
func RecordXPAwardError(source string) {
	globalManager.xpAwardErrors.WithLabelValues(source).Inc()
}

// RecordLevelUp counts a level-up.
func RecordLevelUp() {
	globalManager.levelUps.Inc()
}

// Classification Metrics Functions.

// RecordClassificationRun counts a completed classification pass.
func RecordClassificationRun() {
	globalManager.classificationRuns.Inc()
}

// RecordClassificationSkipped counts a skipped pass.
func RecordClassificationSkipped(reason string) {
	globalManager.classificationSkipped.WithLabelValues(reason).Inc()
}

// RecordClassificationDuration records the duration of a pass.
func RecordClassificationDuration(latencyMs float64) {
	globalManager.classificationDuration.Observe(latencyMs)
}

// UpdateTierSize sets the number of items in a tier.
func UpdateTierSize(tier string, count int) {
	globalManager.tierSize.WithLabelValues(tier).Set(float64(count))
}

// Ranking Cache Metrics Functions.

// RecordRankingRefresh records a successful rebuild.
func RecordRankingRefresh(latencyMs float64, size int, unix float64) {
	globalManager.rankingRefreshDuration.Observe(latencyMs)
	globalManager.rankingSize.Set(float64(size))
	globalManager.rankingLastRefreshUnix.Set(unix)
}

// RecordRankingRefreshError counts a failed rebuild.
func RecordRankingRefreshError() {
	globalManager.rankingRefreshErrors.Inc()
}

// RecordRankingInvalidation counts an explicit invalidation.
func RecordRankingInvalidation() {
	globalManager.rankingInvalidations.Inc()
}

// Store Metrics Functions.

// RecordStoreLatency records latency of a store operation.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
