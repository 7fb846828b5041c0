// Package metrics provides Prometheus metrics for the spawnfence ingest pipeline.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Webhook intake
	webhookEvents *prometheus.CounterVec

	// Geofence snapshot
	geofenceRefreshes *prometheus.CounterVec
	geofenceAreas     prometheus.Gauge
	geofenceLastUnix  prometheus.Gauge

	// Ingestion queue
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueFlushes  *prometheus.CounterVec

	// Dispatch
	batchSize        prometheus.Histogram
	batchesPublished prometheus.Counter
	dispatchRetries  prometheus.Counter
	batchesLost      prometheus.Counter
	itemsLost        prometheus.Counter

	// Insert worker
	workerOutcomes    *prometheus.CounterVec
	rowsInserted      prometheus.Counter
	insertLatency     prometheus.Histogram
	workerActiveCount prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager atomic.Pointer[Manager] //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry atomic.Pointer[prometheus.Registry] //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	Configure()
}

func manager() *Manager { return globalManager.Load() }

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "spawnfence",
		subsystem:        "ingest",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.webhookEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("webhook_events_total"),
		Help:        "Webhook events by outcome (accepted, rejected, unmatched, duplicate, ignored)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.geofenceRefreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("geofence_refresh_total"),
		Help:        "Geofence refresh attempts by result",
		ConstLabels: labels,
	}, []string{"result"})

	m.geofenceAreas = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("geofence_areas"),
		Help:        "Number of areas in the active geofence snapshot",
		ConstLabels: labels,
	})

	m.geofenceLastUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("geofence_last_refresh_unix"),
		Help:        "Unix timestamp of the last successful geofence refresh",
		ConstLabels: labels,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_size"),
		Help:        "Items currently buffered in the ingestion queue",
		ConstLabels: labels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_flush_threshold"),
		Help:        "Configured max_queue_size flush threshold",
		ConstLabels: labels,
	})

	m.queueFlushes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_flushes_total"),
		Help:        "Queue flushes by trigger (threshold, idle, shutdown)",
		ConstLabels: labels,
	}, []string{"trigger"})

	m.batchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batch_size_items"),
		Help:        "Items per dispatched batch",
		Buckets:     prometheus.ExponentialBuckets(1, 2, 14),
		ConstLabels: labels,
	})

	m.batchesPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_published_total"),
		Help:        "Batches accepted by the task queue",
		ConstLabels: labels,
	})

	m.dispatchRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("dispatch_retries_total"),
		Help:        "Batch submission retries",
		ConstLabels: labels,
	})

	m.batchesLost = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_lost_total"),
		Help:        "Batches dropped after exhausting submission retries",
		ConstLabels: labels,
	})

	m.itemsLost = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("items_lost_total"),
		Help:        "Items contained in lost batches",
		ConstLabels: labels,
	})

	m.workerOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_batches_total"),
		Help:        "Worker batch outcomes (inserted, duplicate_skipped, retry_scheduled, permanently_failed)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.rowsInserted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("rows_inserted_total"),
		Help:        "Sighting rows written to storage",
		ConstLabels: labels,
	})

	m.insertLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("insert_latency_milliseconds"),
		Help:        "Bulk insert latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_active_batches"),
		Help:        "Batches currently being processed by insert workers",
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_component_total"),
			Help:        "Total number of errors by component",
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_endpoint_total"),
			Help:        "Total number of errors by endpoint",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_usage_bytes"),
		Help:        "System memory usage in bytes",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})
}

// Webhook outcome labels.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeUnmatched = "unmatched"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// RecordWebhookEvent counts one webhook element by outcome.
func RecordWebhookEvent(outcome string) {
	manager().webhookEvents.WithLabelValues(outcome).Inc()
}

// RecordGeofenceRefresh counts a refresh attempt; on success it also
// updates the area gauge and the last refresh timestamp.
func RecordGeofenceRefresh(ok bool, areas int) {
	if !ok {
		manager().geofenceRefreshes.WithLabelValues("failure").Inc()
		return
	}
	manager().geofenceRefreshes.WithLabelValues("success").Inc()
	manager().geofenceAreas.Set(float64(areas))
	manager().geofenceLastUnix.Set(float64(time.Now().Unix()))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	manager().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the configured flush threshold.
func UpdateQueueCapacity(capacity int) {
	manager().queueCapacity.Set(float64(capacity))
}

// RecordQueueFlush counts a flush for the given trigger.
func RecordQueueFlush(trigger string) {
	manager().queueFlushes.WithLabelValues(trigger).Inc()
}

// RecordBatchPublished records a batch accepted by the task queue.
func RecordBatchPublished(items int) {
	manager().batchesPublished.Inc()
	manager().batchSize.Observe(float64(items))
}

// RecordDispatchRetry counts a submission retry.
func RecordDispatchRetry() {
	manager().dispatchRetries.Inc()
}

// RecordBatchLost counts a batch dropped after retries together with its items.
func RecordBatchLost(items int) {
	manager().batchesLost.Inc()
	manager().itemsLost.Add(float64(items))
}

// RecordWorkerOutcome counts a worker batch outcome.
func RecordWorkerOutcome(outcome string) {
	manager().workerOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRowsInserted adds n rows to the inserted counter.
func RecordRowsInserted(n int) {
	manager().rowsInserted.Add(float64(n))
}

// RecordInsertLatency records bulk insert latency in milliseconds.
func RecordInsertLatency(latencyMs float64) {
	manager().insertLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of batches being processed.
func UpdateWorkerActiveCount(count int) {
	manager().workerActiveCount.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	manager().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	manager().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	manager().errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	manager().errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	manager().systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	manager().systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	manager().systemGCPauseTime.Observe(pauseMs)
}

// Configure rebuilds the global manager with opts on a fresh registry. Call it
// once at startup, before anything records or serves metrics.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	m := NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry.Store(registry)
	globalManager.Store(m)
}

// RefreshInterval is how often callers should push gauge updates.
func RefreshInterval() time.Duration {
	return manager().refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry.Load()
}
