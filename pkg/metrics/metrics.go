package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BatchesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_consumed_total",
			Help: "Total number of message batches consumed from the broker (count)",
		},
		[]string{"broker"},
	)

	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_processed_total",
			Help: "Total number of messages by terminal outcome (count)",
		},
		[]string{"outcome"},
	)

	BatchProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_processing_duration_ms",
			Help:    "End-to-end processing duration per batch in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_validation_failures_total",
			Help: "Total number of messages rejected by validation (count)",
		},
		[]string{"rule"},
	)

	ArchiveFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_flushes_total",
			Help: "Total number of archive buffer flushes (count)",
		},
		[]string{"trigger", "status"},
	)

	ArchiveBufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_buffer_size",
			Help: "Current number of events buffered for archival (count)",
		},
	)

	ArchiveBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_bytes_written_total",
			Help: "Total parquet bytes uploaded to the object store (bytes)",
		},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_total",
			Help: "Total number of items routed to the dead-letter store (count)",
		},
		[]string{"error_type"},
	)

	AggregateUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregate_upserts_total",
			Help: "Total number of aggregate window upserts (count)",
		},
		[]string{"status"},
	)

	DynamicMetricsInsertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dynamic_metrics_inserted_total",
			Help: "Total number of dynamic metric rows inserted (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts per store operation (count)",
		},
		[]string{"operation"},
	)

	PoolWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "connection_pool_wait_duration_ms",
			Help:    "Time spent waiting to acquire a relational connection in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	PoolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connection_pool_exhausted_total",
			Help: "Total number of acquire attempts that hit the pool wait bound (count)",
		},
	)

	BrokerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total number of broker reconnect attempts (count)",
		},
		[]string{"broker"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures observed by circuit breakers (count)",
		},
		[]string{"name"},
	)
)

func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		BatchesConsumedTotal,
		MessagesProcessedTotal,
		BatchProcessingDuration,
		ValidationFailuresTotal,
		DeadLetterTotal,
		BrokerReconnectsTotal,
	)
}

func RegisterStoreMetrics() {
	prometheus.MustRegister(
		ArchiveFlushesTotal,
		ArchiveBufferSize,
		ArchiveBytesWrittenTotal,
		AggregateUpsertsTotal,
		DynamicMetricsInsertedTotal,
		RetryAttemptsTotal,
		PoolWaitDuration,
		PoolExhaustedTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerFailures,
	)
}

func ObserveBatchDuration(d time.Duration, outcome string) {
	BatchProcessingDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func ObservePoolWait(d time.Duration) {
	PoolWaitDuration.Observe(float64(d.Milliseconds()))
}
