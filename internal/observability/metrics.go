// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingest metrics
	TradesIngested  prometheus.Counter
	TradesDuplicate prometheus.Counter
	TradesRejected  *prometheus.CounterVec
	TradesCommitted prometheus.Counter
	TradesDropped   prometheus.Counter
	TradeRetries    prometheus.Counter
	IngestLatency   prometheus.Histogram

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	QueueWarnings *prometheus.CounterVec
	QueueShed     *prometheus.CounterVec
	BatchSize     *prometheus.HistogramVec

	// Aggregation metrics
	CandlesUpdated    prometheus.Counter
	PositionsUpdated  prometheus.Counter
	MetricsRecomputed prometheus.Counter
	OversellsClamped  prometheus.Counter

	// Fanout metrics
	MessagesPublished *prometheus.CounterVec
	MessagesDropped   prometheus.Counter
	Subscribers       prometheus.Gauge

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastTradeProcessed prometheus.Gauge
	LastMetricsRollup  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ursus_market"
	}

	return &Metrics{
		// Ingest metrics
		TradesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "trades_ingested_total",
			Help:      "Total number of trades accepted at the ingest boundary",
		}),
		TradesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "trades_duplicate_total",
			Help:      "Total number of trades skipped as duplicate tx_hash",
		}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "trades_rejected_total",
			Help:      "Total number of trades rejected at validation by reason",
		}, []string{"reason"}),
		TradesCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "trades_committed_total",
			Help:      "Total number of trades fully processed and persisted",
		}),
		TradesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "trades_dropped_total",
			Help:      "Total number of trades dropped after exhausting retries",
		}),
		TradeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "trade_retries_total",
			Help:      "Total number of trade re-enqueues after transient failures",
		}),
		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "ingest_latency_seconds",
			Help:      "Time from trade arrival to commit in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Queue metrics
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of items in each queue",
		}, []string{"queue"}),
		QueueWarnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "warnings_total",
			Help:      "Total number of backpressure warnings by queue",
		}, []string{"queue"}),
		QueueShed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "shed_total",
			Help:      "Total number of advisory items shed under overload by queue",
		}, []string{"queue"}),
		BatchSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "batch_size",
			Help:      "Items drained per tick by queue",
			Buckets:   []float64{1, 5, 10, 25, 50},
		}, []string{"queue"}),

		// Aggregation metrics
		CandlesUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "candles_updated_total",
			Help:      "Total number of candle upserts across all timeframes",
		}),
		PositionsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "positions_updated_total",
			Help:      "Total number of position updates applied",
		}),
		MetricsRecomputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "metrics_recomputed_total",
			Help:      "Total number of agent metric snapshot recomputations",
		}),
		OversellsClamped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "oversells_clamped_total",
			Help:      "Total number of sells clamped to tracked balance",
		}),

		// Fanout metrics
		MessagesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "messages_published_total",
			Help:      "Total number of envelopes published by message type",
		}, []string{"type"}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "messages_dropped_total",
			Help:      "Total number of envelopes dropped for slow subscribers",
		}),
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Current number of active subscriptions",
		}),

		// Cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions by cause",
		}, []string{"cause"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastTradeProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_trade_processed_timestamp",
			Help:      "Unix timestamp of last committed trade",
		}),
		LastMetricsRollup: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_metrics_rollup_timestamp",
			Help:      "Unix timestamp of last completed metrics rollup",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordIngested increments the trades ingested counter.
func RecordIngested() {
	DefaultMetrics.TradesIngested.Inc()
}

// RecordDuplicate increments the duplicate trades counter.
func RecordDuplicate() {
	DefaultMetrics.TradesDuplicate.Inc()
}

// RecordRejected records a validation rejection by reason.
func RecordRejected(reason string) {
	DefaultMetrics.TradesRejected.WithLabelValues(reason).Inc()
}

// RecordCommitted records a fully processed trade and its ingest latency.
func RecordCommitted(latencySeconds float64) {
	DefaultMetrics.TradesCommitted.Inc()
	DefaultMetrics.IngestLatency.Observe(latencySeconds)
}

// RecordDropped increments the dropped trades counter.
func RecordDropped() {
	DefaultMetrics.TradesDropped.Inc()
}

// RecordRetry increments the retry counter.
func RecordRetry() {
	DefaultMetrics.TradeRetries.Inc()
}

// UpdateQueueDepth updates the depth gauge for a queue.
func UpdateQueueDepth(queue string, depth int) {
	DefaultMetrics.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueWarning records a backpressure warning for a queue.
func RecordQueueWarning(queue string) {
	DefaultMetrics.QueueWarnings.WithLabelValues(queue).Inc()
}

// RecordQueueShed records shed advisory items for a queue.
func RecordQueueShed(queue string, n int) {
	DefaultMetrics.QueueShed.WithLabelValues(queue).Add(float64(n))
}

// RecordBatch records the size of a drained batch for a queue.
func RecordBatch(queue string, size int) {
	DefaultMetrics.BatchSize.WithLabelValues(queue).Observe(float64(size))
}

// RecordPublished records a published envelope by message type.
func RecordPublished(msgType string) {
	DefaultMetrics.MessagesPublished.WithLabelValues(msgType).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
