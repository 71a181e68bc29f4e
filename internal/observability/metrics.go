package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpScope.
type Metrics struct {
	// --- Projector ---
	EventsApplied      *prometheus.CounterVec
	EventsRejected     *prometheus.CounterVec
	EventApplyDuration *prometheus.HistogramVec
	WatermarkBlock     prometheus.Gauge

	// --- Idempotency ---
	DedupLRUSize prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistRowsWritten *prometheus.CounterVec
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter
	PersistLastBlock   prometheus.Gauge

	// --- Order book refresh ---
	RefreshCycles   *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	BookLevels      *prometheus.GaugeVec
	BookStale       prometheus.Gauge
	LedgerReads     *prometheus.CounterVec

	// --- Keeper ---
	KeeperCycles          *prometheus.CounterVec
	ScanCandidates        prometheus.Gauge
	LiquidationsSimulated *prometheus.CounterVec
	LiquidationsSubmitted prometheus.Counter
	PriceUpdatesSubmitted prometheus.Counter
	FundingSettlements    prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	WSClients     prometheus.Gauge
	WSDrops       prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	applyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ioBuckets := []float64{
		0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		// Projector
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_events_applied_total",
			Help: "Events folded into projections",
		}, []string{"event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_events_rejected_total",
			Help: "Events skipped (duplicate, parse, validation)",
		}, []string{"event_type", "reason"}),

		EventApplyDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpscope_event_apply_duration_seconds",
			Help:    "Time to fold a single event",
			Buckets: applyBuckets,
		}, []string{"event_type"}),

		WatermarkBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_watermark_block",
			Help: "Highest block number folded into projections",
		}),

		// Idempotency
		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpscope_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpscope_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpscope_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_persist_backpressure_total",
			Help: "Times projector blocked on persist channel",
		}),

		// Persistence
		PersistRowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_persist_rows_written_total",
			Help: "Rows upserted per projection table",
		}, []string{"table"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpscope_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: ioBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_persist_last_block",
			Help: "Last persisted watermark block",
		}),

		// Order book refresh
		RefreshCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_refresh_cycles_total",
			Help: "Order book refresh cycles by outcome",
		}, []string{"status"}),

		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpscope_refresh_duration_seconds",
			Help:    "Full refresh cycle duration",
			Buckets: ioBuckets,
		}),

		BookLevels: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpscope_book_levels",
			Help: "Aggregated price levels per side",
		}, []string{"side"}),

		BookStale: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_book_stale",
			Help: "1 when the published book is a stale snapshot",
		}),

		LedgerReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_ledger_reads_total",
			Help: "Contract reads by method and outcome",
		}, []string{"method", "status"}),

		// Keeper
		KeeperCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_keeper_cycles_total",
			Help: "Keeper loop cycles by outcome",
		}, []string{"loop", "status"}),

		ScanCandidates: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_scan_candidates",
			Help: "Traders in the liquidation working set",
		}),

		LiquidationsSimulated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_liquidations_simulated_total",
			Help: "Dry-run liquidation attempts by result",
		}, []string{"result"}),

		LiquidationsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_liquidations_submitted_total",
			Help: "Liquidation transactions submitted",
		}),

		PriceUpdatesSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_price_updates_submitted_total",
			Help: "Index price update transactions submitted",
		}),

		FundingSettlements: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_funding_settlements_total",
			Help: "Funding settlement transactions submitted",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpscope_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_ws_clients",
			Help: "Connected websocket subscribers",
		}),

		WSDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_ws_drops_total",
			Help: "Snapshots dropped on slow websocket subscribers",
		}),
	}
}

// ObserveBatch records a successful persistence flush.
func (m *Metrics) ObserveBatch(duration time.Duration, rows map[string]int, lastBlock uint64) {
	m.PersistBatchDur.Observe(duration.Seconds())
	for table, n := range rows {
		if n > 0 {
			m.PersistRowsWritten.WithLabelValues(table).Add(float64(n))
		}
	}
	if lastBlock > 0 {
		m.PersistLastBlock.Set(float64(lastBlock))
	}
}

// FlushError counts a failed persistence write by error type.
func (m *Metrics) FlushError(errorType string) {
	m.PersistErrors.WithLabelValues(errorType).Inc()
}

// FlushRetry counts one persistence retry attempt.
func (m *Metrics) FlushRetry() {
	m.PersistRetry.Inc()
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
