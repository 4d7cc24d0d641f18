package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "indexer"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"
)

// Labels holds constant labels applied to all metrics, useful for
// distinguishing metrics from multiple indexer instances.
type Labels struct {
	ChainID     uint64 // EVM chain ID (e.g., 369 for PulseChain mainnet)
	Environment string // Deployment environment (e.g., "production", "staging")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.ChainID != 0 {
		labels["chain_id"] = strconv.FormatUint(l.ChainID, 10)
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	return labels
}

type Metrics struct {
	// Pipeline position
	chainHeight   prometheus.Gauge
	indexedHeight prometheus.Gauge

	// Processing counters
	blocksIndexed  prometheus.Counter
	batchesFailed  prometheus.Counter
	reorgsDetected prometheus.Counter

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Storage latency
	batchCommitDuration prometheus.Histogram
}

// New creates a new Metrics instance and registers all metrics with the
// provided registerer. For constant labels (e.g., chain_id), use
// NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied
// to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	m := &Metrics{
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chain_height",
			Help:      "Latest block height reported by the RPC endpoint",
		}),
		indexedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "indexed_height",
			Help:      "Highest block height committed to the store",
		}),
		blocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_indexed_total",
			Help:      "Total number of blocks written to the store",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_failed_total",
			Help:      "Total number of batches that exhausted their retries",
		}),
		reorgsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reorgs_detected_total",
			Help:      "Total number of chain reorganizations repaired",
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_calls_total",
			Help:      "Total number of RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "rpc_call_duration_seconds",
			Help:      "RPC call latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "rpc_in_flight",
			Help:      "Number of RPC calls currently in flight",
		}),
		batchCommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_commit_duration_seconds",
			Help:      "Latency of committing one batch to the store",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.chainHeight,
		m.indexedHeight,
		m.blocksIndexed,
		m.batchesFailed,
		m.reorgsDetected,
		m.rpcCalls,
		m.rpcDuration,
		m.rpcInFlight,
		m.batchCommitDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// SetChainHeight records the latest head height seen on the chain.
func (m *Metrics) SetChainHeight(h uint64) {
	m.chainHeight.Set(float64(h))
}

// SetIndexedHeight records the highest committed height.
func (m *Metrics) SetIndexedHeight(h uint64) {
	m.indexedHeight.Set(float64(h))
}

// AddBlocksIndexed counts blocks written by a committed batch.
func (m *Metrics) AddBlocksIndexed(n int) {
	m.blocksIndexed.Add(float64(n))
}

// IncBatchesFailed counts a batch whose retries were exhausted.
func (m *Metrics) IncBatchesFailed() {
	m.batchesFailed.Inc()
}

// IncReorgsDetected counts a repaired reorganization.
func (m *Metrics) IncReorgsDetected() {
	m.reorgsDetected.Inc()
}

// RecordRPCCall records one RPC call outcome and its duration.
func (m *Metrics) RecordRPCCall(method string, err error, seconds float64) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(seconds)
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	m.rpcInFlight.Dec()
}

// ObserveBatchCommit records the latency of one batch commit.
func (m *Metrics) ObserveBatchCommit(seconds float64) {
	m.batchCommitDuration.Observe(seconds)
}
