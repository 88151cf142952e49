package indexer

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for a runner.
type Metrics struct {
	batches   prometheus.Counter
	logs      prometheus.Counter
	retries   *prometheus.CounterVec
	lastBlock prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_batches_total",
			Help: "Block ranges fully processed.",
		}),
		logs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_logs_total",
			Help: "Logs handed to the handler.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_rpc_failures_total",
			Help: "Failed RPC attempts, labeled by call.",
		}, []string{"call"}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_last_processed_block",
			Help: "Last block covered by a saved checkpoint.",
		}),
	}
	reg.MustRegister(m.batches, m.logs, m.retries, m.lastBlock)
	return m
}

func (m *Metrics) observeBatch(logs int, lastBlock uint64) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.logs.Add(float64(logs))
	m.lastBlock.Set(float64(lastBlock))
}

func (m *Metrics) observeRetry(call string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(call).Inc()
}
