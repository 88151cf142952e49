package vault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a vault.
type Metrics struct {
	settlements   *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec
	pools         prometheus.Gauge
}

// NewMetrics creates and registers the vault collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_settlements_total",
			Help: "Settlements processed, labeled by kind and result.",
		}, []string{"kind", "result"}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_apply_duration_seconds",
			Help:    "Time spent validating and committing a settlement.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"kind"}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_registered_pools",
			Help: "Number of pools registered in the vault.",
		}),
	}
	reg.MustRegister(m.settlements, m.applyDuration, m.pools)
	return m
}

func (m *Metrics) observe(kind Kind, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	m.settlements.WithLabelValues(kind.String(), result).Inc()
	m.applyDuration.WithLabelValues(kind.String()).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setPools(n int) {
	if m == nil {
		return
	}
	m.pools.Set(float64(n))
}
