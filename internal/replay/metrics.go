package replay

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts replayed Vault events.
type Metrics struct {
	events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_events_total",
			Help: "Vault events replayed, labeled by event and result.",
		}, []string{"event", "result"}),
	}
	reg.MustRegister(m.events)
	return m
}

func (m *Metrics) observe(event, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, result).Inc()
}
