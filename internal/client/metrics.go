package client

import "github.com/prometheus/client_golang/prometheus"

// Mutation outcomes recorded per kind.
const (
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeRejected   = "rejected"
)

// Metrics counts mutation outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	mutations *prometheus.CounterVec
}

// NewMetrics registers the gateway counters on reg (nil skips registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opkomst_client_mutations_total",
			Help: "Gateway mutations by kind and outcome (confirmed, rolled_back, rejected).",
		}, []string{"kind", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.mutations)
	}
	return m
}

func (m *Metrics) observe(kind, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind, outcome).Inc()
}
