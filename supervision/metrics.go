package supervision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sweep counters. A nil *Metrics disables collection.
type Metrics struct {
	sweeps      prometheus.Counter
	alerts      prometheus.Counter
	escalations prometheus.Counter
}

// NewMetrics creates the supervision counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "supervision",
			Name:      "sweeps_total",
			Help:      "Overdue sweeps performed.",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "supervision",
			Name:      "alerts_total",
			Help:      "Supervision alerts sent to the coordinator.",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "supervision",
			Name:      "escalations_total",
			Help:      "Delegations escalated after exhausting retries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sweeps, m.alerts, m.escalations)
	}
	return m
}

func (m *Metrics) observeSweep() {
	if m != nil {
		m.sweeps.Inc()
	}
}

func (m *Metrics) observeAlert() {
	if m != nil {
		m.alerts.Inc()
	}
}

func (m *Metrics) observeEscalation() {
	if m != nil {
		m.escalations.Inc()
	}
}
