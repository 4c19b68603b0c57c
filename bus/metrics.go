package bus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bus delivery counters. A nil *Metrics disables
// collection, so transports never branch on configuration.
type Metrics struct {
	published   *prometheus.CounterVec
	consumed    *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
}

// NewMetrics creates the bus counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Envelopes published, by queue.",
		}, []string{"queue"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "bus",
			Name:      "consumed_total",
			Help:      "Envelopes successfully handled, by queue.",
		}, []string{"queue"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "bus",
			Name:      "dead_letters_total",
			Help:      "Envelopes routed to the dead-letter sink, by queue.",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.consumed, m.deadLetters)
	}
	return m
}

// ObservePublished counts one published envelope. Safe on a nil receiver.
func (m *Metrics) ObservePublished(queue string) {
	if m != nil {
		m.published.WithLabelValues(queue).Inc()
	}
}

// ObserveConsumed counts one successfully handled envelope.
func (m *Metrics) ObserveConsumed(queue string) {
	if m != nil {
		m.consumed.WithLabelValues(queue).Inc()
	}
}

// ObserveDeadLetter counts one envelope routed to the dead-letter sink.
func (m *Metrics) ObserveDeadLetter(queue string) {
	if m != nil {
		m.deadLetters.WithLabelValues(queue).Inc()
	}
}
