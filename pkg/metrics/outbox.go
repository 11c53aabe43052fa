package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts publisher outcomes per event type.
type OutboxMetrics struct {
	published *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox rows handled by the publisher by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(published)
	return &OutboxMetrics{published: published}
}

// Observe increments the counter; outcome is success, failure or dead_letter.
func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
