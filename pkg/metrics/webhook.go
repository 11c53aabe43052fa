package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values shared by the counters in this package.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeIgnored   = "ignored"
)

// WebhookMetrics counts inbound provider deliveries by source, provider and outcome.
type WebhookMetrics struct {
	received *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counters on reg. A nil registerer yields a no-op recorder.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "events_total",
		Help:      "Inbound webhook events by kind, provider and outcome.",
	}, []string{"kind", "provider", "outcome"})
	reg.MustRegister(received)
	return &WebhookMetrics{received: received}
}

// Observe increments the counter for a single delivery.
func (m *WebhookMetrics) Observe(kind, provider, outcome string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(kind), normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}
