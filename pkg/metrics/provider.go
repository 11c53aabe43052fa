package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics tracks outbound calls to payment and fulfillment providers.
type ProviderMetrics struct {
	calls          *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
}

// NewProviderMetrics registers provider call metrics on reg.
func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	if reg == nil {
		return &ProviderMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Outbound provider API calls by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "call_duration_seconds",
		Help:      "Latency of outbound provider API calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"provider", "operation"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "token_refreshes_total",
		Help:      "Provider access token refreshes by reason and outcome.",
	}, []string{"provider", "reason", "outcome"})
	reg.MustRegister(calls, latency, refreshes)
	return &ProviderMetrics{calls: calls, latency: latency, tokenRefreshes: refreshes}
}

// ObserveCall records one provider call.
func (m *ProviderMetrics) ObserveCall(provider, operation string, err error, duration time.Duration) {
	if m == nil || m.calls == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.calls.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), outcome).Inc()
	m.latency.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

// ObserveTokenRefresh records a token refresh; reason is "proactive", "reactive" or "scheduled".
func (m *ProviderMetrics) ObserveTokenRefresh(provider, reason string, err error) {
	if m == nil || m.tokenRefreshes == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.tokenRefreshes.WithLabelValues(normalizeLabel(provider), normalizeLabel(reason), outcome).Inc()
}
