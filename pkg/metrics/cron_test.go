package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "provider-webhook-replay"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "orderflow_cron_job_runs_total", map[string]string{"job": job, "outcome": OutcomeSuccess}); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 2 {
		t.Fatalf("expected success=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "orderflow_cron_job_runs_total", map[string]string{"job": job, "outcome": OutcomeFailure}); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "orderflow_cron_job_duration_seconds", map[string]string{"job": job}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestWebhookMetricsLabelsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewWebhookMetrics(reg)
	metrics.Observe("payment", "korapay", OutcomeDuplicate)
	metrics.Observe("payment", "korapay", OutcomeDuplicate)
	metrics.Observe("payment", "", OutcomeRejected)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	got, err := fetchCounterValue(mfs, "orderflow_webhooks_events_total", map[string]string{"kind": "payment", "provider": "korapay", "outcome": OutcomeDuplicate})
	if err != nil {
		t.Fatalf("fetch duplicate: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected duplicate=2, got %f", got)
	}
	if _, err := fetchCounterValue(mfs, "orderflow_webhooks_events_total", map[string]string{"provider": "unknown", "outcome": OutcomeRejected}); err != nil {
		t.Fatalf("expected empty provider to be normalized: %v", err)
	}
}

func TestProviderMetricsSplitsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewProviderMetrics(reg)
	metrics.ObserveCall("cjdropship", "create_order", nil, 100*time.Millisecond)
	metrics.ObserveCall("cjdropship", "create_order", errors.New("boom"), 50*time.Millisecond)
	metrics.ObserveTokenRefresh("cjdropship", "reactive", nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, outcome := range []string{OutcomeSuccess, OutcomeFailure} {
		got, err := fetchCounterValue(mfs, "orderflow_provider_calls_total", map[string]string{"operation": "create_order", "outcome": outcome})
		if err != nil {
			t.Fatalf("fetch %s: %v", outcome, err)
		}
		if got != 1 {
			t.Fatalf("expected %s=1, got %f", outcome, got)
		}
	}
	if got, err := fetchCounterValue(mfs, "orderflow_provider_token_refreshes_total", map[string]string{"reason": "reactive"}); err != nil || got != 1 {
		t.Fatalf("expected one reactive refresh, got %f (%v)", got, err)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewCronJobMetrics(nil).IncSuccess("job")
	NewWebhookMetrics(nil).Observe("payment", "korapay", OutcomeSuccess)
	NewProviderMetrics(nil).ObserveCall("cj", "auth", nil, time.Second)
	NewOutboxMetrics(nil).Observe("order_paid", OutcomeSuccess)
	var m *ProviderMetrics
	m.ObserveTokenRefresh("cj", "proactive", nil)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for name, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == name && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
