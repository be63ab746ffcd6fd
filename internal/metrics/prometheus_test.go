package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	logx "massdm/pkg/logx"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, logx.Nop()), reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestJobLifecycleMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.JobStarted("safe")
	sink.JobStarted("ultrafast")
	if m := findMetric(t, reg, "massdm_dispatch_jobs_active", nil); m.GetGauge().GetValue() != 2 {
		t.Fatalf("active=%v want 2", m.GetGauge().GetValue())
	}

	sink.JobFinished("safe", "completed", 3*time.Second)
	if m := findMetric(t, reg, "massdm_dispatch_jobs_active", nil); m.GetGauge().GetValue() != 1 {
		t.Fatalf("active=%v want 1", m.GetGauge().GetValue())
	}
	m := findMetric(t, reg, "massdm_dispatch_jobs_finished_total", map[string]string{"mode": "safe", "state": "completed"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Fatalf("finished counter missing or wrong: %v", m)
	}
	h := findMetric(t, reg, "massdm_dispatch_job_duration_seconds", map[string]string{"mode": "safe"})
	if h == nil || h.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("duration histogram missing or wrong: %v", h)
	}
}

func TestDeliveryOutcomeLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryOutcome("ultrafast", "delivered")
	sink.DeliveryOutcome("ultrafast", "delivered")
	sink.DeliveryOutcome("ultrafast", "rejected")

	tests := []struct {
		outcome string
		want    float64
	}{
		{"delivered", 2},
		{"rejected", 1},
	}
	for _, tt := range tests {
		m := findMetric(t, reg, "massdm_dispatch_deliveries_total", map[string]string{"mode": "ultrafast", "outcome": tt.outcome})
		if m == nil || m.GetCounter().GetValue() != tt.want {
			t.Fatalf("%s: got %v want %v", tt.outcome, m, tt.want)
		}
	}
}

func TestChunkAndReportMetrics(t *testing.T) {
	sink, reg := newTestSink(t)
	sink.ChunkCompleted(50, 120*time.Millisecond)
	sink.ReportFailed()

	if m := findMetric(t, reg, "massdm_dispatch_chunk_size", nil); m.GetHistogram().GetSampleSum() != 50 {
		t.Fatalf("chunk size sum=%v", m.GetHistogram().GetSampleSum())
	}
	if m := findMetric(t, reg, "massdm_dispatch_progress_reports_failed_total", nil); m.GetCounter().GetValue() != 1 {
		t.Fatalf("reports failed=%v", m.GetCounter().GetValue())
	}
}

func TestDuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg, logx.Nop())
	NewPrometheusSink(reg, logx.Nop())
}

func TestNoopSinkSatisfiesInterface(t *testing.T) {
	var s Sink = NewNoopSink()
	s.JobStarted("safe")
	s.JobFinished("safe", "completed", time.Second)
	s.DeliveryOutcome("safe", "delivered")
	s.ChunkCompleted(1, time.Millisecond)
	s.ReportFailed()
}
