package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestRecalcMetrics_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRecalcMetricsWithRegisterer(reg)

	m.RecordRun(ResultOK, 10*time.Millisecond)
	m.RecordRun(ResultOK, 20*time.Millisecond)
	m.RecordRun(ResultError, time.Millisecond)
	m.RecordStage("promotions", time.Millisecond)
	m.RecordSoftError("product-not-available")

	counts := map[string]float64{}
	for _, metric := range gather(t, reg, "oms_cart_process_total") {
		counts[labelValue(metric, "result")] = metric.GetCounter().GetValue()
	}
	if counts[ResultOK] != 2 || counts[ResultError] != 1 {
		t.Fatalf("unexpected run counters: %v", counts)
	}

	histogram := gather(t, reg, "oms_cart_process_duration_seconds")[0].GetHistogram()
	if histogram.GetSampleCount() != 3 {
		t.Fatalf("expected 3 observations, got %d", histogram.GetSampleCount())
	}

	soft := gather(t, reg, "oms_cart_soft_errors_total")
	if len(soft) != 1 || labelValue(soft[0], "key") != "product-not-available" {
		t.Fatalf("unexpected soft error metrics: %v", soft)
	}
}

func TestVersionMetrics_MergeLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVersionMetricsWithRegisterer(reg)

	m.RecordCreated()
	m.RecordMergeStarted()
	if got := gather(t, reg, "oms_version_active_merges")[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected 1 active merge, got %v", got)
	}

	m.RecordMergeFinished(MergeMerged, 7, 5*time.Millisecond)
	m.RecordMergeConflict()

	if got := gather(t, reg, "oms_version_active_merges")[0].GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected no active merges, got %v", got)
	}
	if got := gather(t, reg, "oms_version_commits_applied_total")[0].GetCounter().GetValue(); got != 7 {
		t.Fatalf("expected 7 applied commits, got %v", got)
	}

	results := map[string]float64{}
	for _, metric := range gather(t, reg, "oms_version_merges_total") {
		results[labelValue(metric, "result")] = metric.GetCounter().GetValue()
	}
	if results[MergeMerged] != 1 || results[MergeConflict] != 1 {
		t.Fatalf("unexpected merge counters: %v", results)
	}
}

func TestRegisterTwiceReturnsExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewVersionMetricsWithRegisterer(reg)
	second := NewVersionMetricsWithRegisterer(reg)

	first.RecordCreated()
	second.RecordCreated()

	if got := gather(t, reg, "oms_versions_created_total")[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected shared counter value 2, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var recalc *RecalcMetrics
	var versions *VersionMetrics

	recalc.RecordRun(ResultOK, time.Second)
	recalc.RecordOutboxEvent()
	versions.RecordMergeStarted()
	versions.RecordMergeFinished(MergeFailed, 0, time.Second)
}
