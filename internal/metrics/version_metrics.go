package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты слияния версии.
const (
	MergeMerged   = "merged"
	MergeConflict = "conflict"
	MergeFailed   = "failed"
)

// VersionMetrics содержит метрики версионирования.
type VersionMetrics struct {
	created        prometheus.Counter
	deleted        prometheus.Counter
	merges         *prometheus.CounterVec
	mergeDuration  prometheus.Histogram
	commitsApplied prometheus.Counter
	activeMerges   prometheus.Gauge
}

// NewVersionMetrics создаёт метрики в реестре по умолчанию.
func NewVersionMetrics() *VersionMetrics {
	return NewVersionMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewVersionMetricsWithRegisterer создаёт метрики в заданном реестре.
func NewVersionMetricsWithRegisterer(registerer prometheus.Registerer) *VersionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &VersionMetrics{
		created: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_versions_created_total",
			Help: "Total number of entity versions created",
		}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_versions_deleted_total",
			Help: "Total number of entity versions deleted without merge",
		}),
		merges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_version_merges_total",
			Help: "Total number of version merges by result",
		}, []string{"result"}),
		mergeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_version_merge_duration_seconds",
			Help:    "Duration of version merges in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		commitsApplied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_version_commits_applied_total",
			Help: "Total number of folded commit entries applied to live rows",
		}),
		activeMerges: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_version_active_merges",
			Help: "Number of version merges currently holding the merge lock",
		}),
	}
}

// RecordCreated увеличивает счётчик созданных версий.
func (m *VersionMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// RecordDeleted увеличивает счётчик удалённых версий.
func (m *VersionMetrics) RecordDeleted() {
	if m == nil {
		return
	}
	m.deleted.Inc()
}

// RecordMergeStarted увеличивает количество активных слияний.
func (m *VersionMetrics) RecordMergeStarted() {
	if m == nil {
		return
	}
	m.activeMerges.Inc()
}

// RecordMergeFinished фиксирует результат слияния.
func (m *VersionMetrics) RecordMergeFinished(result string, applied int, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeMerges.Dec()
	m.merges.WithLabelValues(result).Inc()
	m.mergeDuration.Observe(duration.Seconds())
	m.commitsApplied.Add(float64(applied))
}

// RecordMergeConflict фиксирует слияние, отклонённое из-за занятой блокировки.
func (m *VersionMetrics) RecordMergeConflict() {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(MergeConflict).Inc()
}
