package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты обработки корзины.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// RecalcMetrics содержит метрики пересчёта корзин и заказов.
type RecalcMetrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	softErrors    *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewRecalcMetrics создаёт метрики в реестре по умолчанию.
func NewRecalcMetrics() *RecalcMetrics {
	return NewRecalcMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewRecalcMetricsWithRegisterer создаёт метрики в заданном реестре.
func NewRecalcMetricsWithRegisterer(registerer prometheus.Registerer) *RecalcMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &RecalcMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_cart_process_total",
			Help: "Total number of cart processing runs by result",
		}, []string{"result"}),
		runDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_cart_process_duration_seconds",
			Help:    "Duration of cart processing runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_cart_process_stage_duration_seconds",
			Help:    "Duration of individual cart processing stages in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"stage"}),
		softErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_cart_soft_errors_total",
			Help: "Total number of non-fatal cart messages by key",
		}, []string{"key"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

// RecordRun записывает результат и длительность обработки корзины.
func (m *RecalcMetrics) RecordRun(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordStage записывает длительность этапа обработки.
func (m *RecalcMetrics) RecordStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordSoftError увеличивает счётчик мягких ошибок.
func (m *RecalcMetrics) RecordSoftError(key string) {
	if m == nil {
		return
	}
	m.softErrors.WithLabelValues(key).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *RecalcMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *RecalcMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
