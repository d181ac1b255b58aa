package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics — метрики доставки событий продаж через transactional outbox.
type OutboxMetrics struct {
	enqueued        prometheus.Counter
	publishAttempts *prometheus.CounterVec
	pending         prometheus.Gauge
	oldestAge       prometheus.Gauge
}

// NewOutboxMetrics создаёт метрики в глобальном реестре.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer создаёт метрики в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		enqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_enqueued_total",
			Help: "Total number of domain events written to the outbox.",
		}),
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// RecordEnqueued увеличивает счётчик записанных в outbox событий.
func (m *OutboxMetrics) RecordEnqueued(n int) {
	m.enqueued.Add(float64(n))
}

// RecordPublishAttempt учитывает попытку публикации: sent, retry_error, failed, dlq_failed.
func (m *OutboxMetrics) RecordPublishAttempt(result string) {
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер и возраст backlog.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	m.pending.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestAge.Set(oldestAge.Seconds())
}
