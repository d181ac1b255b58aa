package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги обработки продаж.
type SagaMetrics struct {
	// Исходы саги
	sagaStarted     prometheus.Counter
	sagaCompleted   prometheus.Counter
	sagaRejected    prometheus.Counter
	sagaFailed      prometheus.Counter
	sagaCompensated prometheus.Counter
	sagaRecovered   prometheus.Counter

	// Ошибки отдельных компенсирующих действий
	compensationFailures *prometheus.CounterVec

	// Гистограммы времени выполнения
	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// События
	eventsPublished    prometheus.Counter
	eventDrainFailures prometheus.Counter

	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт метрики в глобальном реестре.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_saga_started_total",
			Help: "Total number of sale sagas started",
		}),
		sagaCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_saga_completed_total",
			Help: "Total number of sale sagas completed successfully",
		}),
		sagaRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_saga_rejected_total",
			Help: "Total number of sales rejected before any external side effect",
		}),
		sagaFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_saga_failed_total",
			Help: "Total number of sale sagas failed after side effects started",
		}),
		sagaCompensated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_saga_compensated_total",
			Help: "Total number of sale sagas compensated",
		}),
		sagaRecovered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_saga_recovered_total",
			Help: "Total number of abandoned sagas closed by the recovery worker",
		}),
		compensationFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_saga_compensation_failures_total",
			Help: "Total number of failed compensating actions",
		}, []string{"action"}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "sales_saga_duration_seconds",
			Help:    "Duration of sale sagas in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "sales_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		eventsPublished: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_domain_events_published_total",
			Help: "Total number of domain events handed to the event sink",
		}),
		eventDrainFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_domain_event_drain_failures_total",
			Help: "Total number of event batches dropped after sink retries were exhausted",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_active_sagas",
			Help: "Number of sale sagas currently in flight",
		}),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register[prometheus.Counter](registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register[prometheus.Gauge](registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return register[prometheus.Histogram](registerer, opts.Name, prometheus.NewHistogram(opts))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

// RecordSagaStarted увеличивает счётчик запущенных саг и число активных.
func (m *SagaMetrics) RecordSagaStarted() {
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaFinished уменьшает число активных саг и пишет длительность.
func (m *SagaMetrics) RecordSagaFinished(duration time.Duration) {
	m.activeSagas.Dec()
	m.sagaDuration.Observe(duration.Seconds())
}

// RecordSagaCompleted увеличивает счётчик завершённых продаж.
func (m *SagaMetrics) RecordSagaCompleted() {
	m.sagaCompleted.Inc()
}

// RecordSagaRejected — продажа отклонена до внешних изменений.
func (m *SagaMetrics) RecordSagaRejected() {
	m.sagaRejected.Inc()
}

// RecordSagaFailed — сага упала после начала внешних изменений.
func (m *SagaMetrics) RecordSagaFailed() {
	m.sagaFailed.Inc()
}

// RecordSagaCompensated увеличивает счётчик откатанных саг.
func (m *SagaMetrics) RecordSagaCompensated() {
	m.sagaCompensated.Inc()
}

// RecordSagaRecovered — брошенная сага закрыта воркером восстановления.
func (m *SagaMetrics) RecordSagaRecovered() {
	m.sagaRecovered.Inc()
}

// RecordCompensationFailure считает неудачное компенсирующее действие.
func (m *SagaMetrics) RecordCompensationFailure(action string) {
	m.compensationFailures.WithLabelValues(action).Inc()
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordEventsPublished увеличивает счётчик опубликованных событий.
func (m *SagaMetrics) RecordEventsPublished(n int) {
	m.eventsPublished.Add(float64(n))
}

// RecordEventDrainFailure — пачка событий не доставлена в sink.
func (m *SagaMetrics) RecordEventDrainFailure() {
	m.eventDrainFailures.Inc()
}
