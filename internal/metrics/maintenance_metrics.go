package metrics

import "github.com/prometheus/client_golang/prometheus"

// MaintenanceMetrics — метрики фоновых воркеров обслуживания
// (очистка idempotency ключей, восстановление брошенных саг).
type MaintenanceMetrics struct {
	runs          *prometheus.CounterVec
	processed     *prometheus.CounterVec
	lastProcessed *prometheus.GaugeVec
}

// NewMaintenanceMetrics создаёт метрики в глобальном реестре.
func NewMaintenanceMetrics() *MaintenanceMetrics {
	return NewMaintenanceMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMaintenanceMetricsWithRegisterer создаёт метрики в переданном реестре.
func NewMaintenanceMetricsWithRegisterer(registerer prometheus.Registerer) *MaintenanceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &MaintenanceMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_maintenance_runs_total",
			Help: "Total number of maintenance worker runs grouped by worker and result.",
		}, []string{"worker", "result"}),
		processed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_maintenance_processed_total",
			Help: "Total number of records processed by maintenance workers.",
		}, []string{"worker"}),
		lastProcessed: register(registerer, "sales_maintenance_last_processed", prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sales_maintenance_last_processed",
			Help: "Number of records processed during the last run of a worker.",
		}, []string{"worker"})),
	}
}

// RecordRun фиксирует итог запуска воркера и число обработанных записей.
func (m *MaintenanceMetrics) RecordRun(worker string, processed int, err error) {
	if err != nil {
		m.runs.WithLabelValues(worker, "error").Inc()
		return
	}
	m.runs.WithLabelValues(worker, "ok").Inc()
	m.lastProcessed.WithLabelValues(worker).Set(float64(processed))
}

// AddProcessed увеличивает счётчик обработанных записей.
func (m *MaintenanceMetrics) AddProcessed(worker string, n int) {
	if n > 0 {
		m.processed.WithLabelValues(worker).Add(float64(n))
	}
}
