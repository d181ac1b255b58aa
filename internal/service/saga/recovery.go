package saga

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultRecoveryInterval   = time.Minute
	defaultRecoveryStaleAfter = 5 * time.Minute
	defaultRecoveryBatchSize  = 100

	recoveryWorkerName = "saga_recovery"
)

// RecovererOptions задаёт параметры воркера восстановления.
type RecovererOptions struct {
	Logger      *log.Entry
	Metrics     *metrics.SagaMetrics
	Maintenance *metrics.MaintenanceMetrics
	Interval    time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	Clock       func() time.Time
}

// RecovererOption настраивает Recoverer.
type RecovererOption func(*RecovererOptions)

// WithRecoveryLogger задаёт логгер.
func WithRecoveryLogger(logger *log.Entry) RecovererOption {
	return func(opts *RecovererOptions) { opts.Logger = logger }
}

// WithRecoveryMetrics задаёт метрики саги и воркера.
func WithRecoveryMetrics(saga *metrics.SagaMetrics, maintenance *metrics.MaintenanceMetrics) RecovererOption {
	return func(opts *RecovererOptions) {
		opts.Metrics = saga
		opts.Maintenance = maintenance
	}
}

// WithRecoveryInterval задаёт период опроса журнала.
func WithRecoveryInterval(interval time.Duration) RecovererOption {
	return func(opts *RecovererOptions) { opts.Interval = interval }
}

// WithStaleAfter задаёт, сколько запись должна простоять без обновлений.
func WithStaleAfter(d time.Duration) RecovererOption {
	return func(opts *RecovererOptions) { opts.StaleAfter = d }
}

// WithRecoveryBatchSize ограничивает число записей за проход.
func WithRecoveryBatchSize(n int) RecovererOption {
	return func(opts *RecovererOptions) { opts.BatchSize = n }
}

// WithRecoveryClock подменяет источник времени.
func WithRecoveryClock(clock func() time.Time) RecovererOption {
	return func(opts *RecovererOptions) { opts.Clock = clock }
}

// Recoverer закрывает саги, брошенные после падения процесса: незавершённые
// записи журнала либо подтверждаются сохранённой продажей, либо компенсируются.
type Recoverer struct {
	log         domain.SagaLogRepository
	sales       domain.SaleRepository
	comp        *compensator
	logger      *log.Entry
	metrics     *metrics.SagaMetrics
	maintenance *metrics.MaintenanceMetrics
	interval    time.Duration
	staleAfter  time.Duration
	batchSize   int
	clock       func() time.Time
}

// NewRecoverer создаёт воркер восстановления.
func NewRecoverer(
	sagaLog domain.SagaLogRepository,
	sales domain.SaleRepository,
	products domain.ProductService,
	invoices domain.InvoiceService,
	options ...RecovererOption,
) *Recoverer {
	opts := RecovererOptions{
		Interval:   defaultRecoveryInterval,
		StaleAfter: defaultRecoveryStaleAfter,
		BatchSize:  defaultRecoveryBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "saga-recovery")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRecoveryInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultRecoveryStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRecoveryBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Recoverer{
		log:   sagaLog,
		sales: sales,
		comp: &compensator{
			products: products,
			invoices: invoices,
			logger:   logger,
			metrics:  opts.Metrics,
		},
		logger:      logger,
		metrics:     opts.Metrics,
		maintenance: opts.Maintenance,
		interval:    opts.Interval,
		staleAfter:  opts.StaleAfter,
		batchSize:   opts.BatchSize,
		clock:       opts.Clock,
	}
}

// Run опрашивает журнал до отмены ctx.
func (r *Recoverer) Run(ctx context.Context) {
	if r.log == nil {
		r.logger.Warn("saga recovery is disabled: saga log is nil")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Recoverer) runOnce(ctx context.Context) {
	recovered, err := r.RecoverOnce(ctx)
	if errors.Is(err, context.Canceled) {
		return
	}
	if r.maintenance != nil {
		r.maintenance.RecordRun(recoveryWorkerName, recovered, err)
		r.maintenance.AddProcessed(recoveryWorkerName, recovered)
	}
	if err != nil {
		r.logger.WithError(err).Warn("saga recovery run failed")
		return
	}
	if recovered > 0 {
		r.logger.WithField("recovered", recovered).Info("saga recovery completed")
	}
}

// RecoverOnce обрабатывает одну порцию брошенных саг и возвращает число закрытых.
func (r *Recoverer) RecoverOnce(ctx context.Context) (int, error) {
	before := r.clock().Add(-r.staleAfter)
	entries, err := r.log.ListUnfinished(ctx, before, r.batchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		closed, err := r.recover(ctx, entry)
		if err != nil {
			if domain.IsVersionConflict(err) {
				r.logger.WithField("sale_id", entry.SaleID).Debug("saga log changed concurrently, skipping")
				continue
			}
			r.logger.WithError(err).WithField("sale_id", entry.SaleID).Warn("failed to recover saga")
			continue
		}
		if closed {
			recovered++
			if r.metrics != nil {
				r.metrics.RecordSagaRecovered()
			}
		}
	}
	return recovered, nil
}

// recover закрывает одну запись. false без ошибки — компенсация прошла
// частично, запись остаётся открытой для следующего прохода.
func (r *Recoverer) recover(ctx context.Context, entry domain.SagaLogEntry) (bool, error) {
	fields := log.Fields{
		"sale_id":    entry.SaleID,
		"company_id": entry.CompanyID,
		"status":     entry.Status,
	}

	if r.sales != nil {
		record, err := r.sales.Get(ctx, entry.CompanyID, entry.SaleID)
		switch {
		case err == nil && record.Status == domain.SaleStatusCompleted:
			// Транзакция зафиксирована, процесс упал до закрытия журнала.
			entry.Status = domain.SaleStatusCompleted
			entry.Finished = true
			if _, err := r.log.Save(ctx, entry); err != nil {
				return false, err
			}
			r.logger.WithFields(fields).Info("abandoned saga confirmed as completed")
			return true, nil
		case err != nil && !errors.Is(err, domain.ErrSaleNotFound):
			return false, err
		}
	}

	if !entry.HasSideEffects() {
		entry.Status = domain.SaleStatusFailed
		entry.Finished = true
		if entry.FailureReason == "" {
			entry.FailureReason = "abandoned before side effects"
		}
		if _, err := r.log.Save(ctx, entry); err != nil {
			return false, err
		}
		r.logger.WithFields(fields).Info("abandoned saga closed without compensation")
		return true, nil
	}

	// Захватываем запись до первого отката: следующая запись оркестратора,
	// если сага ещё жива, упрётся в конфликт версий и остановит прямой ход.
	entry.Status = domain.SaleStatusCompensating
	claimed, err := r.log.Save(ctx, entry)
	if err != nil {
		return false, err
	}
	entry = claimed

	errs := r.comp.undo(ctx, &entry)
	if entry.FailureReason == "" {
		entry.FailureReason = "abandoned saga compensated by recovery"
	}
	// Сохраняем частичный прогресс, чтобы следующий проход не повторил откаты.
	entry, err = r.saveProgress(ctx, entry, len(errs) == 0)
	if err != nil {
		return false, err
	}
	if entry.Finished && r.metrics != nil {
		r.metrics.RecordSagaCompensated()
	}

	if !entry.Finished {
		r.logger.WithFields(fields).WithField("failures", len(errs)).Warn("abandoned saga not fully compensated yet")
		return false, nil
	}
	r.logger.WithFields(fields).WithFields(log.Fields{
		"invoice_id": entry.InvoiceID,
		"reversed":   len(entry.ReversedMovements),
	}).Info("abandoned saga compensated")
	return true, nil
}

// saveProgress сохраняет результат отката. При конфликте версий объединяет
// прогресс с записью оркестратора, который мог откатить свою часть параллельно.
func (r *Recoverer) saveProgress(ctx context.Context, entry domain.SagaLogEntry, clean bool) (domain.SagaLogEntry, error) {
	for attempt := 0; ; attempt++ {
		entry.Finished = clean && entry.Compensated()
		entry.Status = domain.SaleStatusCompensating
		if entry.Finished {
			entry.Status = domain.SaleStatusCompensated
		}

		saved, err := r.log.Save(ctx, entry)
		if err == nil {
			return saved, nil
		}
		if !domain.IsVersionConflict(err) || attempt == journalMaxRetries-1 {
			return entry, err
		}
		fresh, err := r.log.Get(ctx, entry.SaleID)
		if err != nil {
			return entry, err
		}
		entry = mergeCompensation(entry, fresh)
	}
}
