package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	workerName = "idempotency_cleanup"
)

// CleanupOptions задает параметры воркера очистки idempotency ключей.
type CleanupOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.MaintenanceMetrics
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задает метрики воркера.
func WithMetrics(m *metrics.MaintenanceMetrics) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Metrics = m
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Clock = clock
	}
}

// CleanupWorker периодически удаляет просроченные ключи ProcessSale,
// освобождая их для повторного использования клиентами.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.MaintenanceMetrics
	interval  time.Duration
	batchSize int
	clock     func() time.Time
}

// NewCleanupWorker создает воркер очистки idempotency ключей.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		clock:     opts.Clock,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.clock())
	if errors.Is(err, context.Canceled) {
		return
	}
	if w.metrics != nil {
		w.metrics.RecordRun(workerName, deleted, err)
	}
	if err != nil {
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет все записи с ttl <= before порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.clock()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if w.metrics != nil {
			w.metrics.AddProcessed(workerName, deleted)
		}

		if deleted < w.batchSize {
			return total, nil
		}
	}
}
