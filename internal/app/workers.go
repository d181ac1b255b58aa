package app

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/idempotency"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/saga"
)

// backgroundWorkers — фоновые циклы сервиса, живущие до отмены контекста.
type backgroundWorkers struct {
	outbox   *outbox.Worker
	cleanup  *idempotency.CleanupWorker
	recovery *saga.Recoverer

	wg sync.WaitGroup
}

func newBackgroundWorkers(
	cfg Config,
	deps *runtimeDependencies,
	collab *collaborators,
	producer *kafka.Producer,
	sagaMetrics *metrics.SagaMetrics,
	outboxMetrics *metrics.OutboxMetrics,
	maintenance *metrics.MaintenanceMetrics,
	logger *log.Entry,
) *backgroundWorkers {
	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	// Без Kafka publisher остаётся nil и воркер не стартует: события копятся в outbox.
	var publisher domain.OutboxPublisher
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, kafka.TopicSaleEvents)
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	}

	return &backgroundWorkers{
		outbox: outbox.NewWorker(deps.outboxRepo, publisher, outboxOpts...),
		cleanup: idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithMetrics(maintenance),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		),
		recovery: saga.NewRecoverer(deps.sagaLog, deps.sales, collab.products, collab.invoices,
			saga.WithRecoveryLogger(logger.WithField("component", "saga-recovery")),
			saga.WithRecoveryMetrics(sagaMetrics, maintenance),
			saga.WithRecoveryInterval(cfg.RecoveryInterval),
			saga.WithStaleAfter(cfg.RecoveryStaleAfter),
		),
	}
}

// start запускает воркеры; wait дожидается их остановки.
func (w *backgroundWorkers) start(ctx context.Context) {
	for _, run := range []func(context.Context){w.outbox.Run, w.cleanup.Run, w.recovery.Run} {
		w.wg.Add(1)
		go func(run func(context.Context)) {
			defer w.wg.Done()
			run(ctx)
		}(run)
	}
}

func (w *backgroundWorkers) wait() {
	w.wg.Wait()
}
