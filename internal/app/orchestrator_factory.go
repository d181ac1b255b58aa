package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/saga"
)

// createOrchestrator собирает сагу продажи поверх выбранного хранилища.
// События саги пишутся в outbox и timeline той же транзакцией, что и продажа.
func createOrchestrator(
	cfg Config,
	deps *runtimeDependencies,
	collab *collaborators,
	sagaMetrics *metrics.SagaMetrics,
	outboxMetrics *metrics.OutboxMetrics,
	logger *log.Entry,
) (*saga.ProcessSaleOrchestrator, error) {
	sink := outbox.NewSink(deps.outboxRepo, deps.timelineRepo,
		outbox.WithSinkLogger(logger.WithField("component", "event-sink")),
		outbox.WithSinkMetrics(outboxMetrics),
		outbox.WithTransactor(deps.tx),
	)

	return saga.NewOrchestrator(saga.Dependencies{
		Products: collab.products,
		Invoices: collab.invoices,
		Events:   sink,
		Sales:    deps.sales,
		SagaLog:  deps.sagaLog,
		Tx:       deps.tx,
	},
		saga.WithLogger(logger.WithField("component", "saga")),
		saga.WithMetrics(sagaMetrics),
		saga.WithMaxPriceVariance(cfg.MaxPriceVariance),
	)
}
