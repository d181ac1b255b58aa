package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	sales           domain.SaleRepository
	sagaLog         domain.SagaLogRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	tx              domain.Transactor

	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			sales:           memory.NewSaleRepository(),
			sagaLog:         memory.NewSagaLogRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			tx:              memory.NewTransactor(),
			storageChecker: healthcheck.NewPingChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("SALES_POSTGRES_DSN is required for postgres storage")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		version, count, err := store.MigrationStatus(ctx)
		if err == nil {
			logger.WithFields(log.Fields{
				"schema_version": version,
				"applied":        count,
			}).Info("postgres migrations applied")
		}
	}
	logger.Info("using postgres storage")

	return &runtimeDependencies{
		sales:           postgres.NewSaleRepository(store),
		sagaLog:         postgres.NewSagaLogRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		tx:              store,
		storageChecker:  healthcheck.NewPingChecker("postgres", store.Ping),
		closeFn:         store.Close,
	}, nil
}
