package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.sales == nil || deps.sagaLog == nil || deps.outboxRepo == nil ||
		deps.timelineRepo == nil || deps.idempotencyRepo == nil || deps.tx == nil {
		t.Fatalf("memory dependencies must be initialized: %+v", deps)
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy memory storage, got %+v", check)
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close memory storage: %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}
