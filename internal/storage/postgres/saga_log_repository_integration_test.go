package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

func TestSagaLogRepository_PostgresOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaLogRepository(openPostgresStoreForIntegrationTest(t))

	entry := domain.SagaLogEntry{
		SaleID:     "sale-log-1",
		CompanyID:  "company-1",
		CustomerID: "customer-1",
		Status:     domain.SaleStatusPending,
	}
	require.NoError(t, repo.Begin(ctx, entry))
	require.ErrorIs(t, repo.Begin(ctx, entry), domain.ErrSagaLogVersionConflict)

	stored, err := repo.Get(ctx, "sale-log-1")
	require.NoError(t, err)
	require.Zero(t, stored.Version)
	require.Empty(t, stored.Movements)

	stored.Status = domain.SaleStatusStockDeducted
	stored.InvoiceID = "inv-1"
	stored.Movements = []domain.StockMovementRecord{{MovementID: "mv-1", ProductID: "p-1", Quantity: 3, Type: domain.StockMovementOut}}
	saved, err := repo.Save(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, int64(1), saved.Version)
	require.True(t, saved.HasSideEffects())

	// Устаревшая версия отклоняется.
	_, err = repo.Save(ctx, stored)
	require.ErrorIs(t, err, domain.ErrSagaLogVersionConflict)

	saved.ReversedMovements = []string{"mv-1"}
	saved.InvoiceDeleted = true
	saved.Finished = true
	final, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	require.True(t, final.IsReversed("mv-1"))
	require.True(t, final.InvoiceDeleted)

	_, err = repo.Save(ctx, domain.SagaLogEntry{SaleID: "missing"})
	require.ErrorIs(t, err, domain.ErrSagaLogNotFound)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSagaLogNotFound)
}

func TestSagaLogRepository_PostgresListUnfinished(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaLogRepository(openPostgresStoreForIntegrationTest(t))

	for _, id := range []string{"stale-1", "stale-2", "done"} {
		require.NoError(t, repo.Begin(ctx, domain.SagaLogEntry{SaleID: id, CompanyID: "c", CustomerID: "cust", Status: domain.SaleStatusPending}))
	}
	done, err := repo.Get(ctx, "done")
	require.NoError(t, err)
	done.Finished = true
	_, err = repo.Save(ctx, done)
	require.NoError(t, err)

	entries, err := repo.ListUnfinished(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "stale-1", entries[0].SaleID)

	entries, err = repo.ListUnfinished(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}
