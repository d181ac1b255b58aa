package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type sagaLogRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string]domain.SagaLogEntry
}

// NewSagaLogRepository создаёт in-memory журнал саги.
func NewSagaLogRepository() domain.SagaLogRepository {
	return &sagaLogRepositoryInMemory{entries: make(map[string]domain.SagaLogEntry)}
}

func (r *sagaLogRepositoryInMemory) Begin(_ context.Context, entry domain.SagaLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.SaleID]; exists {
		return domain.ErrSagaLogVersionConflict
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Version = 0
	r.entries[entry.SaleID] = cloneSagaLogEntry(entry)
	return nil
}

func (r *sagaLogRepositoryInMemory) Get(_ context.Context, saleID string) (domain.SagaLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[saleID]
	if !ok {
		return domain.SagaLogEntry{}, domain.ErrSagaLogNotFound
	}
	return cloneSagaLogEntry(entry), nil
}

// Save перезаписывает запись, проверяя версию (optimistic locking).
func (r *sagaLogRepositoryInMemory) Save(_ context.Context, entry domain.SagaLogEntry) (domain.SagaLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[entry.SaleID]
	if !ok {
		return domain.SagaLogEntry{}, domain.ErrSagaLogNotFound
	}
	if current.Version != entry.Version {
		return domain.SagaLogEntry{}, domain.ErrSagaLogVersionConflict
	}
	entry.Version++
	entry.CreatedAt = current.CreatedAt
	entry.UpdatedAt = time.Now().UTC()
	r.entries[entry.SaleID] = cloneSagaLogEntry(entry)
	return cloneSagaLogEntry(entry), nil
}

func (r *sagaLogRepositoryInMemory) ListUnfinished(_ context.Context, before time.Time, limit int) ([]domain.SagaLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SagaLogEntry, 0)
	for _, entry := range r.entries {
		if entry.Finished || !entry.UpdatedAt.Before(before) {
			continue
		}
		result = append(result, cloneSagaLogEntry(entry))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneSagaLogEntry(src domain.SagaLogEntry) domain.SagaLogEntry {
	dst := src
	dst.Movements = append([]domain.StockMovementRecord(nil), src.Movements...)
	dst.ReversedMovements = append([]string(nil), src.ReversedMovements...)
	return dst
}

var _ domain.SagaLogRepository = (*sagaLogRepositoryInMemory)(nil)
