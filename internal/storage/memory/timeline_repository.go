package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// timelineRepositoryInMemory хранит историю продаж в памяти (для разработки/тестов).
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет события, сохраняя хронологический порядок по каждой продаже.
func (r *timelineRepositoryInMemory) Append(_ context.Context, events ...domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string]struct{}, 1)
	for _, event := range events {
		r.events[event.SaleID] = append(r.events[event.SaleID], event)
		touched[event.SaleID] = struct{}{}
	}
	for saleID := range touched {
		list := r.events[saleID]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Occurred.Before(list[j].Occurred)
		})
	}
	return nil
}

// List возвращает события продажи в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(_ context.Context, saleID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[saleID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
