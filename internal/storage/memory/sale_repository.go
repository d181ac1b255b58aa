package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// saleRepositoryInMemory хранит итоговые записи о продажах.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.SaleRecord
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{items: make(map[string]domain.SaleRecord)}
}

func (r *saleRepositoryInMemory) Create(_ context.Context, record domain.SaleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[record.ID]; exists {
		return domain.ErrSaleAlreadyExists
	}
	r.items[record.ID] = cloneSaleRecord(record)
	return nil
}

func (r *saleRepositoryInMemory) Get(_ context.Context, companyID, id string) (domain.SaleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[id]
	if !ok || record.CompanyID != companyID {
		return domain.SaleRecord{}, domain.ErrSaleNotFound
	}
	return cloneSaleRecord(record), nil
}

// ListByCustomer возвращает продажи клиента, новые первыми, ограничивая выборку limit (если >0).
func (r *saleRepositoryInMemory) ListByCustomer(_ context.Context, companyID, customerID string, limit int) ([]domain.SaleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SaleRecord, 0)
	for _, record := range r.items {
		if record.CompanyID != companyID || record.CustomerID != customerID {
			continue
		}
		result = append(result, cloneSaleRecord(record))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneSaleRecord(src domain.SaleRecord) domain.SaleRecord {
	dst := src
	dst.Items = append([]domain.SaleRecordItem(nil), src.Items...)
	dst.Movements = append([]domain.StockMovementRecord(nil), src.Movements...)
	return dst
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
