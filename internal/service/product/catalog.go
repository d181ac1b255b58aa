package product

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Catalog — in-memory реализация ProductService для локального запуска и тестов.
// Остатки меняются под мьютексом, поэтому конкурентные списания не уводят склад в минус.
type Catalog struct {
	mu        sync.RWMutex
	products  map[string]map[string]domain.ProductSnapshot // company -> product -> snapshot
	movements []domain.StockMovement
	failures  map[string]error // product -> ошибка UpdateStock
	findErr   error
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]map[string]domain.ProductSnapshot),
		failures: make(map[string]error),
	}
}

// Upsert добавляет или заменяет товар.
func (c *Catalog) Upsert(p domain.ProductSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.products[p.CompanyID]
	if !ok {
		byID = make(map[string]domain.ProductSnapshot)
		c.products[p.CompanyID] = byID
	}
	byID[p.ID] = p
}

// FailStockUpdates заставляет UpdateStock по товару возвращать err (nil снимает ошибку).
func (c *Catalog) FailStockUpdates(productID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, productID)
		return
	}
	c.failures[productID] = err
}

// FailLookups заставляет FindByIDs возвращать err.
func (c *Catalog) FailLookups(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findErr = err
}

// FindByIDs возвращает найденные товары компании в порядке запроса.
func (c *Catalog) FindByIDs(ctx context.Context, companyID string, ids []string) ([]domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.findErr != nil {
		return nil, c.findErr
	}
	byID := c.products[companyID]
	out := make([]domain.ProductSnapshot, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateStock меняет остаток на update.Quantity и фиксирует движение.
func (c *Catalog) UpdateStock(ctx context.Context, update domain.StockUpdate) (domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockMovement{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failures[update.ProductID]; err != nil {
		return domain.StockMovement{}, err
	}
	p, ok := c.products[update.CompanyID][update.ProductID]
	if !ok {
		return domain.StockMovement{}, &domain.ProductNotFoundError{ProductID: update.ProductID}
	}
	next := p.Stock + update.Quantity
	if next < 0 && !p.AllowNegativeStock {
		return domain.StockMovement{}, &domain.InsufficientStockError{
			ProductID: update.ProductID,
			Requested: -update.Quantity,
			Available: p.Stock,
		}
	}
	p.Stock = next
	c.products[update.CompanyID][update.ProductID] = p

	movementType := domain.StockMovementIn
	if update.Quantity < 0 {
		movementType = domain.StockMovementOut
	}
	movement := domain.StockMovement{
		ID:        uuid.NewString(),
		CompanyID: update.CompanyID,
		ProductID: update.ProductID,
		Type:      movementType,
		Quantity:  update.Quantity,
		Reason:    update.Reason,
		Reference: update.Reference,
		CreatedAt: time.Now().UTC(),
	}
	c.movements = append(c.movements, movement)
	return movement, nil
}

// Stock возвращает текущий остаток товара.
func (c *Catalog) Stock(companyID, productID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[companyID][productID]
	return p.Stock, ok
}

// Movements возвращает копию журнала движений.
func (c *Catalog) Movements() []domain.StockMovement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.StockMovement(nil), c.movements...)
}

var _ domain.ProductService = (*Catalog)(nil)
