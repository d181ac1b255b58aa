package validation

import (
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// StockValidationService проверяет наличие товаров перед продажей.
// Сервис без состояния; остатки берутся из переданных снимков.
type StockValidationService struct{}

// NewStockValidationService создаёт сервис проверки остатков.
func NewStockValidationService() *StockValidationService {
	return &StockValidationService{}
}

// ValidateForItems проверяет каждую позицию отдельно.
func (s *StockValidationService) ValidateForItems(items []domain.SaleItem, snapshots map[string]domain.ProductSnapshot) error {
	for _, item := range items {
		if err := checkProduct(item.ProductID(), item.Quantity(), snapshots); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAggregated суммирует количество по товару и проверяет каждый товар один раз
// в порядке первого появления. Две позиции по 3 шт. при остатке 5 не проходят.
func (s *StockValidationService) ValidateAggregated(items []domain.SaleItem, snapshots map[string]domain.ProductSnapshot) error {
	totals, order := aggregateQuantities(items)
	for _, productID := range order {
		if err := checkProduct(productID, totals[productID], snapshots); err != nil {
			return err
		}
	}
	return nil
}

// LowStockWarnings возвращает предупреждения для товаров, остаток которых после продажи
// опустится ниже минимального.
func (s *StockValidationService) LowStockWarnings(items []domain.SaleItem, snapshots map[string]domain.ProductSnapshot) []string {
	totals, order := aggregateQuantities(items)
	var warnings []string
	for _, productID := range order {
		snapshot, ok := snapshots[productID]
		if !ok || !snapshot.IsPhysical() || snapshot.MinStock <= 0 {
			continue
		}
		remaining := snapshot.Stock - totals[productID]
		if remaining < snapshot.MinStock {
			warnings = append(warnings, fmt.Sprintf(
				"product %s stock will drop to %d, below minimum %d", productID, remaining, snapshot.MinStock))
		}
	}
	return warnings
}

func checkProduct(productID string, quantity int64, snapshots map[string]domain.ProductSnapshot) error {
	snapshot, ok := snapshots[productID]
	if !ok {
		return &domain.ProductNotFoundError{ProductID: productID}
	}
	if !snapshot.IsActive() {
		return &domain.ProductInactiveError{ProductID: productID, Status: snapshot.Status}
	}
	if !snapshot.IsPhysical() || snapshot.AllowNegativeStock {
		return nil
	}
	if snapshot.Stock < quantity {
		return &domain.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: snapshot.Stock,
		}
	}
	return nil
}

func aggregateQuantities(items []domain.SaleItem) (map[string]int64, []string) {
	totals := make(map[string]int64, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := totals[item.ProductID()]; !seen {
			order = append(order, item.ProductID())
		}
		totals[item.ProductID()] += item.Quantity()
	}
	return totals, order
}
