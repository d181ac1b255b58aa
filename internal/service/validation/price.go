package validation

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// DefaultMaxPriceVariancePercentage — допустимое отклонение цены в нестрогом режиме.
var DefaultMaxPriceVariancePercentage = decimal.NewFromInt(10)

var hundred = decimal.NewFromInt(100)

// PriceValidationOptions управляет проверкой цен.
type PriceValidationOptions struct {
	StrictMode                 bool
	AllowPriceOverride         bool
	MaxPriceVariancePercentage decimal.Decimal
}

// DefaultPriceValidationOptions — строгая проверка.
func DefaultPriceValidationOptions() PriceValidationOptions {
	return PriceValidationOptions{
		StrictMode:                 true,
		MaxPriceVariancePercentage: DefaultMaxPriceVariancePercentage,
	}
}

// PriceValidationService сверяет цены позиций с каталогом.
type PriceValidationService struct{}

// NewPriceValidationService создаёт сервис проверки цен.
func NewPriceValidationService() *PriceValidationService {
	return &PriceValidationService{}
}

// ValidateForItems возвращает первую найденную ошибку в порядке позиций.
func (s *PriceValidationService) ValidateForItems(items []domain.SaleItem, snapshots map[string]domain.ProductSnapshot, opts PriceValidationOptions) error {
	for _, item := range items {
		snapshot, ok := snapshots[item.ProductID()]
		if !ok {
			return &domain.ProductNotFoundError{ProductID: item.ProductID()}
		}
		if err := checkPrice(item.ProductID(), snapshot.Price, item.UnitPrice(), opts); err != nil {
			return err
		}
	}
	return nil
}

func checkPrice(productID string, expected, actual decimal.Decimal, opts PriceValidationOptions) error {
	if opts.StrictMode {
		if !expected.Equal(actual) {
			return &domain.PriceMismatchError{ProductID: productID, Expected: expected, Actual: actual}
		}
		return nil
	}
	if opts.AllowPriceOverride {
		return nil
	}
	if expected.IsZero() {
		if !actual.IsZero() {
			return &domain.PriceMismatchError{ProductID: productID, Expected: expected, Actual: actual}
		}
		return nil
	}
	variance := actual.Sub(expected).Abs().Div(expected).Mul(hundred)
	if variance.GreaterThan(opts.MaxPriceVariancePercentage) {
		return &domain.PriceMismatchError{ProductID: productID, Expected: expected, Actual: actual}
	}
	return nil
}

// ExpectedTotal пересчитывает итог продажи по каталожным ценам с теми же скидками и налогами.
// Товары без снимка не учитываются.
func (s *PriceValidationService) ExpectedTotal(items []domain.SaleItem, snapshots map[string]domain.ProductSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		snapshot, ok := snapshots[item.ProductID()]
		if !ok {
			continue
		}
		repriced, err := item.WithUnitPrice(snapshot.Price)
		if err != nil {
			continue
		}
		total = total.Add(repriced.Total())
	}
	return total
}
