package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
)

// RoundMoney округляет сумму до копеек (half away from zero).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SaleItem — неизменяемая позиция продажи. Создаётся только через NewSaleItem.
type SaleItem struct {
	productID          string
	productName        string
	productSKU         string
	quantity           int64
	unitPrice          decimal.Decimal
	discountPercentage decimal.Decimal
	taxPercentage      decimal.Decimal
}

// SaleItemOption задаёт необязательные параметры позиции.
type SaleItemOption func(*SaleItem)

// WithDiscount задаёт процент скидки.
func WithDiscount(pct decimal.Decimal) SaleItemOption {
	return func(i *SaleItem) { i.discountPercentage = pct }
}

// WithTax задаёт процент налога.
func WithTax(pct decimal.Decimal) SaleItemOption {
	return func(i *SaleItem) { i.taxPercentage = pct }
}

// NewSaleItem проверяет параметры и возвращает позицию продажи.
func NewSaleItem(productID, productName, productSKU string, quantity int64, unitPrice decimal.Decimal, opts ...SaleItemOption) (SaleItem, error) {
	item := SaleItem{
		productID:          strings.TrimSpace(productID),
		productName:        strings.TrimSpace(productName),
		productSKU:         strings.TrimSpace(productSKU),
		quantity:           quantity,
		unitPrice:          unitPrice,
		discountPercentage: decimal.Zero,
		taxPercentage:      decimal.Zero,
	}
	for _, opt := range opts {
		opt(&item)
	}
	if err := item.validate(); err != nil {
		return SaleItem{}, err
	}
	return item, nil
}

func (i SaleItem) validate() error {
	if i.productID == "" {
		return NewValidationError("product_id", "is required")
	}
	if i.productName == "" {
		return NewValidationError("product_name", "is required")
	}
	if i.quantity <= 0 {
		return NewValidationError("quantity", "must be greater than zero")
	}
	if i.unitPrice.IsNegative() {
		return NewValidationError("unit_price", "must be non-negative")
	}
	if !percentageInRange(i.discountPercentage) {
		return NewValidationError("discount_percentage", "must be between 0 and 100")
	}
	if !percentageInRange(i.taxPercentage) {
		return NewValidationError("tax_percentage", "must be between 0 and 100")
	}
	return nil
}

func percentageInRange(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

func (i SaleItem) ProductID() string                   { return i.productID }
func (i SaleItem) ProductName() string                 { return i.productName }
func (i SaleItem) ProductSKU() string                  { return i.productSKU }
func (i SaleItem) Quantity() int64                     { return i.quantity }
func (i SaleItem) UnitPrice() decimal.Decimal          { return i.unitPrice }
func (i SaleItem) DiscountPercentage() decimal.Decimal { return i.discountPercentage }
func (i SaleItem) TaxPercentage() decimal.Decimal      { return i.taxPercentage }

// Subtotal = quantity × unitPrice.
func (i SaleItem) Subtotal() decimal.Decimal {
	return i.unitPrice.Mul(decimal.NewFromInt(i.quantity))
}

// DiscountAmount = subtotal × discount / 100.
func (i SaleItem) DiscountAmount() decimal.Decimal {
	return i.Subtotal().Mul(i.discountPercentage).Div(hundred)
}

// TaxableAmount = subtotal − discount.
func (i SaleItem) TaxableAmount() decimal.Decimal {
	return i.Subtotal().Sub(i.DiscountAmount())
}

// TaxAmount = taxable × tax / 100.
func (i SaleItem) TaxAmount() decimal.Decimal {
	return i.TaxableAmount().Mul(i.taxPercentage).Div(hundred)
}

// Total = taxable + tax.
func (i SaleItem) Total() decimal.Decimal {
	return i.TaxableAmount().Add(i.TaxAmount())
}

// WithQuantity возвращает копию позиции с новым количеством.
func (i SaleItem) WithQuantity(quantity int64) (SaleItem, error) {
	next := i
	next.quantity = quantity
	if err := next.validate(); err != nil {
		return SaleItem{}, err
	}
	return next, nil
}

// WithUnitPrice возвращает копию позиции с новой ценой.
func (i SaleItem) WithUnitPrice(price decimal.Decimal) (SaleItem, error) {
	next := i
	next.unitPrice = price
	if err := next.validate(); err != nil {
		return SaleItem{}, err
	}
	return next, nil
}
