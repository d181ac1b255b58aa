package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessSaleItem — позиция входящего запроса.
type ProcessSaleItem struct {
	ProductID          string           `json:"product_id"`
	Quantity           int64            `json:"quantity"`
	UnitPrice          decimal.Decimal  `json:"unit_price"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty"`
	// TaxPercentage == nil — берётся ставка из карточки товара.
	TaxPercentage *decimal.Decimal `json:"tax_percentage,omitempty"`
}

// ProcessSaleOptions — необязательные параметры обработки.
type ProcessSaleOptions struct {
	InvoiceType InvoiceType `json:"invoice_type,omitempty"`
	IssueDate   time.Time   `json:"issue_date,omitempty"`
	DueDate     time.Time   `json:"due_date,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	// StrictPriceValidation == nil означает строгую проверку.
	StrictPriceValidation      *bool            `json:"strict_price_validation,omitempty"`
	SkipStockValidation        bool             `json:"skip_stock_validation,omitempty"`
	AllowPriceOverride         bool             `json:"allow_price_override,omitempty"`
	MaxPriceVariancePercentage *decimal.Decimal `json:"max_price_variance_percentage,omitempty"`
}

// StrictPrices возвращает итоговый режим проверки цен.
func (o ProcessSaleOptions) StrictPrices() bool {
	return o.StrictPriceValidation == nil || *o.StrictPriceValidation
}

// ProcessSaleRequest — команда на обработку продажи.
type ProcessSaleRequest struct {
	CompanyID  string             `json:"company_id"`
	CustomerID string             `json:"customer_id"`
	Items      []ProcessSaleItem  `json:"items"`
	Options    ProcessSaleOptions `json:"options"`
}

// Validate проверяет форму запроса до обращения к коллабораторам.
func (r ProcessSaleRequest) Validate() error {
	if r.CompanyID == "" {
		return NewValidationError("company_id", "is required")
	}
	if r.CustomerID == "" {
		return NewValidationError("customer_id", "is required")
	}
	if len(r.Items) == 0 {
		return NewValidationError("items", "sale must contain at least one item")
	}
	for _, item := range r.Items {
		if item.ProductID == "" {
			return NewValidationError("items.product_id", "is required")
		}
		if item.Quantity <= 0 {
			return NewValidationError("items.quantity", "must be greater than zero")
		}
	}
	if r.Options.InvoiceType != "" && !r.Options.InvoiceType.Valid() {
		return NewValidationError("options.invoice_type", "unsupported invoice type")
	}
	if !r.Options.IssueDate.IsZero() && !r.Options.DueDate.IsZero() && r.Options.DueDate.Before(r.Options.IssueDate) {
		return NewValidationError("options.due_date", "must not be before issue_date")
	}
	return nil
}

// ProductIDs возвращает уникальные идентификаторы товаров в порядке появления.
func (r ProcessSaleRequest) ProductIDs() []string {
	seen := make(map[string]struct{}, len(r.Items))
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ProcessSaleResult — результат успешной продажи.
type ProcessSaleResult struct {
	SaleID         string                `json:"sale_id"`
	InvoiceID      string                `json:"invoice_id"`
	Status         SaleStatus            `json:"status"`
	Subtotal       decimal.Decimal       `json:"subtotal"`
	TotalDiscount  decimal.Decimal       `json:"total_discount"`
	TotalTax       decimal.Decimal       `json:"total_tax"`
	Total          decimal.Decimal       `json:"total"`
	StockMovements []StockMovementRecord `json:"stock_movements"`
	ProcessedAt    time.Time             `json:"processed_at"`
	Warnings       []string              `json:"warnings,omitempty"`
}
