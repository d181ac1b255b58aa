package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecordItem — позиция в сохранённой записи о продаже.
type SaleRecordItem struct {
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductSKU         string          `json:"product_sku,omitempty"`
	Quantity           int64           `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	Total              decimal.Decimal `json:"total"`
}

// SaleRecord — итог попытки продажи, хранимый сервисом.
type SaleRecord struct {
	ID            string
	CompanyID     string
	CustomerID    string
	Status        SaleStatus
	InvoiceID     string
	ReservationID string
	Items         []SaleRecordItem
	Movements     []StockMovementRecord
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalTax      decimal.Decimal
	Total         decimal.Decimal
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSaleRecord снимает состояние агрегата. status задаётся явно: запись о завершённой
// продаже пишется в транзакции до применения Complete.
func NewSaleRecord(sale *Sale, status SaleStatus, movements []StockMovementRecord) SaleRecord {
	items := sale.Items()
	recordItems := make([]SaleRecordItem, 0, len(items))
	for _, item := range items {
		recordItems = append(recordItems, SaleRecordItem{
			ProductID:          item.ProductID(),
			ProductName:        item.ProductName(),
			ProductSKU:         item.ProductSKU(),
			Quantity:           item.Quantity(),
			UnitPrice:          item.UnitPrice(),
			DiscountPercentage: item.DiscountPercentage(),
			TaxPercentage:      item.TaxPercentage(),
			Total:              RoundMoney(item.Total()),
		})
	}
	return SaleRecord{
		ID:            sale.ID(),
		CompanyID:     sale.CompanyID(),
		CustomerID:    sale.CustomerID(),
		Status:        status,
		InvoiceID:     sale.InvoiceID(),
		ReservationID: sale.ReservationID(),
		Items:         recordItems,
		Movements:     append([]StockMovementRecord(nil), movements...),
		Subtotal:      RoundMoney(sale.Subtotal()),
		TotalDiscount: RoundMoney(sale.TotalDiscount()),
		TotalTax:      RoundMoney(sale.TotalTax()),
		Total:         RoundMoney(sale.Total()),
		FailureReason: sale.FailureReason(),
		CreatedAt:     sale.CreatedAt(),
		UpdatedAt:     sale.UpdatedAt(),
	}
}

// SagaLogEntry — прогресс саги, достаточный для компенсации после падения процесса.
type SagaLogEntry struct {
	SaleID        string
	CompanyID     string
	CustomerID    string
	Status        SaleStatus
	InvoiceID     string
	ReservationID string
	Movements     []StockMovementRecord
	// ReversedMovements — движения, уже откатанные компенсацией.
	ReversedMovements []string
	InvoiceDeleted    bool
	FailureReason     string
	Finished          bool
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasSideEffects — сага успела создать счёт или списать склад.
func (e SagaLogEntry) HasSideEffects() bool {
	return e.InvoiceID != "" || len(e.Movements) > 0
}

// IsReversed сообщает, что движение уже откатано.
func (e SagaLogEntry) IsReversed(movementID string) bool {
	for _, id := range e.ReversedMovements {
		if id == movementID {
			return true
		}
	}
	return false
}

// RollingBack сообщает, что по записи уже началась отмена: есть откаты,
// удалён счёт или запись закрыта не как completed.
func (e SagaLogEntry) RollingBack() bool {
	switch {
	case e.InvoiceDeleted, len(e.ReversedMovements) > 0:
		return true
	case e.Status == SaleStatusCompensating, e.Status == SaleStatusCompensated:
		return true
	case e.Finished && e.Status != SaleStatusCompleted:
		return true
	}
	return false
}

// Compensated — все движения откатаны, счёт (если был) удалён.
func (e SagaLogEntry) Compensated() bool {
	for _, movement := range e.Movements {
		if !e.IsReversed(movement.MovementID) {
			return false
		}
	}
	return e.InvoiceID == "" || e.InvoiceDeleted
}
