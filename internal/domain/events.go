package domain

import "time"

// Имена доменных событий продажи.
const (
	EventSaleInitiated             = "sale.initiated"
	EventSaleValidated             = "sale.validated"
	EventSaleInvoiceCreated        = "sale.invoice.created"
	EventSaleStockDeducted         = "sale.stock.deducted"
	EventSaleCompleted             = "sale.completed"
	EventSaleFailed                = "sale.failed"
	EventSaleCompensationStarted   = "sale.compensation.started"
	EventSaleCompensationCompleted = "sale.compensation.completed"
)

// DomainEvent — событие, накопленное агрегатом продажи.
type DomainEvent struct {
	Name        string
	AggregateID string
	CompanyID   string
	OccurredAt  time.Time
	Payload     map[string]any
}

// TimelineEvent — запись истории продажи, доступная через API.
type TimelineEvent struct {
	SaleID   string
	Type     string
	Reason   string
	Occurred time.Time
}
