package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// nowFunc подменяется в тестах.
var nowFunc = func() time.Time { return time.Now().UTC() }

// Sale — агрегат продажи. Все изменения статуса идут через методы жизненного цикла,
// каждый из которых проверяет переход и буферизует ровно одно событие.
type Sale struct {
	id            string
	companyID     string
	customerID    string
	items         []SaleItem
	status        SaleStatus
	invoiceID     string
	reservationID string
	failureReason string
	createdAt     time.Time
	updatedAt     time.Time
	metadata      map[string]string
	events        []DomainEvent
}

// NewSale создаёт продажу в статусе pending и буферизует sale.initiated.
func NewSale(companyID, customerID string, items []SaleItem) (*Sale, error) {
	companyID = strings.TrimSpace(companyID)
	customerID = strings.TrimSpace(customerID)
	if companyID == "" {
		return nil, NewValidationError("company_id", "is required")
	}
	if customerID == "" {
		return nil, NewValidationError("customer_id", "is required")
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "sale must contain at least one item")
	}

	now := nowFunc()
	sale := &Sale{
		id:         uuid.NewString(),
		companyID:  companyID,
		customerID: customerID,
		items:      append([]SaleItem(nil), items...),
		status:     SaleStatusPending,
		createdAt:  now,
		updatedAt:  now,
		metadata:   make(map[string]string),
	}
	sale.record(EventSaleInitiated, map[string]any{
		"customer_id": customerID,
		"items_count": len(items),
		"total":       RoundMoney(sale.Total()).StringFixed(2),
	})
	return sale, nil
}

func (s *Sale) ID() string            { return s.id }
func (s *Sale) CompanyID() string     { return s.companyID }
func (s *Sale) CustomerID() string    { return s.customerID }
func (s *Sale) Status() SaleStatus    { return s.status }
func (s *Sale) InvoiceID() string     { return s.invoiceID }
func (s *Sale) ReservationID() string { return s.reservationID }
func (s *Sale) FailureReason() string { return s.failureReason }
func (s *Sale) CreatedAt() time.Time  { return s.createdAt }
func (s *Sale) UpdatedAt() time.Time  { return s.updatedAt }

// Items возвращает копию позиций.
func (s *Sale) Items() []SaleItem {
	return append([]SaleItem(nil), s.items...)
}

// Metadata возвращает копию метаданных.
func (s *Sale) Metadata() map[string]string {
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata сохраняет произвольное значение; на статус не влияет.
func (s *Sale) SetMetadata(key, value string) {
	s.metadata[key] = value
}

// MarkValidated: pending → validated.
func (s *Sale) MarkValidated() error {
	if err := s.transition(SaleStatusValidated); err != nil {
		return err
	}
	s.record(EventSaleValidated, map[string]any{})
	return nil
}

// AssociateInvoice: validated → invoice_created.
func (s *Sale) AssociateInvoice(invoiceID string) error {
	if err := s.status.ValidateTransition(SaleStatusInvoiceCreated); err != nil {
		return err
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return &PreconditionViolationError{Reason: "invoice id is required"}
	}
	if err := s.transition(SaleStatusInvoiceCreated); err != nil {
		return err
	}
	s.invoiceID = invoiceID
	s.record(EventSaleInvoiceCreated, map[string]any{"invoice_id": invoiceID})
	return nil
}

// MarkStockDeducted: invoice_created → stock_deducted. reservationID — ссылка, которой помечены списания.
func (s *Sale) MarkStockDeducted(reservationID string) error {
	if err := s.transition(SaleStatusStockDeducted); err != nil {
		return err
	}
	s.reservationID = reservationID

	quantities := make([]map[string]any, 0, len(s.items))
	for _, item := range s.items {
		quantities = append(quantities, map[string]any{
			"product_id": item.ProductID(),
			"quantity":   item.Quantity(),
		})
	}
	s.record(EventSaleStockDeducted, map[string]any{
		"reservation_id": reservationID,
		"items":          quantities,
	})
	return nil
}

// Complete: stock_deducted → completed.
func (s *Sale) Complete() error {
	if err := s.transition(SaleStatusCompleted); err != nil {
		return err
	}
	s.record(EventSaleCompleted, map[string]any{
		"invoice_id": s.invoiceID,
		"total":      RoundMoney(s.Total()).StringFixed(2),
	})
	return nil
}

// Ключи metadata, которые заполняет MarkFailed.
const (
	MetadataFailureReason = "failure_reason"
	MetadataFailureCause  = "failure_cause"
)

// MarkFailed переводит продажу в failed и записывает причину и ошибку в metadata.
func (s *Sale) MarkFailed(reason string, cause error) error {
	previous := s.status
	if err := s.transition(SaleStatusFailed); err != nil {
		return err
	}
	s.failureReason = reason
	s.metadata[MetadataFailureReason] = reason
	payload := map[string]any{
		"reason":          reason,
		"previous_status": string(previous),
	}
	if cause != nil {
		s.metadata[MetadataFailureCause] = cause.Error()
		payload["error"] = cause.Error()
	}
	s.record(EventSaleFailed, payload)
	return nil
}

// StartCompensation допустим только из failed, invoice_created и stock_deducted.
func (s *Sale) StartCompensation() error {
	switch s.status {
	case SaleStatusFailed, SaleStatusInvoiceCreated, SaleStatusStockDeducted:
	default:
		return &InvalidStateTransitionError{From: s.status, To: SaleStatusCompensating}
	}
	if err := s.transition(SaleStatusCompensating); err != nil {
		return err
	}
	s.record(EventSaleCompensationStarted, map[string]any{"invoice_id": s.invoiceID})
	return nil
}

// MarkCompensated: compensating → compensated.
func (s *Sale) MarkCompensated() error {
	if err := s.transition(SaleStatusCompensated); err != nil {
		return err
	}
	s.record(EventSaleCompensationCompleted, map[string]any{})
	return nil
}

// NeedsCompensation: продажа провалилась после появления внешних изменений.
// Счёт создаётся раньше списаний, поэтому его наличие покрывает оба случая.
func (s *Sale) NeedsCompensation() bool {
	return s.status == SaleStatusFailed && s.invoiceID != ""
}

// Subtotal — сумма подытогов позиций.
func (s *Sale) Subtotal() decimal.Decimal {
	return s.sum(SaleItem.Subtotal)
}

// TotalDiscount — сумма скидок позиций.
func (s *Sale) TotalDiscount() decimal.Decimal {
	return s.sum(SaleItem.DiscountAmount)
}

// TotalTax — сумма налогов позиций.
func (s *Sale) TotalTax() decimal.Decimal {
	return s.sum(SaleItem.TaxAmount)
}

// Total — сумма итогов позиций.
func (s *Sale) Total() decimal.Decimal {
	return s.sum(SaleItem.Total)
}

func (s *Sale) sum(fn func(SaleItem) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(fn(item))
	}
	return total
}

// PendingEvents возвращает копию буфера без очистки.
func (s *Sale) PendingEvents() []DomainEvent {
	return append([]DomainEvent(nil), s.events...)
}

// PullEvents возвращает накопленные события и очищает буфер.
func (s *Sale) PullEvents() []DomainEvent {
	events := s.events
	s.events = nil
	return events
}

// DrainEvents передаёт буфер в publish и очищает его только при успехе,
// поэтому при ошибке повторный вызов отправит те же события.
func (s *Sale) DrainEvents(publish func([]DomainEvent) error) error {
	if len(s.events) == 0 {
		return nil
	}
	batch := s.PendingEvents()
	if err := publish(batch); err != nil {
		return err
	}
	s.events = s.events[len(batch):]
	if len(s.events) == 0 {
		s.events = nil
	}
	return nil
}

func (s *Sale) transition(to SaleStatus) error {
	if err := s.status.ValidateTransition(to); err != nil {
		return err
	}
	s.status = to
	s.updatedAt = nowFunc()
	return nil
}

func (s *Sale) record(name string, payload map[string]any) {
	s.events = append(s.events, DomainEvent{
		Name:        name,
		AggregateID: s.id,
		CompanyID:   s.companyID,
		OccurredAt:  s.updatedAt,
		Payload:     payload,
	})
}
