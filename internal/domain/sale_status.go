package domain

import "fmt"

// SaleStatus описывает жизненный цикл продажи.
type SaleStatus string

const (
	// SaleStatusPending — продажа создана, проверки ещё не пройдены.
	SaleStatusPending SaleStatus = "pending"
	// SaleStatusValidated — остатки и цены проверены.
	SaleStatusValidated SaleStatus = "validated"
	// SaleStatusInvoiceCreated — счёт выставлен.
	SaleStatusInvoiceCreated SaleStatus = "invoice_created"
	// SaleStatusStockDeducted — склад списан.
	SaleStatusStockDeducted SaleStatus = "stock_deducted"
	// SaleStatusCompleted — продажа завершена.
	SaleStatusCompleted SaleStatus = "completed"
	// SaleStatusFailed — попытка провалилась.
	SaleStatusFailed SaleStatus = "failed"
	// SaleStatusCompensating — идёт откат внешних изменений.
	SaleStatusCompensating SaleStatus = "compensating"
	// SaleStatusCompensated — откат завершён.
	SaleStatusCompensated SaleStatus = "compensated"
)

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusPending:        {SaleStatusValidated, SaleStatusFailed},
	SaleStatusValidated:      {SaleStatusInvoiceCreated, SaleStatusFailed, SaleStatusCompensating},
	SaleStatusInvoiceCreated: {SaleStatusStockDeducted, SaleStatusFailed, SaleStatusCompensating},
	SaleStatusStockDeducted:  {SaleStatusCompleted, SaleStatusFailed, SaleStatusCompensating},
	SaleStatusCompleted:      {},
	SaleStatusFailed:         {SaleStatusCompensating},
	SaleStatusCompensating:   {SaleStatusCompensated, SaleStatusFailed},
	SaleStatusCompensated:    {},
}

// ParseSaleStatus разбирает строковое представление статуса.
func ParseSaleStatus(s string) (SaleStatus, error) {
	status := SaleStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown sale status %q", s)
	}
	return status, nil
}

// Valid проверяет, что статус известен.
func (s SaleStatus) Valid() bool {
	_, ok := saleTransitions[s]
	return ok
}

// AllowedTransitions возвращает копию списка допустимых целевых статусов.
func (s SaleStatus) AllowedTransitions() []SaleStatus {
	allowed := saleTransitions[s]
	out := make([]SaleStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransitionTo сообщает, разрешён ли переход.
func (s SaleStatus) CanTransitionTo(to SaleStatus) bool {
	for _, candidate := range saleTransitions[s] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal — у статуса нет исходящих переходов.
func (s SaleStatus) IsTerminal() bool {
	return s.Valid() && len(saleTransitions[s]) == 0
}

// ValidateTransition возвращает InvalidStateTransitionError для запрещённого перехода.
func (s SaleStatus) ValidateTransition(to SaleStatus) error {
	if !s.CanTransitionTo(to) {
		return &InvalidStateTransitionError{From: s, To: to}
	}
	return nil
}
