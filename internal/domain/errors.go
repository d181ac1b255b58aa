package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation — входные данные продажи или позиции некорректны.
	ErrValidation = errors.New("validation error")
	// ErrProductNotFound — товар из позиции отсутствует в каталоге компании.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInactive — товар существует, но не активен.
	ErrProductInactive = errors.New("product inactive")
	// ErrInsufficientStock — физического товара не хватает на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPriceMismatch — цена позиции расходится с каталожной.
	ErrPriceMismatch = errors.New("price mismatch")
	// ErrInvalidStateTransition — переход статуса продажи запрещён таблицей переходов.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrPreconditionViolation — нарушено предусловие операции агрегата.
	ErrPreconditionViolation = errors.New("precondition violation")
	// ErrSaleProcessing — сага продажи провалилась после начала внешних изменений.
	ErrSaleProcessing = errors.New("sale processing failed")

	// ErrSaleNotFound возвращается, если запись о продаже не найдена.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleAlreadyExists возвращается при повторном сохранении записи о продаже.
	ErrSaleAlreadyExists = errors.New("sale already exists")
	// ErrSagaLogNotFound возвращается, если в журнале саги нет записи.
	ErrSagaLogNotFound = errors.New("saga log entry not found")
	// ErrSagaLogVersionConflict сигнализирует о конфликте версий журнала саги.
	ErrSagaLogVersionConflict = errors.New("saga log version conflict")
	// ErrSagaTakenOver — запись журнала перехватил воркер восстановления, сага дальше не идёт.
	ErrSagaTakenOver = errors.New("saga taken over by recovery")
	// ErrInvoiceNotFound возвращается сервисом счетов, если счёт не найден.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrCircuitOpen — вызов отклонён открытым circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий журнала саги.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrSagaLogVersionConflict)
}

// ValidationError описывает некорректное поле.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProductNotFoundError содержит идентификатор отсутствующего товара.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// ProductInactiveError содержит идентификатор и статус неактивного товара.
type ProductInactiveError struct {
	ProductID string
	Status    ProductStatus
}

func (e *ProductInactiveError) Error() string {
	return fmt.Sprintf("product %s is not active (status %s)", e.ProductID, e.Status)
}

func (e *ProductInactiveError) Unwrap() error { return ErrProductInactive }

// InsufficientStockError содержит запрошенное и доступное количество.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PriceMismatchError содержит каталожную и фактическую цену.
type PriceMismatchError struct {
	ProductID string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price mismatch for product %s: expected %s, got %s", e.ProductID, e.Expected.String(), e.Actual.String())
}

func (e *PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// InvalidStateTransitionError описывает запрещённый переход.
type InvalidStateTransitionError struct {
	From SaleStatus
	To   SaleStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// PreconditionViolationError описывает нарушенное предусловие.
type PreconditionViolationError struct {
	Reason string
}

func (e *PreconditionViolationError) Error() string {
	return fmt.Sprintf("precondition violation: %s", e.Reason)
}

func (e *PreconditionViolationError) Unwrap() error { return ErrPreconditionViolation }

// SaleProcessingError — итоговая ошибка саги после начала внешних изменений.
// Cause всегда хранит исходную причину; ошибки компенсации не подменяют её.
type SaleProcessingError struct {
	SaleID             string
	Status             SaleStatus
	Cause              error
	CompensationErrors []error
}

func (e *SaleProcessingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sale %s processing failed", e.SaleID)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if len(e.CompensationErrors) > 0 {
		fmt.Fprintf(&b, " (%d compensation errors)", len(e.CompensationErrors))
	}
	return b.String()
}

// Unwrap позволяет errors.Is/As находить и ErrSaleProcessing, и исходную причину.
func (e *SaleProcessingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSaleProcessing}
	}
	return []error{ErrSaleProcessing, e.Cause}
}

// IsBusinessRejection сообщает, что продажа отклонена по бизнес-правилам и повтор бесполезен.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPriceMismatch)
}
