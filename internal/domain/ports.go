package domain

import (
	"context"
	"time"
)

// ProductService — каталог товаров и складские остатки.
type ProductService interface {
	// FindByIDs возвращает найденные товары компании; отсутствующие просто не попадают в ответ.
	FindByIDs(ctx context.Context, companyID string, ids []string) ([]ProductSnapshot, error)
	// UpdateStock атомарно меняет остаток и возвращает зафиксированное движение.
	UpdateStock(ctx context.Context, update StockUpdate) (StockMovement, error)
}

// InvoiceService — выставление счетов.
type InvoiceService interface {
	// CreateWithItems создаёт счёт со строками одной операцией.
	CreateWithItems(ctx context.Context, draft InvoiceDraft) (Invoice, error)
	// Delete удаляет счёт (используется только компенсацией).
	Delete(ctx context.Context, companyID, invoiceID string) error
}

// EventSink принимает пачку доменных событий. Пачка принимается целиком или отклоняется.
type EventSink interface {
	Publish(ctx context.Context, events []DomainEvent) error
}

// Transactor выполняет fn в транзакции собственного хранилища сервиса.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// SagaStep задаёт константы шагов для метрик, логов и трассировки.
type SagaStep string

const (
	SagaStepLoadProducts  SagaStep = "load_products"
	SagaStepValidate      SagaStep = "validate"
	SagaStepCreateInvoice SagaStep = "create_invoice"
	SagaStepDeductStock   SagaStep = "deduct_stock"
	SagaStepPersist       SagaStep = "persist"
	SagaStepPublishEvents SagaStep = "publish_events"
	SagaStepReverseStock  SagaStep = "reverse_stock"
	SagaStepDeleteInvoice SagaStep = "delete_invoice"
	SagaStepCompensate    SagaStep = "compensate"
	SagaStepRecover       SagaStep = "recover"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
