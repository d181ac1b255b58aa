package domain

import (
	"context"
	"time"
)

// SaleRepository хранит итоговые записи о продажах.
type SaleRepository interface {
	// Create сохраняет запись. Возвращает ErrSaleAlreadyExists для повторного ID.
	Create(ctx context.Context, record SaleRecord) error
	// Get возвращает запись компании или ErrSaleNotFound.
	Get(ctx context.Context, companyID, id string) (SaleRecord, error)
	// ListByCustomer возвращает продажи клиента, новые первыми.
	ListByCustomer(ctx context.Context, companyID, customerID string, limit int) ([]SaleRecord, error)
}

// SagaLogRepository — журнал выполнения саги. Пишется вне транзакции продажи,
// чтобы пережить её откат и падение процесса.
type SagaLogRepository interface {
	Begin(ctx context.Context, entry SagaLogEntry) error
	Get(ctx context.Context, saleID string) (SagaLogEntry, error)
	// Save применяет изменения с optimistic locking и возвращает запись с новой версией.
	Save(ctx context.Context, entry SagaLogEntry) (SagaLogEntry, error)
	// ListUnfinished возвращает незавершённые записи, не обновлявшиеся с before.
	ListUnfinished(ctx context.Context, before time.Time, limit int) ([]SagaLogEntry, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	// Enqueue сохраняет пачку сообщений атомарно.
	Enqueue(ctx context.Context, msgs ...OutboxMessage) ([]OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит историю продажи.
type TimelineRepository interface {
	Append(ctx context.Context, events ...TimelineEvent) error
	List(ctx context.Context, saleID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, resultCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, resultCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
