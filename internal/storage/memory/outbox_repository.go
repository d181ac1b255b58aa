package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// OutboxRepository — in-memory хранилище transactional outbox.
type OutboxRepository struct {
	mu      sync.RWMutex
	seq     int64
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет пачку событий со статусом pending под одной блокировкой.
func (r *OutboxRepository) Enqueue(_ context.Context, msgs ...domain.OutboxMessage) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	saved := make([]domain.OutboxMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		r.seq++
		r.records[msg.ID] = &outboxRecord{
			msg:       msg,
			seq:       r.seq,
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		}
		saved = append(saved, msg)
	}
	return saved, nil
}

// PullPending возвращает до limit сообщений со статусом pending в порядке постановки.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	pending := r.pendingLocked()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending сообщения.
func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingLocked()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает копию всех pending сообщений (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingLocked()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result
}

func (r *OutboxRepository) pendingLocked() []*outboxRecord {
	result := make([]*outboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.status == outboxStatusPending {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
