package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// defaultIdempotencyTTL — срок хранения ответа, если TTL не передан.
const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{items: make(map[string]domain.IdempotencyRecord)}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return cloneIdempotencyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneIdempotencyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.items[key] = record
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(_ context.Context, key string, responseBody []byte, resultCode int) error {
	return r.markStatus(key, domain.IdempotencyStatusDone, responseBody, resultCode)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(_ context.Context, key string, responseBody []byte, resultCode int) error {
	return r.markStatus(key, domain.IdempotencyStatusFailed, responseBody, resultCode)
}

// DeleteExpired удаляет до limit самых старых просроченных записей.
func (r *idempotencyRepositoryInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.items {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(r.items, record.Key)
	}
	return len(expired), nil
}

func (r *idempotencyRepositoryInMemory) markStatus(key string, status domain.IdempotencyStatus, responseBody []byte, resultCode int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.ResultCode = resultCode
	record.UpdatedAt = time.Now().UTC()
	r.items[key] = record
	return nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
