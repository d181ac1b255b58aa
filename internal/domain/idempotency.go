package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyRequired — пустой ключ.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключа нет в хранилище.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — продажа обработана, ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — продажа отклонена, сохранён код ошибки.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит результат ProcessSale для повторных запросов с тем же ключом.
// ResultCode — код gRPC, с которым завершился первый запрос.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	ResultCode   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Expired сообщает, что запись можно удалять.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}
