package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepository struct {
	store *Store
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{store: store}
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Просроченный ключ перехватывается новым запросом, активный остаётся нетронутым.
	var inserted string
	err := r.store.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (
			key, request_hash, response_body, result_code, status, ttl_at, created_at, updated_at
		) VALUES ($1,$2,NULL,NULL,$3,$4,$5,$5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    result_code = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key
	`,
		key,
		requestHash,
		string(domain.IdempotencyStatusProcessing),
		ttlAt,
		now,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	return domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record       domain.IdempotencyRecord
		statusRaw    string
		responseBody []byte
		resultCode   sql.NullInt64
	)

	err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT key, request_hash, response_body, result_code, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(
		&record.Key,
		&record.RequestHash,
		&responseBody,
		&resultCode,
		&statusRaw,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", statusRaw, key)
	}

	record.ResponseBody = append([]byte(nil), responseBody...)
	if resultCode.Valid {
		record.ResultCode = int(resultCode.Int64)
	}

	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, resultCode int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, resultCode)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, resultCode int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, resultCode)
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = r.store.conn(ctx).ExecContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key
				FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.store.conn(ctx).ExecContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}

	return int(affected), nil
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, resultCode int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $1,
		    result_code = $2,
		    status = $3,
		    updated_at = $4
		WHERE key = $5
	`,
		responseBody,
		resultCode,
		string(status),
		time.Now().UTC(),
		key,
	)
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}

	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
