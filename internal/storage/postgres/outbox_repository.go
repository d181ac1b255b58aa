package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultOutboxBatch = 100

type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

// Enqueue пишет пачку одной транзакцией; внутри WithinTransaction — в транзакцию вызывающего.
func (r *outboxRepository) Enqueue(ctx context.Context, msgs ...domain.OutboxMessage) ([]domain.OutboxMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	stored := make([]domain.OutboxMessage, 0, len(msgs))
	err := r.store.WithinTransaction(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		now := time.Now().UTC()
		for _, msg := range msgs {
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			if _, err := r.store.conn(ctx).ExecContext(opCtx, `
				INSERT INTO outbox_messages (
					id, aggregate_type, aggregate_id, event_type, payload,
					status, attempt_count, created_at, updated_at
				) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6)
			`,
				msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now,
			); err != nil {
				return fmt.Errorf("enqueue outbox message: %w", err)
			}
			stored = append(stored, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "sent")
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "failed")
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.conn(ctx).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}

	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
