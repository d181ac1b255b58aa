package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const sagaLogColumns = `
	sale_id, company_id, customer_id, status, invoice_id, reservation_id,
	movements, reversed_movements, invoice_deleted, failure_reason,
	finished, version, created_at, updated_at`

type sagaLogRepository struct {
	store *Store
}

// NewSagaLogRepository создаёт PostgreSQL-реализацию журнала саги.
func NewSagaLogRepository(store *Store) domain.SagaLogRepository {
	return &sagaLogRepository{store: store}
}

func (r *sagaLogRepository) Begin(ctx context.Context, entry domain.SagaLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	movements, reversed, err := encodeSagaProgress(entry)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	if _, err := r.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO saga_log (`+sagaLogColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13)
	`,
		entry.SaleID, entry.CompanyID, entry.CustomerID, string(entry.Status),
		entry.InvoiceID, entry.ReservationID, movements, reversed,
		entry.InvoiceDeleted, entry.FailureReason, entry.Finished,
		entry.CreatedAt, now,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSagaLogVersionConflict
		}
		return fmt.Errorf("insert saga log entry: %w", err)
	}
	return nil
}

func (r *sagaLogRepository) Get(ctx context.Context, saleID string) (domain.SagaLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry, err := scanSagaLog(r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+sagaLogColumns+`
		FROM saga_log
		WHERE sale_id = $1
	`, saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SagaLogEntry{}, domain.ErrSagaLogNotFound
	}
	return entry, err
}

// Save обновляет запись, только если версия не изменилась с момента чтения.
func (r *sagaLogRepository) Save(ctx context.Context, entry domain.SagaLogEntry) (domain.SagaLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	movements, reversed, err := encodeSagaProgress(entry)
	if err != nil {
		return domain.SagaLogEntry{}, err
	}

	saved, err := scanSagaLog(r.store.conn(ctx).QueryRowContext(ctx, `
		UPDATE saga_log
		SET status = $1,
		    invoice_id = $2,
		    reservation_id = $3,
		    movements = $4,
		    reversed_movements = $5,
		    invoice_deleted = $6,
		    failure_reason = $7,
		    finished = $8,
		    version = version + 1,
		    updated_at = $9
		WHERE sale_id = $10
		  AND version = $11
		RETURNING `+sagaLogColumns,
		string(entry.Status), entry.InvoiceID, entry.ReservationID,
		movements, reversed, entry.InvoiceDeleted, entry.FailureReason, entry.Finished,
		time.Now().UTC(), entry.SaleID, entry.Version,
	))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.SagaLogEntry{}, err
	}

	if _, getErr := r.Get(ctx, entry.SaleID); getErr != nil {
		return domain.SagaLogEntry{}, getErr
	}
	return domain.SagaLogEntry{}, domain.ErrSagaLogVersionConflict
}

func (r *sagaLogRepository) ListUnfinished(ctx context.Context, before time.Time, limit int) ([]domain.SagaLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT `+sagaLogColumns+`
		FROM saga_log
		WHERE finished = FALSE
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished sagas: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.SagaLogEntry, 0)
	for rows.Next() {
		entry, err := scanSagaLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga log rows: %w", err)
	}
	return entries, nil
}

func encodeSagaProgress(entry domain.SagaLogEntry) ([]byte, []byte, error) {
	movements, err := json.Marshal(nonNilMovements(entry.Movements))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal saga movements: %w", err)
	}
	reversedIDs := entry.ReversedMovements
	if reversedIDs == nil {
		reversedIDs = []string{}
	}
	reversed, err := json.Marshal(reversedIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal reversed movements: %w", err)
	}
	return movements, reversed, nil
}

func scanSagaLog(row rowScanner) (domain.SagaLogEntry, error) {
	var (
		entry     domain.SagaLogEntry
		status    string
		movements []byte
		reversed  []byte
	)
	if err := row.Scan(
		&entry.SaleID, &entry.CompanyID, &entry.CustomerID, &status,
		&entry.InvoiceID, &entry.ReservationID, &movements, &reversed,
		&entry.InvoiceDeleted, &entry.FailureReason, &entry.Finished,
		&entry.Version, &entry.CreatedAt, &entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SagaLogEntry{}, err
		}
		return domain.SagaLogEntry{}, fmt.Errorf("scan saga log row: %w", err)
	}

	entry.Status = domain.SaleStatus(status)
	if err := json.Unmarshal(movements, &entry.Movements); err != nil {
		return domain.SagaLogEntry{}, fmt.Errorf("unmarshal saga movements of %s: %w", entry.SaleID, err)
	}
	if err := json.Unmarshal(reversed, &entry.ReversedMovements); err != nil {
		return domain.SagaLogEntry{}, fmt.Errorf("unmarshal reversed movements of %s: %w", entry.SaleID, err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

var _ domain.SagaLogRepository = (*sagaLogRepository)(nil)
