package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const saleColumns = `
	id, company_id, customer_id, status, invoice_id, reservation_id,
	subtotal, total_discount, total_tax, total, stock_movements,
	failure_reason, created_at, updated_at`

type saleRepository struct {
	store *Store
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
// Внутри WithinTransaction запись идёт в транзакцию саги.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{store: store}
}

func (r *saleRepository) Create(ctx context.Context, record domain.SaleRecord) error {
	movements, err := json.Marshal(nonNilMovements(record.Movements))
	if err != nil {
		return fmt.Errorf("marshal stock movements: %w", err)
	}

	return r.store.WithinTransaction(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		q := r.store.conn(ctx)

		if _, err := q.ExecContext(opCtx, `
			INSERT INTO sales (`+saleColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`,
			record.ID, record.CompanyID, record.CustomerID, string(record.Status),
			record.InvoiceID, record.ReservationID,
			record.Subtotal, record.TotalDiscount, record.TotalTax, record.Total,
			movements, record.FailureReason, record.CreatedAt, record.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrSaleAlreadyExists
			}
			return fmt.Errorf("insert sale: %w", err)
		}

		for i, item := range record.Items {
			if _, err := q.ExecContext(opCtx, `
				INSERT INTO sale_items (
					sale_id, position, product_id, product_name, product_sku,
					quantity, unit_price, discount_percentage, tax_percentage, total
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`,
				record.ID, i, item.ProductID, item.ProductName, item.ProductSKU,
				item.Quantity, item.UnitPrice, item.DiscountPercentage, item.TaxPercentage, item.Total,
			); err != nil {
				return fmt.Errorf("insert sale item: %w", err)
			}
		}
		return nil
	})
}

func (r *saleRepository) Get(ctx context.Context, companyID, id string) (domain.SaleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.conn(ctx).QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1 AND company_id = $2
	`, id, companyID)

	record, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SaleRecord{}, domain.ErrSaleNotFound
		}
		return domain.SaleRecord{}, err
	}

	items, err := r.loadItems(ctx, record.ID)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	record.Items = items
	return record, nil
}

func (r *saleRepository) ListByCustomer(ctx context.Context, companyID, customerID string, limit int) ([]domain.SaleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE company_id = $1 AND customer_id = $2
		ORDER BY created_at DESC, id DESC
	`
	args := []any{companyID, customerID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	records := make([]domain.SaleRecord, 0)
	for rows.Next() {
		record, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale rows: %w", err)
	}

	for i := range records {
		items, err := r.loadItems(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Items = items
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.SaleRecord, error) {
	var (
		record    domain.SaleRecord
		status    string
		movements []byte
	)
	if err := row.Scan(
		&record.ID, &record.CompanyID, &record.CustomerID, &status,
		&record.InvoiceID, &record.ReservationID,
		&record.Subtotal, &record.TotalDiscount, &record.TotalTax, &record.Total,
		&movements, &record.FailureReason, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SaleRecord{}, err
		}
		return domain.SaleRecord{}, fmt.Errorf("scan sale row: %w", err)
	}

	parsed, err := domain.ParseSaleStatus(status)
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("sale %s: %w", record.ID, err)
	}
	record.Status = parsed
	if err := json.Unmarshal(movements, &record.Movements); err != nil {
		return domain.SaleRecord{}, fmt.Errorf("unmarshal stock movements of sale %s: %w", record.ID, err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func (r *saleRepository) loadItems(ctx context.Context, saleID string) ([]domain.SaleRecordItem, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, `
		SELECT product_id, product_name, product_sku, quantity,
		       unit_price, discount_percentage, tax_percentage, total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleRecordItem, 0)
	for rows.Next() {
		var item domain.SaleRecordItem
		if err := rows.Scan(
			&item.ProductID, &item.ProductName, &item.ProductSKU, &item.Quantity,
			&item.UnitPrice, &item.DiscountPercentage, &item.TaxPercentage, &item.Total,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}

	return items, nil
}

func nonNilMovements(movements []domain.StockMovementRecord) []domain.StockMovementRecord {
	if movements == nil {
		return []domain.StockMovementRecord{}
	}
	return movements
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.SaleRepository = (*saleRepository)(nil)
