package saga

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	stockReasonSale         = "sale"
	stockReasonCompensation = "sale_compensation"
)

// compensator откатывает внешние изменения, перечисленные в записи журнала.
// Используется и оркестратором, и воркером восстановления.
type compensator struct {
	products domain.ProductService
	invoices domain.InvoiceService
	logger   *log.Entry
	metrics  *metrics.SagaMetrics
}

// undo возвращает движения в обратном порядке, затем удаляет счёт.
// Каждое действие выполняется независимо; ошибки собираются, а entry отмечает
// то, что удалось откатить, чтобы повторная компенсация не задваивала возвраты.
func (c *compensator) undo(ctx context.Context, entry *domain.SagaLogEntry) []error {
	var errs []error

	for i := len(entry.Movements) - 1; i >= 0; i-- {
		movement := entry.Movements[i]
		if entry.IsReversed(movement.MovementID) {
			continue
		}
		if err := c.reverseMovement(ctx, entry, movement); err != nil {
			errs = append(errs, err)
			continue
		}
		entry.ReversedMovements = append(entry.ReversedMovements, movement.MovementID)
	}

	if entry.InvoiceID != "" && !entry.InvoiceDeleted {
		if err := c.invoices.Delete(ctx, entry.CompanyID, entry.InvoiceID); err != nil {
			c.recordFailure(domain.SagaStepDeleteInvoice)
			c.logger.WithError(err).WithFields(log.Fields{
				"sale_id":    entry.SaleID,
				"invoice_id": entry.InvoiceID,
			}).Error("invoice delete failed during compensation")
			errs = append(errs, fmt.Errorf("delete invoice %s: %w", entry.InvoiceID, err))
		} else {
			entry.InvoiceDeleted = true
		}
	}

	return errs
}

func (c *compensator) reverseMovement(ctx context.Context, entry *domain.SagaLogEntry, movement domain.StockMovementRecord) error {
	quantity := movement.Quantity
	if movement.Type == domain.StockMovementIn {
		quantity = -quantity
	}
	_, err := c.products.UpdateStock(ctx, domain.StockUpdate{
		CompanyID: entry.CompanyID,
		ProductID: movement.ProductID,
		Quantity:  quantity,
		Reason:    stockReasonCompensation,
		Reference: fmt.Sprintf("compensation:%s movement:%s", entry.SaleID, movement.MovementID),
	})
	if err != nil {
		c.recordFailure(domain.SagaStepReverseStock)
		c.logger.WithError(err).WithFields(log.Fields{
			"sale_id":     entry.SaleID,
			"product_id":  movement.ProductID,
			"movement_id": movement.MovementID,
			"quantity":    movement.Quantity,
		}).Error("stock reversal failed during compensation")
		return fmt.Errorf("reverse movement %s: %w", movement.MovementID, err)
	}
	c.logger.WithFields(log.Fields{
		"sale_id":     entry.SaleID,
		"product_id":  movement.ProductID,
		"movement_id": movement.MovementID,
	}).Debug("stock movement reversed")
	return nil
}

func (c *compensator) recordFailure(step domain.SagaStep) {
	if c.metrics != nil {
		c.metrics.RecordCompensationFailure(string(step))
	}
}
