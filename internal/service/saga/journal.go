package saga

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	journalMaxRetries = 3
	journalBaseDelay  = 10 * time.Millisecond
)

// beginJournal открывает запись журнала саги для нового агрегата.
func (o *ProcessSaleOrchestrator) beginJournal(run *sagaRun) error {
	sale := run.sale
	run.entry = domain.SagaLogEntry{
		SaleID:     sale.ID(),
		CompanyID:  sale.CompanyID(),
		CustomerID: sale.CustomerID(),
		Status:     sale.Status(),
		CreatedAt:  sale.CreatedAt(),
	}
	if o.sagaLog == nil {
		return nil
	}
	if err := o.sagaLog.Begin(run.logCtx, run.entry); err != nil {
		return fmt.Errorf("begin saga log: %w", err)
	}
	stored, err := o.sagaLog.Get(run.logCtx, sale.ID())
	if err != nil {
		return fmt.Errorf("load saga log: %w", err)
	}
	run.entry = stored
	run.journaled = true
	return nil
}

// journal сохраняет run.entry вне транзакции продажи.
func (o *ProcessSaleOrchestrator) journal(run *sagaRun, step domain.SagaStep) error {
	return o.saveJournal(run.logCtx, run, step)
}

// saveJournal сохраняет run.entry с optimistic locking. При конфликте версий
// перечитывает запись. Если её уже откатывает воркер восстановления, прямой ход
// саги останавливается с ErrSagaTakenOver. На шаге компенсации прогресс
// объединяется и запись сохраняется повторно с exponential backoff.
func (o *ProcessSaleOrchestrator) saveJournal(ctx context.Context, run *sagaRun, step domain.SagaStep) error {
	if o.sagaLog == nil || !run.journaled {
		return nil
	}

	desired := run.entry
	for attempt := 0; attempt < journalMaxRetries; attempt++ {
		saved, err := o.sagaLog.Save(ctx, desired)
		if err == nil {
			run.entry = saved
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == journalMaxRetries-1 {
			o.logger.WithError(err).WithFields(log.Fields{
				"sale_id": desired.SaleID,
				"step":    step,
				"attempt": attempt + 1,
			}).Error("failed to persist saga log")
			return fmt.Errorf("saga log %s: %w", step, err)
		}

		fresh, loadErr := o.sagaLog.Get(ctx, desired.SaleID)
		if loadErr != nil {
			o.logger.WithError(loadErr).WithField("sale_id", desired.SaleID).Error("failed to reload saga log after conflict")
			return fmt.Errorf("reload saga log: %w", loadErr)
		}

		if step != domain.SagaStepCompensate && fresh.RollingBack() {
			run.entry = mergeCompensation(desired, fresh)
			run.claim = &fresh
			o.logger.WithFields(log.Fields{
				"sale_id": desired.SaleID,
				"step":    step,
				"status":  fresh.Status,
			}).Warn("saga taken over by recovery, stopping forward path")
			return domain.ErrSagaTakenOver
		}

		o.logger.WithFields(log.Fields{
			"sale_id": desired.SaleID,
			"step":    step,
			"attempt": attempt + 1,
			"version": desired.Version,
		}).Warn("saga log version conflict detected, retrying")

		desired = mergeCompensation(desired, fresh)
		if step == domain.SagaStepCompensate {
			desired.Finished = desired.Compensated()
		}
		run.entry = desired

		time.Sleep(journalBaseDelay * time.Duration(1<<uint(attempt)))
	}
	return domain.ErrSagaLogVersionConflict
}

// detectClaim перечитывает журнал перед компенсацией: если воркер
// восстановления уже взял запись, оркестратор откатывает только то, о чём тот не знал.
func (o *ProcessSaleOrchestrator) detectClaim(run *sagaRun) {
	if o.sagaLog == nil || !run.journaled || run.claim != nil {
		return
	}
	fresh, err := o.sagaLog.Get(run.logCtx, run.entry.SaleID)
	if err != nil {
		o.logger.WithError(err).WithField("sale_id", run.entry.SaleID).Warn("failed to reload saga log before compensation")
		return
	}
	if fresh.RollingBack() {
		run.entry = mergeCompensation(run.entry, fresh)
		run.claim = &fresh
	}
}

// mergeCompensation берёт версию из fresh и объединяет прогресс обеих сторон:
// движения, откаты и удаление счёта. Факты компенсации только накапливаются.
func mergeCompensation(desired, fresh domain.SagaLogEntry) domain.SagaLogEntry {
	desired.Version = fresh.Version
	if desired.InvoiceID == "" {
		desired.InvoiceID = fresh.InvoiceID
	}
	desired.Movements = append([]domain.StockMovementRecord(nil), desired.Movements...)
	for _, movement := range fresh.Movements {
		if !hasMovement(desired.Movements, movement.MovementID) {
			desired.Movements = append(desired.Movements, movement)
		}
	}
	desired.ReversedMovements = append([]string(nil), desired.ReversedMovements...)
	for _, id := range fresh.ReversedMovements {
		if !desired.IsReversed(id) {
			desired.ReversedMovements = append(desired.ReversedMovements, id)
		}
	}
	desired.InvoiceDeleted = desired.InvoiceDeleted || fresh.InvoiceDeleted
	return desired
}

// outsideClaim помечает то, что известно воркеру восстановления, как уже
// откатанное, чтобы undo не тронул его повторно.
func outsideClaim(entry, claim domain.SagaLogEntry) domain.SagaLogEntry {
	entry.ReversedMovements = append([]string(nil), entry.ReversedMovements...)
	for _, movement := range claim.Movements {
		if !entry.IsReversed(movement.MovementID) {
			entry.ReversedMovements = append(entry.ReversedMovements, movement.MovementID)
		}
	}
	if claim.InvoiceID != "" {
		entry.InvoiceDeleted = true
	}
	return entry
}

func hasMovement(movements []domain.StockMovementRecord, id string) bool {
	for _, movement := range movements {
		if movement.MovementID == id {
			return true
		}
	}
	return false
}
