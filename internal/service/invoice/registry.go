package invoice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Registry — in-memory реализация InvoiceService для локального запуска и тестов.
type Registry struct {
	mu        sync.RWMutex
	invoices  map[string]domain.Invoice
	drafts    map[string]domain.InvoiceDraft
	sequences map[string]int64

	// CreateErr и DeleteErr позволяют сымитировать отказ сервиса счетов.
	CreateErr error
	DeleteErr error

	CreateCalls int
	DeleteCalls int
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		invoices:  make(map[string]domain.Invoice),
		drafts:    make(map[string]domain.InvoiceDraft),
		sequences: make(map[string]int64),
	}
}

// CreateWithItems выдаёт счёт с последовательным номером в рамках компании.
func (r *Registry) CreateWithItems(ctx context.Context, draft domain.InvoiceDraft) (domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return domain.Invoice{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreateCalls++
	if r.CreateErr != nil {
		return domain.Invoice{}, r.CreateErr
	}
	if len(draft.Lines) == 0 {
		return domain.Invoice{}, domain.NewValidationError("lines", "invoice must contain at least one line")
	}

	r.sequences[draft.CompanyID]++
	inv := domain.Invoice{
		ID:        uuid.NewString(),
		CompanyID: draft.CompanyID,
		Number:    fmt.Sprintf("INV-%06d", r.sequences[draft.CompanyID]),
		Status:    "issued",
		Total:     draft.Total,
		CreatedAt: time.Now().UTC(),
	}
	r.invoices[inv.ID] = inv
	r.drafts[inv.ID] = draft
	return inv, nil
}

// Delete удаляет счёт. Повторное удаление не считается ошибкой.
func (r *Registry) Delete(ctx context.Context, companyID, invoiceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DeleteCalls++
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil
	}
	if inv.CompanyID != companyID {
		return domain.ErrInvoiceNotFound
	}
	delete(r.invoices, invoiceID)
	delete(r.drafts, invoiceID)
	return nil
}

// Get возвращает счёт и черновик, по которому он создан.
func (r *Registry) Get(invoiceID string) (domain.Invoice, domain.InvoiceDraft, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[invoiceID]
	return inv, r.drafts[invoiceID], ok
}

// Count возвращает число существующих счетов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.invoices)
}

var _ domain.InvoiceService = (*Registry)(nil)
