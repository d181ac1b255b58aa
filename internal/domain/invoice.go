package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceType — вид документа, выставляемого по продаже.
type InvoiceType string

const (
	InvoiceTypeSale     InvoiceType = "sale"
	InvoiceTypeCredit   InvoiceType = "credit"
	InvoiceTypeProforma InvoiceType = "proforma"
)

// Valid проверяет, что тип счёта поддерживается.
func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeSale, InvoiceTypeCredit, InvoiceTypeProforma:
		return true
	default:
		return false
	}
}

// InvoiceLine — строка счёта, построенная из позиции продажи.
type InvoiceLine struct {
	ProductID          string
	Description        string
	Quantity           int64
	UnitPrice          decimal.Decimal
	DiscountPercentage decimal.Decimal
	TaxPercentage      decimal.Decimal
	Total              decimal.Decimal
}

// InvoiceDraft — данные для создания счёта со строками.
type InvoiceDraft struct {
	CompanyID     string
	CustomerID    string
	SaleID        string
	Type          InvoiceType
	IssueDate     time.Time
	DueDate       time.Time
	Notes         string
	Lines         []InvoiceLine
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalTax      decimal.Decimal
	Total         decimal.Decimal
}

// Invoice — созданный счёт.
type Invoice struct {
	ID        string
	CompanyID string
	Number    string
	Status    string
	Total     decimal.Decimal
	CreatedAt time.Time
}

// NewInvoiceDraft собирает черновик счёта из агрегата продажи. Суммы округляются до копеек.
func NewInvoiceDraft(sale *Sale, invoiceType InvoiceType, issueDate, dueDate time.Time, notes string) InvoiceDraft {
	items := sale.Items()
	lines := make([]InvoiceLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, InvoiceLine{
			ProductID:          item.ProductID(),
			Description:        item.ProductName(),
			Quantity:           item.Quantity(),
			UnitPrice:          item.UnitPrice(),
			DiscountPercentage: item.DiscountPercentage(),
			TaxPercentage:      item.TaxPercentage(),
			Total:              RoundMoney(item.Total()),
		})
	}
	if invoiceType == "" {
		invoiceType = InvoiceTypeSale
	}
	return InvoiceDraft{
		CompanyID:     sale.CompanyID(),
		CustomerID:    sale.CustomerID(),
		SaleID:        sale.ID(),
		Type:          invoiceType,
		IssueDate:     issueDate,
		DueDate:       dueDate,
		Notes:         notes,
		Lines:         lines,
		Subtotal:      RoundMoney(sale.Subtotal()),
		TotalDiscount: RoundMoney(sale.TotalDiscount()),
		TotalTax:      RoundMoney(sale.TotalTax()),
		Total:         RoundMoney(sale.Total()),
	}
}
