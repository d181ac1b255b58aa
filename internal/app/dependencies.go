package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/invoice"
	"github.com/vladislavdragonenkov/sales/internal/service/product"
	"github.com/vladislavdragonenkov/sales/internal/service/saga"
)

// collaborators — внешние сервисы саги, обёрнутые circuit breaker.
type collaborators struct {
	products        domain.ProductService
	invoices        domain.InvoiceService
	productsBreaker *saga.CircuitBreaker
	invoicesBreaker *saga.CircuitBreaker
}

// catalogEntry — строка файла SALES_CATALOG_FILE.
type catalogEntry struct {
	CompanyID          string          `json:"company_id"`
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	SKU                string          `json:"sku"`
	Type               string          `json:"type"`
	Status             string          `json:"status"`
	Price              decimal.Decimal `json:"price"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	Stock              int64           `json:"stock"`
	MinStock           int64           `json:"min_stock"`
	AllowNegativeStock bool            `json:"allow_negative_stock"`
}

func (e catalogEntry) snapshot() domain.ProductSnapshot {
	p := domain.ProductSnapshot{
		ID:                 e.ID,
		CompanyID:          e.CompanyID,
		Name:               e.Name,
		SKU:                e.SKU,
		Type:               domain.ProductType(e.Type),
		Status:             domain.ProductStatus(e.Status),
		Price:              e.Price,
		TaxPercentage:      e.TaxPercentage,
		Stock:              e.Stock,
		MinStock:           e.MinStock,
		AllowNegativeStock: e.AllowNegativeStock,
	}
	if p.Type == "" {
		p.Type = domain.ProductTypePhysical
	}
	if p.Status == "" {
		p.Status = domain.ProductStatusActive
	}
	return p
}

// newCollaborators собирает in-memory каталог и реестр счетов.
// NOTE: в production их заменяют клиенты сервисов каталога и биллинга.
func newCollaborators(cfg Config, logger *log.Entry) (*collaborators, error) {
	catalog := product.NewCatalog()
	if cfg.CatalogFile != "" {
		count, err := seedCatalog(catalog, cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		logger.WithFields(log.Fields{
			"file":     cfg.CatalogFile,
			"products": count,
		}).Info("product catalog seeded")
	}

	productsBreaker := saga.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
		logger.WithField("breaker", "products"))
	invoicesBreaker := saga.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
		logger.WithField("breaker", "invoices"))

	return &collaborators{
		products:        saga.GuardProducts(catalog, productsBreaker),
		invoices:        saga.GuardInvoices(invoice.NewRegistry(), invoicesBreaker),
		productsBreaker: productsBreaker,
		invoicesBreaker: invoicesBreaker,
	}, nil
}

func seedCatalog(catalog *product.Catalog, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog file: %w", err)
	}
	var entries []catalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("decode catalog file: %w", err)
	}
	for i, entry := range entries {
		if entry.CompanyID == "" || entry.ID == "" {
			return 0, fmt.Errorf("catalog entry %d: company_id and id are required", i)
		}
		catalog.Upsert(entry.snapshot())
	}
	return len(entries), nil
}
