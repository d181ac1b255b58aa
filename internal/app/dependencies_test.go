package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

const catalogJSON = `[
  {"company_id": "company-1", "id": "p-1", "name": "Widget", "sku": "W-1", "price": "100", "tax_percentage": "19", "stock": 10},
  {"company_id": "company-1", "id": "svc-1", "name": "Setup", "type": "service", "price": 50}
]`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestNewCollaborators_SeedsCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatalogFile = writeCatalog(t, catalogJSON)

	collab, err := newCollaborators(cfg, log.WithField("test", "collaborators"))
	if err != nil {
		t.Fatalf("newCollaborators failed: %v", err)
	}

	products, err := collab.products.FindByIDs(context.Background(), "company-1", []string{"p-1", "svc-1", "missing"})
	if err != nil {
		t.Fatalf("FindByIDs failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	for _, p := range products {
		if !p.IsActive() {
			t.Errorf("product %s must default to active", p.ID)
		}
		if p.ID == "p-1" && (!p.IsPhysical() || !p.TaxPercentage.Equal(decimal.NewFromInt(19))) {
			t.Errorf("unexpected p-1 snapshot: %+v", p)
		}
		if p.ID == "svc-1" && p.Type != domain.ProductTypeService {
			t.Errorf("unexpected svc-1 type: %s", p.Type)
		}
	}
	if collab.productsBreaker.State().String() != "closed" || collab.invoicesBreaker.State().String() != "closed" {
		t.Fatal("breakers must start closed")
	}
}

func TestNewCollaborators_InvalidCatalog(t *testing.T) {
	cases := map[string]string{
		"broken json":    `[{"id":`,
		"missing tenant": `[{"id": "p-1", "price": "1"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.CatalogFile = writeCatalog(t, body)
			if _, err := newCollaborators(cfg, log.WithField("test", "collaborators")); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.json")
	if _, err := newCollaborators(cfg, log.WithField("test", "collaborators")); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestCreateOrchestrator_ProcessesSaleIntoOutbox(t *testing.T) {
	ctx := context.Background()
	logger := log.WithField("test", "orchestrator-factory")

	cfg := DefaultConfig()
	cfg.CatalogFile = writeCatalog(t, catalogJSON)

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	collab, err := newCollaborators(cfg, logger)
	if err != nil {
		t.Fatalf("newCollaborators failed: %v", err)
	}

	registry := prometheus.NewRegistry()
	orchestrator, err := createOrchestrator(cfg, deps, collab,
		metrics.NewSagaMetricsWithRegisterer(registry),
		metrics.NewOutboxMetricsWithRegisterer(registry),
		logger,
	)
	if err != nil {
		t.Fatalf("createOrchestrator failed: %v", err)
	}

	result, err := orchestrator.ProcessSale(ctx, domain.ProcessSaleRequest{
		CompanyID:  "company-1",
		CustomerID: "customer-1",
		Items: []domain.ProcessSaleItem{
			{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
			{ProductID: "svc-1", Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("ProcessSale failed: %v", err)
	}
	if result.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed sale, got %s", result.Status)
	}
	if !result.Total.Equal(decimal.NewFromInt(288)) {
		t.Fatalf("expected total 288, got %s", result.Total)
	}

	pending := deps.outboxRepo.(*memory.OutboxRepository).AllPending()
	if len(pending) == 0 {
		t.Fatal("sale events must be queued in outbox")
	}
	events, err := deps.timelineRepo.List(ctx, result.SaleID)
	if err != nil {
		t.Fatalf("timeline list failed: %v", err)
	}
	if len(events) != len(pending) {
		t.Fatalf("timeline (%d) and outbox (%d) must hold the same events", len(events), len(pending))
	}

	if _, err := orchestrator.ProcessSale(ctx, domain.ProcessSaleRequest{
		CompanyID:  "company-1",
		CustomerID: "customer-1",
		Items:      []domain.ProcessSaleItem{{ProductID: "p-1", Quantity: 100, UnitPrice: decimal.NewFromInt(100)}},
	}); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}
