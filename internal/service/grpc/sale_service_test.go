package grpcsvc_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
	"github.com/vladislavdragonenkov/sales/internal/service/invoice"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/product"
	"github.com/vladislavdragonenkov/sales/internal/service/saga"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

const (
	bufSize     = 1024 * 1024
	testCompany = "company-1"
)

type fixture struct {
	service  *grpcsvc.SaleService
	catalog  *product.Catalog
	invoices *invoice.Registry
	outbox   *memory.OutboxRepository
	sales    domain.SaleRepository
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := loggerForTests()
	catalog := product.NewCatalog()
	for _, snap := range []domain.ProductSnapshot{
		{ID: "p-1", CompanyID: testCompany, Name: "Widget", SKU: "W-1", Type: domain.ProductTypePhysical, Status: domain.ProductStatusActive, Price: decimal.RequireFromString("100"), TaxPercentage: decimal.RequireFromString("19"), Stock: 10},
		{ID: "p-2", CompanyID: testCompany, Name: "Gadget", SKU: "G-1", Type: domain.ProductTypePhysical, Status: domain.ProductStatusActive, Price: decimal.RequireFromString("40"), Stock: 5},
		{ID: "svc-1", CompanyID: testCompany, Name: "Setup", Type: domain.ProductTypeService, Status: domain.ProductStatusActive, Price: decimal.RequireFromString("50")},
	} {
		catalog.Upsert(snap)
	}

	registry := invoice.NewRegistry()
	sales := memory.NewSaleRepository()
	timeline := memory.NewTimelineRepository()
	outboxRepo := memory.NewOutboxRepository()

	orchestrator, err := saga.NewOrchestrator(saga.Dependencies{
		Products: catalog,
		Invoices: registry,
		Events:   outbox.NewSink(outboxRepo, timeline),
		Sales:    sales,
		SagaLog:  memory.NewSagaLogRepository(),
		Tx:       memory.NewTransactor(),
	}, saga.WithLogger(logger), saga.WithRetryConfig(saga.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, err)

	return &fixture{
		service:  grpcsvc.NewSaleService(orchestrator, sales, timeline, memory.NewIdempotencyRepository(), logger),
		catalog:  catalog,
		invoices: registry,
		outbox:   outboxRepo,
		sales:    sales,
	}
}

func newTestClient(t *testing.T, service grpcsvc.SaleServiceServer) *grpcsvc.SaleServiceClient {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	grpcsvc.RegisterSaleServiceServer(server, service)
	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return grpcsvc.NewSaleServiceClient(conn)
}

func idemCtx(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "idempotency-key", key)
}

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func saleRequest(t *testing.T, items ...map[string]any) *structpb.Struct {
	t.Helper()
	list := make([]any, 0, len(items))
	for _, item := range items {
		list = append(list, item)
	}
	return mustStruct(t, map[string]any{
		"company_id":  testCompany,
		"customer_id": "customer-1",
		"items":       list,
	})
}

func item(productID string, quantity int, unitPrice string) map[string]any {
	return map[string]any{"product_id": productID, "quantity": quantity, "unit_price": unitPrice}
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, status.Code(err), "unexpected status: %v", err)
}

func TestProcessSale_RequiresIdempotencyKey(t *testing.T) {
	client := newTestClient(t, newFixture(t).service)

	_, err := client.ProcessSale(context.Background(), saleRequest(t, item("p-1", 1, "100")))
	requireCode(t, err, codes.InvalidArgument)
}

func TestProcessSale_CompletesAndReplays(t *testing.T) {
	fx := newFixture(t)
	client := newTestClient(t, fx.service)
	req := saleRequest(t, item("p-1", 2, "100"), item("svc-1", 1, "50"))

	first, err := client.ProcessSale(idemCtx("key-1"), req)
	require.NoError(t, err)
	fields := first.GetFields()
	require.Equal(t, "completed", fields["status"].GetStringValue())
	require.Equal(t, "288", fields["total"].GetStringValue())
	require.Len(t, fields["stock_movements"].GetListValue().GetValues(), 1)

	second, err := client.ProcessSale(idemCtx("key-1"), req)
	require.NoError(t, err)
	require.Equal(t, fields["sale_id"].GetStringValue(), second.GetFields()["sale_id"].GetStringValue())
	require.Equal(t, 1, fx.invoices.Count())

	stock, ok := fx.catalog.Stock(testCompany, "p-1")
	require.True(t, ok)
	require.Equal(t, int64(8), stock)
}

func TestProcessSale_KeyReuseWithDifferentPayload(t *testing.T) {
	client := newTestClient(t, newFixture(t).service)

	_, err := client.ProcessSale(idemCtx("key-2"), saleRequest(t, item("p-1", 1, "100")))
	require.NoError(t, err)

	_, err = client.ProcessSale(idemCtx("key-2"), saleRequest(t, item("p-1", 2, "100")))
	requireCode(t, err, codes.AlreadyExists)
}

func TestProcessSale_BusinessRejections(t *testing.T) {
	cases := map[string]struct {
		req  func(t *testing.T) *structpb.Struct
		code codes.Code
	}{
		"insufficient stock": {
			req:  func(t *testing.T) *structpb.Struct { return saleRequest(t, item("p-1", 50, "100")) },
			code: codes.FailedPrecondition,
		},
		"price mismatch": {
			req:  func(t *testing.T) *structpb.Struct { return saleRequest(t, item("p-1", 1, "70")) },
			code: codes.FailedPrecondition,
		},
		"unknown product": {
			req:  func(t *testing.T) *structpb.Struct { return saleRequest(t, item("missing", 1, "10")) },
			code: codes.NotFound,
		},
		"empty items": {
			req:  func(t *testing.T) *structpb.Struct { return saleRequest(t) },
			code: codes.InvalidArgument,
		},
		"unknown field": {
			req: func(t *testing.T) *structpb.Struct {
				return mustStruct(t, map[string]any{"company_id": testCompany, "unexpected": true})
			},
			code: codes.InvalidArgument,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			client := newTestClient(t, fx.service)

			_, err := client.ProcessSale(idemCtx("key-"+name), tc.req(t))
			requireCode(t, err, tc.code)

			// Повтор отдаёт сохранённый отказ без новой попытки.
			_, err = client.ProcessSale(idemCtx("key-"+name), tc.req(t))
			requireCode(t, err, tc.code)
			require.Zero(t, fx.invoices.Count())
		})
	}
}

func TestProcessSale_CompensatedFailureIsAborted(t *testing.T) {
	fx := newFixture(t)
	client := newTestClient(t, fx.service)
	fx.catalog.FailStockUpdates("p-2", errors.New("warehouse offline"))

	_, err := client.ProcessSale(idemCtx("key-comp"), saleRequest(t, item("p-1", 1, "100"), item("p-2", 1, "40")))
	requireCode(t, err, codes.Aborted)

	require.Zero(t, fx.invoices.Count())
	require.Equal(t, 1, fx.invoices.DeleteCalls)
	stock, _ := fx.catalog.Stock(testCompany, "p-1")
	require.Equal(t, int64(10), stock)
}

func TestGetSaleListAndTimeline(t *testing.T) {
	fx := newFixture(t)
	client := newTestClient(t, fx.service)

	resp, err := client.ProcessSale(idemCtx("key-read"), saleRequest(t, item("p-1", 1, "100")))
	require.NoError(t, err)
	saleID := resp.GetFields()["sale_id"].GetStringValue()

	got, err := client.GetSale(context.Background(), mustStruct(t, map[string]any{"company_id": testCompany, "sale_id": saleID}))
	require.NoError(t, err)
	require.Equal(t, "completed", got.GetFields()["status"].GetStringValue())
	require.Equal(t, "119", got.GetFields()["total"].GetStringValue())
	require.Len(t, got.GetFields()["items"].GetListValue().GetValues(), 1)

	_, err = client.GetSale(context.Background(), mustStruct(t, map[string]any{"company_id": "company-2", "sale_id": saleID}))
	requireCode(t, err, codes.NotFound)

	_, err = client.GetSale(context.Background(), mustStruct(t, map[string]any{"company_id": testCompany}))
	requireCode(t, err, codes.InvalidArgument)

	list, err := client.ListSales(context.Background(), mustStruct(t, map[string]any{"company_id": testCompany, "customer_id": "customer-1", "page_size": 10}))
	require.NoError(t, err)
	require.Len(t, list.GetFields()["sales"].GetListValue().GetValues(), 1)

	timeline, err := client.GetSaleTimeline(context.Background(), mustStruct(t, map[string]any{"company_id": testCompany, "sale_id": saleID}))
	require.NoError(t, err)
	var types []string
	for _, v := range timeline.GetFields()["events"].GetListValue().GetValues() {
		types = append(types, v.GetStructValue().GetFields()["type"].GetStringValue())
	}
	require.Contains(t, types, domain.EventSaleInitiated)
	require.Contains(t, types, domain.EventSaleCompleted)
	require.NotEmpty(t, fx.outbox.AllPending())
}
