package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/validation"
)

const tracerName = "github.com/vladislavdragonenkov/sales/internal/service/saga"

// defaultPaymentTerm — срок оплаты, если в запросе не указан due date.
const defaultPaymentTerm = 30 * 24 * time.Hour

// SaleProcessor описывает точку входа саги для транспорта.
type SaleProcessor interface {
	ProcessSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.ProcessSaleResult, error)
}

// Dependencies — коллабораторы и хранилища оркестратора.
type Dependencies struct {
	Products domain.ProductService
	Invoices domain.InvoiceService
	Events   domain.EventSink
	Sales    domain.SaleRepository
	SagaLog  domain.SagaLogRepository
	// Tx == nil — записи выполняются без транзакции.
	Tx domain.Transactor
}

// Option настраивает оркестратор.
type Option func(*ProcessSaleOrchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *ProcessSaleOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики саги.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *ProcessSaleOrchestrator) { o.metrics = m }
}

// WithTracer задаёт tracer; по умолчанию берётся глобальный провайдер.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *ProcessSaleOrchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRetryConfig задаёт повторы чтения каталога и публикации событий.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *ProcessSaleOrchestrator) { o.retry = cfg }
}

// WithMaxPriceVariance задаёт допустимое отклонение цены для нестрогого режима.
func WithMaxPriceVariance(pct decimal.Decimal) Option {
	return func(o *ProcessSaleOrchestrator) { o.maxPriceVariance = pct }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *ProcessSaleOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// ProcessSaleOrchestrator проводит продажу: проверка → счёт → списание склада → завершение.
// При ошибке после создания счёта выполняет компенсацию в обратном порядке.
type ProcessSaleOrchestrator struct {
	products domain.ProductService
	invoices domain.InvoiceService
	events   domain.EventSink
	sales    domain.SaleRepository
	sagaLog  domain.SagaLogRepository
	tx       domain.Transactor

	stock  *validation.StockValidationService
	prices *validation.PriceValidationService
	comp   *compensator

	logger           *log.Entry
	metrics          *metrics.SagaMetrics
	tracer           trace.Tracer
	retry            RetryConfig
	maxPriceVariance decimal.Decimal
	now              func() time.Time
}

// NewOrchestrator создаёт оркестратор продаж.
func NewOrchestrator(deps Dependencies, opts ...Option) (*ProcessSaleOrchestrator, error) {
	if deps.Products == nil {
		return nil, errors.New("saga: product service is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("saga: invoice service is required")
	}
	if deps.Sales == nil {
		return nil, errors.New("saga: sale repository is required")
	}

	o := &ProcessSaleOrchestrator{
		products:         deps.Products,
		invoices:         deps.Invoices,
		events:           deps.Events,
		sales:            deps.Sales,
		sagaLog:          deps.SagaLog,
		tx:               deps.Tx,
		stock:            validation.NewStockValidationService(),
		prices:           validation.NewPriceValidationService(),
		logger:           log.New().WithField("component", "sale-saga"),
		tracer:           otel.Tracer(tracerName),
		retry:            DefaultRetryConfig(),
		maxPriceVariance: validation.DefaultMaxPriceVariancePercentage,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tx == nil {
		o.tx = directTransactor{}
	}
	o.comp = &compensator{
		products: o.products,
		invoices: o.invoices,
		logger:   o.logger,
		metrics:  o.metrics,
	}
	return o, nil
}

// sagaRun — состояние одного вызова ProcessSale.
type sagaRun struct {
	sale      *domain.Sale
	snapshots map[string]domain.ProductSnapshot
	manifest  []domain.StockMovementRecord
	warnings  []string

	entry     domain.SagaLogEntry
	journaled bool
	// externalStarted выставляется перед первым внешним изменением (созданием счёта).
	externalStarted bool
	// logCtx не несёт транзакцию: журнал и запись о неудаче переживают её откат.
	logCtx context.Context
	// claim — запись журнала, какой её увидел оркестратор после перехвата воркером восстановления.
	claim *domain.SagaLogEntry
}

// ProcessSale выполняет сагу продажи.
func (o *ProcessSaleOrchestrator) ProcessSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.ProcessSaleResult, error) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.RecordSagaStarted()
		defer func() { o.metrics.RecordSagaFinished(time.Since(started)) }()
	}

	ctx, span := o.tracer.Start(ctx, "sale.process", trace.WithAttributes(
		attribute.String("company_id", req.CompanyID),
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
	))
	defer span.End()

	run := &sagaRun{logCtx: context.WithoutCancel(ctx)}

	if err := req.Validate(); err != nil {
		return domain.ProcessSaleResult{}, o.fail(ctx, span, run, err)
	}

	err := o.tx.WithinTransaction(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		return o.execute(ctx, txCtx, req, run)
	})
	if err != nil {
		return domain.ProcessSaleResult{}, o.fail(ctx, span, run, err)
	}

	// Из stock_deducted переход в completed всегда допустим.
	if err := run.sale.Complete(); err != nil {
		return domain.ProcessSaleResult{}, o.fail(ctx, span, run, err)
	}
	o.drainEvents(run.logCtx, run.sale)

	if o.metrics != nil {
		o.metrics.RecordSagaCompleted()
	}
	span.SetAttributes(
		attribute.String("sale_id", run.sale.ID()),
		attribute.String("sale_status", string(run.sale.Status())),
	)
	o.logger.WithFields(log.Fields{
		"sale_id":    run.sale.ID(),
		"company_id": run.sale.CompanyID(),
		"invoice_id": run.sale.InvoiceID(),
		"movements":  len(run.manifest),
	}).Info("sale completed")

	return o.result(run), nil
}

// execute — шаги 1–8. Всё, что пишется через txCtx, входит в транзакцию.
func (o *ProcessSaleOrchestrator) execute(ctx, txCtx context.Context, req domain.ProcessSaleRequest, run *sagaRun) error {
	if err := o.step(ctx, domain.SagaStepLoadProducts, func(ctx context.Context) error {
		return o.loadProducts(ctx, req, run)
	}); err != nil {
		return err
	}

	items, err := buildItems(req, run.snapshots)
	if err != nil {
		return err
	}
	sale, err := domain.NewSale(req.CompanyID, req.CustomerID, items)
	if err != nil {
		return err
	}
	run.sale = sale
	if err := o.beginJournal(run); err != nil {
		return err
	}

	if err := o.step(ctx, domain.SagaStepValidate, func(context.Context) error {
		return o.validate(req, run)
	}); err != nil {
		return err
	}

	// Дальше отмена вызывающего не учитывается: сага доходит до конца или до компенсации.
	if err := ctx.Err(); err != nil {
		return err
	}
	run.externalStarted = true

	if err := o.step(txCtx, domain.SagaStepCreateInvoice, func(stepCtx context.Context) error {
		return o.createInvoice(stepCtx, req, run)
	}); err != nil {
		return err
	}

	if err := o.step(txCtx, domain.SagaStepDeductStock, func(stepCtx context.Context) error {
		return o.deductStock(stepCtx, run)
	}); err != nil {
		return err
	}

	// Журнал закрывается в той же транзакции, что и запись о продаже:
	// перехват воркером восстановления до коммита откатывает обе.
	return o.step(txCtx, domain.SagaStepPersist, func(stepCtx context.Context) error {
		if err := o.sales.Create(stepCtx, domain.NewSaleRecord(sale, domain.SaleStatusCompleted, run.manifest)); err != nil {
			return err
		}
		run.entry.Status = domain.SaleStatusCompleted
		run.entry.Finished = true
		return o.saveJournal(stepCtx, run, domain.SagaStepPersist)
	})
}

func (o *ProcessSaleOrchestrator) loadProducts(ctx context.Context, req domain.ProcessSaleRequest, run *sagaRun) error {
	ids := req.ProductIDs()
	var snapshots []domain.ProductSnapshot
	err := executeWithRetry(ctx, o.retry, o.logger, string(domain.SagaStepLoadProducts), func() error {
		var err error
		snapshots, err = o.products.FindByIDs(ctx, req.CompanyID, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}

	run.snapshots = domain.IndexSnapshots(snapshots)
	for _, id := range ids {
		if _, ok := run.snapshots[id]; !ok {
			return &domain.ProductNotFoundError{ProductID: id}
		}
	}
	return nil
}

// buildItems собирает позиции из запроса и карточек товаров.
func buildItems(req domain.ProcessSaleRequest, snapshots map[string]domain.ProductSnapshot) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, in := range req.Items {
		snapshot := snapshots[in.ProductID]

		tax := snapshot.TaxPercentage
		if in.TaxPercentage != nil {
			tax = *in.TaxPercentage
		}
		opts := []domain.SaleItemOption{domain.WithTax(tax)}
		if in.DiscountPercentage != nil {
			opts = append(opts, domain.WithDiscount(*in.DiscountPercentage))
		}

		name := snapshot.Name
		if name == "" {
			name = in.ProductID
		}
		item, err := domain.NewSaleItem(in.ProductID, name, snapshot.SKU, in.Quantity, in.UnitPrice, opts...)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (o *ProcessSaleOrchestrator) validate(req domain.ProcessSaleRequest, run *sagaRun) error {
	items := run.sale.Items()

	if !req.Options.SkipStockValidation {
		if err := o.stock.ValidateAggregated(items, run.snapshots); err != nil {
			return err
		}
	}

	priceOpts := validation.PriceValidationOptions{
		StrictMode:                 req.Options.StrictPrices(),
		AllowPriceOverride:         req.Options.AllowPriceOverride,
		MaxPriceVariancePercentage: o.maxPriceVariance,
	}
	if req.Options.MaxPriceVariancePercentage != nil {
		priceOpts.MaxPriceVariancePercentage = *req.Options.MaxPriceVariancePercentage
	}
	if err := o.prices.ValidateForItems(items, run.snapshots, priceOpts); err != nil {
		return err
	}

	run.warnings = o.stock.LowStockWarnings(items, run.snapshots)
	return run.sale.MarkValidated()
}

func (o *ProcessSaleOrchestrator) createInvoice(ctx context.Context, req domain.ProcessSaleRequest, run *sagaRun) error {
	issue := req.Options.IssueDate
	if issue.IsZero() {
		issue = o.now()
	}
	due := req.Options.DueDate
	if due.IsZero() {
		due = issue.Add(defaultPaymentTerm)
	}

	draft := domain.NewInvoiceDraft(run.sale, req.Options.InvoiceType, issue, due, req.Options.Notes)
	invoice, err := o.invoices.CreateWithItems(ctx, draft)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}

	// Счёт уже существует: фиксируем его в журнале до проверки перехода,
	// чтобы компенсация нашла его в любом случае.
	run.entry.InvoiceID = invoice.ID
	if err := run.sale.AssociateInvoice(invoice.ID); err != nil {
		return err
	}
	run.entry.Status = run.sale.Status()

	o.logger.WithFields(log.Fields{
		"sale_id":        run.sale.ID(),
		"invoice_id":     invoice.ID,
		"invoice_number": invoice.Number,
	}).Debug("invoice created")
	return o.journal(run, domain.SagaStepCreateInvoice)
}

// deductStock списывает физические товары строго по порядку позиций.
// Каждое успешное движение попадает в манифест и журнал до следующего вызова.
func (o *ProcessSaleOrchestrator) deductStock(ctx context.Context, run *sagaRun) error {
	sale := run.sale
	reservationID := uuid.NewString()
	reference := fmt.Sprintf("sale:%s invoice:%s reservation:%s", sale.ID(), sale.InvoiceID(), reservationID)

	for _, item := range sale.Items() {
		if !run.snapshots[item.ProductID()].IsPhysical() {
			continue
		}
		movement, err := o.products.UpdateStock(ctx, domain.StockUpdate{
			CompanyID: sale.CompanyID(),
			ProductID: item.ProductID(),
			Quantity:  -item.Quantity(),
			Reason:    stockReasonSale,
			Reference: reference,
		})
		if err != nil {
			return fmt.Errorf("deduct stock for product %s: %w", item.ProductID(), err)
		}

		run.manifest = append(run.manifest, domain.StockMovementRecord{
			MovementID: movement.ID,
			ProductID:  item.ProductID(),
			Quantity:   item.Quantity(),
			Type:       domain.StockMovementOut,
		})
		run.entry.Movements = append([]domain.StockMovementRecord(nil), run.manifest...)
		if err := o.journal(run, domain.SagaStepDeductStock); err != nil {
			return err
		}
	}

	if err := sale.MarkStockDeducted(reservationID); err != nil {
		return err
	}
	run.entry.Status = sale.Status()
	run.entry.ReservationID = reservationID
	return o.journal(run, domain.SagaStepDeductStock)
}

// fail переводит продажу в failed, при необходимости компенсирует и
// возвращает ошибку для вызывающего.
func (o *ProcessSaleOrchestrator) fail(ctx context.Context, span trace.Span, run *sagaRun, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	sale := run.sale
	if sale == nil {
		if o.metrics != nil {
			o.metrics.RecordSagaRejected()
		}
		o.logger.WithError(cause).Info("sale rejected")
		return cause
	}

	fields := log.Fields{
		"sale_id":    sale.ID(),
		"company_id": sale.CompanyID(),
		"status":     sale.Status(),
	}
	if err := sale.MarkFailed(cause.Error(), cause); err != nil {
		o.logger.WithError(err).WithFields(fields).Error("mark failed rejected")
	}

	o.detectClaim(run)

	var compErrs []error
	if sale.NeedsCompensation() || run.entry.HasSideEffects() {
		compErrs = o.compensate(ctx, run)
	}

	record := domain.NewSaleRecord(sale, sale.Status(), run.manifest)
	if err := o.sales.Create(run.logCtx, record); err != nil && !errors.Is(err, domain.ErrSaleAlreadyExists) {
		o.logger.WithError(err).WithFields(fields).Warn("failed to persist failed sale record")
	}

	run.entry.Status = sale.Status()
	run.entry.FailureReason = cause.Error()
	run.entry.Finished = len(compErrs) == 0 && run.entry.Compensated()
	if err := o.journal(run, domain.SagaStepCompensate); err != nil {
		o.logger.WithError(err).WithFields(fields).Warn("failed to record saga failure")
	}

	o.drainEvents(run.logCtx, sale)

	span.SetAttributes(
		attribute.String("sale_id", sale.ID()),
		attribute.String("sale_status", string(sale.Status())),
	)

	if !run.externalStarted {
		if o.metrics != nil {
			o.metrics.RecordSagaRejected()
		}
		o.logger.WithError(cause).WithFields(fields).Info("sale rejected before side effects")
		return cause
	}

	if o.metrics != nil {
		o.metrics.RecordSagaFailed()
	}
	o.logger.WithError(cause).WithFields(log.Fields{
		"sale_id":             sale.ID(),
		"company_id":          sale.CompanyID(),
		"status":              sale.Status(),
		"compensation_errors": len(compErrs),
	}).Warn("sale failed")

	return &domain.SaleProcessingError{
		SaleID:             sale.ID(),
		Status:             sale.Status(),
		Cause:              cause,
		CompensationErrors: compErrs,
	}
}

func (o *ProcessSaleOrchestrator) compensate(ctx context.Context, run *sagaRun) []error {
	sale := run.sale
	_, span := o.tracer.Start(ctx, "sale.compensate")
	defer span.End()

	if err := sale.StartCompensation(); err != nil {
		o.logger.WithError(err).WithField("sale_id", sale.ID()).Error("start compensation rejected, compensating anyway")
	}

	if run.entry.InvoiceID == "" {
		run.entry.InvoiceID = sale.InvoiceID()
	}
	run.entry.Movements = append([]domain.StockMovementRecord(nil), run.manifest...)

	var errs []error
	if run.claim == nil {
		errs = o.comp.undo(run.logCtx, &run.entry)
	} else {
		errs = o.undoOutsideClaim(run)
	}

	if err := sale.MarkCompensated(); err != nil {
		o.logger.WithError(err).WithField("sale_id", sale.ID()).Error("mark compensated rejected")
	}
	if o.metrics != nil {
		o.metrics.RecordSagaCompensated()
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, errors.Join(errs...).Error())
	}
	o.logger.WithFields(log.Fields{
		"sale_id":   sale.ID(),
		"reversed":  len(run.entry.ReversedMovements),
		"failures":  len(errs),
		"invoice":   run.entry.InvoiceID,
		"completed": len(errs) == 0,
	}).Info("sale compensation finished")
	return errs
}

// undoOutsideClaim откатывает только изменения, о которых воркер
// восстановления не знал в момент перехвата. Остальное откатывает он.
func (o *ProcessSaleOrchestrator) undoOutsideClaim(run *sagaRun) []error {
	claim := *run.claim
	scoped := outsideClaim(run.entry, claim)
	errs := o.comp.undo(run.logCtx, &scoped)

	for _, id := range scoped.ReversedMovements {
		if !run.entry.IsReversed(id) && !hasMovement(claim.Movements, id) {
			run.entry.ReversedMovements = append(run.entry.ReversedMovements, id)
		}
	}
	if claim.InvoiceID == "" {
		run.entry.InvoiceDeleted = scoped.InvoiceDeleted
	}
	return errs
}

func (o *ProcessSaleOrchestrator) result(run *sagaRun) domain.ProcessSaleResult {
	sale := run.sale
	return domain.ProcessSaleResult{
		SaleID:         sale.ID(),
		InvoiceID:      sale.InvoiceID(),
		Status:         sale.Status(),
		Subtotal:       domain.RoundMoney(sale.Subtotal()),
		TotalDiscount:  domain.RoundMoney(sale.TotalDiscount()),
		TotalTax:       domain.RoundMoney(sale.TotalTax()),
		Total:          domain.RoundMoney(sale.Total()),
		StockMovements: append([]domain.StockMovementRecord(nil), run.manifest...),
		ProcessedAt:    o.now(),
		Warnings:       run.warnings,
	}
}

// drainEvents публикует буфер агрегата. Неудача не влияет на исход продажи:
// события остаются в агрегате, а сбой учитывается в метриках.
func (o *ProcessSaleOrchestrator) drainEvents(ctx context.Context, sale *domain.Sale) {
	if o.events == nil {
		sale.PullEvents()
		return
	}

	ctx, span := o.tracer.Start(ctx, "sale."+string(domain.SagaStepPublishEvents))
	defer span.End()

	published := 0
	err := executeWithRetry(ctx, o.retry, o.logger, string(domain.SagaStepPublishEvents), func() error {
		return sale.DrainEvents(func(batch []domain.DomainEvent) error {
			if err := o.events.Publish(ctx, batch); err != nil {
				return err
			}
			published = len(batch)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		if o.metrics != nil {
			o.metrics.RecordEventDrainFailure()
		}
		o.logger.WithError(err).WithFields(log.Fields{
			"sale_id": sale.ID(),
			"pending": len(sale.PendingEvents()),
		}).Error("failed to publish sale events")
		return
	}
	if o.metrics != nil && published > 0 {
		o.metrics.RecordEventsPublished(published)
	}
}

// step оборачивает шаг саги в span и метрику длительности.
func (o *ProcessSaleOrchestrator) step(ctx context.Context, step domain.SagaStep, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "sale."+string(step))
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(started))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// directTransactor выполняет fn без транзакции.
type directTransactor struct{}

func (directTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ SaleProcessor = (*ProcessSaleOrchestrator)(nil)
