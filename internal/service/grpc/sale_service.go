package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/saga"
)

const defaultListSalesLimit = 100

// SaleService реализует erp.sales.v1.SaleService поверх саги и репозиториев.
type SaleService struct {
	processor saga.SaleProcessor
	sales     domain.SaleRepository
	timeline  domain.TimelineRepository
	idemRepo  domain.IdempotencyRepository
	logger    *log.Entry
}

// NewSaleService конструирует сервис. idemRepo == nil отключает idempotency-key.
func NewSaleService(
	processor saga.SaleProcessor,
	sales domain.SaleRepository,
	timeline domain.TimelineRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *SaleService {
	if logger == nil {
		logger = log.New().WithField("component", "sale-grpc")
	}
	return &SaleService{
		processor: processor,
		sales:     sales,
		timeline:  timeline,
		idemRepo:  idemRepo,
		logger:    logger,
	}
}

// ProcessSale проводит продажу. Требует metadata idempotency-key, если подключён репозиторий ключей.
func (s *SaleService) ProcessSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	return s.withIdempotency(ctx, MethodProcessSale, req, func(ctx context.Context) (*structpb.Struct, error) {
		return s.processSale(ctx, req)
	})
}

func (s *SaleService) processSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var saleReq domain.ProcessSaleRequest
	if err := decodeRequest(req, &saleReq); err != nil {
		return nil, err
	}
	if s.processor == nil {
		return nil, status.Error(codes.Unavailable, "sale processor is not configured")
	}

	result, err := s.processor.ProcessSale(ctx, saleReq)
	if err != nil {
		entry := s.logger.WithError(err).WithFields(log.Fields{
			"company_id":  saleReq.CompanyID,
			"customer_id": saleReq.CustomerID,
		})
		if domain.IsBusinessRejection(err) {
			entry.Info("sale rejected")
		} else {
			entry.Warn("sale processing failed")
		}
		return nil, statusFromSaleError(err)
	}

	resp, err := encodeResponse(result)
	if err != nil {
		s.logger.WithError(err).WithField("sale_id", result.SaleID).Error("failed to encode sale result")
		return nil, status.Error(codes.Internal, "failed to encode sale result")
	}
	return resp, nil
}

// GetSale возвращает сохранённую продажу компании.
func (s *SaleService) GetSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in getSaleRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.CompanyID == "" || in.SaleID == "" {
		return nil, status.Error(codes.InvalidArgument, "company_id and sale_id are required")
	}

	record, err := s.loadSale(ctx, in.CompanyID, in.SaleID)
	if err != nil {
		return nil, err
	}
	return s.respond(toSaleView(record))
}

// ListSales возвращает продажи клиента, новые первыми.
func (s *SaleService) ListSales(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listSalesRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.CompanyID == "" || in.CustomerID == "" {
		return nil, status.Error(codes.InvalidArgument, "company_id and customer_id are required")
	}
	limit := in.PageSize
	if limit <= 0 {
		limit = defaultListSalesLimit
	}

	records, err := s.sales.ListByCustomer(ctx, in.CompanyID, in.CustomerID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", in.CustomerID).Error("failed to list sales")
		return nil, status.Error(codes.Internal, "failed to list sales")
	}

	views := make([]saleView, 0, len(records))
	for _, record := range records {
		views = append(views, toSaleView(record))
	}
	return s.respond(struct {
		Sales []saleView `json:"sales"`
	}{Sales: views})
}

// GetSaleTimeline возвращает историю событий продажи.
func (s *SaleService) GetSaleTimeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in getSaleRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.CompanyID == "" || in.SaleID == "" {
		return nil, status.Error(codes.InvalidArgument, "company_id and sale_id are required")
	}
	if _, err := s.loadSale(ctx, in.CompanyID, in.SaleID); err != nil {
		return nil, err
	}

	views := []timelineEventView{}
	if s.timeline != nil {
		events, err := s.timeline.List(ctx, in.SaleID)
		if err != nil {
			s.logger.WithError(err).WithField("sale_id", in.SaleID).Warn("failed to list timeline events")
			return nil, status.Error(codes.Internal, "failed to list timeline events")
		}
		for _, event := range events {
			views = append(views, timelineEventView{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred})
		}
	}
	return s.respond(struct {
		SaleID string              `json:"sale_id"`
		Events []timelineEventView `json:"events"`
	}{SaleID: in.SaleID, Events: views})
}

func (s *SaleService) loadSale(ctx context.Context, companyID, saleID string) (domain.SaleRecord, error) {
	record, err := s.sales.Get(ctx, companyID, saleID)
	if err == nil {
		return record, nil
	}
	if errors.Is(err, domain.ErrSaleNotFound) {
		return domain.SaleRecord{}, status.Error(codes.NotFound, domain.ErrSaleNotFound.Error())
	}
	s.logger.WithError(err).WithFields(log.Fields{
		"company_id": companyID,
		"sale_id":    saleID,
	}).Warn("failed to load sale")
	return domain.SaleRecord{}, status.Error(codes.Internal, "failed to load sale")
}

func (s *SaleService) respond(v any) (*structpb.Struct, error) {
	resp, err := encodeResponse(v)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return resp, nil
}

var _ SaleServiceServer = (*SaleService)(nil)
