package grpcsvc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// decodeRequest разбирает Struct в dst. Неизвестные поля отклоняются.
func decodeRequest(in *structpb.Struct, dst any) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func encodeResponse(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

type getSaleRequest struct {
	CompanyID string `json:"company_id"`
	SaleID    string `json:"sale_id"`
}

type listSalesRequest struct {
	CompanyID  string `json:"company_id"`
	CustomerID string `json:"customer_id"`
	PageSize   int    `json:"page_size"`
}

type saleItemView struct {
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductSKU         string          `json:"product_sku,omitempty"`
	Quantity           int64           `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	Total              decimal.Decimal `json:"total"`
}

type saleView struct {
	ID             string                       `json:"id"`
	CompanyID      string                       `json:"company_id"`
	CustomerID     string                       `json:"customer_id"`
	Status         domain.SaleStatus            `json:"status"`
	InvoiceID      string                       `json:"invoice_id,omitempty"`
	ReservationID  string                       `json:"reservation_id,omitempty"`
	Items          []saleItemView               `json:"items"`
	StockMovements []domain.StockMovementRecord `json:"stock_movements"`
	Subtotal       decimal.Decimal              `json:"subtotal"`
	TotalDiscount  decimal.Decimal              `json:"total_discount"`
	TotalTax       decimal.Decimal              `json:"total_tax"`
	Total          decimal.Decimal              `json:"total"`
	FailureReason  string                       `json:"failure_reason,omitempty"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

type timelineEventView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

func toSaleView(record domain.SaleRecord) saleView {
	items := make([]saleItemView, 0, len(record.Items))
	for _, item := range record.Items {
		items = append(items, saleItemView(item))
	}
	movements := record.Movements
	if movements == nil {
		movements = []domain.StockMovementRecord{}
	}
	return saleView{
		ID:             record.ID,
		CompanyID:      record.CompanyID,
		CustomerID:     record.CustomerID,
		Status:         record.Status,
		InvoiceID:      record.InvoiceID,
		ReservationID:  record.ReservationID,
		Items:          items,
		StockMovements: movements,
		Subtotal:       record.Subtotal,
		TotalDiscount:  record.TotalDiscount,
		TotalTax:       record.TotalTax,
		Total:          record.Total,
		FailureReason:  record.FailureReason,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}
