package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrSagaLogVersionConflict, want: true},
		{name: "wrapped version conflict error", err: fmt.Errorf("save: %w", ErrSagaLogVersionConflict), want: true},
		{name: "other error", err: ErrSagaLogNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{name: "validation", err: NewValidationError("quantity", "bad"), sentinel: ErrValidation},
		{name: "not found", err: &ProductNotFoundError{ProductID: "p"}, sentinel: ErrProductNotFound},
		{name: "inactive", err: &ProductInactiveError{ProductID: "p", Status: ProductStatusInactive}, sentinel: ErrProductInactive},
		{name: "stock", err: &InsufficientStockError{ProductID: "p", Requested: 3, Available: 2}, sentinel: ErrInsufficientStock},
		{name: "price", err: &PriceMismatchError{ProductID: "p", Expected: decimal.NewFromInt(1), Actual: decimal.NewFromInt(2)}, sentinel: ErrPriceMismatch},
		{name: "transition", err: &InvalidStateTransitionError{From: SaleStatusPending, To: SaleStatusCompleted}, sentinel: ErrInvalidStateTransition},
		{name: "precondition", err: &PreconditionViolationError{Reason: "x"}, sentinel: ErrPreconditionViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Fatalf("expected %v to match sentinel %v", wrapped, tt.sentinel)
			}
		})
	}
}

func TestSaleProcessingErrorKeepsCause(t *testing.T) {
	cause := &InsufficientStockError{ProductID: "p1", Requested: 3, Available: 2}
	err := error(&SaleProcessingError{
		SaleID:             "sale-1",
		Status:             SaleStatusCompensated,
		Cause:              cause,
		CompensationErrors: []error{errors.New("delete invoice failed")},
	})

	if !errors.Is(err, ErrSaleProcessing) {
		t.Fatal("expected ErrSaleProcessing")
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatal("expected cause to be reachable with errors.As")
	}
	if stockErr.Requested != 3 || stockErr.Available != 2 {
		t.Fatalf("unexpected cause details: %+v", stockErr)
	}
	if !IsBusinessRejection(err) {
		t.Fatal("stock shortage must be a business rejection")
	}
}

func TestIsBusinessRejection(t *testing.T) {
	if IsBusinessRejection(errors.New("connection refused")) {
		t.Fatal("infrastructure error must not be a business rejection")
	}
	if IsBusinessRejection(&SaleProcessingError{SaleID: "s", Cause: errors.New("timeout")}) {
		t.Fatal("processing error with infrastructure cause must not be a business rejection")
	}
	if !IsBusinessRejection(&ProductNotFoundError{ProductID: "p"}) {
		t.Fatal("missing product must be a business rejection")
	}
}
