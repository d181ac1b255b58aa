package grpcsvc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// statusFromSaleError переводит ошибку ProcessSale в gRPC-статус.
// SaleProcessingError проверяется первой: она оборачивает и исходную причину.
func statusFromSaleError(err error) error {
	if err == nil {
		return nil
	}
	var processing *domain.SaleProcessingError
	switch {
	case errors.As(err, &processing):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrProductInactive),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrPriceMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrPreconditionViolation):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, domain.ErrCircuitOpen):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Unavailable, "sale processing is temporarily unavailable")
	}
}

// retryableCode — повтор с тем же idempotency-key выполняет запрос заново.
func retryableCode(code codes.Code) bool {
	return code == codes.Unavailable
}
