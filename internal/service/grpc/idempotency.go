package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func (s *SaleService) withIdempotency(
	ctx context.Context,
	method string,
	req *structpb.Struct,
	handler func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, key, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		resp, rerun, replayErr := s.replayIdempotency(err, record)
		if !rerun {
			return resp, replayErr
		}
		s.logger.WithField("idempotency_key", key).Info("retrying request after transient failure")
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.cacheIdempotencyFailure(ctx, key, runErr)
		return nil, runErr
	}
	if cacheErr := s.cacheIdempotencySuccess(ctx, key, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

// replayIdempotency возвращает сохранённый результат. rerun=true — прошлый
// запрос упал по временной причине и его можно выполнить ещё раз.
func (s *SaleService) replayIdempotency(createErr error, record domain.IdempotencyRecord) (*structpb.Struct, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, false, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, false, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := new(structpb.Struct)
			if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, false, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, false, nil
		case domain.IdempotencyStatusProcessing:
			return nil, false, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			failure := decodeIdempotencyFailure(record)
			if retryableCode(status.Code(failure)) {
				return nil, true, nil
			}
			return nil, false, failure
		default:
			return nil, false, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, false, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *SaleService) cacheIdempotencySuccess(ctx context.Context, key string, resp *structpb.Struct) error {
	data, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *SaleService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	if err := s.idemRepo.MarkFailed(ctx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	const fallback = "previous request with the same idempotency key failed"

	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int64(payload.Code)); ok && code != codes.OK {
				if payload.Message == "" {
					payload.Message = fallback
				}
				return status.Error(code, payload.Message)
			}
		}
	}
	if code, ok := grpcCode(int64(record.ResultCode)); ok && code != codes.OK {
		return status.Error(code, fallback)
	}
	return status.Error(codes.Internal, fallback)
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(idempotencyKeyHeader); len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if values := md.Get(idempotencyKeyHeader); len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
