package kafka

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

type stubProcessor struct {
	calls int
	errs  []error
	last  domain.ProcessSaleRequest
}

func (s *stubProcessor) ProcessSale(_ context.Context, req domain.ProcessSaleRequest) (domain.ProcessSaleResult, error) {
	s.calls++
	s.last = req
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.ProcessSaleResult{}, err
		}
	}
	return domain.ProcessSaleResult{SaleID: "sale-1", Status: domain.SaleStatusCompleted}, nil
}

func commandMessage(t *testing.T, commandID string) *sarama.ConsumerMessage {
	t.Helper()
	command := SaleCommand{
		CommandID: commandID,
		Request: domain.ProcessSaleRequest{
			CompanyID:  "company-1",
			CustomerID: "customer-1",
			Items:      []domain.ProcessSaleItem{{ProductID: "p-1", Quantity: 1}},
		},
	}
	value, err := json.Marshal(command)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: TopicSaleCommands, Key: []byte("company-1"), Value: value}
}

func testHandlerLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestSaleCommandHandler_ProcessesOnce(t *testing.T) {
	processor := &stubProcessor{}
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(processor, repo, testHandlerLogger())

	msg := commandMessage(t, "cmd-1")
	require.NoError(t, handler.Handle(context.Background(), msg))
	require.NoError(t, handler.Handle(context.Background(), msg))

	require.Equal(t, 1, processor.calls)
	require.Equal(t, "company-1", processor.last.CompanyID)

	record, err := repo.Get(context.Background(), "cmd-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
	require.Equal(t, int(codes.OK), record.ResultCode)
}

func TestSaleCommandHandler_MalformedIsPermanent(t *testing.T) {
	handler := NewSaleCommandHandler(&stubProcessor{}, nil, testHandlerLogger())

	err := handler.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
	require.ErrorIs(t, err, ErrPermanent)
}

func TestSaleCommandHandler_RejectionIsTerminal(t *testing.T) {
	processor := &stubProcessor{errs: []error{&domain.InsufficientStockError{ProductID: "p-1"}}}
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(processor, repo, testHandlerLogger())

	msg := commandMessage(t, "cmd-2")
	require.NoError(t, handler.Handle(context.Background(), msg))
	require.NoError(t, handler.Handle(context.Background(), msg))
	require.Equal(t, 1, processor.calls)

	record, err := repo.Get(context.Background(), "cmd-2")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	require.Equal(t, int(codes.FailedPrecondition), record.ResultCode)
}

func TestSaleCommandHandler_SagaFailureIsTerminal(t *testing.T) {
	processor := &stubProcessor{errs: []error{&domain.SaleProcessingError{SaleID: "sale-9", Cause: errors.New("stock service down")}}}
	handler := NewSaleCommandHandler(processor, nil, testHandlerLogger())

	require.NoError(t, handler.Handle(context.Background(), commandMessage(t, "")))
}

func TestSaleCommandHandler_TransientFailureIsRetried(t *testing.T) {
	processor := &stubProcessor{errs: []error{errors.New("catalog unavailable"), nil}}
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(processor, repo, testHandlerLogger())

	msg := commandMessage(t, "cmd-3")
	require.Error(t, handler.Handle(context.Background(), msg))
	require.NoError(t, handler.Handle(context.Background(), msg))
	require.Equal(t, 2, processor.calls)

	record, err := repo.Get(context.Background(), "cmd-3")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestSaleCommandHandler_ReusedCommandIDIsPermanent(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(&stubProcessor{}, repo, testHandlerLogger())

	require.NoError(t, handler.Handle(context.Background(), commandMessage(t, "cmd-4")))

	other := commandMessage(t, "cmd-4")
	other.Value = []byte(`{"command_id":"cmd-4","request":{"company_id":"company-2"}}`)
	require.ErrorIs(t, handler.Handle(context.Background(), other), ErrPermanent)
}

func TestSaleCommandHandler_InProgressRedeliveryIsSkipped(t *testing.T) {
	processor := &stubProcessor{}
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(processor, repo, testHandlerLogger())

	msg := commandMessage(t, "cmd-5")
	_, err := repo.CreateProcessing(context.Background(), "cmd-5", hashOf(msg), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), msg))
	require.Zero(t, processor.calls)
}

func TestSaleCommandHandler_StalledCommandGoesToDLQ(t *testing.T) {
	processor := &stubProcessor{}
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(processor, repo, testHandlerLogger())
	handler.now = func() time.Time { return time.Now().UTC().Add(defaultCommandLease + time.Minute) }

	msg := commandMessage(t, "cmd-6")
	_, err := repo.CreateProcessing(context.Background(), "cmd-6", hashOf(msg), time.Now().UTC().Add(defaultCommandTTL))
	require.NoError(t, err)

	err = handler.Handle(context.Background(), msg)
	require.ErrorIs(t, err, ErrPermanent)
	require.ErrorIs(t, err, errCommandStalled)
	require.Zero(t, processor.calls)
}

func TestSaleCommandHandler_EncodeResponseFallsBackToNil(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	handler := NewSaleCommandHandler(&stubProcessor{}, repo, testHandlerLogger())

	require.Nil(t, handler.encodeResponse(make(chan int), log.Fields{}))
	require.NotNil(t, handler.encodeResponse(map[string]string{"error": "x"}, log.Fields{}))
}

func hashOf(msg *sarama.ConsumerMessage) string {
	sum := sha256.Sum256(msg.Value)
	return hex.EncodeToString(sum[:])
}
