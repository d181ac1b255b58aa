package kafka

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	defaultCommandTTL = 24 * time.Hour
	// defaultCommandLease — сколько команда может висеть в processing, прежде чем
	// повторная доставка считается признаком упавшего обработчика.
	defaultCommandLease = 5 * time.Minute
)

// errCommandStalled — команда застряла в processing дольше lease.
var errCommandStalled = errors.New("sale command stuck in processing")

// SaleProcessor — то, что умеет провести продажу.
type SaleProcessor interface {
	ProcessSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.ProcessSaleResult, error)
}

// SaleCommandHandler превращает сообщения erp.sales.commands в вызовы ProcessSale.
type SaleCommandHandler struct {
	processor   SaleProcessor
	idempotency domain.IdempotencyRepository
	ttl         time.Duration
	lease       time.Duration
	logger      *log.Entry
	now         func() time.Time
}

// NewSaleCommandHandler создаёт обработчик команд. idempotency может быть nil,
// тогда повторная доставка проводит продажу заново.
func NewSaleCommandHandler(processor SaleProcessor, idempotency domain.IdempotencyRepository, logger *log.Entry) *SaleCommandHandler {
	if logger == nil {
		logger = log.WithField("component", "sale-command-handler")
	}
	return &SaleCommandHandler{
		processor:   processor,
		idempotency: idempotency,
		ttl:         defaultCommandTTL,
		lease:       defaultCommandLease,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle реализует MessageHandler. Отказ по бизнес-правилам и сбой саги
// с завершённой компенсацией считаются обработкой: итог уже записан в хранилище.
func (h *SaleCommandHandler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	command, err := ParseSaleCommand(message)
	if err != nil {
		return Permanent(err)
	}

	fields := log.Fields{
		"command_id":  command.CommandID,
		"company_id":  command.Request.CompanyID,
		"customer_id": command.Request.CustomerID,
	}

	if h.idempotency != nil && command.CommandID != "" {
		sum := sha256.Sum256(message.Value)
		_, err := h.idempotency.CreateProcessing(ctx, command.CommandID, hex.EncodeToString(sum[:]), h.now().Add(h.ttl))
		switch {
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if retry, err := h.onDuplicate(ctx, command.CommandID, fields); !retry {
				return err
			}
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return Permanent(err)
		case err != nil:
			return fmt.Errorf("reserve command id: %w", err)
		}
	}

	result, err := h.processor.ProcessSale(ctx, command.Request)
	if err != nil {
		return h.finishWithError(ctx, command, fields, err)
	}

	h.logger.WithFields(fields).WithField("sale_id", result.SaleID).Info("sale command processed")
	if h.idempotency != nil && command.CommandID != "" {
		body := h.encodeResponse(result, fields)
		if err := h.idempotency.MarkDone(ctx, command.CommandID, body, int(codes.OK)); err != nil {
			h.logger.WithError(err).WithFields(fields).Warn("failed to mark sale command as done")
		}
	}
	return nil
}

func (h *SaleCommandHandler) finishWithError(ctx context.Context, command *SaleCommand, fields log.Fields, err error) error {
	terminal := domain.IsBusinessRejection(err) || errors.Is(err, domain.ErrSaleProcessing)
	if !terminal {
		// codes.Unavailable разрешает повтору из consumer пройти заново.
		if h.idempotency != nil && command.CommandID != "" {
			if markErr := h.idempotency.MarkFailed(ctx, command.CommandID, []byte(err.Error()), int(codes.Unavailable)); markErr != nil {
				h.logger.WithError(markErr).WithFields(fields).Warn("failed to release sale command")
			}
		}
		return err
	}

	h.logger.WithError(err).WithFields(fields).Warn("sale command rejected")
	if h.idempotency != nil && command.CommandID != "" {
		body := h.encodeResponse(map[string]string{"error": err.Error()}, fields)
		if markErr := h.idempotency.MarkFailed(ctx, command.CommandID, body, int(codes.FailedPrecondition)); markErr != nil {
			h.logger.WithError(markErr).WithFields(fields).Warn("failed to mark sale command as failed")
		}
	}
	return nil
}

// onDuplicate решает судьбу повторной доставки. retry=true — предыдущая попытка
// упала на временной ошибке и команду можно провести заново.
func (h *SaleCommandHandler) onDuplicate(ctx context.Context, commandID string, fields log.Fields) (bool, error) {
	record, err := h.idempotency.Get(ctx, commandID)
	if err != nil {
		return false, fmt.Errorf("load command state: %w", err)
	}

	switch record.Status {
	case domain.IdempotencyStatusFailed:
		if record.ResultCode == int(codes.Unavailable) {
			return true, nil
		}
	case domain.IdempotencyStatusProcessing:
		age := h.now().Sub(record.CreatedAt)
		logger := h.logger.WithFields(fields).WithField("processing_for", age.Truncate(time.Second).String())
		if age > h.lease {
			logger.Warn("sale command stuck in processing, sending to DLQ")
			return false, Permanent(fmt.Errorf("%w: command %s", errCommandStalled, commandID))
		}
		logger.Warn("sale command is still being processed, redelivery skipped")
		return false, nil
	}

	h.logger.WithFields(fields).Info("duplicate sale command skipped")
	return false, nil
}

func (h *SaleCommandHandler) encodeResponse(v any, fields log.Fields) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("failed to encode sale command response")
		return nil
	}
	return body
}
