package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

// AggregateTypeSale — aggregate_type всех сообщений о продажах.
const AggregateTypeSale = "sale"

// Envelope — JSON-представление доменного события в outbox и в брокере.
type Envelope struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	SaleID     string         `json:"sale_id"`
	CompanyID  string         `json:"company_id"`
	OccurredAt string         `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Sink принимает события агрегата продажи: пишет их в outbox и в timeline
// одной транзакцией хранилища.
type Sink struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	tx       domain.Transactor
	logger   *log.Entry
	metrics  *metrics.OutboxMetrics
}

// SinkOption настраивает Sink.
type SinkOption func(*Sink)

// WithSinkLogger задаёт логгер.
func WithSinkLogger(logger *log.Entry) SinkOption {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSinkMetrics задаёт метрики outbox.
func WithSinkMetrics(m *metrics.OutboxMetrics) SinkOption {
	return func(s *Sink) { s.metrics = m }
}

// WithTransactor задаёт транзактор; без него outbox и timeline пишутся по отдельности.
func WithTransactor(tx domain.Transactor) SinkOption {
	return func(s *Sink) { s.tx = tx }
}

// NewSink создаёт sink поверх outbox и timeline. timeline может быть nil.
func NewSink(outbox domain.OutboxRepository, timeline domain.TimelineRepository, opts ...SinkOption) *Sink {
	s := &Sink{
		outbox:   outbox,
		timeline: timeline,
		logger:   log.WithField("component", "outbox-sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish принимает пачку целиком или возвращает ошибку, ничего не записав
// (при наличии транзактора).
func (s *Sink) Publish(ctx context.Context, events []domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]domain.OutboxMessage, 0, len(events))
	timeline := make([]domain.TimelineEvent, 0, len(events))
	for _, event := range events {
		msg, err := toOutboxMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		timeline = append(timeline, toTimelineEvent(event))
	}

	write := func(ctx context.Context) error {
		if _, err := s.outbox.Enqueue(ctx, msgs...); err != nil {
			return fmt.Errorf("enqueue sale events: %w", err)
		}
		if s.timeline != nil {
			if err := s.timeline.Append(ctx, timeline...); err != nil {
				return fmt.Errorf("append sale timeline: %w", err)
			}
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.WithinTransaction(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordEnqueued(len(msgs))
	}
	s.logger.WithFields(log.Fields{
		"sale_id": events[0].AggregateID,
		"events":  len(msgs),
	}).Debug("sale events enqueued")
	return nil
}

func toOutboxMessage(event domain.DomainEvent) (domain.OutboxMessage, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(Envelope{
		EventID:    id,
		EventType:  event.Name,
		SaleID:     event.AggregateID,
		CompanyID:  event.CompanyID,
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Data:       event.Payload,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s event: %w", event.Name, err)
	}
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: AggregateTypeSale,
		AggregateID:   event.AggregateID,
		EventType:     event.Name,
		Payload:       payload,
	}, nil
}

func toTimelineEvent(event domain.DomainEvent) domain.TimelineEvent {
	var reason string
	if r, ok := event.Payload["reason"].(string); ok {
		reason = r
	}
	return domain.TimelineEvent{
		SaleID:   event.AggregateID,
		Type:     event.Name,
		Reason:   reason,
		Occurred: event.OccurredAt,
	}
}

var _ domain.EventSink = (*Sink)(nil)
