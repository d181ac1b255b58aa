package kafka

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
// Payload уходит как есть, тип события и ID записи outbox передаются в headers.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicSaleEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	return p.producer.PublishRaw(p.topic, key, msg.Payload, map[string]string{
		HeaderEventType: msg.EventType,
		HeaderOutboxID:  msg.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
