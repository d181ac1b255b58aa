package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// ErrPermanent помечает ошибку, при которой повторная обработка бессмысленна.
var ErrPermanent = errors.New("permanent message failure")

// Permanent оборачивает err в ErrPermanent: сообщение сразу уходит в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer представляет Kafka consumer с поддержкой DLQ
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQProducer задаёт producer для Dead Letter Queue.
func WithDLQProducer(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.dlqProducer = producer }
}

// WithMaxRetries задаёт число попыток обработки до отправки в DLQ.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer создает новый Kafka consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				// Не маркируем: сообщение будет перечитано после rebalance.
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение с повторами и отправкой в DLQ.
// Счётчик попыток продолжается с x-retry-count, если сообщение уже переигрывалось.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)

	var err error
	for {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		retryCount++
		if errors.Is(err, ErrPermanent) || retryCount >= c.maxRetries || ctx.Err() != nil {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
	}

	if ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err, retryCount); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	value, ok := header(message, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(value)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	payload := ConsumerDLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        retryCount,
	}
	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), payload, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      failedAt,
		HeaderRetryCount:    strconv.Itoa(retryCount),
	})
}
