package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/saga"
)

const kafkaClientID = "sales-service"

// initKafkaProducer создаёт producer, если заданы брокеры.
// Пустой список брокеров не ошибка: сервис работает без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, kafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initCommandConsumer подписывает сагу на topic команд продажи.
// Сообщения, исчерпавшие ретраи, уходят в DLQ через producer.
func initCommandConsumer(
	cfg Config,
	producer *kafka.Producer,
	processor saga.SaleProcessor,
	idem domain.IdempotencyRepository,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	if producer == nil {
		return nil, nil
	}

	handler := kafka.NewSaleCommandHandler(processor, idem, logger.WithField("component", "sale-commands"))
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicSaleCommands},
		handler.Handle,
		kafka.WithDLQProducer(producer),
		kafka.WithMaxRetries(cfg.KafkaMaxRetries),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer group если она запущена.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
