package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "sales-service"

// Producer представляет Kafka producer для публикации событий
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	if clientID == "" {
		clientID = defaultClientID
	}

	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishEvent сериализует event в JSON и публикует его с заголовками.
func (p *Producer) PublishEvent(topic, key string, event any, headers map[string]string) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.PublishRaw(topic, key, eventData, headers)
}

// PublishRaw публикует готовый payload. Ключ задаёт партицию: события одной продажи
// попадают в одну партицию и читаются по порядку.
func (p *Producer) PublishRaw(topic, key string, value []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
