package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Topics для Kafka
const (
	TopicSaleEvents      = "erp.sales.events"
	TopicSaleCommands    = "erp.sales.commands"
	TopicDeadLetterQueue = "erp.sales.dlq"
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// SaleCommand — команда на обработку продажи, приходящая из topic erp.sales.commands.
// CommandID используется как ключ идемпотентности при повторной доставке.
type SaleCommand struct {
	CommandID string                    `json:"command_id"`
	Request   domain.ProcessSaleRequest `json:"request"`
}

// ConsumerDLQMessage — сообщение, которое consumer отправляет в DLQ.
type ConsumerDLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParseSaleCommand парсит SaleCommand из сообщения.
func ParseSaleCommand(message *sarama.ConsumerMessage) (*SaleCommand, error) {
	var command SaleCommand
	if err := json.Unmarshal(message.Value, &command); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sale command: %w", err)
	}
	return &command, nil
}

func header(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}
