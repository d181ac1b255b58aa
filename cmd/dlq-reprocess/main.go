package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	replayClientID     = "sales-dlq-reprocess"
	headerReplayedAt   = "x-replayed-at"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayMessage — сообщение, восстановленное из DLQ для повторной публикации.
type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	PublishRaw(topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, replayClientID)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicSaleEvents, "target topic for outbox events")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	slices.Sort(partitions)

	var total partitionStats
	for _, partition := range partitions {
		remaining := cfg.limit - total.processed
		if remaining <= 0 {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, remaining)
		if err != nil {
			return err
		}
		total.add(stats)
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *partitionStats) add(other partitionStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// scanWindow возвращает offset начала чтения и offset, на котором чтение заканчивается.
// ok == false — партиция пуста.
func scanWindow(client offsetClient, cfg config, partition int32, limit int) (start, end int64, ok bool, err error) {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return 0, 0, false, nil
	}

	start = oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}
	return start, newest, true, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, ok, err := scanWindow(client, cfg, partition, limit)
	if err != nil || !ok {
		return stats, err
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, open := <-pc.Messages():
			if !open || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			if err := replayOne(msg, producer, cfg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// replayOne обрабатывает одно DLQ-сообщение: в dry-run только логирует кандидата.
func replayOne(msg *sarama.ConsumerMessage, producer replayProducer, cfg config, stats *partitionStats) error {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	replay, ok, err := extractReplayMessage(msg, cfg.targetTopic)
	if err != nil || !ok {
		stats.processed++
		stats.skipped++
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
		}
		return nil
	}

	fields["target_topic"] = replay.topic
	fields["key"] = replay.key
	if cfg.execute {
		if err := publishReplay(producer, replay); err != nil {
			return fmt.Errorf("publish replay message: %w", err)
		}
		log.WithFields(fields).Debug("dlq message replayed")
	} else {
		log.WithFields(fields).Info("dlq replay candidate")
	}
	stats.processed++
	stats.replayed++
	return nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	headers := make(map[string]string, len(msg.headers)+1)
	for k, v := range msg.headers {
		headers[k] = v
	}
	headers[headerReplayedAt] = time.Now().UTC().Format(time.RFC3339)
	return producer.PublishRaw(msg.topic, msg.key, msg.value, headers)
}

// extractReplayMessage распознаёт два формата DLQ: сообщение consumer'а команд
// (возвращается в исходный topic) и outbox-конверт (исходное событие уходит в targetTopic).
// ok == false без ошибки означает неизвестный формат.
func extractReplayMessage(msg *sarama.ConsumerMessage, targetTopic string) (replayMessage, bool, error) {
	var consumerPayload kafka.ConsumerDLQMessage
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		topic := strings.TrimSpace(consumerPayload.OriginalTopic)
		if topic == "" {
			topic = kafka.TopicSaleCommands
		}
		return replayMessage{
			topic: topic,
			key:   consumerPayload.OriginalKey,
			value: []byte(consumerPayload.OriginalValue),
		}, true, nil
	}

	var envelope outbox.DLQEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || envelope.OutboxID == "" {
		return replayMessage{}, false, nil
	}
	if len(envelope.Payload) == 0 || !json.Valid(envelope.Payload) {
		return replayMessage{}, false, fmt.Errorf("outbox dlq envelope %s has no original event payload", envelope.OutboxID)
	}

	key := envelope.AggregateID
	if key == "" {
		key = envelope.OutboxID
	}
	return replayMessage{
		topic: targetTopic,
		key:   key,
		value: envelope.Payload,
		headers: map[string]string{
			kafka.HeaderEventType: envelope.EventType,
			kafka.HeaderOutboxID:  envelope.OutboxID,
		},
	}, true, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
