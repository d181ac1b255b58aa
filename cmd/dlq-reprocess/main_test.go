package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
)

func commandDLQValue(t *testing.T, key string) []byte {
	t.Helper()
	raw, err := json.Marshal(kafka.ConsumerDLQMessage{
		OriginalTopic: kafka.TopicSaleCommands,
		OriginalKey:   key,
		OriginalValue: `{"command_id":"` + key + `"}`,
		ErrorMessage:  "catalog unavailable",
		RetryCount:    3,
	})
	if err != nil {
		t.Fatalf("marshal consumer dlq message: %v", err)
	}
	return raw
}

func testConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicSaleEvents,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 || brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_CommandDLQ(t *testing.T) {
	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: commandDLQValue(t, "cmd-1")}, kafka.TopicSaleEvents)
	if err != nil || !ok {
		t.Fatalf("expected replay candidate, ok=%v err=%v", ok, err)
	}
	if got.topic != kafka.TopicSaleCommands || got.key != "cmd-1" {
		t.Fatalf("command must return to its topic: %+v", got)
	}
	if string(got.value) != `{"command_id":"cmd-1"}` {
		t.Fatalf("unexpected replay value: %s", got.value)
	}
}

func TestExtractReplayMessage_OutboxDLQ(t *testing.T) {
	raw, err := json.Marshal(outbox.DLQEnvelope{
		OutboxID:      "outbox-1",
		AggregateType: "sale",
		AggregateID:   "sale-1",
		EventType:     "sale.completed",
		Payload:       json.RawMessage(`{"sale_id":"sale-1","status":"completed"}`),
		PublishError:  "timeout",
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, kafka.TopicSaleEvents)
	if err != nil || !ok {
		t.Fatalf("expected replay candidate, ok=%v err=%v", ok, err)
	}
	if got.topic != kafka.TopicSaleEvents || got.key != "sale-1" {
		t.Fatalf("unexpected routing: %+v", got)
	}
	if string(got.value) != `{"sale_id":"sale-1","status":"completed"}` {
		t.Fatalf("original event must be replayed as is: %s", got.value)
	}
	if got.headers[kafka.HeaderEventType] != "sale.completed" || got.headers[kafka.HeaderOutboxID] != "outbox-1" {
		t.Fatalf("unexpected headers: %+v", got.headers)
	}
}

func TestExtractReplayMessage_OutboxWithoutPayload(t *testing.T) {
	raw := []byte(`{"outbox_id":"outbox-1","aggregate_id":"sale-1","event_type":"sale.completed"}`)
	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, kafka.TopicSaleEvents)
	if err == nil || ok {
		t.Fatalf("expected error for missing payload, ok=%v err=%v", ok, err)
	}
}

func TestExtractReplayMessage_UnknownPayload(t *testing.T) {
	for _, value := range []string{`{"foo":"bar"}`, `not json`} {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, kafka.TopicSaleEvents)
		if err != nil || ok {
			t.Fatalf("%s: expected skip, ok=%v err=%v", value, ok, err)
		}
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	cfg, err := readConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func(string) string { return "" })
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 || cfg.limit != 10 || !cfg.execute || !cfg.fromNewest || cfg.idleTimeout != 3*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicSaleEvents {
		t.Fatalf("unexpected default topics: %s -> %s", cfg.sourceTopic, cfg.targetTopic)
	}

	cfg, err = readConfig(nil, func(key string) string {
		if key == "KAFKA_BROKERS" {
			return "env-broker:9092"
		}
		return ""
	})
	if err != nil || len(cfg.brokers) != 1 || cfg.brokers[0] != "env-broker:9092" {
		t.Fatalf("expected env brokers, got %+v err=%v", cfg, err)
	}
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) string { return "" }
	cases := map[string]struct {
		args    []string
		message string
	}{
		"brokers":      {[]string{"-brokers="}, "kafka brokers are required"},
		"source topic": {[]string{"-brokers=b:9092", "-source-topic="}, "source-topic is required"},
		"target topic": {[]string{"-brokers=b:9092", "-target-topic="}, "target-topic is required"},
		"limit":        {[]string{"-brokers=b:9092", "-limit=0"}, "limit must be > 0"},
		"idle timeout": {[]string{"-brokers=b:9092", "-idle-timeout=0s"}, "idle-timeout must be > 0"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readConfig(tc.args, noEnv)
			if err == nil || !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected %q error, got: %v", tc.message, err)
			}
		})
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	msg := replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`), headers: map[string]string{"a": "b"}}
	if err := publishReplay(producer, msg); err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if len(producer.published) != 1 {
		t.Fatalf("unexpected producer calls: %d", len(producer.published))
	}
	sent := producer.published[0]
	if sent.topic != "topic" || sent.headers["a"] != "b" || sent.headers[headerReplayedAt] == "" {
		t.Fatalf("unexpected published message: %+v", sent)
	}
	if _, ok := msg.headers[headerReplayedAt]; ok {
		t.Fatal("publishReplay must not mutate message headers")
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, msg); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: commandDLQValue(t, "cmd-1")}}),
		},
	}

	stats, err := processPartition(context.Background(), consumer, client, nil, testConfig(), 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_ExecuteFromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 4, Value: commandDLQValue(t, "cmd-4")}}),
		},
	}
	producer := &stubReplayProducer{}

	cfg := testConfig()
	cfg.execute = true
	cfg.fromNewest = true

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.replayed != 1 || len(producer.published) != 1 {
		t.Fatalf("expected one replay, got stats=%+v calls=%d", stats, len(producer.published))
	}
	if consumer.calls[0].offset != 4 {
		t.Fatalf("from-newest must start at newest-limit, got %d", consumer.calls[0].offset)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcBadPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"outbox_id":"x","aggregate_id":"sale-1"}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	stats, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: commandDLQValue(t, "cmd-1")}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := testConfig()
	cfg.idleTimeout = 10 * time.Millisecond

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := testConfig()
	cfg.limit = 1

	if err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: commandDLQValue(t, "cmd-1")}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: commandDLQValue(t, "cmd-2")}}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].partition != 0 {
		t.Fatalf("expected only sorted partition 0 due to limit=1, got %+v", consumer.calls)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := testConfig()
	cfg.limit = 1

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: commandDLQValue(t, "cmd-1")}}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type publishedReplay struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type stubReplayProducer struct {
	sendErr   error
	published []publishedReplay
	closed    bool
}

func (s *stubReplayProducer) PublishRaw(topic, key string, value []byte, headers map[string]string) error {
	s.published = append(s.published, publishedReplay{topic: topic, key: key, value: value, headers: headers})
	return s.sendErr
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
