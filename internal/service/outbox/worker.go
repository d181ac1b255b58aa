package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Clock          func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики outbox.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// Worker публикует события продаж из outbox в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	clock          func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         logger,
		metrics:        opts.Metrics,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		clock:          opts.Clock,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число опубликованных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.refreshBacklogMetrics(ctx)
	defer w.refreshBacklogMetrics(ctx)

	messages, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return sent
		}
		fields := log.Fields{
			"outbox_id":  msg.ID,
			"sale_id":    msg.AggregateID,
			"event_type": msg.EventType,
		}

		if err := w.publishWithRetry(ctx, msg); err != nil {
			w.logger.WithError(err).WithFields(fields).Error("outbox publish failed after retries")
			w.record("failed")

			if dlqErr := w.publishToDLQ(ctx, msg, err); dlqErr != nil {
				w.logger.WithError(dlqErr).WithFields(fields).Warn("failed to publish to DLQ")
				w.record("dlq_failed")
			}
			if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
				w.logger.WithError(markErr).WithFields(fields).Warn("failed to mark outbox as failed")
			}
			continue
		}

		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			w.logger.WithError(err).WithFields(fields).Warn("failed to mark outbox as sent")
			continue
		}
		sent++
	}
	return sent
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(ctx, msg)
		if err == nil {
			w.record("sent")
			return nil
		}
		lastErr = err
		w.record("retry_error")

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) record(result string) {
	if w.metrics != nil {
		w.metrics.RecordPublishAttempt(result)
	}
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		w.metrics.SetBacklog(stats.PendingCount, 0)
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, w.clock().Sub(stats.OldestPendingAt))
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

// DLQEnvelope — сообщение, отправляемое в DLQ вместо исходного.
type DLQEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) publishToDLQ(ctx context.Context, msg domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(DLQEnvelope{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: w.clock(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqMsg := msg
	dlqMsg.Payload = payload
	if err := w.dlqPublisher.Publish(ctx, dlqMsg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
