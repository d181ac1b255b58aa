package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// StorageDriver выбирает хранилище записей о продажах.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска sales-service.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaMaxRetries    int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RecoveryInterval   time.Duration
	RecoveryStaleAfter time.Duration

	// MaxPriceVariance — допустимое отклонение цены в процентах для нестрогой проверки.
	MaxPriceVariance decimal.Decimal

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// CatalogFile — JSON со списком товаров для in-memory каталога.
	CatalogFile string

	OTLPEndpoint string
}

// DefaultConfig возвращает настройки локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaConsumerGroup:          "sales-service",
		KafkaMaxRetries:             3,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		OutboxMaxPending:            1000,
		OutboxMaxAge:                5 * time.Minute,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		RecoveryInterval:            30 * time.Second,
		RecoveryStaleAfter:          2 * time.Minute,
		MaxPriceVariance:            decimal.NewFromInt(10),
		BreakerMaxFailures:          5,
		BreakerResetTimeout:         30 * time.Second,
	}
}

// ReadConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения игнорируются с предупреждением.
func ReadConfigFromEnv(logger *log.Entry) Config {
	if logger == nil {
		logger = log.WithField("component", "config")
	}
	env := envReader{logger: logger}
	cfg := DefaultConfig()

	cfg.GRPCAddr = env.string("SALES_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = env.string("SALES_METRICS_ADDR", cfg.MetricsAddr)
	cfg.StorageDriver = StorageDriver(strings.ToLower(env.string("SALES_STORAGE_DRIVER", string(cfg.StorageDriver))))
	cfg.PostgresDSN = env.string("SALES_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = env.bool("SALES_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaConsumerGroup = env.string("SALES_KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaMaxRetries = env.positiveInt("SALES_KAFKA_MAX_RETRIES", cfg.KafkaMaxRetries)

	cfg.OutboxPollInterval = env.duration("SALES_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = env.positiveInt("SALES_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = env.positiveInt("SALES_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = env.duration("SALES_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)
	cfg.OutboxMaxPending = env.positiveInt("SALES_OUTBOX_MAX_PENDING", cfg.OutboxMaxPending)
	cfg.OutboxMaxAge = env.duration("SALES_OUTBOX_MAX_AGE", cfg.OutboxMaxAge)

	cfg.IdempotencyCleanupInterval = env.duration("SALES_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = env.positiveInt("SALES_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)

	cfg.RecoveryInterval = env.duration("SALES_RECOVERY_INTERVAL", cfg.RecoveryInterval)
	cfg.RecoveryStaleAfter = env.duration("SALES_RECOVERY_STALE_AFTER", cfg.RecoveryStaleAfter)

	cfg.MaxPriceVariance = env.percentage("SALES_MAX_PRICE_VARIANCE", cfg.MaxPriceVariance)
	cfg.BreakerMaxFailures = env.positiveInt("SALES_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures)
	cfg.BreakerResetTimeout = env.duration("SALES_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout)

	cfg.CatalogFile = env.string("SALES_CATALOG_FILE", cfg.CatalogFile)
	cfg.OTLPEndpoint = env.string("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	return cfg
}

type envReader struct {
	logger *log.Entry
}

func (e envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (e envReader) invalid(key, value string, fallback any) {
	e.logger.WithFields(log.Fields{
		"env":      key,
		"value":    value,
		"fallback": fallback,
	}).Warn("invalid config value, using default")
}

func (e envReader) string(key, fallback string) string {
	if value, ok := e.lookup(key); ok {
		return value
	}
	return fallback
}

func (e envReader) bool(key string, fallback bool) bool {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.invalid(key, value, fallback)
		return fallback
	}
	return parsed
}

func (e envReader) positiveInt(key string, fallback int) int {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		e.invalid(key, value, fallback)
		return fallback
	}
	return parsed
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		e.invalid(key, value, fallback)
		return fallback
	}
	return parsed
}

func (e envReader) percentage(key string, fallback decimal.Decimal) decimal.Decimal {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil || parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromInt(100)) {
		e.invalid(key, value, fallback.String())
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
