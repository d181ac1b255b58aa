package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/app"
)

const envLogLevel = "SALES_LOG_LEVEL"

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLogLevel(level))
}

func parseLogLevel(raw string) log.Level {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		log.WithField("value", raw).Warn("unknown log level, using info")
		return log.InfoLevel
	}
	return level
}

func main() {
	setupLogger(os.Getenv(envLogLevel))
	cfg := app.ReadConfigFromEnv(log.WithField("component", "config"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_brokers":  cfg.KafkaBrokers,
	}).Info("запускаем SaleService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("SaleService остановлен")
}
