package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/sales/internal/service/grpc"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает sales-service и блокируется до отмены ctx или падения gRPC сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithField("build", version.String()).Info("starting sales-service")

	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.WithError(err).Warn("tracing is disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	collab, err := newCollaborators(cfg, logger)
	if err != nil {
		return err
	}

	sagaMetrics := metrics.NewSagaMetrics()
	outboxMetrics := metrics.NewOutboxMetrics()
	maintenanceMetrics := metrics.NewMaintenanceMetrics()

	orchestrator, err := createOrchestrator(cfg, deps, collab, sagaMetrics, outboxMetrics, logger)
	if err != nil {
		return err
	}

	// Ошибка Kafka не фатальна: продажи обрабатываются через gRPC, события ждут в outbox.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	consumer, err := initCommandConsumer(cfg, producer, orchestrator, deps.idempotencyRepo, logger)
	if err != nil {
		logger.WithError(err).Warn("sale command consumer is disabled")
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	workers := newBackgroundWorkers(cfg, deps, collab, producer, sagaMetrics, outboxMetrics, maintenanceMetrics, logger)
	workers.start(workerCtx)
	defer func() {
		stopWorkers()
		workers.wait()
	}()

	if consumer != nil {
		if err := consumer.Start(workerCtx); err != nil {
			logger.WithError(err).Warn("failed to start sale command consumer")
		}
		defer stopConsumer(consumer, logger)
	}

	saleService := grpcsvc.NewSaleService(orchestrator, deps.sales, deps.timelineRepo, deps.idempotencyRepo,
		logger.WithField("layer", "grpc"))
	grpcServer, healthServer := newGRPCServer(saleService, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.outboxRepo.Stats, cfg.OutboxMaxPending, cfg.OutboxMaxAge))
	healthHandler.RegisterChecker("products", healthcheck.NewBreakerChecker("products", func() string {
		return collab.productsBreaker.State().String()
	}))
	healthHandler.RegisterChecker("invoices", healthcheck.NewBreakerChecker("invoices", func() string {
		return collab.invoicesBreaker.State().String()
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer регистрирует SaleService, grpc health и reflection.
func newGRPCServer(saleService grpcsvc.SaleServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterSaleServiceServer(grpcServer, saleService)
	grpcMetrics.InitializeMetrics(grpcServer)

	// grpcurl и нагрузочные утилиты находят сервис через reflection.
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.SaleServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
