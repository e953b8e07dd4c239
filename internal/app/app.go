package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second

	paymentBreakerFailures = 5
	paymentBreakerReset    = 30 * time.Second
)

// Run собирает витрину по cfg и обслуживает HTTP, gRPC и метрики до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	products, err := loadCatalog(cfg.CatalogFile, logger)
	if err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	authenticator, err := newAuthenticator(cfg, deps.userRepo, logger)
	if err != nil {
		return err
	}

	appMetrics := metrics.NewStorefrontMetrics()
	carts := cart.NewRegistry(products, deps.slots, logger.WithField("layer", "cart"), appMetrics,
		cart.WithShippingFee(cfg.ShippingFee))

	board := fulfillment.NewBoard()
	events := initEventPipeline(cfg, board, logger)
	defer closeKafkaProducer(events.producer, logger)

	outboxWorker := outbox.NewWorker(deps.outboxRepo, events.publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(events.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	orchestrator := checkout.NewOrchestrator(checkout.UUIDGenerator{},
		newPaymentService(payment.NewSimulatedService(logger.WithField("layer", "payment")), logger.WithField("layer", "payment")),
		checkout.WithLogger(logger.WithField("layer", "checkout")),
		checkout.WithMetrics(appMetrics),
		checkout.WithOutbox(outbox.NotifyOnEnqueue(deps.outboxRepo, outboxWorker)),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithIdleCarts(carts, cfg.CartIdleTTL),
	)

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workersCtx, outboxWorker.Run, cleanupWorker.Run)
	defer shutdownWorkers(cancelWorkers, workersDone, logger)

	if events.consumer != nil {
		if err := events.consumer.Start(workersCtx); err != nil {
			logger.WithError(err).Warn("failed to start fulfillment consumer")
		}
		defer stopConsumer(events.consumer, logger)
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	apiOptions := httpsvc.Config{
		Catalog:     products,
		Carts:       carts,
		Checkout:    orchestrator,
		Idempotency: guard,
		Board:       board,
		Logger:      logger.WithField("layer", "http"),
	}
	grpcOptions := []grpcsvc.Option{
		grpcsvc.WithIdempotency(guard),
		grpcsvc.WithLogger(logger.WithField("layer", "grpc")),
	}
	if authenticator != nil {
		apiOptions.Auth = authenticator
		grpcOptions = append(grpcOptions, grpcsvc.WithAuthenticator(authenticator))
	}

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	apiSrv := &http.Server{Handler: httpsvc.NewHandler(apiOptions), ReadHeaderTimeout: readHeaderTimeout}
	defer shutdownHTTP(apiSrv, logger)

	grpcServer, grpcMetrics := newGRPCServer(logger)
	grpcsvc.RegisterCartServiceServer(grpcServer, grpcsvc.NewCartService(products, carts, orchestrator, grpcOptions...))
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.Stop()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newPaymentService оборачивает платёжный шлюз повторами и circuit breaker.
// Сейчас шлюз симулированный и всегда проводит оплату; клиент реального
// провайдера подключается здесь же, без изменений в checkout.
func newPaymentService(gateway domain.PaymentService, logger *log.Entry) *payment.ResilientService {
	return payment.NewResilientService(
		gateway,
		payment.DefaultRetryConfig(),
		payment.NewCircuitBreaker(paymentBreakerFailures, paymentBreakerReset, logger),
		logger,
	)
}

// loadCatalog читает каталог из файла или берёт встроенный.
func loadCatalog(path string, logger *log.Entry) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	products, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{"path": path, "products": products.Len()}).Info("catalog loaded")
	return products, nil
}

// newAuthenticator собирает gate входа; nil, если проверка входа при оформлении выключена.
func newAuthenticator(cfg Config, users domain.UserRepository, logger *log.Entry) (*auth.Gate, error) {
	if !cfg.CheckoutRequiresAuth {
		if cfg.AuthTokens != "" {
			logger.Warn("auth tokens are configured but checkout auth is disabled")
		}
		return nil, nil
	}
	verifier, err := auth.ParseStaticTokens(cfg.AuthTokens)
	if err != nil {
		return nil, err
	}
	if verifier.Len() == 0 {
		return nil, errors.New("checkout auth is enabled but no auth tokens are configured")
	}
	logger.WithField("tokens", verifier.Len()).Info("checkout requires sign-in")
	return auth.NewGate(verifier, users, logger.WithField("layer", "auth")), nil
}
