package app

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func testRunConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	return cfg
}

func runUntilCanceled(t *testing.T, cfg Config) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	return Run(ctx, cfg)
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	err := runUntilCanceled(t, testRunConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_SQLiteGracefulShutdown(t *testing.T) {
	cfg := testRunConfig()
	cfg.StorageDriver = StorageDriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "storefront.db")
	cfg.CheckoutRequiresAuth = true
	cfg.AuthTokens = "tok-ana=uid-ana:ana@example.com:Ana"

	err := runUntilCanceled(t, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, statErr := os.Stat(cfg.SQLitePath); statErr != nil {
		t.Fatalf("expected sqlite file to be created: %v", statErr)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testRunConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_InvalidCatalogFile(t *testing.T) {
	cfg := testRunConfig()
	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestRun_MalformedAuthTokens(t *testing.T) {
	cfg := testRunConfig()
	cfg.CheckoutRequiresAuth = true
	cfg.AuthTokens = "=broken"

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error for malformed auth tokens")
	}
}

func TestRun_HTTPAddrInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer busy.Close()

	cfg := testRunConfig()
	cfg.HTTPAddr = busy.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = Run(ctx, cfg)
	if err == nil || !strings.Contains(err.Error(), "listen http") {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres-init"))

	if deps.slots == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil || deps.userRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for postgres")
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestShutdownHelpers(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	cancelCalled := false
	done := make(chan struct{})
	close(done)
	shutdownWorkers(func() { cancelCalled = true }, done, logger)
	if !cancelCalled {
		t.Fatal("expected workers cancel func to be called")
	}

	shutdownWorkers(nil, nil, logger)
	stopConsumer(nil, logger)
	closeKafkaProducer(nil, logger)
}

func TestCloseKafkaProducer_NonNil(t *testing.T) {
	producer, err := kafka.NewProducer([]string{"localhost:9092"}, "", nil)
	if err != nil {
		t.Skipf("kafka is not available for integration test: %v", err)
	}
	closeKafkaProducer(producer, log.WithField("test", "kafka-close"))
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
}
