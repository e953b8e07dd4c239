package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/sqlite"
)

// runtimeDependencies собирает хранилища, выбранные драйвером из конфигурации.
type runtimeDependencies struct {
	slots           domain.SlotStorage
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	userRepo        domain.UserRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// close освобождает подключения хранилища. Безопасен для nil.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
// Для sqlite в файле живут только слоты корзин, остальные репозитории остаются в памяти.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			slots:           memory.NewSlotStorage(),
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			userRepo:        memory.NewUserRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage driver requires a DSN")
		}
		store, err := postgres.OpenWithPool(ctx, cfg.PostgresDSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			slots:           postgres.NewSlotStorage(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			userRepo:        postgres.NewUserRepository(store),
			storageChecker:  healthcheck.NewSimpleChecker("postgres", store.Ping),
			closeFn:         store.Close,
		}, nil

	case StorageDriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("sqlite storage driver requires a database path")
		}
		slots, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", slots.Path()).Info("using sqlite slot storage")
		return &runtimeDependencies{
			slots:           slots,
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			userRepo:        memory.NewUserRepository(),
			storageChecker:  healthcheck.NewSimpleChecker("sqlite", slots.Ping),
			closeFn:         slots.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
