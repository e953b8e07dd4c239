package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
)

// Поддерживаемые хранилища слотов корзины.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver           string
	PostgresDSN             string
	PostgresAutoMigrate     bool
	PostgresMaxOpenConns    int
	PostgresMaxIdleConns    int
	PostgresConnMaxLifetime time.Duration
	// SQLitePath задаёт файл слотов для драйвера sqlite.
	SQLitePath string

	// CatalogFile указывает YAML каталога; пусто означает встроенный каталог.
	CatalogFile string
	ShippingFee decimal.Decimal

	// AuthTokens в формате "token=uid:email:name,...".
	AuthTokens           string
	CheckoutRequiresAuth bool

	// KafkaBrokers через запятую; пусто означает доставку событий в процессе.
	KafkaBrokers       string
	KafkaTopic         string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	CartIdleTTL                 time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxOpenConns:        10,
		PostgresMaxIdleConns:        5,
		PostgresConnMaxLifetime:     30 * time.Minute,
		SQLitePath:                  "data/storefront.db",
		ShippingFee:                 cart.DefaultShippingFee,
		KafkaConsumerGroup:          "storefront-fulfillment",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		CartIdleTTL:                 2 * time.Hour,
	}
}

// Validate проверяет сочетания настроек, которые нельзя исправить значениями по умолчанию.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory, StorageDriverPostgres, StorageDriverSQLite:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.StorageDriver == StorageDriverPostgres && c.PostgresDSN == "" {
		return errors.New("postgres storage driver requires a DSN")
	}
	if c.StorageDriver == StorageDriverSQLite && c.SQLitePath == "" {
		return errors.New("sqlite storage driver requires a database path")
	}
	if c.ShippingFee.IsNegative() {
		return fmt.Errorf("shipping fee must not be negative, got %s", c.ShippingFee)
	}
	if c.CheckoutRequiresAuth && c.AuthTokens == "" {
		return errors.New("checkout auth is enabled but no auth tokens are configured")
	}
	return nil
}
