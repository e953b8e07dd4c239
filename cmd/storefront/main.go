package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxOpenConns        = "STOREFRONT_POSTGRES_MAX_OPEN_CONNS"
	envPostgresMaxIdleConns        = "STOREFRONT_POSTGRES_MAX_IDLE_CONNS"
	envPostgresConnMaxLifetime     = "STOREFRONT_POSTGRES_CONN_MAX_LIFETIME"
	envSQLitePath                  = "STOREFRONT_SQLITE_PATH"
	envCatalogFile                 = "STOREFRONT_CATALOG_FILE"
	envShippingFee                 = "STOREFRONT_SHIPPING_FEE"
	envAuthTokens                  = "STOREFRONT_AUTH_TOKENS"
	envCheckoutRequiresAuth        = "STOREFRONT_CHECKOUT_REQUIRES_AUTH"
	envKafkaBrokers                = "STOREFRONT_KAFKA_BROKERS"
	envKafkaTopic                  = "STOREFRONT_KAFKA_TOPIC"
	envKafkaConsumerGroup          = "STOREFRONT_KAFKA_CONSUMER_GROUP"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "STOREFRONT_OUTBOX_MAX_PENDING"
	envIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envCartIdleTTL                 = "STOREFRONT_CART_IDLE_TTL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level == "" {
		log.SetLevel(log.InfoLevel)
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return err
	}
	log.SetLevel(parsed)
	return nil
}

// readConfigFromEnv строит конфигурацию из переменных окружения.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	readString := func(key string, dst *string) {
		if v, ok := lookupTrimmed(lookup, key); ok {
			*dst = v
		}
	}
	readBool := func(key string, dst *bool) {
		v, ok := lookupTrimmed(lookup, key)
		if !ok {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	readInt := func(key string, dst *int, validate func(int) bool, msg string) {
		v, ok := lookupTrimmed(lookup, key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	readDuration := func(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
		v, ok := lookupTrimmed(lookup, key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	positiveInt := func(v int) bool { return v > 0 }
	nonNegativeInt := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	readString(envHTTPAddr, &cfg.HTTPAddr)
	readString(envGRPCAddr, &cfg.GRPCAddr)
	readString(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookupTrimmed(lookup, envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	readString(envPostgresDSN, &cfg.PostgresDSN)
	readBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	readInt(envPostgresMaxOpenConns, &cfg.PostgresMaxOpenConns, positiveInt, "must be > 0")
	readInt(envPostgresMaxIdleConns, &cfg.PostgresMaxIdleConns, nonNegativeInt, "must be >= 0")
	readDuration(envPostgresConnMaxLifetime, &cfg.PostgresConnMaxLifetime, positiveDuration, "must be > 0")
	readString(envSQLitePath, &cfg.SQLitePath)
	readString(envCatalogFile, &cfg.CatalogFile)
	if v, ok := lookupTrimmed(lookup, envShippingFee); ok {
		fee, err := decimal.NewFromString(v)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("%s: invalid decimal %q", envShippingFee, v))
		case fee.IsNegative():
			warnings = append(warnings, fmt.Sprintf("%s: must be >= 0", envShippingFee))
		default:
			cfg.ShippingFee = fee
		}
	}
	readString(envAuthTokens, &cfg.AuthTokens)
	readBool(envCheckoutRequiresAuth, &cfg.CheckoutRequiresAuth)
	readString(envKafkaBrokers, &cfg.KafkaBrokers)
	readString(envKafkaTopic, &cfg.KafkaTopic)
	readString(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	readDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	readInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	readInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	readDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	readInt(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")
	readDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	readDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	readInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")
	readDuration(envCartIdleTTL, &cfg.CartIdleTTL, positiveDuration, "must be > 0")

	return cfg, warnings
}

func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if validate != nil && !validate(v) {
		return 0, errors.New(msg)
	}
	return v, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if validate != nil && !validate(v) {
		return 0, errors.New(msg)
	}
	return v, nil
}

func main() {
	levelErr := setupLogger(os.Getenv(envLogLevel))
	if levelErr != nil {
		log.WithError(levelErr).Warn("invalid log level, using info")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.WithField("config", warning).Warn("ignoring invalid environment value")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"build":          version.String(),
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka":          cfg.KafkaBrokers != "",
	}).Info("запускаем витрину")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("витрина остановлена")
}
