package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultCartIdleTTL      = 30 * time.Minute
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cleanup_runs_total",
		Help: "Total number of session state cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupKeysDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_keys_deleted_total",
		Help: "Total number of deleted expired checkout idempotency keys.",
	})
	cleanupCartsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idle_carts_evicted_total",
		Help: "Total number of idle carts unloaded from memory.",
	})
)

// IdleEvictor выгружает из памяти корзины, к которым давно не обращались.
type IdleEvictor interface {
	EvictIdle(before time.Time) int
}

// CleanupOptions задает параметры воркера очистки.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Carts     IdleEvictor
	CartTTL   time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления ключей.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithIdleCarts включает выгрузку корзин, простаивающих дольше ttl.
func WithIdleCarts(carts IdleEvictor, ttl time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Carts = carts
		opts.CartTTL = ttl
	}
}

// CleanupWorker периодически удаляет просроченные ключи оформления заказа
// и выгружает из памяти простаивающие корзины. Снимки корзин в хранилище не трогаются.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	carts     IdleEvictor
	cartTTL   time.Duration
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создает воркер очистки. repo может быть nil, если нужна только выгрузка корзин.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		CartTTL:   defaultCartIdleTTL,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cleanup-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.CartTTL <= 0 {
		opts.CartTTL = defaultCartIdleTTL
	}

	return &CleanupWorker{
		repo:      repo,
		carts:     opts.Carts,
		cartTTL:   opts.CartTTL,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil && w.carts == nil {
		w.logger.Warn("cleanup worker is disabled: nothing to clean")
		return
	}

	w.RunOnce(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, time.Now().UTC())
		}
	}
}

// RunOnce выполняет один цикл очистки на момент now.
func (w *CleanupWorker) RunOnce(ctx context.Context, now time.Time) {
	if w.carts != nil {
		if evicted := w.carts.EvictIdle(now.Add(-w.cartTTL)); evicted > 0 {
			cleanupCartsEvictedTotal.Add(float64(evicted))
			w.logger.WithField("evicted", evicted).Info("idle carts unloaded")
		}
	}

	if w.repo == nil {
		cleanupRunsTotal.WithLabelValues("ok").Inc()
		return
	}

	deleted, err := w.DeleteExpired(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired checkout keys deleted")
	}
}

// DeleteExpired удаляет все ключи с expires_at <= before порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			cleanupKeysDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
