package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label "result".
const (
	ResultOK                = "ok"
	ResultNotFound          = "not_found"
	ResultInsufficientStock = "insufficient_stock"
	ResultInvalid           = "invalid"
	ResultPersistFailed     = "persist_failed"
	ResultValidation        = "validation"
	ResultEmptyCart         = "empty_cart"
	ResultPaymentFailed     = "payment_failed"
	ResultUnavailable       = "unavailable"
	ResultCartChanged       = "cart_changed"
)

// StorefrontMetrics содержит метрики корзины и оформления заказов.
type StorefrontMetrics struct {
	// Счётчики операций корзины по op/result
	cartOperations *prometheus.CounterVec

	// Состояние хранилища снимков
	persistFailures  prometheus.Counter
	corruptSnapshots prometheus.Counter
	legacyMigrations prometheus.Counter

	// Оформление заказов
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	orderTotal       prometheus.Histogram
	outboxEvents     prometheus.Counter

	// Gauge для корзин, загруженных в память
	activeCarts prometheus.Gauge
}

// NewStorefrontMetrics создаёт метрики в prometheus.DefaultRegisterer.
func NewStorefrontMetrics() *StorefrontMetrics {
	return NewStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		cartOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Total number of cart operations by operation and result",
		}, []string{"op", "result"}),
		persistFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_persist_failures_total",
			Help: "Total number of cart snapshot writes that failed",
		}),
		corruptSnapshots: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_corrupt_snapshots_total",
			Help: "Total number of persisted cart snapshots discarded as unparseable",
		}),
		legacyMigrations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_legacy_entries_migrated_total",
			Help: "Total number of legacy cart entries upgraded on load",
		}),
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Total number of checkout attempts by result",
		}, []string{"result"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout finalization in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		orderTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_total",
			Help:    "Total amount of confirmed orders",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000},
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of order events enqueued to outbox",
		}),
		activeCarts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_carts",
			Help: "Number of carts currently held in memory",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCartOperation увеличивает счётчик операций корзины.
func (m *StorefrontMetrics) RecordCartOperation(op, result string) {
	m.cartOperations.WithLabelValues(op, result).Inc()
}

// RecordPersistFailure фиксирует неудачную запись снимка корзины.
func (m *StorefrontMetrics) RecordPersistFailure() {
	m.persistFailures.Inc()
}

// RecordCorruptSnapshot фиксирует отброшенный нечитаемый снимок.
func (m *StorefrontMetrics) RecordCorruptSnapshot() {
	m.corruptSnapshots.Inc()
}

// RecordLegacyMigration добавляет количество перенесённых legacy-записей.
func (m *StorefrontMetrics) RecordLegacyMigration(entries int) {
	if entries <= 0 {
		return
	}
	m.legacyMigrations.Add(float64(entries))
}

// RecordCheckout увеличивает счётчик попыток оформления с результатом.
func (m *StorefrontMetrics) RecordCheckout(result string) {
	m.checkouts.WithLabelValues(result).Inc()
}

// RecordCheckoutDuration записывает время оформления заказа.
func (m *StorefrontMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordOrderTotal записывает сумму подтверждённого заказа.
func (m *StorefrontMetrics) RecordOrderTotal(total float64) {
	m.orderTotal.Observe(total)
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *StorefrontMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordCartOpened увеличивает количество активных корзин.
func (m *StorefrontMetrics) RecordCartOpened() {
	m.activeCarts.Inc()
}

// RecordCartClosed уменьшает количество активных корзин.
func (m *StorefrontMetrics) RecordCartClosed() {
	m.activeCarts.Dec()
}
