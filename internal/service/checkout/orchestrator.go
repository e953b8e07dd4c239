package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// EventOrderConfirmed — тип события outbox о подтверждённом заказе.
const EventOrderConfirmed = "order.confirmed"

// Cart описывает часть корзины, нужную для оформления заказа.
type Cart interface {
	Quote() domain.CartQuote
	ClearIfUnchanged(revision uint64) error
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики оформления.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOutbox включает публикацию order.confirmed через transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(o *Orchestrator) {
		o.outbox = repo
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator превращает корзину в подтверждённый заказ: проверка формы,
// снимок позиций, симулированная оплата, очистка корзины.
type Orchestrator struct {
	ids      domain.IDGenerator
	payments domain.PaymentService
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.StorefrontMetrics
	now      func() time.Time
}

// NewOrchestrator создаёт оркестратор оформления заказа.
func NewOrchestrator(ids domain.IDGenerator, payments domain.PaymentService, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ids:      ids,
		payments: payments,
		logger:   log.New().WithField("component", "checkout"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Finalize оформляет заказ по содержимому корзины. При ValidationError, EmptyCart
// или отказе оплаты корзина не меняется. Оплата идёт вне блокировки корзины; если
// корзина за это время изменилась, возвращается ErrCartChanged и заказ не оформляется.
// Если заказ подтверждён, но пустой снимок не записался, возвращаются и заказ,
// и ошибка ErrPersistenceWrite.
func (o *Orchestrator) Finalize(ctx context.Context, cart Cart, customer domain.CustomerInfo) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordCheckoutDuration(time.Since(start))
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	customer = customer.Normalize()
	if err := customer.Validate(); err != nil {
		o.record(metrics.ResultValidation)
		return domain.Order{}, err
	}

	quote := cart.Quote()
	if quote.Totals.ItemCount == 0 {
		o.record(metrics.ResultEmptyCart)
		return domain.Order{}, domain.ErrEmptyCart
	}
	order := o.buildOrder(customer, quote.Lines, quote.Totals)

	if err := o.pay(ctx, &order); err != nil {
		return domain.Order{}, err
	}

	err := cart.ClearIfUnchanged(quote.Revision)
	switch {
	case err == nil:
	case domain.IsPersistenceFailure(err):
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("order confirmed but cleared cart was not persisted")
	case errors.Is(err, domain.ErrCartChanged):
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("cart changed during payment, order dropped")
		o.record(metrics.ResultCartChanged)
		return domain.Order{}, err
	default:
		o.record(metrics.ResultUnavailable)
		return domain.Order{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    order.ItemCount(),
		"total":    order.Total.StringFixed(2),
	}).Info("order confirmed")
	o.record(metrics.ResultOK)
	if o.metrics != nil {
		o.metrics.RecordOrderTotal(order.Total.InexactFloat64())
	}
	o.emitConfirmed(order)

	return order, err
}

// pay проводит оплату заказа. Отмена ctx возвращается как есть, остальные сбои
// и любой статус кроме captured оборачивают ErrPaymentDeclined.
func (o *Orchestrator) pay(ctx context.Context, order *domain.Order) error {
	status, err := o.payments.Pay(ctx, order.ID, order.Total)
	switch {
	case err != nil && ctx.Err() != nil:
		o.logger.WithError(err).WithField("order_id", order.ID).Info("checkout canceled during payment")
		o.record(metrics.ResultPaymentFailed)
		return fmt.Errorf("pay %s: %w", order.ID, ctx.Err())
	case err != nil:
		err = fmt.Errorf("pay %s: %w: %v", order.ID, domain.ErrPaymentDeclined, err)
	case status != domain.PaymentStatusCaptured:
		err = fmt.Errorf("pay %s: status %s: %w", order.ID, status, domain.ErrPaymentDeclined)
	default:
		order.PaymentStatus = status
		return nil
	}
	o.logger.WithError(err).WithField("order_id", order.ID).Warn("payment failed")
	o.record(metrics.ResultPaymentFailed)
	return err
}

func (o *Orchestrator) buildOrder(customer domain.CustomerInfo, lines []domain.ResolvedLine, totals domain.Totals) domain.Order {
	orderLines := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		orderLines = append(orderLines, domain.OrderLine{
			Key:       line.Key.String(),
			ProductID: line.Product.ID,
			Size:      line.Size,
			Name:      line.Product.Name,
			UnitPrice: line.Product.Price,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}
	return domain.Order{
		ID:            o.ids.NewOrderID(),
		Customer:      customer,
		Lines:         orderLines,
		Subtotal:      totals.Subtotal,
		ShippingFee:   totals.ShippingFee,
		Total:         totals.Total,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     o.now().UTC(),
	}
}

func (o *Orchestrator) record(result string) {
	if o.metrics != nil {
		o.metrics.RecordCheckout(result)
	}
}

// emitConfirmed кладёт событие в outbox. Ошибка только логируется: заказ уже подтверждён.
func (o *Orchestrator) emitConfirmed(order domain.Order) {
	if o.outbox == nil {
		return
	}
	payload, err := json.Marshal(NewOrderPayload(order))
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("marshal order event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     EventOrderConfirmed,
		Payload:       payload,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    EventOrderConfirmed,
		}).Error("enqueue event failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

// OrderPayload — JSON-представление заказа для событий и транспортов.
type OrderPayload struct {
	OrderID       string               `json:"order_id"`
	Customer      CustomerPayload      `json:"customer"`
	Lines         []OrderLinePayload   `json:"lines"`
	ItemCount     int                  `json:"item_count"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	ShippingFee   decimal.Decimal      `json:"shipping_fee"`
	Total         decimal.Decimal      `json:"total"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time            `json:"created_at"`
}

// CustomerPayload несёт данные доставки внутри OrderPayload.
type CustomerPayload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Note    string `json:"note,omitempty"`
	Email   string `json:"email,omitempty"`
}

// OrderLinePayload описывает позицию заказа в OrderPayload.
type OrderLinePayload struct {
	Key       string          `json:"key"`
	ProductID string          `json:"product_id"`
	Size      string          `json:"size"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// NewOrderPayload строит JSON-представление заказа.
func NewOrderPayload(order domain.Order) OrderPayload {
	lines := make([]OrderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLinePayload{
			Key:       line.Key,
			ProductID: line.ProductID,
			Size:      line.Size,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}
	return OrderPayload{
		OrderID: order.ID,
		Customer: CustomerPayload{
			Name:    order.Customer.Name,
			Address: order.Customer.Address,
			Phone:   order.Customer.Phone,
			Note:    order.Customer.Note,
			Email:   order.Customer.Email,
		},
		Lines:         lines,
		ItemCount:     order.ItemCount(),
		Subtotal:      order.Subtotal,
		ShippingFee:   order.ShippingFee,
		Total:         order.Total,
		PaymentStatus: order.PaymentStatus,
		CreatedAt:     order.CreatedAt,
	}
}
