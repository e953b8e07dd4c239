package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

var fulfillmentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_fulfillment_events_total",
	Help: "Order events handled by the fulfillment consumer grouped by result.",
}, []string{"result"})

// Task — заказ, по которому магазин должен связаться с покупателем и согласовать доставку.
type Task struct {
	OrderID    string    `json:"order_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	Note       string    `json:"note,omitempty"`
	ItemCount  int       `json:"item_count"`
	Total      string    `json:"total"`
	ReceivedAt time.Time `json:"received_at"`
}

// Board хранит задачи на согласование доставки. Доставка событий at-least-once,
// поэтому повторное событие того же заказа не создаёт вторую задачу.
type Board struct {
	mu    sync.RWMutex
	tasks map[string]Task
	now   func() time.Time
}

// NewBoard создаёт пустую доску задач.
func NewBoard() *Board {
	return &Board{tasks: make(map[string]Task), now: time.Now}
}

// Add регистрирует задачу; false, если задача по заказу уже есть.
func (b *Board) Add(task Task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tasks[task.OrderID]; ok {
		return false
	}
	if task.ReceivedAt.IsZero() {
		task.ReceivedAt = b.now().UTC()
	}
	b.tasks[task.OrderID] = task
	return true
}

// Tasks возвращает задачи в порядке поступления.
func (b *Board) Tasks() []Task {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// Len возвращает количество задач.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tasks)
}

// Handler разбирает события order.confirmed и ставит задачи на доску.
// Ошибка разбора возвращается consumer, который повторит обработку и отправит сообщение в DLQ.
func Handler(board *Board, logger *log.Entry) kafka.MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "fulfillment")
	}

	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		env, err := kafka.ParseEnvelope(message)
		if err != nil {
			fulfillmentEvents.WithLabelValues("invalid").Inc()
			return err
		}
		if env.EventType != kafka.EventTypeOrderConfirmed {
			fulfillmentEvents.WithLabelValues("skipped").Inc()
			return nil
		}

		var order checkout.OrderPayload
		if err := json.Unmarshal(env.Payload, &order); err != nil {
			fulfillmentEvents.WithLabelValues("invalid").Inc()
			return fmt.Errorf("decode order payload: %w", err)
		}
		if order.OrderID == "" {
			fulfillmentEvents.WithLabelValues("invalid").Inc()
			return fmt.Errorf("order payload without order_id (message %s)", env.ID)
		}

		added := board.Add(Task{
			OrderID:   order.OrderID,
			Name:      order.Customer.Name,
			Phone:     order.Customer.Phone,
			Address:   order.Customer.Address,
			Note:      order.Customer.Note,
			ItemCount: order.ItemCount,
			Total:     order.Total.StringFixed(2),
		})
		if !added {
			fulfillmentEvents.WithLabelValues("duplicate").Inc()
			return nil
		}

		fulfillmentEvents.WithLabelValues("queued").Inc()
		logger.WithFields(log.Fields{
			"order_id":   order.OrderID,
			"item_count": order.ItemCount,
			"total":      order.Total.StringFixed(2),
		}).Info("order awaiting shipping coordination")
		return nil
	}
}
