package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// LocalTopic подставляется в сообщения, доставленные без брокера.
const LocalTopic = "local"

// LocalPublisher доставляет события outbox прямо в обработчик доски.
// Используется, когда Kafka не настроена: заказ всё равно попадает к оператору.
type LocalPublisher struct {
	handle kafka.MessageHandler
	now    func() time.Time
}

// NewLocalPublisher создаёт publisher поверх доски задач.
func NewLocalPublisher(board *Board, logger *log.Entry) *LocalPublisher {
	return &LocalPublisher{handle: Handler(board, logger), now: time.Now}
}

// Publish упаковывает событие в тот же конверт, что и Kafka-паблишер.
func (p *LocalPublisher) Publish(event domain.OutboxMessage) error {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	now := p.now().UTC()
	value, err := json.Marshal(kafka.Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("marshal local envelope: %w", err)
	}

	return p.handle(context.Background(), &sarama.ConsumerMessage{
		Topic:     LocalTopic,
		Key:       []byte(event.AggregateID),
		Value:     value,
		Timestamp: now,
	})
}

var _ domain.OutboxPublisher = (*LocalPublisher)(nil)
