package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// EventTypeOrderConfirmed публикуется после успешного оформления заказа.
const EventTypeOrderConfirmed = "order.confirmed"

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderMessageID     = "x-message-id"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — формат сообщения в topic событий заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — формат сообщения в DLQ.
type DeadLetter struct {
	OriginalTopic     string          `json:"original_topic"`
	OriginalPartition int32           `json:"original_partition"`
	OriginalOffset    int64           `json:"original_offset"`
	OriginalKey       string          `json:"original_key"`
	OriginalValue     json.RawMessage `json:"original_value,omitempty"`
	ErrorMessage      string          `json:"error_message"`
	RetryCount        int             `json:"retry_count"`
	FailedAt          time.Time       `json:"failed_at"`
}

// ParseEnvelope разбирает сообщение topic событий заказов.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if message == nil {
		return env, fmt.Errorf("nil kafka message")
	}
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.EventType == "" {
		env.EventType = headerValue(message, HeaderEventType)
	}
	return env, nil
}

// RetryCount возвращает значение заголовка x-retry-count или 0.
func RetryCount(message *sarama.ConsumerMessage) int {
	raw := headerValue(message, HeaderRetryCount)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	if message == nil {
		return ""
	}
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func recordHeaders(pairs map[string]string) []sarama.RecordHeader {
	if len(pairs) == 0 {
		return nil
	}
	headers := make([]sarama.RecordHeader, 0, len(pairs))
	for k, v := range pairs {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return headers
}
