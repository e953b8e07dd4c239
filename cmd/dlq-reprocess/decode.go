package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

var (
	errUnsupportedLetter = errors.New("unsupported dlq message")
	errEmptyOriginal     = errors.New("dlq message does not contain original event")
)

// replayMessage описывает событие, готовое к повторной публикации.
type replayMessage struct {
	topic     string
	key       string
	eventType string
	messageID string
	value     []byte
}

// outboxLetter повторяет содержимое DLQ-сообщения, которое outbox worker кладёт в Envelope.
type outboxLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// decodeLetter восстанавливает исходное событие из сообщения DLQ.
// Поддерживаются два формата: kafka.DeadLetter от consumer'а и outbox Envelope.
func decodeLetter(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replayMessage, error) {
	if msg == nil || len(msg.Value) == 0 {
		return replayMessage{}, errUnsupportedLetter
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg.Value, &probe); err != nil {
		return replayMessage{}, fmt.Errorf("%w: %v", errUnsupportedLetter, err)
	}
	if _, ok := probe["original_topic"]; ok {
		return decodeConsumerLetter(msg.Value, targetTopic)
	}
	if _, ok := probe["payload"]; ok {
		return decodeOutboxLetter(msg.Value, targetTopic, now)
	}
	return replayMessage{}, errUnsupportedLetter
}

func decodeConsumerLetter(raw []byte, targetTopic string) (replayMessage, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(raw, &letter); err != nil {
		return replayMessage{}, fmt.Errorf("decode consumer dead letter: %w", err)
	}
	value := originalBytes(letter.OriginalValue)
	if len(value) == 0 {
		return replayMessage{}, errEmptyOriginal
	}

	topic := strings.TrimSpace(letter.OriginalTopic)
	if topic == "" || topic == kafka.TopicDeadLetterQueue {
		topic = targetTopic
	}

	replay := replayMessage{topic: topic, key: letter.OriginalKey, value: value}
	var env kafka.Envelope
	if err := json.Unmarshal(value, &env); err == nil {
		replay.eventType = env.EventType
		replay.messageID = env.ID
	}
	return replay, nil
}

// originalBytes снимает кавычки, если consumer сохранил невалидный JSON строкой.
func originalBytes(value json.RawMessage) []byte {
	if len(value) == 0 || string(value) == "null" {
		return nil
	}
	var quoted string
	if err := json.Unmarshal(value, &quoted); err == nil {
		return []byte(quoted)
	}
	return []byte(value)
}

func decodeOutboxLetter(raw []byte, targetTopic string, now time.Time) (replayMessage, error) {
	var env kafka.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox envelope: %w", err)
	}

	var letter outboxLetter
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return replayMessage{}, errEmptyOriginal
	}

	replay := kafka.Envelope{
		ID:            firstNonEmpty(letter.OutboxID, env.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, env.EventType),
		Payload:       letter.Payload,
		PublishedAt:   now.UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic:     targetTopic,
		key:       firstNonEmpty(replay.AggregateID, replay.ID),
		eventType: replay.EventType,
		messageID: replay.ID,
		value:     encoded,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
