package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConsumerMaxRetries = 3
	defaultConsumerRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig задаёт параметры consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxRetries ограничивает повторы обработчика до отправки в DLQ.
	MaxRetries int
	RetryDelay time.Duration
	// DLQ публикует в Dead Letter Queue; nil отключает DLQ.
	DLQ    *Producer
	Logger *log.Entry
}

// Consumer читает topic событий и повторяет обработку с последующей отправкой в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создаёт consumer group по cfg.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka consumer handler is nil")
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{TopicOrderEvents}
	}

	config := sarama.NewConfig()
	config.ClientID = defaultClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, cfg, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultConsumerMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	} else if retryDelay == 0 {
		retryDelay = defaultConsumerRetryDelay
	}

	return &Consumer{
		consumer:    group,
		topics:      cfg.Topics,
		handler:     handler,
		logger:      logger,
		dlqProducer: cfg.DLQ,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	err := c.consumer.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// Без отметки сообщение вернётся после rebalance или рестарта.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry вызывает обработчик, пока не исчерпан лимит повторов.
// Счётчик учитывает заголовок x-retry-count, выставленный при переотправке из DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	previous := RetryCount(message)
	attempts := c.maxRetries - previous + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.handler(ctx, message)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		c.logger.WithError(lastErr).WithFields(log.Fields{
			"topic":       message.Topic,
			"attempt":     attempt,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	if c.dlqProducer == nil {
		return lastErr
	}
	if err := c.sendToDLQ(message, lastErr, previous+attempts); err != nil {
		c.logger.WithError(err).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": previous + attempts,
	}).Info("message sent to DLQ after max retries")
	return nil
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retries int) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		ErrorMessage:      processingErr.Error(),
		RetryCount:        retries,
		FailedAt:          failedAt,
	}
	if json.Valid(message.Value) {
		letter.OriginalValue = json.RawMessage(message.Value)
	} else if len(message.Value) > 0 {
		quoted, _ := json.Marshal(string(message.Value))
		letter.OriginalValue = quoted
	}

	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), letter, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(retries),
	})
}
