package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
)

// eventPipeline связывает outbox с доской задач: через Kafka или напрямую в процессе.
type eventPipeline struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	producer  *kafka.Producer
	consumer  *kafka.Consumer
}

// splitBrokers разбирает список брокеров через запятую.
func splitBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, "", logger.WithField("layer", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initEventPipeline собирает доставку событий order.confirmed.
// Недоступная Kafka не останавливает витрину: события уходят на доску в процессе.
func initEventPipeline(cfg Config, board *fulfillment.Board, logger *log.Entry) *eventPipeline {
	local := &eventPipeline{publisher: fulfillment.NewLocalPublisher(board, logger.WithField("layer", "fulfillment"))}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		if err != nil {
			logger.Warn("continuing without kafka, order events are delivered in-process")
		}
		return local
	}

	publisher := kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
	pipeline := &eventPipeline{
		publisher: publisher,
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
		producer:  producer,
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: splitBrokers(cfg.KafkaBrokers),
		GroupID: cfg.KafkaConsumerGroup,
		Topics:  []string{publisher.Topic()},
		DLQ:     producer,
		Logger:  logger.WithField("layer", "kafka-consumer"),
	}, fulfillment.Handler(board, logger.WithField("layer", "fulfillment")))
	if err != nil {
		logger.WithError(err).Warn("failed to create fulfillment consumer, order events are published only")
		return pipeline
	}
	pipeline.consumer = consumer
	return pipeline
}

// stopConsumer останавливает consumer если он не nil.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
