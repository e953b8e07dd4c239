package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// replayDeps содержит подключения к Kafka; producer нужен только в режиме execute.
type replayDeps struct {
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
}

func (d replayDeps) close() {
	if d.producer != nil {
		_ = d.producer.Close()
	}
	if d.consumer != nil {
		_ = d.consumer.Close()
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

var newReplayDeps = func(cfg config) (replayDeps, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps := replayDeps{client: client, consumer: saramaConsumerAdapter{consumer: rawConsumer}}
	if !cfg.execute {
		return deps, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		deps.close()
		return replayDeps{}, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.producer = producer
	return deps, nil
}

// replayStats считает итог обхода DLQ.
type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	deps, err := newReplayDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	stats, err := newReplayer(cfg, deps).run(ctx)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")
	return nil
}

type replayer struct {
	cfg    config
	deps   replayDeps
	now    func() time.Time
	logger *log.Entry
}

func newReplayer(cfg config, deps replayDeps) *replayer {
	return &replayer{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: log.WithField("component", "dlq-replay"),
	}
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.deps.client == nil || r.deps.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.deps.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.deps.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if total.processed >= r.cfg.limit {
			break
		}
		stats, err := r.partition(ctx, partition, r.cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// partition читает раздел DLQ до конца, зафиксированного в момент старта.
func (r *replayer) partition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := r.deps.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.deps.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.deps.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idle.C:
			return stats, nil
		}
	}
	return stats, nil
}

// handle возвращает true, если сообщение опубликовано (или было бы опубликовано в dry-run).
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	replay, err := decodeLetter(msg, r.cfg.targetTopic, r.now())
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
		return false, nil
	}
	if r.cfg.eventType != "" && replay.eventType != r.cfg.eventType {
		r.logger.WithFields(fields).WithField("event_type", replay.eventType).Debug("skip filtered event type")
		return false, nil
	}

	fields["target_topic"] = replay.topic
	fields["key"] = replay.key
	if !r.cfg.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return true, nil
	}
	if err := publishReplay(r.deps.producer, replay, r.now()); err != nil {
		return false, fmt.Errorf("publish replay message: %w", err)
	}
	r.logger.WithFields(fields).Debug("dlq message replayed")
	return true, nil
}

func publishReplay(producer replayProducer, msg replayMessage, now time.Time) error {
	if producer == nil {
		return errors.New("producer is nil")
	}

	out := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: now.UTC(),
	}
	if msg.eventType != "" {
		out.Headers = append(out.Headers, sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte(msg.eventType)})
	}
	if msg.messageID != "" {
		out.Headers = append(out.Headers, sarama.RecordHeader{Key: []byte(kafka.HeaderMessageID), Value: []byte(msg.messageID)})
	}

	_, _, err := producer.SendMessage(out)
	return err
}
