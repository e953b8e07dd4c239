package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	oldest        map[int32]int64
	newest        map[int32]int64
	offsetErr     error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	if marker == sarama.OffsetOldest {
		return s.oldest[partition], nil
	}
	return s.newest[partition], nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return s.partitions, s.partitionsErr
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type stubConsumerSource struct {
	byPartition map[int32]*stubPartitionConsumer
	consumeErr  error
	offsets     map[int32]int64
	closed      bool
}

func (s *stubConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	if s.offsets == nil {
		s.offsets = make(map[int32]int64)
	}
	s.offsets[partition] = offset
	return s.byPartition[partition], nil
}

func (s *stubConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func bufferedPartition(messages ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(messages)),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	for _, msg := range messages {
		pc.messages <- msg
	}
	return pc
}

type stubProducer struct {
	sent   []*sarama.ProducerMessage
	err    error
	closed bool
}

func (s *stubProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.sent = append(s.sent, msg)
	return 0, int64(len(s.sent)), nil
}

func (s *stubProducer) Close() error {
	s.closed = true
	return nil
}

func consumerLetter(t *testing.T, partition int32, offset int64, eventType string) *sarama.ConsumerMessage {
	t.Helper()
	original := mustJSON(t, kafka.Envelope{ID: "evt", AggregateID: "ORD-1", EventType: eventType})
	value := mustJSON(t, kafka.DeadLetter{
		OriginalTopic: kafka.TopicOrderEvents,
		OriginalKey:   "ORD-1",
		OriginalValue: original,
	})
	return &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: value}
}

func testConfig(execute bool) config {
	return config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       10,
		execute:     execute,
		idleTimeout: 50 * time.Millisecond,
	}
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 2}}
	consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{
		0: bufferedPartition(
			consumerLetter(t, 0, 0, "order.confirmed"),
			&sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: []byte("garbage")},
		),
	}}

	stats, err := newReplayer(testConfig(false), replayDeps{client: client, consumer: consumer}).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	assert.True(t, consumer.byPartition[0].closed)
}

func TestReplayer_ExecutePublishesWithHeaders(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{1, 0}, oldest: map[int32]int64{0: 0, 1: 5}, newest: map[int32]int64{0: 1, 1: 6}}
	consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{
		0: bufferedPartition(consumerLetter(t, 0, 0, "order.confirmed")),
		1: bufferedPartition(consumerLetter(t, 1, 5, "order.confirmed")),
	}}
	producer := &stubProducer{}

	replayer := newReplayer(testConfig(true), replayDeps{client: client, consumer: consumer, producer: producer})
	replayer.now = func() time.Time { return replayNow }

	stats, err := replayer.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 2}, stats)
	require.Len(t, producer.sent, 2)

	sent := producer.sent[0]
	assert.Equal(t, kafka.TopicOrderEvents, sent.Topic)
	assert.Equal(t, replayNow, sent.Timestamp)

	headers := map[string]string{}
	for _, h := range sent.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "order.confirmed", headers[kafka.HeaderEventType])
	assert.Equal(t, "evt", headers[kafka.HeaderMessageID])

	value, err := sent.Value.Encode()
	require.NoError(t, err)
	var env kafka.Envelope
	require.NoError(t, json.Unmarshal(value, &env))
	assert.Equal(t, "ORD-1", env.AggregateID)
}

func TestReplayer_EventTypeFilter(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 2}}
	consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{
		0: bufferedPartition(
			consumerLetter(t, 0, 0, "order.confirmed"),
			consumerLetter(t, 0, 1, "cart.updated"),
		),
	}}
	producer := &stubProducer{}
	cfg := testConfig(true)
	cfg.eventType = "order.confirmed"

	stats, err := newReplayer(cfg, replayDeps{client: client, consumer: consumer, producer: producer}).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	assert.Len(t, producer.sent, 1)
}

func TestReplayer_LimitAndFromNewest(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0, 1}, oldest: map[int32]int64{0: 0, 1: 0}, newest: map[int32]int64{0: 10, 1: 10}}
	consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{
		0: bufferedPartition(consumerLetter(t, 0, 8, "order.confirmed"), consumerLetter(t, 0, 9, "order.confirmed")),
		1: bufferedPartition(),
	}}
	cfg := testConfig(false)
	cfg.limit = 2
	cfg.fromNewest = true

	stats, err := newReplayer(cfg, replayDeps{client: client, consumer: consumer}).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.processed)
	assert.Equal(t, int64(8), consumer.offsets[0])
	_, touched := consumer.offsets[1]
	assert.False(t, touched, "limit reached before the second partition")
}

func TestReplayer_IdleTimeoutEndsPartition(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 5}}
	consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{
		0: bufferedPartition(consumerLetter(t, 0, 0, "order.confirmed")),
	}}

	stats, err := newReplayer(testConfig(false), replayDeps{client: client, consumer: consumer}).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
}

func TestReplayer_ContextCancel(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 5}}
	consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{0: bufferedPartition()}}
	cfg := testConfig(false)
	cfg.idleTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newReplayer(cfg, replayDeps{client: client, consumer: consumer}).run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_ErrorBranches(t *testing.T) {
	boom := errors.New("boom")

	t.Run("missing deps", func(t *testing.T) {
		_, err := newReplayer(testConfig(false), replayDeps{}).run(context.Background())
		assert.ErrorContains(t, err, "client and consumer are required")
	})
	t.Run("missing producer", func(t *testing.T) {
		deps := replayDeps{client: &stubOffsetClient{}, consumer: &stubConsumerSource{}}
		_, err := newReplayer(testConfig(true), deps).run(context.Background())
		assert.ErrorContains(t, err, "producer is required")
	})
	t.Run("partitions", func(t *testing.T) {
		deps := replayDeps{client: &stubOffsetClient{partitionsErr: boom}, consumer: &stubConsumerSource{}}
		_, err := newReplayer(testConfig(false), deps).run(context.Background())
		assert.ErrorIs(t, err, boom)
	})
	t.Run("no partitions", func(t *testing.T) {
		deps := replayDeps{client: &stubOffsetClient{}, consumer: &stubConsumerSource{}}
		stats, err := newReplayer(testConfig(false), deps).run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.processed)
	})
	t.Run("offsets", func(t *testing.T) {
		deps := replayDeps{client: &stubOffsetClient{partitions: []int32{0}, offsetErr: boom}, consumer: &stubConsumerSource{}}
		_, err := newReplayer(testConfig(false), deps).run(context.Background())
		assert.ErrorIs(t, err, boom)
	})
	t.Run("empty partition", func(t *testing.T) {
		client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 3}, newest: map[int32]int64{0: 3}}
		consumer := &stubConsumerSource{consumeErr: boom}
		stats, err := newReplayer(testConfig(false), replayDeps{client: client, consumer: consumer}).run(context.Background())
		require.NoError(t, err, "partition without messages is never consumed")
		assert.Zero(t, stats.processed)
	})
	t.Run("consume", func(t *testing.T) {
		client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 1}}
		_, err := newReplayer(testConfig(false), replayDeps{client: client, consumer: &stubConsumerSource{consumeErr: boom}}).run(context.Background())
		assert.ErrorIs(t, err, boom)
	})
	t.Run("consumer error", func(t *testing.T) {
		client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 1}}
		pc := bufferedPartition()
		pc.errors <- &sarama.ConsumerError{Topic: kafka.TopicDeadLetterQueue, Err: boom}
		cfg := testConfig(false)
		cfg.idleTimeout = time.Minute
		_, err := newReplayer(cfg, replayDeps{client: client, consumer: &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{0: pc}}}).run(context.Background())
		assert.ErrorContains(t, err, "consumer error")
	})
	t.Run("publish", func(t *testing.T) {
		client := &stubOffsetClient{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 1}}
		consumer := &stubConsumerSource{byPartition: map[int32]*stubPartitionConsumer{0: bufferedPartition(consumerLetter(t, 0, 0, "order.confirmed"))}}
		producer := &stubProducer{err: boom}
		_, err := newReplayer(testConfig(true), replayDeps{client: client, consumer: consumer, producer: producer}).run(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestPublishReplay_NilProducer(t *testing.T) {
	assert.Error(t, publishReplay(nil, replayMessage{}, replayNow))
}

func TestRun_ClosesDependencies(t *testing.T) {
	client := &stubOffsetClient{}
	consumer := &stubConsumerSource{}
	producer := &stubProducer{}

	original := newReplayDeps
	t.Cleanup(func() { newReplayDeps = original })
	newReplayDeps = func(config) (replayDeps, error) {
		return replayDeps{client: client, consumer: consumer, producer: producer}, nil
	}

	require.NoError(t, run(context.Background(), testConfig(true)))
	assert.True(t, client.closed)
	assert.True(t, consumer.closed)
	assert.True(t, producer.closed)
}

func TestRun_DependencyError(t *testing.T) {
	original := newReplayDeps
	t.Cleanup(func() { newReplayDeps = original })
	newReplayDeps = func(config) (replayDeps, error) {
		return replayDeps{}, errors.New("no kafka")
	}

	assert.ErrorContains(t, run(context.Background(), testConfig(false)), "no kafka")
}
