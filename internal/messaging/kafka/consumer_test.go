package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func TestNewConsumerErrors(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }

	_, err := NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, GroupID: "group"}, handler)
	require.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, GroupID: "group"}, nil)
	require.Error(t, err)
}

func TestNewConsumerDefaults(t *testing.T) {
	c := newConsumer(&mockConsumerGroup{}, ConsumerConfig{Topics: []string{"t"}}, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	assert.Equal(t, defaultConsumerMaxRetries, c.maxRetries)
	assert.Equal(t, defaultConsumerRetryDelay, c.retryDelay)

	c = newConsumer(&mockConsumerGroup{}, ConsumerConfig{MaxRetries: -1, RetryDelay: -1}, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	assert.Zero(t, c.maxRetries)
	assert.Zero(t, c.retryDelay)
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu           sync.Mutex
		consumeCalls int
	)
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			mu.Lock()
			consumeCalls++
			mu.Unlock()
			cancel()
			return nil
		},
	}

	consumer := newConsumer(group, ConsumerConfig{Topics: []string{"topic-a"}, Logger: log.WithField("test", "consumer")},
		func(context.Context, *sarama.ConsumerMessage) error { return nil })

	errorsCh <- errors.New("background error")
	require.NoError(t, consumer.Start(ctx))
	<-ctx.Done()
	require.NoError(t, consumer.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, consumeCalls)
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	require.Error(t, consumer.Stop())
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	require.NoError(t, consumer.Setup(nil))
	require.NoError(t, consumer.Cleanup(nil))
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:  log.WithField("test", "claim"),
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	assert.Len(t, session.marked, 1)
}

func TestConsumeClaimFailedHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
		logger:     log.WithField("test", "claim-fail"),
		maxRetries: 1,
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	assert.Empty(t, session.marked, "failed message should not be marked")
}

func retryMessage(retries string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{Topic: "topic", Key: []byte("ORD-1"), Value: []byte(`{"id":"x"}`)}
	if retries != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retries)}}
	}
	return msg
}

func TestHandleMessageWithRetry(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
			logger:     log.WithField("test", "retry-success"),
			maxRetries: 2,
		}
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), retryMessage("")))
	})

	t.Run("succeeds on second attempt", func(t *testing.T) {
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				if attempts < 2 {
					return errors.New("temporary")
				}
				return nil
			},
			logger:     log.WithField("test", "retry-second"),
			maxRetries: 3,
		}
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), retryMessage("")))
		assert.Equal(t, 2, attempts)
	})

	t.Run("header reduces attempts", func(t *testing.T) {
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("temporary")
			},
			logger:     log.WithField("test", "retry"),
			maxRetries: 3,
		}
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), retryMessage("1")))
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhausted retries still attempt once", func(t *testing.T) {
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("permanent")
			},
			logger:     log.WithField("test", "max-no-dlq"),
			maxRetries: 3,
		}
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), retryMessage("7")))
		assert.Equal(t, 1, attempts)
	})

	t.Run("dlq success", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var letter DeadLetter
			if err := json.Unmarshal(val, &letter); err != nil {
				return err
			}
			if letter.OriginalTopic != "topic" || letter.ErrorMessage != "permanent" || letter.RetryCount != 4 {
				return errors.New("unexpected dead letter")
			}
			return nil
		})
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: newProducer(mockProducer, log.WithField("test", "dlq")),
			logger:      log.WithField("test", "max-dlq"),
			maxRetries:  3,
		}
		require.NoError(t, consumer.handleMessageWithRetry(context.Background(), retryMessage("3")))
		require.NoError(t, mockProducer.Close())
	})

	t.Run("dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: newProducer(mockProducer, log.WithField("test", "dlq")),
			logger:      log.WithField("test", "max-dlq-fail"),
			maxRetries:  3,
		}
		require.Error(t, consumer.handleMessageWithRetry(context.Background(), retryMessage("3")))
		require.NoError(t, mockProducer.Close())
	})

	t.Run("context canceled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				cancel()
				return errors.New("temporary")
			},
			logger:     log.WithField("test", "retry-cancel"),
			maxRetries: 3,
			retryDelay: time.Minute,
		}
		require.ErrorIs(t, consumer.handleMessageWithRetry(ctx, retryMessage("")), context.Canceled)
	})
}

func TestSendToDLQWrapsNonJSONValue(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var letter DeadLetter
		if err := json.Unmarshal(val, &letter); err != nil {
			return err
		}
		if string(letter.OriginalValue) != `"not json"` {
			return errors.New("value was not quoted")
		}
		return nil
	})

	consumer := &Consumer{
		dlqProducer: newProducer(mockProducer, log.WithField("test", "send-dlq")),
		logger:      log.WithField("test", "consumer-send-dlq"),
	}

	msg := &sarama.ConsumerMessage{Topic: "orders", Partition: 1, Offset: 42, Key: []byte("k"), Value: []byte("not json")}
	require.NoError(t, consumer.sendToDLQ(msg, errors.New("boom"), 1))
	require.NoError(t, mockProducer.Close())
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "claim-stop"),
		maxRetries: 1,
	}
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
