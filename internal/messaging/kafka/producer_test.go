package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, log.WithField("component", "kafka-producer-test"))

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got map[string]string
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got["order_id"] != "ORD-1" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "ORD-1", map[string]string{"order_id": "ORD-1"}, map[string]string{
		HeaderEventType: EventTypeOrderConfirmed,
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestProducer_PublishEventErrors(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := producer.PublishEvent(TopicOrderEvents, "ORD-1", map[string]string{}, nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	err = producer.PublishEvent(TopicOrderEvents, "ORD-1", make(chan int), nil)
	require.Error(t, err, "unmarshalable event must fail before sending")

	require.NoError(t, mockProducer.Close())
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "", nil)
	require.Error(t, err)
}

func TestProducerCloseNil(t *testing.T) {
	var producer *Producer
	assert.NoError(t, producer.Close())
}

func TestParseEnvelopeAndRetryCount(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Value: []byte(`{"id":"m-1","aggregate_type":"order","aggregate_id":"ORD-1","payload":{"total":"56"}}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(EventTypeOrderConfirmed)},
			{Key: []byte(HeaderRetryCount), Value: []byte("2")},
		},
	}

	env, err := ParseEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", env.AggregateID)
	assert.Equal(t, EventTypeOrderConfirmed, env.EventType, "event type falls back to header")
	assert.JSONEq(t, `{"total":"56"}`, string(env.Payload))
	assert.Equal(t, 2, RetryCount(msg))

	_, err = ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
	_, err = ParseEnvelope(nil)
	require.Error(t, err)

	bad := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	assert.Zero(t, RetryCount(bad))
	assert.Zero(t, RetryCount(nil))
}
