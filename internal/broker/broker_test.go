package broker

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paystream/internal/config"
	"paystream/internal/logger"
)

func TestNewConsumer_Factory(t *testing.T) {
	kafkaConsumer, err := NewConsumer(config.BrokerConfig{Type: "kafka"}, logger.NopLogger())
	require.NoError(t, err)
	assert.IsType(t, &KafkaConsumer{}, kafkaConsumer)

	redisConsumer, err := NewConsumer(config.BrokerConfig{Type: "redis_stream"}, logger.NopLogger())
	require.NoError(t, err)
	assert.IsType(t, &RedisStreamConsumer{}, redisConsumer)

	_, err = NewConsumer(config.BrokerConfig{Type: "rabbitmq"}, logger.NopLogger())
	assert.Error(t, err)
}

func TestNewConsumerGroup_DistinctMembers(t *testing.T) {
	cfg := config.BrokerConfig{
		Type:        "redis_stream",
		RedisStream: config.RedisStreamConfig{ConsumerName: "ingest"},
	}

	consumers, err := NewConsumerGroup(cfg, 3, logger.NopLogger())
	require.NoError(t, err)
	require.Len(t, consumers, 3)

	names := make(map[string]bool)
	for _, c := range consumers {
		member := c.(*RedisStreamConsumer)
		names[member.cfg.ConsumerName] = true
	}
	assert.Len(t, names, 3, "stream members need distinct consumer names within the group")

	kafkaMembers, err := NewConsumerGroup(config.BrokerConfig{Type: "kafka"}, 2, logger.NopLogger())
	require.NoError(t, err)
	require.Len(t, kafkaMembers, 2)
	assert.NotSame(t, kafkaMembers[0], kafkaMembers[1])

	_, err = NewConsumerGroup(cfg, 0, logger.NopLogger())
	assert.Error(t, err)
}

// Acknowledgment bookkeeping keeps offsets only, and an entry leaves the
// pending map before the commit attempt: a failed commit tears the
// session down and the group redelivers under a fresh batch ID, so a
// retained entry would only accumulate.
func TestKafkaAcknowledgeBookkeeping(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{Topic: "payment_events"}, logger.NopLogger())
	c.pending["b1"] = []partitionOffset{{partition: 0, offset: 149}, {partition: 0, offset: 148}, {partition: 1, offset: 7}}

	offsets, ok := c.takePending("b1")
	require.True(t, ok)
	assert.Empty(t, c.pending)

	marks := commitMarks("payment_events", offsets)
	require.Len(t, marks, 3)
	assert.Equal(t, "payment_events", marks[0].Topic)
	assert.Equal(t, 0, marks[0].Partition)
	assert.Equal(t, int64(149), marks[0].Offset)
	assert.Nil(t, marks[0].Value, "commit marks carry no payload")

	c.recordHighWater(offsets)
	assert.Equal(t, int64(149), c.highWater[0])
	assert.Equal(t, int64(7), c.highWater[1])

	_, ok = c.takePending("b1")
	assert.False(t, ok, "acknowledging an unknown batch is rejected")
}

func TestConsumeBatch_RequiresConnection(t *testing.T) {
	kc := NewKafkaConsumer(config.KafkaConfig{}, logger.NopLogger())
	_, err := kc.ConsumeBatch(context.Background(), 10, time.Second)
	assert.Error(t, err)

	rc := NewRedisStreamConsumer(config.RedisStreamConfig{}, logger.NopLogger())
	_, err = rc.ConsumeBatch(context.Background(), 10, time.Second)
	assert.Error(t, err)
}

func TestKafkaToMessage(t *testing.T) {
	ts := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	m := kafka.Message{
		Topic:     "payment_events",
		Partition: 3,
		Offset:    42,
		Key:       []byte("merchant-9"),
		Value:     []byte(`{"transaction_id":"tx-1"}`),
		Time:      ts,
		Headers: []kafka.Header{
			{Key: "correlation_id", Value: []byte("corr-1")},
			{Key: "producer", Value: []byte("gateway")},
		},
	}

	msg := kafkaToMessage(m)
	assert.Equal(t, "payment_events-3-42", msg.MessageID)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, ts, msg.Timestamp)
	assert.Equal(t, "merchant-9", msg.PartitionKey)
	assert.Equal(t, int64(42), msg.SequenceNumber)
	assert.Equal(t, "gateway", msg.Headers["producer"])
	assert.Equal(t, []byte(`{"transaction_id":"tx-1"}`), msg.Body)
}

func TestStreamEntryToMessage(t *testing.T) {
	entry := redis.XMessage{
		ID: "1768478699123-7",
		Values: map[string]interface{}{
			"body":           `{"transaction_id":"tx-1"}`,
			"correlation_id": "corr-1",
			"partition_key":  "merchant-9",
			"source":         "gateway",
		},
	}

	msg := streamEntryToMessage(entry)
	assert.Equal(t, "1768478699123-7", msg.MessageID)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, "merchant-9", msg.PartitionKey)
	assert.Equal(t, int64(7), msg.SequenceNumber)
	assert.Equal(t, int64(1768478699123), msg.Timestamp.UnixMilli())
	assert.Equal(t, "gateway", msg.Headers["source"])
	assert.Equal(t, []byte(`{"transaction_id":"tx-1"}`), msg.Body)
}

func TestStreamEntryToMessage_MalformedID(t *testing.T) {
	entry := redis.XMessage{
		ID:     "not-an-id",
		Values: map[string]interface{}{"body": "{}"},
	}

	msg := streamEntryToMessage(entry)
	assert.Equal(t, int64(0), msg.SequenceNumber)
	assert.True(t, msg.Timestamp.IsZero())
}
