package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"paystream/internal/config"
	"paystream/internal/constants"
	"paystream/internal/logger"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

// partitionOffset is the commit bookkeeping unit; payloads are never
// retained after the batch is handed to the caller.
type partitionOffset struct {
	partition int
	offset    int64
}

// KafkaConsumer is the event-stream broker variant. Offsets are
// committed per batch via the consumer group, so acknowledgment and
// checkpointing both go through CommitMessages. One KafkaConsumer is
// one consumer-group member; it must not be shared across workers,
// because group commits are cumulative per partition and a second
// worker committing a later batch first would cover this worker's
// still-unprocessed offsets.
type KafkaConsumer struct {
	cfg       config.KafkaConfig
	logger    logger.Logger
	reader    *kafka.Reader
	connected atomic.Bool

	mu        sync.Mutex
	pending   map[string][]partitionOffset // batch ID -> uncommitted offsets
	highWater map[int]int64                // partition -> last acknowledged offset
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:       cfg,
		logger:    log,
		pending:   make(map[string][]partitionOffset),
		highWater: make(map[int]int64),
	}
}

func (c *KafkaConsumer) Connect(ctx context.Context) error {
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = constants.BrokerConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Probe one broker before building the reader: kafka.Reader connects
	// lazily, which would defeat the bounded-connect contract.
	dialer := &kafka.Dialer{Timeout: timeout, DualStack: true}
	conn, err := dialer.DialContext(dialCtx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		c.connected.Store(false)
		return pserrors.BrokerConnection("kafka dial failed", err)
	}
	_ = conn.Close()

	if c.reader == nil {
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			GroupID:  c.cfg.GroupID,
			Topic:    c.cfg.Topic,
			MinBytes: 10e3,
			MaxBytes: 10e6,
			Dialer:   dialer,
		})
	}

	// Uncommitted batches from the previous session are redelivered by
	// the group under new batch IDs; their old entries are stale.
	c.mu.Lock()
	c.pending = make(map[string][]partitionOffset)
	c.mu.Unlock()

	c.connected.Store(true)
	c.logger.Infow("Kafka consumer connected",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
	)
	return nil
}

func (c *KafkaConsumer) IsConnected() bool {
	return c.connected.Load()
}

func (c *KafkaConsumer) ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (models.MessageBatch, error) {
	if !c.connected.Load() || c.reader == nil {
		return models.MessageBatch{}, pserrors.BrokerConnection("kafka consumer not connected", nil)
	}

	batch := models.MessageBatch{ID: uuid.NewString()}
	offsets := make([]partitionOffset, 0, maxMessages)

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for len(offsets) < maxMessages {
		m, err := c.reader.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
				break // poll window elapsed, return what we have
			}
			if ctx.Err() != nil {
				break
			}
			c.connected.Store(false)
			return models.MessageBatch{}, pserrors.BrokerConnection("kafka fetch failed", err)
		}
		offsets = append(offsets, partitionOffset{partition: m.Partition, offset: m.Offset})
		batch.Messages = append(batch.Messages, kafkaToMessage(m))
	}

	if len(offsets) > 0 {
		c.mu.Lock()
		c.pending[batch.ID] = offsets
		c.mu.Unlock()
		metrics.BatchesConsumedTotal.WithLabelValues("kafka").Inc()
	}

	return batch, nil
}

func (c *KafkaConsumer) AcknowledgeBatch(ctx context.Context, batch models.MessageBatch) error {
	// The entry is removed up front: if the commit fails the session is
	// torn down and the group redelivers under a fresh batch ID, so a
	// retained entry could never be committed again anyway.
	offsets, ok := c.takePending(batch.ID)
	if !ok {
		return fmt.Errorf("unknown batch %s", batch.ID)
	}

	if err := c.reader.CommitMessages(ctx, commitMarks(c.cfg.Topic, offsets)...); err != nil {
		c.connected.Store(false)
		return pserrors.BrokerConnection("kafka commit failed", err)
	}

	c.recordHighWater(offsets)
	return nil
}

// Checkpoint re-commits the per-partition high-water marks. Kafka commits
// are already durable on acknowledge; this exists so the orchestrator can
// force a flush before shutdown without re-acking batches.
func (c *KafkaConsumer) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	marks := make([]kafka.Message, 0, len(c.highWater))
	for partition, offset := range c.highWater {
		marks = append(marks, kafka.Message{Topic: c.cfg.Topic, Partition: partition, Offset: offset})
	}
	c.mu.Unlock()

	if len(marks) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, marks...); err != nil {
		return pserrors.BrokerConnection("kafka checkpoint failed", err)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	c.connected.Store(false)
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

func (c *KafkaConsumer) takePending(batchID string) ([]partitionOffset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offsets, ok := c.pending[batchID]
	delete(c.pending, batchID)
	return offsets, ok
}

func (c *KafkaConsumer) recordHighWater(offsets []partitionOffset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, po := range offsets {
		if cur, seen := c.highWater[po.partition]; !seen || po.offset > cur {
			c.highWater[po.partition] = po.offset
		}
	}
}

// commitMarks rebuilds the minimal messages CommitMessages needs; only
// topic, partition and offset participate in a group commit.
func commitMarks(topic string, offsets []partitionOffset) []kafka.Message {
	marks := make([]kafka.Message, len(offsets))
	for i, po := range offsets {
		marks[i] = kafka.Message{Topic: topic, Partition: po.partition, Offset: po.offset}
	}
	return marks
}

func kafkaToMessage(m kafka.Message) models.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return models.Message{
		MessageID:      fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset),
		CorrelationID:  headers[constants.HeaderCorrelationID],
		Timestamp:      m.Time,
		PartitionKey:   string(m.Key),
		SequenceNumber: m.Offset,
		Headers:        headers,
		Body:           m.Value,
	}
}
