package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"paystream/internal/config"
	"paystream/internal/constants"
	"paystream/internal/logger"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

// RedisStreamConsumer is the log-broker variant, built on Redis Streams
// consumer groups. XACK is durable immediately, so Checkpoint is a no-op
// for this variant.
type RedisStreamConsumer struct {
	cfg       config.RedisStreamConfig
	logger    logger.Logger
	client    *redis.Client
	connected atomic.Bool

	mu      sync.Mutex
	pending map[string][]string // batch ID -> unacked stream entry IDs
}

func NewRedisStreamConsumer(cfg config.RedisStreamConfig, log logger.Logger) *RedisStreamConsumer {
	return &RedisStreamConsumer{
		cfg:     cfg,
		logger:  log,
		pending: make(map[string][]string),
	}
}

func (c *RedisStreamConsumer) Connect(ctx context.Context) error {
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = constants.BrokerConnectTimeout
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.client == nil {
		c.client = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
			Password: c.cfg.Password,
			DB:       c.cfg.DB,
		})
	}

	if err := c.client.Ping(connCtx).Err(); err != nil {
		c.connected.Store(false)
		return pserrors.BrokerConnection("redis ping failed", err)
	}

	// Idempotent group creation; BUSYGROUP means another worker won.
	err := c.client.XGroupCreateMkStream(connCtx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		c.connected.Store(false)
		return pserrors.BrokerConnection("redis stream group create failed", err)
	}

	c.connected.Store(true)
	c.logger.Infow("Redis stream consumer connected",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.ConsumerName,
	)
	return nil
}

func (c *RedisStreamConsumer) IsConnected() bool {
	return c.connected.Load()
}

func (c *RedisStreamConsumer) ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (models.MessageBatch, error) {
	if !c.connected.Load() || c.client == nil {
		return models.MessageBatch{}, pserrors.BrokerConnection("redis stream consumer not connected", nil)
	}

	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(maxMessages),
		Block:    timeout,
	}).Result()
	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return models.MessageBatch{}, nil // poll window elapsed empty
		}
		c.connected.Store(false)
		return models.MessageBatch{}, pserrors.BrokerConnection("redis stream read failed", err)
	}

	batch := models.MessageBatch{ID: uuid.NewString()}
	ids := make([]string, 0, maxMessages)

	for _, stream := range res {
		for _, entry := range stream.Messages {
			ids = append(ids, entry.ID)
			batch.Messages = append(batch.Messages, streamEntryToMessage(entry))
		}
	}

	if len(ids) > 0 {
		c.mu.Lock()
		c.pending[batch.ID] = ids
		c.mu.Unlock()
		metrics.BatchesConsumedTotal.WithLabelValues("redis_stream").Inc()
	}

	return batch, nil
}

func (c *RedisStreamConsumer) AcknowledgeBatch(ctx context.Context, batch models.MessageBatch) error {
	c.mu.Lock()
	ids, ok := c.pending[batch.ID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown batch %s", batch.ID)
	}

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
		c.connected.Store(false)
		return pserrors.BrokerConnection("redis stream ack failed", err)
	}

	c.mu.Lock()
	delete(c.pending, batch.ID)
	c.mu.Unlock()
	return nil
}

// Checkpoint is a no-op: XACK already persists group progress.
func (c *RedisStreamConsumer) Checkpoint(ctx context.Context) error {
	return nil
}

func (c *RedisStreamConsumer) Close() error {
	c.connected.Store(false)
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func streamEntryToMessage(entry redis.XMessage) models.Message {
	msg := models.Message{
		MessageID:      entry.ID,
		SequenceNumber: streamEntrySequence(entry.ID),
		Headers:        make(map[string]string),
	}

	for k, v := range entry.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "body":
			msg.Body = []byte(s)
		case constants.HeaderCorrelationID:
			msg.CorrelationID = s
			msg.Headers[k] = s
		case "partition_key":
			msg.PartitionKey = s
		default:
			msg.Headers[k] = s
		}
	}

	// Entry IDs are <epoch-millis>-<seq>; the millis part doubles as the
	// broker-side timestamp.
	if ms := streamEntryMillis(entry.ID); ms > 0 {
		msg.Timestamp = time.UnixMilli(ms)
	}

	return msg
}

func streamEntryMillis(id string) int64 {
	parts := strings.SplitN(id, "-", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

func streamEntrySequence(id string) int64 {
	parts := strings.SplitN(id, "-", 2)
	if len(parts) < 2 {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
