package broker

import (
	"fmt"

	"paystream/internal/config"
	"paystream/internal/logger"
)

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaConsumer(cfg.Kafka, log), nil
	case "redis_stream":
		return NewRedisStreamConsumer(cfg.RedisStream, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewConsumerGroup builds size independent group members. Each member
// owns its own broker session and commit state, so batches from one
// partition are never split across members. Redis stream members get
// distinct consumer names within the shared group.
func NewConsumerGroup(cfg config.BrokerConfig, size int, log logger.Logger) ([]Consumer, error) {
	if size < 1 {
		return nil, fmt.Errorf("consumer group size must be at least 1, got %d", size)
	}

	consumers := make([]Consumer, 0, size)
	for i := 0; i < size; i++ {
		memberCfg := cfg
		if cfg.Type == "redis_stream" {
			name := cfg.RedisStream.ConsumerName
			if name == "" {
				name = "ingest"
			}
			memberCfg.RedisStream.ConsumerName = fmt.Sprintf("%s-%d", name, i)
		}

		consumer, err := NewConsumer(memberCfg, log)
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, consumer)
	}

	return consumers, nil
}
