package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateObjectStore(cfg.ObjectStore); err != nil {
		errs = append(errs, err)
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		errs = append(errs, err)
	}

	if err := validateArchiver(cfg.Archiver); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return &ValidationError{
				Field:   "broker.kafka.brokers",
				Message: "at least one broker address is required",
			}
		}
		if cfg.Kafka.Topic == "" {
			return &ValidationError{
				Field:   "broker.kafka.topic",
				Message: "topic is required",
			}
		}
		if cfg.Kafka.GroupID == "" {
			return &ValidationError{
				Field:   "broker.kafka.group_id",
				Message: "consumer group is required",
			}
		}
	case "redis_stream":
		if cfg.RedisStream.Host == "" {
			return &ValidationError{
				Field:   "broker.redis_stream.host",
				Message: "host is required",
			}
		}
		if cfg.RedisStream.Stream == "" {
			return &ValidationError{
				Field:   "broker.redis_stream.stream",
				Message: "stream is required",
			}
		}
		if cfg.RedisStream.Group == "" {
			return &ValidationError{
				Field:   "broker.redis_stream.group",
				Message: "consumer group is required",
			}
		}
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type %q (expected kafka or redis_stream)", cfg.Type),
		}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "host is required",
		}
	}
	if cfg.Pool.MaxOpen < 1 {
		return &ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open must be at least 1",
		}
	}
	if cfg.Pool.MinIdle > cfg.Pool.MaxOpen {
		return &ValidationError{
			Field:   "database.pool.min_idle",
			Message: "min_idle cannot exceed max_open",
		}
	}
	if cfg.Pool.AcquireTimeout <= 0 {
		return &ValidationError{
			Field:   "database.pool.acquire_timeout",
			Message: "acquire_timeout must be positive",
		}
	}
	return nil
}

func validateObjectStore(cfg ObjectStoreConfig) error {
	if cfg.Endpoint == "" {
		return &ValidationError{
			Field:   "object_store.endpoint",
			Message: "endpoint is required",
		}
	}
	if cfg.Bucket == "" {
		return &ValidationError{
			Field:   "object_store.bucket",
			Message: "bucket is required",
		}
	}
	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{
			Field:   "pipeline.workers",
			Message: "at least one worker is required",
		}
	}
	if cfg.BatchSize < 1 {
		return &ValidationError{
			Field:   "pipeline.batch_size",
			Message: "batch_size must be at least 1",
		}
	}
	if cfg.WindowDuration <= 0 {
		return &ValidationError{
			Field:   "pipeline.window_duration",
			Message: "window_duration must be positive",
		}
	}
	return nil
}

func validateArchiver(cfg ArchiverConfig) error {
	if cfg.FlushSize < 1 {
		return &ValidationError{
			Field:   "archiver.flush_size",
			Message: "flush_size must be at least 1",
		}
	}
	if cfg.FlushInterval <= 0 {
		return &ValidationError{
			Field:   "archiver.flush_interval",
			Message: "flush_interval must be positive",
		}
	}
	if cfg.HardCapMultiplier < 2 {
		return &ValidationError{
			Field:   "archiver.hard_cap_multiplier",
			Message: "hard_cap_multiplier must be at least 2",
		}
	}
	return nil
}
