package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"paystream/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("pipeline.workers", constants.DefaultWorkers)
	viper.SetDefault("pipeline.batch_size", constants.DefaultBatchSize)
	viper.SetDefault("pipeline.consume_timeout", constants.DefaultConsumeTimeout)
	viper.SetDefault("pipeline.window_duration", constants.DefaultWindowDuration)
	viper.SetDefault("pipeline.poll_backoff", constants.DefaultPollBackoff)

	viper.SetDefault("archiver.flush_size", constants.DefaultFlushSize)
	viper.SetDefault("archiver.flush_interval", constants.DefaultFlushInterval)
	viper.SetDefault("archiver.hard_cap_multiplier", constants.DefaultHardCapMultiplier)
	viper.SetDefault("archiver.key_prefix", constants.ArchiveKeyPrefix)

	viper.SetDefault("database.pool.min_idle", constants.DefaultPoolMinIdle)
	viper.SetDefault("database.pool.max_open", constants.DefaultPoolMaxOpen)
	viper.SetDefault("database.pool.acquire_timeout", constants.DefaultAcquireTimeout)
	viper.SetDefault("database.pool.idle_recycle", constants.DefaultIdleRecycle)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("validation.max_body_bytes", constants.MaxMessageBodyBytes)
	viper.SetDefault("validation.reload.interval_seconds", constants.DefaultRuleReloadSeconds)

	viper.SetDefault("broker.kafka.connect_timeout", constants.BrokerConnectTimeout)
	viper.SetDefault("broker.redis_stream.connect_timeout", constants.BrokerConnectTimeout)
	viper.SetDefault("broker.redis_stream.consumer_name", "ingest-worker")

	viper.SetDefault("logging.level", "info")
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.topic", "BROKER_KAFKA_TOPIC")
	viper.BindEnv("broker.redis_stream.host", "BROKER_REDIS_STREAM_HOST")
	viper.BindEnv("broker.redis_stream.port", "BROKER_REDIS_STREAM_PORT")
	viper.BindEnv("broker.redis_stream.password", "BROKER_REDIS_STREAM_PASSWORD")
	viper.BindEnv("broker.redis_stream.stream", "BROKER_REDIS_STREAM_STREAM")
	viper.BindEnv("broker.redis_stream.group", "BROKER_REDIS_STREAM_GROUP")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("object_store.endpoint", "OBJECT_STORE_ENDPOINT")
	viper.BindEnv("object_store.access_key", "OBJECT_STORE_ACCESS_KEY")
	viper.BindEnv("object_store.secret_key", "OBJECT_STORE_SECRET_KEY")
	viper.BindEnv("object_store.use_ssl", "OBJECT_STORE_USE_SSL")
	viper.BindEnv("object_store.bucket", "OBJECT_STORE_BUCKET")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOGGING_LEVEL")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}
