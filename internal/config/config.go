package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	ObjectStore    ObjectStoreConfig    `mapstructure:"object_store"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	Archiver       ArchiverConfig       `mapstructure:"archiver"`
	Validation     ValidationConfig     `mapstructure:"validation"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Pool          PoolConfig     `mapstructure:"pool"`
	RunMigrations bool           `mapstructure:"run_migrations"`
	MigrationsDir string         `mapstructure:"migrations_dir"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type PoolConfig struct {
	MinIdle        int           `mapstructure:"min_idle"`
	MaxOpen        int           `mapstructure:"max_open"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	IdleRecycle    time.Duration `mapstructure:"idle_recycle"`
}

type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
}

type BrokerConfig struct {
	Type        string            `mapstructure:"type"` // "kafka" or "redis_stream"
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	RedisStream RedisStreamConfig `mapstructure:"redis_stream"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	Topic          string        `mapstructure:"topic"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisStreamConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	Stream         string        `mapstructure:"stream"`
	Group          string        `mapstructure:"group"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type PipelineConfig struct {
	Workers             int           `mapstructure:"workers"`
	BatchSize           int           `mapstructure:"batch_size"`
	ConsumeTimeout      time.Duration `mapstructure:"consume_timeout"`
	MaxBatchesPerSecond float64       `mapstructure:"max_batches_per_second"`
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	PollBackoff         time.Duration `mapstructure:"poll_backoff"`
}

type ArchiverConfig struct {
	FlushSize         int           `mapstructure:"flush_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	HardCapMultiplier int           `mapstructure:"hard_cap_multiplier"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
}

type ValidationConfig struct {
	MaxBodyBytes int          `mapstructure:"max_body_bytes"`
	Reload       ReloadConfig `mapstructure:"reload"`
}

type ReloadConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
