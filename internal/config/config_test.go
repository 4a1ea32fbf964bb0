package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
server:
  port: 8080

broker:
  type: kafka
  kafka:
    brokers:
      - localhost:9092
    group_id: ingest-group
    topic: payment_events

database:
  postgres:
    host: localhost
    port: 5432
    user: ingest
    password: secret
    dbname: paystream
    sslmode: disable

object_store:
  endpoint: localhost:9000
  access_key: minio
  secret_key: minio123
  bucket: payment-archive
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kafka", cfg.Broker.Type)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "payment-archive", cfg.ObjectStore.Bucket)

	// Unset sections fall back to the documented defaults.
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 200, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.WindowDuration)
	assert.Equal(t, 1000, cfg.Archiver.FlushSize)
	assert.Equal(t, 30*time.Second, cfg.Archiver.FlushInterval)
	assert.Equal(t, 5, cfg.Archiver.HardCapMultiplier)
	assert.Equal(t, "raw_events", cfg.Archiver.KeyPrefix)
	assert.Equal(t, 10, cfg.Database.Pool.MaxOpen)
	assert.Equal(t, 2, cfg.Database.Pool.MinIdle)
	assert.Equal(t, 1<<20, cfg.Validation.MaxBodyBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig(writeConfig(t, minimalConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown broker type", func(c *Config) { c.Broker.Type = "rabbitmq" }},
		{"kafka without brokers", func(c *Config) { c.Broker.Kafka.Brokers = nil }},
		{"kafka without topic", func(c *Config) { c.Broker.Kafka.Topic = "" }},
		{"missing postgres host", func(c *Config) { c.Database.Postgres.Host = "" }},
		{"min idle above max open", func(c *Config) { c.Database.Pool.MinIdle = 20 }},
		{"missing bucket", func(c *Config) { c.ObjectStore.Bucket = "" }},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"hard cap too small", func(c *Config) { c.Archiver.HardCapMultiplier = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, ValidateStatic(cfg))
		})
	}

	assert.NoError(t, ValidateStatic(valid()))
}

func TestValidateStatic_RedisStreamBroker(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cfg.Broker.Type = "redis_stream"
	assert.Error(t, ValidateStatic(cfg), "redis_stream requires host, stream and group")

	cfg.Broker.RedisStream.Host = "localhost"
	cfg.Broker.RedisStream.Stream = "payment_events"
	cfg.Broker.RedisStream.Group = "ingest-group"
	assert.NoError(t, ValidateStatic(cfg))
}
