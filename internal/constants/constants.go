package constants

import "time"

const (
	BrokerConnectTimeout = 5 * time.Second
	ShutdownTimeout      = 30 * time.Second
	DrainTimeout         = 25 * time.Second
	CheckpointInterval   = 30 * time.Second
)

const (
	DefaultWorkers        = 4
	DefaultBatchSize      = 200
	DefaultConsumeTimeout = 5 * time.Second
	DefaultPollBackoff    = 2 * time.Second
	DefaultWindowDuration = 5 * time.Minute
)

const (
	DefaultFlushSize         = 1000
	DefaultFlushInterval     = 30 * time.Second
	DefaultHardCapMultiplier = 5
	ArchiveKeyPrefix         = "raw_events"
)

const (
	DefaultPoolMinIdle    = 2
	DefaultPoolMaxOpen    = 10
	DefaultAcquireTimeout = 5 * time.Second
	DefaultIdleRecycle    = 5 * time.Minute
)

const (
	MaxMessageBodyBytes      = 1 << 20 // broker wire contract: bodies are <= 1MB
	DefaultRuleReloadSeconds = 60
)

const (
	HeaderCorrelationID = "correlation_id"
)

// Dead-letter error types. Stage names double as error types so a failed
// item records where in the pipeline it died.
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeParsing    = "parsing"
	ErrorTypeArchiving  = "archiving"
	ErrorTypeStorage    = "storage_error"
	ErrorTypeMetrics    = "metrics"
	ErrorTypeAggregate  = "aggregating"
)
