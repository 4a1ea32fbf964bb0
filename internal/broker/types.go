package broker

import (
	"context"
	"time"

	"paystream/pkg/models"
)

// Consumer is the broker-agnostic surface the orchestrator drives. The
// event-stream and log-broker variants differ in partitioning and
// consumer-group semantics but expose this identical method set;
// broker-specific state never leaks out of an implementation.
type Consumer interface {
	// Connect establishes a session within a bounded timeout.
	Connect(ctx context.Context) error

	// IsConnected reflects the live transport state so the orchestrator
	// can detect partial failures between polls.
	IsConnected() bool

	// ConsumeBatch blocks up to timeout and returns at most maxMessages.
	// An empty batch is a normal outcome, not an error.
	ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (models.MessageBatch, error)

	// AcknowledgeBatch commits the broker-side offset for the given batch.
	// Called only after every downstream side effect for the batch has
	// reached a terminal outcome.
	AcknowledgeBatch(ctx context.Context, batch models.MessageBatch) error

	// Checkpoint flushes durable read progress, decoupled from
	// acknowledgment for brokers that separate the two.
	Checkpoint(ctx context.Context) error

	Close() error
}
