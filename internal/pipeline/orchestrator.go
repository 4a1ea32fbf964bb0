// Package pipeline drives batches from the broker through parsing,
// archival and metric persistence, and acknowledges each batch only
// after every message in it has reached a terminal outcome.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"paystream/internal/broker"
	"paystream/internal/config"
	"paystream/internal/constants"
	"paystream/internal/logger"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
	"paystream/pkg/retry"
)

// TransactionParser validates a raw message body against the active
// schema and rule set.
type TransactionParser interface {
	ParseAndValidate(ctx context.Context, rawBody []byte) models.ParseResult
}

// EventArchiver buffers validated transactions for parquet archival.
type EventArchiver interface {
	Append(ctx context.Context, tx *models.ParsedTransaction, raw []byte) error
	Flush(ctx context.Context, trigger string) error
}

// MetricsPersister writes derived metrics and aggregate window deltas.
type MetricsPersister interface {
	StoreTransactionMetrics(ctx context.Context, tx *models.ParsedTransaction) error
	UpsertAggregateWindow(ctx context.Context, tx *models.ParsedTransaction) error
}

// FailureSink receives every message that could not complete the
// pipeline.
type FailureSink interface {
	Route(ctx context.Context, payload []byte, transactionID, correlationID, errorType, errorMessage string) error
}

// Orchestrator runs one worker per consumer. Each worker owns its
// consumer-group member exclusively: offset commits are cumulative per
// partition, so sharing a member across workers would let one worker's
// acknowledgment cover another's in-flight messages.
type Orchestrator struct {
	consumers  []broker.Consumer
	parser     TransactionParser
	archiver   EventArchiver
	persister  MetricsPersister
	failures   FailureSink
	cfg        config.PipelineConfig
	brokerType string
	logger     logger.Logger

	limiter *rate.Limiter
}

func NewOrchestrator(
	consumers []broker.Consumer,
	parser TransactionParser,
	archiver EventArchiver,
	persister MetricsPersister,
	failures FailureSink,
	cfg config.PipelineConfig,
	brokerType string,
	log logger.Logger,
) *Orchestrator {
	var limiter *rate.Limiter
	if cfg.MaxBatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxBatchesPerSecond), 1)
	}

	return &Orchestrator{
		consumers:  consumers,
		parser:     parser,
		archiver:   archiver,
		persister:  persister,
		failures:   failures,
		cfg:        cfg,
		brokerType: brokerType,
		logger:     log,
		limiter:    limiter,
	}
}

// Run starts one worker per consumer and blocks until ctx is cancelled
// or a worker returns an unrecoverable error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i, consumer := range o.consumers {
		workerID := i
		c := consumer
		g.Go(func() error {
			return o.runWorker(ctx, workerID, c)
		})
	}

	return g.Wait()
}

func (o *Orchestrator) runWorker(ctx context.Context, workerID int, consumer broker.Consumer) error {
	o.logger.InfowCtx(ctx, "Pipeline worker started",
		"worker_id", workerID,
	)

	for {
		if err := ctx.Err(); err != nil {
			o.logger.InfowCtx(ctx, "Pipeline worker stopping",
				"worker_id", workerID,
			)
			return err
		}

		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		if err := o.ensureConnected(ctx, consumer); err != nil {
			return err
		}

		batch, err := consumer.ConsumeBatch(ctx, o.cfg.BatchSize, o.cfg.ConsumeTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			o.handleConsumeError(ctx, workerID, err)
			continue
		}

		if batch.IsEmpty() {
			continue
		}

		// In-flight batches drain to a terminal outcome even when the
		// worker context is cancelled mid-batch.
		procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		outcome := o.ProcessBatch(procCtx, consumer, batch)
		cancel()

		if outcome.PoolExhausted {
			o.sleep(ctx, o.cfg.PollBackoff)
		}
	}
}

// ensureConnected blocks until the worker's consumer reports a live
// session, retrying with unbounded exponential backoff. Members
// reconnect independently; a rebalance on one session does not stall
// the others.
func (o *Orchestrator) ensureConnected(ctx context.Context, consumer broker.Consumer) error {
	if consumer.IsConnected() {
		return nil
	}

	policy := retry.ReconnectPolicy()
	return retry.RetryWithCallback(ctx, policy, func() error {
		metrics.BrokerReconnectsTotal.WithLabelValues(o.brokerType).Inc()
		return consumer.Connect(ctx)
	}, func(attempt int, err error, nextDelay time.Duration) {
		o.logger.WarnwCtx(ctx, "Broker reconnect failed",
			"broker", o.brokerType,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (o *Orchestrator) handleConsumeError(ctx context.Context, workerID int, err error) {
	if pserrors.KindOf(err) == pserrors.KindBrokerConnection {
		o.logger.WarnwCtx(ctx, "Broker session lost during consume",
			"worker_id", workerID,
			"error", err,
		)
		return
	}

	if pserrors.IsTransient(err) {
		o.logger.WarnwCtx(ctx, "Transient consume failure, backing off",
			"worker_id", workerID,
			"error", err,
		)
	} else {
		o.logger.ErrorwCtx(ctx, "Failed to consume batch",
			"worker_id", workerID,
			"error", err,
		)
	}
	o.sleep(ctx, o.cfg.PollBackoff)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
