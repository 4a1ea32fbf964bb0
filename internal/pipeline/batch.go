package pipeline

import (
	"context"
	"strings"
	"time"

	"paystream/internal/broker"
	"paystream/internal/constants"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/logging"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

// Stage names the batch lifecycle states. A batch advances through the
// stages in order; individual messages that fail a stage drop out to
// the dead-letter store while the batch keeps moving.
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageParsing      Stage = "PARSING"
	StageArchiving    Stage = "ARCHIVING"
	StageMetrics      Stage = "METRICS"
	StageAggregating  Stage = "AGGREGATING"
	StageAcknowledged Stage = "ACKNOWLEDGED"
	StageFailed       Stage = "FAILED"
)

// BatchOutcome summarizes one batch run for the worker loop.
type BatchOutcome struct {
	Persisted     int
	DeadLettered  int
	PoolExhausted bool
	AckErr        error
}

type batchItem struct {
	msg models.Message
	tx  *models.ParsedTransaction
}

// ProcessBatch runs one batch through the full stage sequence. Every
// message reaches a terminal outcome before the batch is acknowledged:
// either all its side effects landed or it was routed to the
// dead-letter store. Acknowledgment failure is not fatal; the broker
// redelivers and downstream writes tolerate the duplicates.
func (o *Orchestrator) ProcessBatch(ctx context.Context, consumer broker.Consumer, batch models.MessageBatch) BatchOutcome {
	started := time.Now()
	ctx = logging.WithBatchID(ctx, batch.ID)
	outcome := BatchOutcome{}

	o.logger.DebugwCtx(logging.WithStage(ctx, string(StageReceived)), "Batch received",
		"messages", batch.Len(),
	)

	items := o.parseStage(ctx, batch, &outcome)
	items = o.runStage(ctx, StageArchiving, constants.ErrorTypeArchiving, items, &outcome,
		func(ctx context.Context, it batchItem) error {
			return o.archiver.Append(ctx, it.tx, it.msg.Body)
		})
	items = o.runStage(ctx, StageMetrics, constants.ErrorTypeMetrics, items, &outcome,
		func(ctx context.Context, it batchItem) error {
			return o.persister.StoreTransactionMetrics(ctx, it.tx)
		})
	items = o.runStage(ctx, StageAggregating, constants.ErrorTypeAggregate, items, &outcome,
		func(ctx context.Context, it batchItem) error {
			return o.persister.UpsertAggregateWindow(ctx, it.tx)
		})

	outcome.Persisted = len(items)
	metrics.MessagesProcessedTotal.WithLabelValues("persisted").Add(float64(outcome.Persisted))

	ackCtx := logging.WithStage(ctx, string(StageAcknowledged))
	if err := consumer.AcknowledgeBatch(ackCtx, batch); err != nil {
		outcome.AckErr = err
		o.logger.ErrorwCtx(ackCtx, "Batch acknowledgment failed, messages will be redelivered",
			"error", err,
		)
		metrics.ObserveBatchDuration(time.Since(started), "ack_error")
		return outcome
	}

	durationOutcome := "success"
	if outcome.DeadLettered > 0 {
		durationOutcome = "partial"
	}
	metrics.ObserveBatchDuration(time.Since(started), durationOutcome)

	o.logger.InfowCtx(ackCtx, "Batch acknowledged",
		"persisted", outcome.Persisted,
		"dead_lettered", outcome.DeadLettered,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return outcome
}

// parseStage validates every message in the batch. Invalid messages are
// dead-lettered with their original payload; valid ones continue.
func (o *Orchestrator) parseStage(ctx context.Context, batch models.MessageBatch, outcome *BatchOutcome) []batchItem {
	stageCtx := logging.WithStage(ctx, string(StageParsing))
	items := make([]batchItem, 0, batch.Len())

	for _, msg := range batch.Messages {
		msgCtx := logging.WithMessageID(stageCtx, msg.MessageID)
		if msg.CorrelationID != "" {
			msgCtx = logging.WithCorrelationID(msgCtx, msg.CorrelationID)
		}

		result := o.parser.ParseAndValidate(msgCtx, msg.Body)
		if result.OK() {
			tx := result.Transaction
			if tx.CorrelationID == "" {
				tx.CorrelationID = msg.CorrelationID
			}
			items = append(items, batchItem{msg: msg, tx: tx})
			continue
		}

		o.deadLetter(msgCtx, msg, result, outcome)
	}

	return items
}

type stageFn func(ctx context.Context, it batchItem) error

// runStage applies fn to every surviving item. A failed item is
// dead-lettered and dropped; the rest of the batch proceeds. Store
// retries and circuit breaking happen below this layer, so any error
// surfacing here is already terminal for the item.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, errorType string, items []batchItem, outcome *BatchOutcome, fn stageFn) []batchItem {
	if len(items) == 0 {
		return items
	}

	stageCtx := logging.WithStage(ctx, string(stage))
	survivors := items[:0]

	for _, it := range items {
		msgCtx := logging.WithMessageID(stageCtx, it.msg.MessageID)
		msgCtx = logging.WithCorrelationID(msgCtx, it.tx.CorrelationID)

		err := safeCall(msgCtx, it, fn)
		if err == nil {
			survivors = append(survivors, it)
			continue
		}

		if pserrors.IsPoolExhausted(err) {
			outcome.PoolExhausted = true
		}

		o.logger.ErrorwCtx(msgCtx, "Stage failed for message",
			"transaction_id", it.tx.TransactionID,
			"error", err,
		)
		o.routeFailure(msgCtx, it.msg.Body, it.tx.TransactionID, it.tx.CorrelationID, errorType, err.Error())
		outcome.DeadLettered++
	}

	return survivors
}

// safeCall contains a panicking stage so one poisoned message cannot
// take the worker down; the panic becomes a fatal item-level error.
func safeCall(ctx context.Context, it batchItem, fn stageFn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pserrors.RecoverPanic(r)
		}
	}()
	return fn(ctx, it)
}

func (o *Orchestrator) deadLetter(ctx context.Context, msg models.Message, result models.ParseResult, outcome *BatchOutcome) {
	errorType := constants.ErrorTypeValidation
	reasons := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		if e.Field == "_root" {
			errorType = constants.ErrorTypeParsing
		}
		reasons = append(reasons, e.Field+": "+e.Message)
	}

	transactionID := ""
	correlationID := msg.CorrelationID
	if result.Transaction != nil {
		transactionID = result.Transaction.TransactionID
		if correlationID == "" {
			correlationID = result.Transaction.CorrelationID
		}
	}

	o.routeFailure(ctx, result.RawBody, transactionID, correlationID, errorType, strings.Join(reasons, "; "))
	outcome.DeadLettered++
}

func (o *Orchestrator) routeFailure(ctx context.Context, payload []byte, transactionID, correlationID, errorType, errorMessage string) {
	metrics.MessagesProcessedTotal.WithLabelValues("dead_lettered").Inc()

	if err := o.failures.Route(ctx, payload, transactionID, correlationID, errorType, errorMessage); err != nil {
		o.logger.ErrorwCtx(ctx, "Failed to route message to dead-letter store",
			"transaction_id", transactionID,
			"error_type", errorType,
			"error", err,
		)
	}
}
