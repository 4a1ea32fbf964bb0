package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paystream/internal/broker"
	"paystream/internal/config"
	"paystream/internal/logger"
	"paystream/internal/parser"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/models"
)

type fakeConsumer struct {
	mu        sync.Mutex
	connected bool
	batches   []models.MessageBatch // delivered one per poll, then empties
	acked     []string
	ackErr    error
}

func (f *fakeConsumer) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeConsumer) IsConnected() bool                 { return f.connected }
func (f *fakeConsumer) ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (models.MessageBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return models.MessageBatch{}, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}
func (f *fakeConsumer) AcknowledgeBatch(ctx context.Context, batch models.MessageBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, batch.ID)
	return nil
}
func (f *fakeConsumer) Checkpoint(ctx context.Context) error { return nil }
func (f *fakeConsumer) Close() error                         { return nil }

type fakeArchiver struct {
	mu       sync.Mutex
	appended []string
	flushes  []string
	failFor  map[string]error
	panicFor string
}

func (f *fakeArchiver) Append(ctx context.Context, tx *models.ParsedTransaction, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicFor != "" && f.panicFor == tx.TransactionID {
		panic("corrupt transaction state")
	}
	if err, ok := f.failFor[tx.TransactionID]; ok {
		return err
	}
	f.appended = append(f.appended, tx.TransactionID)
	return nil
}

func (f *fakeArchiver) Flush(ctx context.Context, trigger string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, trigger)
	return nil
}

type fakePersister struct {
	mu           sync.Mutex
	metrics      []string
	windows      []string
	metricsErr   map[string]error
	aggregateErr map[string]error
}

func (f *fakePersister) StoreTransactionMetrics(ctx context.Context, tx *models.ParsedTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.metricsErr[tx.TransactionID]; ok {
		return err
	}
	f.metrics = append(f.metrics, tx.TransactionID)
	return nil
}

func (f *fakePersister) UpsertAggregateWindow(ctx context.Context, tx *models.ParsedTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.aggregateErr[tx.TransactionID]; ok {
		return err
	}
	f.windows = append(f.windows, tx.TransactionID)
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	items []models.FailedItem
}

func (f *fakeSink) Route(ctx context.Context, payload []byte, transactionID, correlationID, errorType, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, models.FailedItem{
		TransactionID: transactionID,
		CorrelationID: correlationID,
		ErrorType:     errorType,
		ErrorMessage:  errorMessage,
		RawPayload:    payload,
	})
	return nil
}

type stubRules struct{}

func (stubRules) GetActiveRules(ctx context.Context) ([]parser.Rule, error) { return nil, nil }

type testHarness struct {
	orchestrator *Orchestrator
	consumer     *fakeConsumer
	archiver     *fakeArchiver
	persister    *fakePersister
	sink         *fakeSink
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	p, err := parser.NewParser(stubRules{}, config.ValidationConfig{MaxBodyBytes: 1 << 20}, logger.NopLogger())
	require.NoError(t, err)

	h := &testHarness{
		consumer:  &fakeConsumer{connected: true},
		archiver:  &fakeArchiver{failFor: map[string]error{}},
		persister: &fakePersister{metricsErr: map[string]error{}, aggregateErr: map[string]error{}},
		sink:      &fakeSink{},
	}
	h.orchestrator = NewOrchestrator(
		[]broker.Consumer{h.consumer},
		p,
		h.archiver,
		h.persister,
		h.sink,
		config.PipelineConfig{Workers: 1, BatchSize: 10, ConsumeTimeout: time.Second, WindowDuration: 5 * time.Minute},
		"kafka",
		logger.NopLogger(),
	)
	return h
}

func transactionBody(t *testing.T, id string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"transaction_id":   id,
		"correlation_id":   "corr-" + id,
		"timestamp":        "2026-01-15T12:04:59Z",
		"transaction_type": "purchase",
		"channel":          "web",
		"payment_method":   "card",
		"amount":           10.0,
		"currency":         "USD",
		"status":           "SUCCESS",
	})
	require.NoError(t, err)
	return data
}

func batchOf(bodies ...[]byte) models.MessageBatch {
	batch := models.MessageBatch{ID: "batch-1"}
	for i, body := range bodies {
		batch.Messages = append(batch.Messages, models.Message{
			MessageID:     fmt.Sprintf("msg-%d", i),
			CorrelationID: fmt.Sprintf("corr-msg-%d", i),
			Body:          body,
		})
	}
	return batch
}

func TestProcessBatch_AllValid(t *testing.T) {
	h := newHarness(t)

	batch := batchOf(
		transactionBody(t, "tx-1"),
		transactionBody(t, "tx-2"),
		transactionBody(t, "tx-3"),
	)
	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batch)

	assert.Equal(t, 3, outcome.Persisted)
	assert.Equal(t, 0, outcome.DeadLettered)
	assert.NoError(t, outcome.AckErr)
	assert.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, h.archiver.appended)
	assert.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, h.persister.metrics)
	assert.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, h.persister.windows)
	assert.Equal(t, []string{"batch-1"}, h.consumer.acked)
	assert.Empty(t, h.sink.items)
}

func TestProcessBatch_MalformedMessageDoesNotBlockBatch(t *testing.T) {
	h := newHarness(t)

	bodies := make([][]byte, 0, 10)
	for i := 0; i < 9; i++ {
		bodies = append(bodies, transactionBody(t, fmt.Sprintf("tx-%d", i)))
	}
	malformed := []byte(`{"transaction_id": "tx-bad", "amount":`)
	bodies = append(bodies, malformed)

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(bodies...))

	assert.Equal(t, 9, outcome.Persisted)
	assert.Equal(t, 1, outcome.DeadLettered)
	assert.Len(t, h.persister.windows, 9)
	assert.Equal(t, []string{"batch-1"}, h.consumer.acked, "batch is acknowledged despite the failed message")

	require.Len(t, h.sink.items, 1)
	assert.Equal(t, "parsing", h.sink.items[0].ErrorType)
	assert.Equal(t, malformed, h.sink.items[0].RawPayload)
}

func TestProcessBatch_ValidationFailure(t *testing.T) {
	h := newHarness(t)

	body, err := json.Marshal(map[string]interface{}{
		"transaction_id":   "tx-bad",
		"timestamp":        "2026-01-15T12:04:59Z",
		"transaction_type": "purchase",
		"channel":          "web",
		"payment_method":   "card",
		"amount":           10.0,
		"currency":         "dollars",
		"status":           "SUCCESS",
	})
	require.NoError(t, err)

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(body))

	assert.Equal(t, 0, outcome.Persisted)
	assert.Equal(t, 1, outcome.DeadLettered)
	require.Len(t, h.sink.items, 1)
	assert.Equal(t, "validation_error", h.sink.items[0].ErrorType)
	assert.Contains(t, h.sink.items[0].ErrorMessage, "currency")
}

func TestProcessBatch_ArchiveFailureDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.archiver.failFor["tx-2"] = errors.New("upload rejected")

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(
		transactionBody(t, "tx-1"),
		transactionBody(t, "tx-2"),
		transactionBody(t, "tx-3"),
	))

	assert.Equal(t, 2, outcome.Persisted)
	assert.Equal(t, 1, outcome.DeadLettered)
	assert.Equal(t, []string{"tx-1", "tx-3"}, h.persister.metrics, "failed item does not reach later stages")

	require.Len(t, h.sink.items, 1)
	assert.Equal(t, "tx-2", h.sink.items[0].TransactionID)
	assert.Equal(t, "archiving", h.sink.items[0].ErrorType)
}

func TestProcessBatch_AggregateFailureDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.persister.aggregateErr["tx-1"] = errors.New("upsert failed")

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(
		transactionBody(t, "tx-1"),
		transactionBody(t, "tx-2"),
	))

	assert.Equal(t, 1, outcome.Persisted)
	assert.Equal(t, 1, outcome.DeadLettered)
	assert.Equal(t, []string{"tx-1", "tx-2"}, h.archiver.appended, "archive already happened for the failed item")

	require.Len(t, h.sink.items, 1)
	assert.Equal(t, "aggregating", h.sink.items[0].ErrorType)
}

func TestProcessBatch_StagePanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.archiver.panicFor = "tx-1"

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(
		transactionBody(t, "tx-1"),
		transactionBody(t, "tx-2"),
	))

	assert.Equal(t, 1, outcome.Persisted)
	assert.Equal(t, 1, outcome.DeadLettered)
	assert.Equal(t, []string{"batch-1"}, h.consumer.acked)

	require.Len(t, h.sink.items, 1)
	assert.Equal(t, "tx-1", h.sink.items[0].TransactionID)
}

func TestProcessBatch_PoolExhaustionFlagsBackoff(t *testing.T) {
	h := newHarness(t)
	h.persister.metricsErr["tx-1"] = pserrors.PoolExhausted("no connection available")

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(transactionBody(t, "tx-1")))

	assert.True(t, outcome.PoolExhausted)
	assert.Equal(t, 1, outcome.DeadLettered)
}

func TestProcessBatch_AckFailureReported(t *testing.T) {
	h := newHarness(t)
	h.consumer.ackErr = errors.New("broker unavailable")

	outcome := h.orchestrator.ProcessBatch(context.Background(), h.consumer, batchOf(transactionBody(t, "tx-1")))

	assert.Equal(t, 1, outcome.Persisted)
	assert.Error(t, outcome.AckErr)
	assert.Empty(t, h.consumer.acked)
}

func TestProcessPayload_OfflinePath(t *testing.T) {
	h := newHarness(t)

	tx, err := h.orchestrator.ProcessPayload(context.Background(), transactionBody(t, "tx-9"))
	require.NoError(t, err)
	assert.Equal(t, "tx-9", tx.TransactionID)

	assert.Equal(t, []string{"tx-9"}, h.archiver.appended)
	assert.Equal(t, []string{"manual"}, h.archiver.flushes, "offline processing flushes immediately")
	assert.Equal(t, []string{"tx-9"}, h.persister.metrics)
	assert.Equal(t, []string{"tx-9"}, h.persister.windows)
}

func TestProcessPayload_InvalidPayload(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.ProcessPayload(context.Background(), []byte(`not json`))
	require.Error(t, err)
	assert.Empty(t, h.archiver.appended)
}
