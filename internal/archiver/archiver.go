// Package archiver buffers validated transactions and durably archives
// them as date-partitioned, Snappy-compressed parquet files. A flush
// fires when the buffer reaches the configured size or the interval
// elapses, whichever comes first; a hard ceiling forces a synchronous
// flush so the buffer can never grow without bound.
package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paystream/internal/config"
	"paystream/internal/constants"
	"paystream/internal/logger"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

// FailureSink receives every event the archiver could not persist after
// exhausting upload retries. The original raw payload travels with each
// event individually so no event is silently dropped with the blob.
type FailureSink interface {
	Route(ctx context.Context, payload []byte, transactionID, correlationID, errorType, errorMessage string) error
}

type bufferedEvent struct {
	event models.RawEvent
	raw   []byte
}

type Archiver struct {
	cfg      config.ArchiverConfig
	store    ObjectStore
	failures FailureSink
	logger   logger.Logger

	mu      sync.Mutex
	buffer  []bufferedEvent
	flushCh chan struct{}

	// flushMu serializes flushes so a timer flush and a size-triggered
	// flush cannot upload the same buffer twice.
	flushMu sync.Mutex

	now func() time.Time
}

func New(cfg config.ArchiverConfig, store ObjectStore, failures FailureSink, log logger.Logger) *Archiver {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = constants.ArchiveKeyPrefix
	}
	return &Archiver{
		cfg:      cfg,
		store:    store,
		failures: failures,
		logger:   log,
		buffer:   make([]bufferedEvent, 0, cfg.FlushSize),
		flushCh:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Append adds one validated transaction to the buffer. Crossing the
// flush threshold signals the background flusher; crossing the hard cap
// flushes synchronously on the caller's goroutine.
func (a *Archiver) Append(ctx context.Context, tx *models.ParsedTransaction, raw []byte) error {
	event := toRawEvent(tx, a.now().UTC())

	a.mu.Lock()
	a.buffer = append(a.buffer, bufferedEvent{event: event, raw: raw})
	size := len(a.buffer)
	a.mu.Unlock()

	metrics.ArchiveBufferSize.Set(float64(size))

	hardCap := a.cfg.FlushSize * a.cfg.HardCapMultiplier
	switch {
	case size >= hardCap:
		return a.Flush(ctx, "hard_cap")
	case size >= a.cfg.FlushSize:
		select {
		case a.flushCh <- struct{}{}:
		default: // flush already signalled
		}
	}

	return nil
}

// Run drives interval- and size-triggered flushes until ctx is
// cancelled, then drains the remaining buffer.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Flush(ctx, "interval"); err != nil {
				a.logger.ErrorwCtx(ctx, "Interval flush failed",
					"error", err,
				)
			}
		case <-a.flushCh:
			if err := a.Flush(ctx, "size"); err != nil {
				a.logger.ErrorwCtx(ctx, "Size-triggered flush failed",
					"error", err,
				)
			}
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), constants.DrainTimeout)
			defer cancel()
			if err := a.Flush(drainCtx, "shutdown"); err != nil {
				a.logger.Errorw("Shutdown flush failed",
					"error", err,
				)
			}
			return ctx.Err()
		}
	}
}

// Flush serializes the current buffer to parquet and uploads it under a
// date-partitioned key. If upload retries exhaust, every buffered event
// is routed to the dead-letter store individually.
func (a *Archiver) Flush(ctx context.Context, trigger string) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.buffer
	a.buffer = make([]bufferedEvent, 0, a.cfg.FlushSize)
	a.mu.Unlock()

	metrics.ArchiveBufferSize.Set(0)

	events := make([]models.RawEvent, len(batch))
	for i, rec := range batch {
		events[i] = rec.event
	}

	blob, err := serializeEvents(events)
	if err != nil {
		a.deadLetterBatch(ctx, batch, err)
		metrics.ArchiveFlushesTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("failed to serialize archive batch: %w", err)
	}

	key := a.objectKey(a.now().UTC())
	if err := a.store.Put(ctx, key, blob); err != nil {
		a.deadLetterBatch(ctx, batch, err)
		metrics.ArchiveFlushesTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("failed to upload archive batch: %w", err)
	}

	metrics.ArchiveFlushesTotal.WithLabelValues(trigger, "success").Inc()
	metrics.ArchiveBytesWrittenTotal.Add(float64(len(blob)))
	a.logger.InfowCtx(ctx, "Archive batch flushed",
		"trigger", trigger,
		"key", key,
		"events", len(events),
		"bytes", len(blob),
	)
	return nil
}

func (a *Archiver) deadLetterBatch(ctx context.Context, batch []bufferedEvent, cause error) {
	for _, rec := range batch {
		err := a.failures.Route(ctx, rec.raw,
			rec.event.TransactionID,
			rec.event.CorrelationID,
			constants.ErrorTypeStorage,
			cause.Error(),
		)
		if err != nil {
			a.logger.ErrorwCtx(ctx, "Failed to dead-letter archived event",
				"transaction_id", rec.event.TransactionID,
				"error", err,
			)
		}
	}
}

// objectKey builds the partitioned key, e.g.
// raw_events/year=2026/month=09/day=01/events_20260901_143005.parquet.
func (a *Archiver) objectKey(ts time.Time) string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/events_%s.parquet",
		a.cfg.KeyPrefix,
		ts.Year(), int(ts.Month()), ts.Day(),
		ts.Format("20060102_150405"),
	)
}

func (a *Archiver) partitionPrefix(ts time.Time) string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/",
		a.cfg.KeyPrefix,
		ts.Year(), int(ts.Month()), ts.Day(),
	)
}

// BufferLen reports the current buffer size.
func (a *Archiver) BufferLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

func toRawEvent(tx *models.ParsedTransaction, ingestedAt time.Time) models.RawEvent {
	return models.RawEvent{
		TransactionID:      tx.TransactionID,
		CorrelationID:      tx.CorrelationID,
		Timestamp:          tx.Timestamp,
		TransactionType:    tx.TransactionType,
		Channel:            tx.Channel,
		PaymentMethod:      tx.PaymentMethod,
		Amount:             tx.Amount,
		Currency:           tx.Currency,
		MerchantID:         tx.MerchantID,
		CustomerID:         tx.CustomerID,
		Status:             string(tx.Status),
		Metadata:           encodeMetadata(tx.Metadata),
		IngestionTimestamp: ingestedAt,
	}
}
