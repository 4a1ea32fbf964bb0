package pipeline

import (
	"context"
	"fmt"

	"paystream/pkg/logging"
	"paystream/pkg/models"
)

// ProcessPayload runs a single raw payload through the parse, archive
// and persist stages without a broker session. Backs the offline
// command used for replaying or inspecting individual payloads; the
// archive buffer is flushed immediately so the parquet file is visible
// when the call returns.
func (o *Orchestrator) ProcessPayload(ctx context.Context, payload []byte) (*models.ParsedTransaction, error) {
	result := o.parser.ParseAndValidate(ctx, payload)
	if !result.OK() {
		return nil, fmt.Errorf("payload failed validation: %v", result.Errors)
	}

	tx := result.Transaction
	ctx = logging.WithCorrelationID(ctx, tx.CorrelationID)

	if err := o.archiver.Append(ctx, tx, payload); err != nil {
		return nil, fmt.Errorf("failed to archive payload: %w", err)
	}
	if err := o.archiver.Flush(ctx, "manual"); err != nil {
		return nil, fmt.Errorf("failed to flush archive: %w", err)
	}

	if err := o.persister.StoreTransactionMetrics(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to store metrics: %w", err)
	}
	if err := o.persister.UpsertAggregateWindow(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to update aggregate window: %w", err)
	}

	return tx, nil
}
