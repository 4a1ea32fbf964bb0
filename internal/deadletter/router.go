// Package deadletter is the pipeline's final safety net: every
// irrecoverable failure lands here as a failed_items row with the
// original payload preserved verbatim.
package deadletter

import (
	"context"
	"time"

	"paystream/internal/logger"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
	"paystream/pkg/retry"
)

type Router struct {
	repo   Repository
	policy retry.Policy
	logger logger.Logger

	now func() time.Time
}

func NewRouter(repo Repository, log logger.Logger) *Router {
	return &Router{
		repo:   repo,
		policy: retry.DefaultPolicy(),
		logger: log,
		now:    time.Now,
	}
}

// Route persists one failed item. It carries its own retry-wrapped write
// path, independent of the shared store breakers, so a degraded metrics
// path cannot take the dead-letter path down with it. On total write
// failure the item is logged at the highest severity with its full
// context; there is no further fallback.
func (r *Router) Route(ctx context.Context, payload []byte, transactionID, correlationID, errorType, errorMessage string) error {
	item := models.FailedItem{
		TransactionID: transactionID,
		CorrelationID: correlationID,
		ErrorType:     errorType,
		ErrorMessage:  errorMessage,
		RawPayload:    payload,
		FailedAt:      r.now().UTC(),
	}

	err := retry.Retry(ctx, r.policy, func() error {
		if insertErr := r.repo.InsertFailedItem(ctx, item); insertErr != nil {
			return pserrors.ClassifyStoreError(insertErr)
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorwCtx(ctx, "DEAD LETTER WRITE FAILED - payload would be lost",
			"severity", "critical",
			"transaction_id", transactionID,
			"correlation_id", correlationID,
			"error_type", errorType,
			"error_message", errorMessage,
			"raw_payload", string(payload),
			"error", err,
		)
		return err
	}

	metrics.DeadLetterTotal.WithLabelValues(errorType).Inc()
	r.logger.WarnwCtx(ctx, "Item routed to dead letter store",
		"transaction_id", transactionID,
		"error_type", errorType,
	)
	return nil
}
