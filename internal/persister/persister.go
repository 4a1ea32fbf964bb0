// Package persister derives per-transaction metrics and maintains the
// windowed aggregate counters in the relational tier.
package persister

import (
	"context"
	"encoding/json"
	"time"

	"paystream/internal/connmgr"
	"paystream/internal/logger"
	"paystream/pkg/metrics"
	"paystream/pkg/models"
)

// HighValueThreshold marks transactions that get a dedicated metric row.
const HighValueThreshold = 10000.0

type Persister struct {
	repo   Repository
	mgr    *connmgr.Manager
	window time.Duration
	logger logger.Logger
}

func New(repo Repository, mgr *connmgr.Manager, window time.Duration, log logger.Logger) *Persister {
	return &Persister{
		repo:   repo,
		mgr:    mgr,
		window: window,
		logger: log,
	}
}

// ExtractMetrics derives the metric rows for one transaction. Pure:
// deterministic for the same input, no side effects.
func ExtractMetrics(tx *models.ParsedTransaction) []models.DynamicMetric {
	out := []models.DynamicMetric{
		{
			TransactionID: tx.TransactionID,
			CorrelationID: tx.CorrelationID,
			MetricType:    "transaction_amount",
			MetricValue:   tx.Amount,
			MetricData: encodeMetricData(map[string]interface{}{
				"currency":       tx.Currency,
				"payment_method": tx.PaymentMethod,
				"status":         string(tx.Status),
			}),
		},
	}

	if latency, ok := numericMetadata(tx.Metadata, "processing_time_ms"); ok {
		out = append(out, models.DynamicMetric{
			TransactionID: tx.TransactionID,
			CorrelationID: tx.CorrelationID,
			MetricType:    "processing_latency_ms",
			MetricValue:   latency,
			MetricData: encodeMetricData(map[string]interface{}{
				"channel": tx.Channel,
			}),
		})
	}

	if tx.Amount >= HighValueThreshold {
		out = append(out, models.DynamicMetric{
			TransactionID: tx.TransactionID,
			CorrelationID: tx.CorrelationID,
			MetricType:    "high_value_transaction",
			MetricValue:   tx.Amount,
			MetricData: encodeMetricData(map[string]interface{}{
				"merchant_id": tx.MerchantID,
				"currency":    tx.Currency,
			}),
		})
	}

	return out
}

// StoreDynamicMetrics writes the derived metrics through the retry-wrapped
// relational path.
func (p *Persister) StoreDynamicMetrics(ctx context.Context, ms []models.DynamicMetric) error {
	if len(ms) == 0 {
		return nil
	}

	err := p.mgr.ExecuteWithRetry(ctx, "insert_dynamic_metrics", func(ctx context.Context) error {
		return p.repo.InsertDynamicMetrics(ctx, ms)
	})
	if err != nil {
		return err
	}

	metrics.DynamicMetricsInsertedTotal.Add(float64(len(ms)))
	return nil
}

// StoreTransactionMetrics derives and persists the metric rows for one
// transaction.
func (p *Persister) StoreTransactionMetrics(ctx context.Context, tx *models.ParsedTransaction) error {
	return p.StoreDynamicMetrics(ctx, ExtractMetrics(tx))
}

// UpsertAggregateWindow folds one transaction into its window row. The
// window key is the transaction timestamp floored to the window
// boundary; the store applies the increment atomically.
func (p *Persister) UpsertAggregateWindow(ctx context.Context, tx *models.ParsedTransaction) error {
	window := p.WindowFor(tx)

	err := p.mgr.ExecuteWithRetry(ctx, "upsert_aggregate_window", func(ctx context.Context) error {
		return p.repo.UpsertAggregateWindow(ctx, window)
	})
	if err != nil {
		metrics.AggregateUpsertsTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.AggregateUpsertsTotal.WithLabelValues("success").Inc()
	return nil
}

// WindowFor builds the single-transaction delta row for the window the
// transaction falls into.
func (p *Persister) WindowFor(tx *models.ParsedTransaction) models.AggregateWindow {
	start := tx.Timestamp.UTC().Truncate(p.window)

	w := models.AggregateWindow{
		WindowStart:   start,
		WindowEnd:     start.Add(p.window),
		PaymentMethod: tx.PaymentMethod,
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		TotalCount:    1,
		TotalAmount:   tx.Amount,
		MinAmount:     tx.Amount,
		MaxAmount:     tx.Amount,
		AvgAmount:     tx.Amount,
	}

	switch tx.Status {
	case models.StatusSuccess:
		w.SuccessCount = 1
	case models.StatusDeclined:
		w.DeclinedCount = 1
	case models.StatusTimeout:
		w.TimeoutCount = 1
	case models.StatusError:
		w.ErrorCount = 1
	}

	return w
}

func encodeMetricData(data map[string]interface{}) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func numericMetadata(metadata map[string]interface{}, key string) (float64, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
