package persister

import (
	"context"
	"fmt"
	"strings"

	"paystream/internal/connmgr"
	"paystream/pkg/models"
)

type Repository interface {
	InsertDynamicMetrics(ctx context.Context, metrics []models.DynamicMetric) error
	UpsertAggregateWindow(ctx context.Context, window models.AggregateWindow) error
	GetAggregateWindow(ctx context.Context, window models.AggregateWindow) (models.AggregateWindow, error)
}

// PostgresRepository checks every operation's connection out of the
// bounded pool, so saturation surfaces as a pool-exhausted error
// instead of an unbounded wait on the shared handle.
type PostgresRepository struct {
	mgr *connmgr.Manager
}

func NewRepository(mgr *connmgr.Manager) Repository {
	return &PostgresRepository{mgr: mgr}
}

// InsertDynamicMetrics writes the whole slice in one multi-row insert.
// The metric log is append-only; duplicate transaction_id rows are
// expected under at-least-once delivery and are not deduplicated here.
func (r *PostgresRepository) InsertDynamicMetrics(ctx context.Context, metrics []models.DynamicMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(metrics))
	args := make([]interface{}, 0, len(metrics)*5)
	for i, m := range metrics {
		base := i * 5
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, m.TransactionID, m.CorrelationID, m.MetricType, m.MetricValue, m.MetricData)
	}

	query := fmt.Sprintf(`
		INSERT INTO dynamic_metrics (transaction_id, correlation_id, metric_type, metric_value, metric_data)
		VALUES %s
	`, strings.Join(placeholders, ", "))

	conn, err := r.mgr.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert dynamic metrics: %w", err)
	}
	return nil
}

// UpsertAggregateWindow performs the window update as a single atomic
// statement. Concurrent workers hitting the same window key are
// serialized by the store, not by application-level locking.
func (r *PostgresRepository) UpsertAggregateWindow(ctx context.Context, w models.AggregateWindow) error {
	query := `
		INSERT INTO aggregate_windows (
			window_start, window_end, payment_method, currency, status,
			total_count, total_amount, min_amount, max_amount, avg_amount,
			success_count, declined_count, timeout_count, error_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (window_start, payment_method, currency, status) DO UPDATE SET
			total_count    = aggregate_windows.total_count + EXCLUDED.total_count,
			total_amount   = aggregate_windows.total_amount + EXCLUDED.total_amount,
			min_amount     = LEAST(aggregate_windows.min_amount, EXCLUDED.min_amount),
			max_amount     = GREATEST(aggregate_windows.max_amount, EXCLUDED.max_amount),
			avg_amount     = (aggregate_windows.total_amount + EXCLUDED.total_amount)
			                 / (aggregate_windows.total_count + EXCLUDED.total_count),
			success_count  = aggregate_windows.success_count + EXCLUDED.success_count,
			declined_count = aggregate_windows.declined_count + EXCLUDED.declined_count,
			timeout_count  = aggregate_windows.timeout_count + EXCLUDED.timeout_count,
			error_count    = aggregate_windows.error_count + EXCLUDED.error_count,
			updated_at     = now()
	`

	conn, err := r.mgr.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, query,
		w.WindowStart, w.WindowEnd, w.PaymentMethod, w.Currency, w.Status,
		w.TotalCount, w.TotalAmount, w.MinAmount, w.MaxAmount, w.AvgAmount,
		w.SuccessCount, w.DeclinedCount, w.TimeoutCount, w.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate window: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetAggregateWindow(ctx context.Context, w models.AggregateWindow) (models.AggregateWindow, error) {
	query := `
		SELECT window_start, window_end, payment_method, currency, status,
		       total_count, total_amount, min_amount, max_amount, avg_amount,
		       success_count, declined_count, timeout_count, error_count
		FROM aggregate_windows
		WHERE window_start = $1 AND payment_method = $2 AND currency = $3 AND status = $4
	`

	conn, err := r.mgr.Acquire(ctx)
	if err != nil {
		return models.AggregateWindow{}, err
	}
	defer conn.Close()

	var out models.AggregateWindow
	err = conn.QueryRowContext(ctx, query, w.WindowStart, w.PaymentMethod, w.Currency, w.Status).Scan(
		&out.WindowStart, &out.WindowEnd, &out.PaymentMethod, &out.Currency, &out.Status,
		&out.TotalCount, &out.TotalAmount, &out.MinAmount, &out.MaxAmount, &out.AvgAmount,
		&out.SuccessCount, &out.DeclinedCount, &out.TimeoutCount, &out.ErrorCount,
	)
	if err != nil {
		return models.AggregateWindow{}, fmt.Errorf("failed to read aggregate window: %w", err)
	}
	return out, nil
}
