package deadletter

import (
	"context"
	"fmt"

	"paystream/internal/connmgr"
	"paystream/pkg/models"
)

type Repository interface {
	InsertFailedItem(ctx context.Context, item models.FailedItem) error
	GetByTransactionID(ctx context.Context, transactionID string) ([]models.FailedItem, error)
}

// PostgresRepository acquires a pooled connection per operation; the
// bounded wait keeps the dead-letter path from blocking indefinitely
// when the pool is saturated.
type PostgresRepository struct {
	mgr *connmgr.Manager
}

func NewRepository(mgr *connmgr.Manager) Repository {
	return &PostgresRepository{mgr: mgr}
}

func (r *PostgresRepository) InsertFailedItem(ctx context.Context, item models.FailedItem) error {
	query := `
		INSERT INTO failed_items (transaction_id, correlation_id, error_type, error_message, raw_payload, failed_at, retry_count, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	conn, err := r.mgr.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, query,
		nullableString(item.TransactionID),
		item.CorrelationID,
		item.ErrorType,
		item.ErrorMessage,
		item.RawPayload,
		item.FailedAt,
		item.RetryCount,
		item.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to insert failed item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByTransactionID(ctx context.Context, transactionID string) ([]models.FailedItem, error) {
	query := `
		SELECT id, COALESCE(transaction_id, ''), correlation_id, error_type, error_message, raw_payload, failed_at, retry_count, resolved
		FROM failed_items
		WHERE transaction_id = $1
		ORDER BY failed_at ASC
	`

	conn, err := r.mgr.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed items: %w", err)
	}
	defer rows.Close()

	var items []models.FailedItem
	for rows.Next() {
		var item models.FailedItem
		if err := rows.Scan(
			&item.ID,
			&item.TransactionID,
			&item.CorrelationID,
			&item.ErrorType,
			&item.ErrorMessage,
			&item.RawPayload,
			&item.FailedAt,
			&item.RetryCount,
			&item.Resolved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan failed item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
