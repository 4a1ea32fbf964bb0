package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paystream/internal/deadletter"
	"paystream/pkg/models"
)

func TestFailedItems_RoundTrip(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	repo := deadletter.NewRepository(testManager(infra.PostgresDB))
	payload := []byte(`{"transaction_id": "tx-1", "amount": `)

	item := models.FailedItem{
		TransactionID: "tx-1",
		CorrelationID: "corr-1",
		ErrorType:     "parsing",
		ErrorMessage:  "unexpected end of JSON input",
		RawPayload:    payload,
		FailedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.InsertFailedItem(ctx, item))

	items, err := repo.GetByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, "tx-1", got.TransactionID)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, "parsing", got.ErrorType)
	assert.Equal(t, payload, got.RawPayload, "raw payload is preserved verbatim")
	assert.False(t, got.Resolved)
	assert.Zero(t, got.RetryCount)
}

func TestFailedItems_EmptyTransactionID(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	repo := deadletter.NewRepository(testManager(infra.PostgresDB))

	item := models.FailedItem{
		CorrelationID: "corr-2",
		ErrorType:     "parsing",
		ErrorMessage:  "body was not JSON",
		RawPayload:    []byte("not json at all"),
		FailedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.InsertFailedItem(ctx, item))

	var count int
	err := infra.PostgresDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_items WHERE transaction_id IS NULL`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeadLetterRouter_PersistsThroughRepository(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	repo := deadletter.NewRepository(testManager(infra.PostgresDB))
	router := deadletter.NewRouter(repo, testLogger())

	payload := []byte(`{"status": "PENDING"}`)
	require.NoError(t, router.Route(ctx, payload, "tx-9", "corr-9", "validation_error", "status out of range"))

	items, err := repo.GetByTransactionID(ctx, "tx-9")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "validation_error", items[0].ErrorType)
	assert.Equal(t, payload, items[0].RawPayload)
}
