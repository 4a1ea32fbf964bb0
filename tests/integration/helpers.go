package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"paystream/internal/config"
	"paystream/internal/connmgr"
	"paystream/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NopLogger()
}

func testManager(db *sql.DB) *connmgr.Manager {
	return connmgr.NewManager(db, nil, "", config.PoolConfig{
		MaxOpen:        5,
		MinIdle:        1,
		AcquireTimeout: 5 * time.Second,
	}, config.CircuitBreakerConfig{}, testLogger())
}

func insertValidationRule(t *testing.T, db *sql.DB, name, field, expression string, enabled bool) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO validation_rules (name, field, expression, enabled)
		VALUES ($1, $2, $3, $4)
	`, name, field, expression, enabled)
	if err != nil {
		t.Fatalf("failed to insert validation rule: %v", err)
	}
}
