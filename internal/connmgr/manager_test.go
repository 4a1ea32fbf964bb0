package connmgr

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paystream/internal/config"
	"paystream/internal/logger"
	pserrors "paystream/pkg/errors"
)

type fakeConn struct{}

func (fakeConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (fakeConn) Close() error                        { return nil }
func (fakeConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

type fakeConnector struct{}

func (fakeConnector) Connect(context.Context) (driver.Conn, error) { return fakeConn{}, nil }
func (fakeConnector) Driver() driver.Driver                        { return nil }

func newTestManager(t *testing.T, pool config.PoolConfig) *Manager {
	t.Helper()
	db := sql.OpenDB(fakeConnector{})
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, nil, "archive", pool, config.CircuitBreakerConfig{}, logger.NopLogger())
}

func TestAcquire_PoolExhaustedWithinWaitBound(t *testing.T) {
	m := newTestManager(t, config.PoolConfig{
		MaxOpen:        1,
		MinIdle:        1,
		AcquireTimeout: 50 * time.Millisecond,
	})

	held, err := m.Acquire(context.Background())
	require.NoError(t, err)

	// The single pooled connection is checked out, so the next acquire
	// must fail within the wait bound instead of blocking.
	start := time.Now()
	_, err = m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, pserrors.IsPoolExhausted(err))
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, held.Close())

	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestExecuteWithRetry_TransientThenSuccess(t *testing.T) {
	m := newTestManager(t, config.PoolConfig{MaxOpen: 1, AcquireTimeout: time.Second})
	m.retryPolicy.InitialInterval = time.Millisecond

	calls := 0
	err := m.ExecuteWithRetry(context.Background(), "upsert_window", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_PermanentShortCircuits(t *testing.T) {
	m := newTestManager(t, config.PoolConfig{MaxOpen: 1, AcquireTimeout: time.Second})
	m.retryPolicy.InitialInterval = time.Millisecond

	calls := 0
	err := m.ExecuteWithRetry(context.Background(), "insert_metrics", func(ctx context.Context) error {
		calls++
		return pserrors.Permanent("relation does not exist", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}
