// Package connmgr owns the pooled relational connections and the
// object-store client handle. Every store operation in the pipeline
// funnels through ExecuteWithRetry so transient failures are retried
// with backoff and permanent failures propagate immediately.
package connmgr

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sony/gobreaker"

	"paystream/internal/config"
	"paystream/internal/logger"
	"paystream/pkg/circuitbreaker"
	pserrors "paystream/pkg/errors"
	"paystream/pkg/metrics"
	"paystream/pkg/retry"
)

type Manager struct {
	db      *sql.DB
	objects *minio.Client
	bucket  string

	poolCfg     config.PoolConfig
	retryPolicy retry.Policy
	dbBreaker   *circuitbreaker.Wrapper
	objBreaker  *circuitbreaker.Wrapper
	logger      logger.Logger
}

func NewManager(db *sql.DB, objects *minio.Client, bucket string, poolCfg config.PoolConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *Manager {
	db.SetMaxOpenConns(poolCfg.MaxOpen)
	db.SetMaxIdleConns(poolCfg.MinIdle)
	db.SetConnMaxIdleTime(poolCfg.IdleRecycle)

	m := &Manager{
		db:          db,
		objects:     objects,
		bucket:      bucket,
		poolCfg:     poolCfg,
		retryPolicy: retry.DefaultPolicy(),
		logger:      log,
	}

	if cbCfg.Enabled {
		m.dbBreaker = circuitbreaker.NewWrapper(breakerConfig("postgres", cbCfg))
		m.objBreaker = circuitbreaker.NewWrapper(breakerConfig("object_store", cbCfg))
	}

	return m
}

func breakerConfig(name string, cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	bc := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		bc.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		bc.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		bc.Timeout = cfg.Timeout
	}
	return bc
}

func (m *Manager) DB() *sql.DB {
	return m.db
}

func (m *Manager) Objects() *minio.Client {
	return m.objects
}

func (m *Manager) Bucket() string {
	return m.bucket
}

// Acquire checks a connection out of the pool, validating it with a
// liveness ping before handing it out. If no connection frees up within
// the configured wait bound the caller gets a pool-exhausted error, not
// an indefinite block. Callers release via conn.Close().
func (m *Manager) Acquire(ctx context.Context) (*sql.Conn, error) {
	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, m.poolCfg.AcquireTimeout)
	defer cancel()

	conn, err := m.db.Conn(acquireCtx)
	metrics.ObservePoolWait(time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.PoolExhaustedTotal.Inc()
			return nil, pserrors.PoolExhausted("no relational connection available within wait bound")
		}
		return nil, pserrors.ClassifyStoreError(err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pingCancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, pserrors.Transient("pooled connection failed liveness probe", err)
	}

	return conn, nil
}

// ExecuteWithRetry runs a relational store operation under the bounded
// retry policy. Transient errors retry with exponential backoff;
// permanent errors short-circuit.
func (m *Manager) ExecuteWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return m.executeWithRetry(ctx, operation, m.dbBreaker, fn)
}

// ExecuteObjectWithRetry is ExecuteWithRetry for the object-store tier,
// tracked by its own circuit breaker.
func (m *Manager) ExecuteObjectWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return m.executeWithRetry(ctx, operation, m.objBreaker, fn)
}

func (m *Manager) executeWithRetry(ctx context.Context, operation string, breaker *circuitbreaker.Wrapper, fn func(ctx context.Context) error) error {
	attemptFn := func() error {
		var err error
		if breaker != nil {
			err = breaker.Execute(ctx, func() error { return fn(ctx) })
		} else {
			err = fn(ctx)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return pserrors.Transient("circuit breaker rejected operation", err)
		}
		return pserrors.ClassifyStoreError(err)
	}

	return retry.RetryWithCallback(ctx, m.retryPolicy, attemptFn, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(operation).Inc()
		m.logger.WarnwCtx(ctx, "Retrying store operation",
			"operation", operation,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}

func (m *Manager) Close() error {
	return m.db.Close()
}
