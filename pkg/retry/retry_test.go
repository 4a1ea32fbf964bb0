package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pserrors "paystream/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return pserrors.Transient("store hiccup", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return pserrors.Transient("still down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalErrorShortCircuits(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return pserrors.Permanent("constraint violated", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, Policy{MaxAttempts: 0, InitialInterval: 10 * time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 1.0}, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return pserrors.Transient("still down", nil)
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 3)
}

func TestRetryWithCallback_ReportsEachRetry(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("generic failure")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, nextDelay)
	})

	require.Error(t, err)
	// The callback fires before every retry, not after the final failure.
	assert.Equal(t, []int{1, 2}, attempts)
	for _, d := range delays {
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestBackoffDuration_Caps(t *testing.T) {
	p := Policy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	assert.Equal(t, p.InitialInterval, p.BackoffDuration(0))
	assert.Equal(t, 2*p.InitialInterval, p.BackoffDuration(1))
	assert.Equal(t, 4*p.InitialInterval, p.BackoffDuration(2))
	assert.Equal(t, p.MaxInterval, p.BackoffDuration(10))
}
