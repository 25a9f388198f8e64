package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gatecache/gatecache/pkg/errors"
)

func newBreaker(t *testing.T, failures, successes int, retry time.Duration) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: failures,
		SuccessThreshold: successes,
		RetryTimeout:     retry,
	}, zaptest.NewLogger(t))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newBreaker(t, 3, 2, time.Minute)
	boom := stderrors.New("backend down")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, "open", cb.GetState().State)

	err := cb.Execute(func() error {
		t.Fatal("function must not run while circuit is open")
		return nil
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newBreaker(t, 3, 2, time.Minute)
	boom := stderrors.New("flaky")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })

	assert.Equal(t, "closed", cb.GetState().State,
		"interleaved success prevents the consecutive threshold")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := newBreaker(t, 1, 2, 20*time.Millisecond)

	_ = cb.Execute(func() error { return stderrors.New("down") })
	require.Equal(t, "open", cb.GetState().State)

	time.Sleep(40 * time.Millisecond)

	// First probe transitions to half-open.
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Equal(t, "closed", cb.GetState().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newBreaker(t, 1, 2, 20*time.Millisecond)

	_ = cb.Execute(func() error { return stderrors.New("down") })
	time.Sleep(40 * time.Millisecond)

	_ = cb.Execute(func() error { return stderrors.New("still down") })
	assert.Equal(t, "open", cb.GetState().State)
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewTokenBucketRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "burst capacity should admit request %d", i)
	}
	assert.False(t, rl.Allow(), "bucket exhausted")

	stats := rl.GetStats()
	assert.Equal(t, int64(3), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewTokenBucketRateLimiter(100, 1)

	require.True(t, rl.Allow())
	require.False(t, rl.Allow())

	time.Sleep(30 * time.Millisecond) // 100/s refills within a few ms
	assert.True(t, rl.Allow())
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewTokenBucketRateLimiter(100, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimiterWaitAborts(t *testing.T) {
	rl := NewTokenBucketRateLimiter(0.001, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	assert.True(t, errors.IsRetryable(err))
}
