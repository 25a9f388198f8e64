package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/errors"
	"github.com/gatecache/gatecache/pkg/provider"
)

func newTestPool(t *testing.T, capacity int) (*Pool, *provider.MemoryBackend) {
	t.Helper()
	backend := provider.NewMemoryBackend(config.ProviderConfig{}, zaptest.NewLogger(t))
	p := New(backend, config.PoolConfig{
		Capacity:       capacity,
		AcquireTimeout: time.Second,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = p.Shutdown() })
	return p, backend
}

func TestAcquireCreatesUpToCapacity(t *testing.T) {
	p, backend := newTestPool(t, 3)
	ctx := context.Background()

	var held []*provider.Resource
	for i := 0; i < 3; i++ {
		res, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, res)
	}

	assert.Equal(t, int64(3), backend.Opens())
	stats := p.Stats()
	assert.Equal(t, 3, stats.InUse)
	assert.Equal(t, 0, stats.Idle)

	for _, res := range held {
		require.NoError(t, p.Release(res))
	}
	assert.Equal(t, 3, p.Stats().Idle)
}

func TestReleaseThenAcquireReuses(t *testing.T) {
	p, backend := newTestPool(t, 2)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	id := res.ID()
	require.NoError(t, p.Release(res))

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID())
	assert.Equal(t, int64(1), backend.Opens())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.TotalCreated)
	assert.Equal(t, int64(1), stats.TotalReused)
	assert.InDelta(t, 50.0, stats.ReuseRate, 0.01)
}

// Three callers racing for a pool of two must never force a third
// creation; the loser waits for a release instead.
func TestConcurrentAcquiresRespectCapacity(t *testing.T) {
	p, backend := newTestPool(t, 2)
	ctx := context.Background()

	var inUse atomic.Int64
	var maxInUse atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Acquire(ctx)
			if !assert.NoError(t, err) {
				return
			}

			n := inUse.Add(1)
			for {
				prev := maxInUse.Load()
				if n <= prev || maxInUse.CompareAndSwap(prev, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inUse.Add(-1)
			assert.NoError(t, p.Release(res))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInUse.Load(), int64(2))
	assert.Equal(t, int64(2), backend.Opens(), "third caller should reuse, not create")
}

func TestCapacityNeverExceededUnderLoad(t *testing.T) {
	p, backend := newTestPool(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, err := p.Acquire(ctx)
				if !assert.NoError(t, err) {
					return
				}
				stats := p.Stats()
				assert.LessOrEqual(t, stats.InUse+stats.Idle, 4)
				assert.NoError(t, p.Release(res))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.Opens(), int64(4))
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Acquire(waitCtx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAcquireTimeout))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, int64(1), p.Stats().Timeouts)
	require.NoError(t, p.Release(res))
}

func TestBlockedAcquireUnblockedByRelease(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		r, err := p.Acquire(ctx)
		if err == nil {
			err = p.Release(r)
		}
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Release(res))

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire was not unblocked by release")
	}
}

func TestAcquireAfterShutdown(t *testing.T) {
	p, _ := newTestPool(t, 2)

	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Shutdown(), "shutdown must be idempotent")

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePoolClosed))
}

func TestShutdownClosesTrackedResources(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	lent, err := p.Acquire(ctx)
	require.NoError(t, err)

	idle, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(idle))

	require.NoError(t, p.Shutdown())

	assert.False(t, lent.Alive())
	assert.False(t, idle.Alive())
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestDoubleReleaseFails(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	err = p.Release(res)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidState))
}

func TestReleaseNilFails(t *testing.T) {
	p, _ := newTestPool(t, 1)
	err := p.Release(nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidState))
}

func TestReleaseAfterShutdownClosesResource(t *testing.T) {
	p, _ := newTestPool(t, 1)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Release(res))
	assert.False(t, res.Alive())
}

func TestDeadResourceNotReused(t *testing.T) {
	p, backend := newTestPool(t, 1)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Close())
	require.NoError(t, p.Release(res))

	// The dead resource was dropped; the next acquire must open fresh.
	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, res.ID(), again.ID())
	assert.True(t, again.Alive())
	assert.Equal(t, int64(2), backend.Opens())
}

func TestProviderFailureReturnsPermit(t *testing.T) {
	backend := provider.NewMemoryBackend(config.ProviderConfig{FailureRate: 1.0}, zaptest.NewLogger(t))
	p := New(backend, config.PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = p.Shutdown() })
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProvider))

	// The failed creation must not leak the capacity slot.
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProvider))
}

func TestIdleCleanupClosesStaleResources(t *testing.T) {
	backend := provider.NewMemoryBackend(config.ProviderConfig{}, zaptest.NewLogger(t))
	p := New(backend, config.PoolConfig{
		Capacity:       2,
		AcquireTimeout: time.Second,
		IdleTimeout:    20 * time.Millisecond,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = p.Shutdown() })
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	assert.Eventually(t, func() bool {
		return p.Stats().Idle == 0
	}, time.Second, 10*time.Millisecond)
	assert.False(t, res.Alive())
}
