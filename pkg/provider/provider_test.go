package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/errors"
)

func fastConfig() config.ProviderConfig {
	return config.ProviderConfig{} // zero latencies, no failure injection
}

func TestOpenCountsAndIdentity(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	r1, err := backend.Open(ctx)
	require.NoError(t, err)
	r2, err := backend.Open(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), backend.Opens())
	assert.NotEqual(t, r1.ID(), r2.ID())
	assert.True(t, r1.Alive())
}

func TestFetchStoreRoundTrip(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	res, err := backend.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, res.Store(ctx, "user:1", "alice"))

	got, err := res.Fetch(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	// Data is shared across connections from the same backend.
	other, err := backend.Open(ctx)
	require.NoError(t, err)
	got, err = other.Fetch(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestFetchCountPerKey(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	backend.Seed(map[string]interface{}{"user:1": "alice"})
	ctx := context.Background()

	res, err := backend.Open(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := res.Fetch(ctx, "user:1")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), backend.FetchCount("user:1"))
	assert.Equal(t, int64(0), backend.FetchCount("user:2"))
}

func TestMissingKeyFetchesNil(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	res, err := backend.Open(ctx)
	require.NoError(t, err)

	got, err := res.Fetch(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClosedResourceRejectsUse(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	res, err := backend.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Close())

	assert.False(t, res.Alive())

	_, err = res.Fetch(ctx, "user:1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidState))

	err = res.Store(ctx, "user:1", "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidState))

	// Double close is a no-op.
	require.NoError(t, res.Close())
}

func TestFailureInjection(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureRate = 1.0
	backend := NewMemoryBackend(cfg, zaptest.NewLogger(t))

	_, err := backend.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProvider))
	assert.Equal(t, int64(0), backend.Opens())
}

func TestOpenHonorsContext(t *testing.T) {
	cfg := fastConfig()
	cfg.OpenLatency = time.Second
	backend := NewMemoryBackend(cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := backend.Open(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProvider))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTouchTracksUsage(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	res, err := backend.Open(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.UseCount())
	res.Touch()
	res.Touch()
	assert.Equal(t, int64(2), res.UseCount())
}

func TestSnapshot(t *testing.T) {
	backend := NewMemoryBackend(fastConfig(), zaptest.NewLogger(t))
	backend.Seed(map[string]interface{}{"product:7": "widget"})

	data, err := backend.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, string(data), "product:7")
	assert.Contains(t, string(data), "widget")
}
