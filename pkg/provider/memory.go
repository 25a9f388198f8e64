package provider

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/errors"
)

// MemoryBackend is a simulated expensive backend. It keeps a shared
// key-value table and models open/fetch/store latency. Failure injection
// makes provider errors reproducible in tests.
type MemoryBackend struct {
	cfg    config.ProviderConfig
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]interface{}

	opens       atomic.Int64
	fetchCounts sync.Map // key -> *atomic.Int64
}

var _ Provider = (*MemoryBackend)(nil)

// NewMemoryBackend creates a simulated backend with the given latency profile.
func NewMemoryBackend(cfg config.ProviderConfig, logger *zap.Logger) *MemoryBackend {
	return &MemoryBackend{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "memory_backend")),
		data:   make(map[string]interface{}),
	}
}

// Open creates a new backend connection, modeling creation cost.
func (b *MemoryBackend) Open(ctx context.Context) (*Resource, error) {
	if err := sleepCtx(ctx, b.cfg.OpenLatency); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProvider, "open interrupted")
	}

	if b.cfg.FailureRate > 0 && rand.Float64() < b.cfg.FailureRate {
		return nil, errors.New(errors.ErrorTypeProvider, "backend unreachable")
	}

	b.opens.Add(1)
	res := NewResource(&memoryConn{backend: b})

	b.logger.Debug("opened backend connection",
		zap.String("resource_id", res.ID()),
		zap.Int64("total_opens", b.opens.Load()))

	return res, nil
}

// Opens returns how many connections have been opened.
func (b *MemoryBackend) Opens() int64 { return b.opens.Load() }

// FetchCount returns how many backend fetches have been performed for a key.
func (b *MemoryBackend) FetchCount(key string) int64 {
	if v, ok := b.fetchCounts.Load(key); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Seed preloads the backing table. Intended for tests and demos.
func (b *MemoryBackend) Seed(values map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.data[k] = v
	}
}

// Snapshot returns the backing table encoded as JSON.
func (b *MemoryBackend) Snapshot() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(b.data)
}

func (b *MemoryBackend) recordFetch(key string) {
	v, _ := b.fetchCounts.LoadOrStore(key, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// memoryConn is one handle onto the shared backing table.
type memoryConn struct {
	backend *MemoryBackend
	closed  atomic.Bool
}

func (c *memoryConn) Fetch(ctx context.Context, key string) (interface{}, error) {
	if c.closed.Load() {
		return nil, errors.New(errors.ErrorTypeProvider, "connection closed")
	}
	if err := sleepCtx(ctx, c.backend.cfg.FetchLatency); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProvider, "fetch interrupted")
	}

	c.backend.recordFetch(key)

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	return c.backend.data[key], nil
}

func (c *memoryConn) Store(ctx context.Context, key string, value interface{}) error {
	if c.closed.Load() {
		return errors.New(errors.ErrorTypeProvider, "connection closed")
	}
	if err := sleepCtx(ctx, c.backend.cfg.StoreLatency); err != nil {
		return errors.Wrap(err, errors.ErrorTypeProvider, "store interrupted")
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.data[key] = value
	return nil
}

func (c *memoryConn) Close() error {
	c.closed.Store(true)
	return nil
}

// sleepCtx models latency while honoring cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
