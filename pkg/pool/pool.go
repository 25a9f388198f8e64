// Package pool provides the bounded resource pool behind the proxy facade.
//
// The pool is the only component requiring mutual exclusion: acquire and
// release are atomic with respect to each other, and for all interleavings
// the number of live resources (idle + in use) never exceeds capacity.
// Acquire is the single blocking point in the system and honors context
// deadlines; a blocked acquire whose deadline expires fails with an
// acquire_timeout error rather than hanging forever.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/errors"
	"github.com/gatecache/gatecache/pkg/metrics"
	"github.com/gatecache/gatecache/pkg/provider"
)

// Pool manages a bounded set of resources with reuse. Resources are created
// lazily up to capacity, returned to the idle set on release, and drained on
// shutdown.
type Pool struct {
	provider provider.Provider
	logger   *zap.Logger

	capacity       int
	acquireTimeout time.Duration

	// permits bounds concurrent live resources; one token is held for the
	// lifetime of each lend-out (including an in-flight creation)
	permits chan struct{}

	mu     sync.Mutex
	idle   []*provider.Resource
	lent   map[string]*provider.Resource
	closed bool

	stopCh        chan struct{}
	cleanupTicker *time.Ticker

	created  atomic.Int64
	reused   atomic.Int64
	timeouts atomic.Int64
}

// Stats provides statistics about the pool's resource utilization.
type Stats struct {
	Capacity     int     `json:"capacity"`
	InUse        int     `json:"in_use"`
	Idle         int     `json:"idle"`
	TotalCreated int64   `json:"total_created"`
	TotalReused  int64   `json:"total_reused"`
	Timeouts     int64   `json:"timeouts"`
	ReuseRate    float64 `json:"reuse_rate"`
}

// New creates a pool bounded by cfg.Capacity. If cfg.IdleTimeout is positive
// a background goroutine closes resources idle longer than that.
func New(p provider.Provider, cfg config.PoolConfig, logger *zap.Logger) *Pool {
	permits := make(chan struct{}, cfg.Capacity)
	for i := 0; i < cfg.Capacity; i++ {
		permits <- struct{}{}
	}

	pool := &Pool{
		provider:       p,
		logger:         logger.With(zap.String("component", "pool")),
		capacity:       cfg.Capacity,
		acquireTimeout: cfg.AcquireTimeout,
		permits:        permits,
		lent:           make(map[string]*provider.Resource),
		stopCh:         make(chan struct{}),
	}

	if cfg.IdleTimeout > 0 {
		pool.cleanupTicker = time.NewTicker(cfg.IdleTimeout / 2)
		go pool.cleanupLoop(cfg.IdleTimeout)
	}

	return pool
}

// Acquire returns a resource for exclusive use by the caller. An idle
// resource is reused when available; otherwise a new one is created up to
// capacity. When the pool is exhausted the caller blocks until a release,
// the context deadline, or the pool's default acquire timeout, whichever
// comes first.
func (p *Pool) Acquire(ctx context.Context) (*provider.Resource, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrorTypePoolClosed, "acquire on closed pool")
	}
	p.mu.Unlock()

	// Apply the pool's default deadline only when the caller brought none.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	select {
	case <-p.permits:
	case <-p.stopCh:
		return nil, errors.New(errors.ErrorTypePoolClosed, "acquire on closed pool")
	case <-ctx.Done():
		p.timeouts.Add(1)
		metrics.PoolAcquires.WithLabelValues("timeout").Inc()
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeAcquireTimeout,
			"no resource available within deadline")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.returnPermit()
		return nil, errors.New(errors.ErrorTypePoolClosed, "acquire on closed pool")
	}

	// Reuse the most recently released resource, skipping dead ones.
	for n := len(p.idle); n > 0; n = len(p.idle) {
		res := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if !res.Alive() {
			continue
		}

		p.lent[res.ID()] = res
		res.Touch()
		p.reused.Add(1)
		p.updateGauges()
		p.mu.Unlock()

		metrics.PoolAcquires.WithLabelValues("reused").Inc()
		p.logger.Debug("reusing resource",
			zap.String("resource_id", res.ID()),
			zap.Int64("use_count", res.UseCount()),
			zap.Duration("age", time.Since(res.CreatedAt())))
		return res, nil
	}
	p.mu.Unlock()

	// Idle set exhausted; create a new resource while holding the permit.
	res, err := p.provider.Open(ctx)
	if err != nil {
		p.returnPermit()
		metrics.PoolAcquires.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeProvider, "resource creation failed")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = res.Close()
		p.returnPermit()
		return nil, errors.New(errors.ErrorTypePoolClosed, "acquire on closed pool")
	}
	p.lent[res.ID()] = res
	res.Touch()
	p.created.Add(1)
	p.updateGauges()
	p.mu.Unlock()

	metrics.PoolAcquires.WithLabelValues("created").Inc()
	p.logger.Debug("created new resource",
		zap.String("resource_id", res.ID()),
		zap.Int64("total_created", p.created.Load()))
	return res, nil
}

// Release returns a resource to the idle set, making it available for the
// next Acquire. Releasing a resource not currently lent out is a caller
// error and fails with invalid_state. Releasing into a shut-down pool just
// closes the resource.
func (p *Pool) Release(res *provider.Resource) error {
	if res == nil {
		return errors.New(errors.ErrorTypeInvalidState, "release of nil resource")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return res.Close()
	}

	if _, ok := p.lent[res.ID()]; !ok {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeInvalidState, "release of resource not in use").
			WithDetail("resource_id", res.ID())
	}
	delete(p.lent, res.ID())

	if res.Alive() {
		p.idle = append(p.idle, res)
	}
	p.updateGauges()
	p.mu.Unlock()

	p.returnPermit()

	if !res.Alive() {
		p.logger.Debug("dropped dead resource on release", zap.String("resource_id", res.ID()))
		return nil
	}

	p.logger.Debug("returned resource to pool", zap.String("resource_id", res.ID()))
	return nil
}

// Shutdown closes every tracked resource, idle and outstanding, and clears
// the pool. Subsequent Acquire calls fail with pool_closed. Idempotent.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)

	if p.cleanupTicker != nil {
		p.cleanupTicker.Stop()
	}

	closed := 0
	for _, res := range p.idle {
		_ = res.Close()
		closed++
	}
	for _, res := range p.lent {
		_ = res.Close()
		closed++
	}
	p.idle = nil
	p.lent = make(map[string]*provider.Resource)
	p.updateGauges()
	p.mu.Unlock()

	p.logger.Info("pool shut down",
		zap.Int("resources_closed", closed),
		zap.Int64("total_created", p.created.Load()),
		zap.Int64("total_reused", p.reused.Load()))
	return nil
}

// Stats returns pool utilization statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	inUse := len(p.lent)
	idle := len(p.idle)
	p.mu.Unlock()

	stats := Stats{
		Capacity:     p.capacity,
		InUse:        inUse,
		Idle:         idle,
		TotalCreated: p.created.Load(),
		TotalReused:  p.reused.Load(),
		Timeouts:     p.timeouts.Load(),
	}

	total := stats.TotalCreated + stats.TotalReused
	if total > 0 {
		stats.ReuseRate = float64(stats.TotalReused) / float64(total) * 100
	}
	return stats
}

// returnPermit frees a capacity slot. Never blocks: a permit is returned at
// most once per successful take.
func (p *Pool) returnPermit() {
	select {
	case p.permits <- struct{}{}:
	default:
	}
}

// updateGauges publishes idle/in-use counts. Caller holds p.mu.
func (p *Pool) updateGauges() {
	metrics.PoolInUse.Set(float64(len(p.lent)))
	metrics.PoolIdle.Set(float64(len(p.idle)))
}

// cleanupLoop periodically closes resources idle longer than idleTimeout.
func (p *Pool) cleanupLoop(idleTimeout time.Duration) {
	for {
		select {
		case <-p.cleanupTicker.C:
			p.cleanup(idleTimeout)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) cleanup(idleTimeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	now := time.Now()
	remaining := p.idle[:0]
	cleaned := 0
	for _, res := range p.idle {
		if now.Sub(res.LastUsed()) > idleTimeout {
			_ = res.Close()
			cleaned++
			continue
		}
		remaining = append(remaining, res)
	}
	p.idle = remaining
	p.updateGauges()

	if cleaned > 0 {
		p.logger.Info("cleaned up idle resources",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining_idle", len(p.idle)))
	}
}
