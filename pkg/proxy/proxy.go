// Package proxy provides the public facade of gatecache. It exposes the
// same logical operations as the underlying resource (read and write by
// key) while composing the pool, the cache, and access control behind that
// contract.
//
// # Invalidation scope
//
// A write's invalidation scope is derived from the written key's category
// prefix: everything up to and including the first ':' (writing "user:1"
// invalidates every cached read under "user:"). Keys with no category
// conservatively clear the entire cache. This keyword matching is
// deliberately coarse and is a known correctness gap inherited from the
// modeled system: it invalidates too much rather than too little, and it
// cannot express cross-category dependencies. It is kept for
// compatibility instead of fine-grained dependency tracking.
//
// # Staleness trade-off
//
// Each cache write is scoped to the fingerprint computed before the read
// began. An invalidation that runs while a read is in flight may therefore
// be overwritten by that read's result; the next write to the same scope
// corrects it. This is the documented trade-off, not a bug.
package proxy

import (
	"context"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gatecache/gatecache/pkg/access"
	"github.com/gatecache/gatecache/pkg/cache"
	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/errors"
	"github.com/gatecache/gatecache/pkg/metrics"
	"github.com/gatecache/gatecache/pkg/observability"
	"github.com/gatecache/gatecache/pkg/pool"
	"github.com/gatecache/gatecache/pkg/provider"
	"github.com/gatecache/gatecache/pkg/resilience"
)

// Proxy is the composition point holding exactly one pool and one cache
// store, and, through the pool, the resource provider. It is stateless
// with respect to identity and safe for concurrent use.
type Proxy struct {
	cfg    *config.Config
	logger *zap.Logger

	pool    *pool.Pool
	cache   *cache.Store
	access  *access.Controller
	breaker *resilience.CircuitBreaker
	limiter resilience.RateLimiter
	tracer  trace.Tracer

	group  singleflight.Group
	closed atomic.Bool
}

// Stats aggregates the statistics of every component behind the facade.
type Stats struct {
	Pool    pool.Stats                   `json:"pool"`
	Cache   cache.Stats                  `json:"cache"`
	Breaker *resilience.State            `json:"breaker,omitempty"`
	Limiter *resilience.RateLimiterStats `json:"limiter,omitempty"`
}

// New builds a proxy over the given provider. The configuration is
// validated; every sub-component is constructed explicitly here so
// lifecycle and test isolation stay clean.
func New(cfg *config.Config, p provider.Provider, logger *zap.Logger) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid proxy configuration")
	}

	px := &Proxy{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "proxy")),
		pool:   pool.New(p, cfg.Pool, logger),
		cache:  cache.New(cfg.Cache, logger),
		access: access.NewController(cfg.Access, logger),
		tracer: observability.Tracer(),
	}

	if cfg.Reliability.CircuitBreaker {
		px.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Reliability.FailureThreshold,
			SuccessThreshold: cfg.Reliability.SuccessThreshold,
			RetryTimeout:     cfg.Reliability.RetryTimeout,
		}, logger)
	}
	if cfg.Reliability.IsRateLimited() {
		px.limiter = resilience.NewTokenBucketRateLimiter(
			float64(cfg.Reliability.RateLimitPerSec),
			cfg.Reliability.RateLimitBurst)
	}

	return px, nil
}

// Read returns the value for key. A cache hit is served without touching
// the pool; on a miss a resource is acquired, the real read performed, the
// resource released, and the result cached. Concurrent misses for the same
// key are collapsed into a single backend fetch.
func (p *Proxy) Read(ctx context.Context, key string) (interface{}, error) {
	timer := metrics.NewTimer("read")

	value, err := p.read(ctx, key)

	metrics.OperationLatency.WithLabelValues("read", statusLabel(err)).
		Observe(timer.Stop().Seconds())
	return value, err
}

func (p *Proxy) read(ctx context.Context, key string) (interface{}, error) {
	if p.closed.Load() {
		return nil, errors.New(errors.ErrorTypePoolClosed, "proxy is shut down")
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if !p.access.Allowed(access.OpRead, key) {
		metrics.AccessDenials.WithLabelValues("read").Inc()
		return nil, errors.New(errors.ErrorTypePermission, "read not allowed").
			WithDetail("key", key)
	}

	ctx, span := p.tracer.Start(ctx, "proxy.read",
		trace.WithAttributes(attribute.String("gatecache.key", key)))
	defer span.End()

	if !p.cfg.Cache.Enabled {
		return p.fetch(ctx, key)
	}

	// The fingerprint is computed before the read begins; a concurrent
	// invalidation during the fetch is accepted as staleness.
	fp := cache.Fingerprint("read", key)
	if value, ok := p.cache.Get(fp); ok {
		span.SetAttributes(attribute.Bool("gatecache.cache_hit", true))
		p.logger.Debug("cache hit", zap.String("key", key))
		return value, nil
	}

	value, err, _ := p.group.Do(fp, func() (interface{}, error) {
		// Another collapsed caller may have populated the entry already.
		if value, ok := p.cache.Peek(fp); ok {
			return value, nil
		}

		value, err := p.fetch(ctx, key)
		if err != nil {
			return nil, err
		}

		p.cache.Put(fp, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("cache miss served", zap.String("key", key))
	return value, nil
}

// fetch performs the real read through a pooled resource.
func (p *Proxy) fetch(ctx context.Context, key string) (interface{}, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var value interface{}
	err = p.guard(func() error {
		var ferr error
		value, ferr = res.Fetch(ctx, key)
		return ferr
	})

	if rerr := p.pool.Release(res); rerr != nil {
		p.logger.Warn("release failed after fetch", zap.Error(rerr))
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Write stores value under key. The write itself always bypasses the
// cache; the affected cache scope is invalidated before Write returns.
func (p *Proxy) Write(ctx context.Context, key string, value interface{}) error {
	timer := metrics.NewTimer("write")

	err := p.write(ctx, key, value)

	metrics.OperationLatency.WithLabelValues("write", statusLabel(err)).
		Observe(timer.Stop().Seconds())
	return err
}

func (p *Proxy) write(ctx context.Context, key string, value interface{}) error {
	if p.closed.Load() {
		return errors.New(errors.ErrorTypePoolClosed, "proxy is shut down")
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if !p.access.Allowed(access.OpWrite, key) {
		metrics.AccessDenials.WithLabelValues("write").Inc()
		return errors.New(errors.ErrorTypePermission, "write not allowed").
			WithDetail("key", key)
	}

	ctx, span := p.tracer.Start(ctx, "proxy.write",
		trace.WithAttributes(attribute.String("gatecache.key", key)))
	defer span.End()

	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	err = p.guard(func() error {
		return res.Store(ctx, key, value)
	})

	if rerr := p.pool.Release(res); rerr != nil {
		p.logger.Warn("release failed after store", zap.Error(rerr))
	}
	if err != nil {
		return err
	}

	p.invalidate(key)
	return nil
}

// invalidate removes the cache entries affected by a write to key.
func (p *Proxy) invalidate(key string) {
	if !p.cfg.Cache.Enabled {
		return
	}

	if idx := strings.Index(key, ":"); idx > 0 {
		scope := key[:idx+1]
		removed := p.cache.InvalidatePrefix(cache.Fingerprint("read", scope))
		p.logger.Debug("invalidated cache scope",
			zap.String("scope", scope), zap.Int("removed", removed))
		return
	}

	// Scope cannot be determined from the key: clear everything.
	removed := p.cache.Clear()
	p.logger.Debug("cleared cache for unscoped write",
		zap.String("key", key), zap.Int("removed", removed))
}

// guard runs a backend operation through the circuit breaker when one is
// configured.
func (p *Proxy) guard(fn func() error) error {
	if p.breaker == nil {
		return fn()
	}
	return p.breaker.Execute(fn)
}

// Shutdown drains the pool and closes every tracked resource. Subsequent
// operations fail with pool_closed. Idempotent.
func (p *Proxy) Shutdown() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.logger.Info("shutting down proxy")
	return p.pool.Shutdown()
}

// Stats returns a snapshot across all composed components.
func (p *Proxy) Stats() Stats {
	s := Stats{
		Pool:  p.pool.Stats(),
		Cache: p.cache.Stats(),
	}
	if p.breaker != nil {
		state := p.breaker.GetState()
		s.Breaker = &state
	}
	if p.limiter != nil {
		stats := p.limiter.GetStats()
		s.Limiter = &stats
	}
	return s
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
