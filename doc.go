// Package gatecache provides an in-process caching access-control proxy.
//
// It wraps an expensive resource (a connection-producing backend) behind a
// small facade that adds memoized reads, a bounded resource pool with reuse,
// and write-triggered cache invalidation.
//
// # Architecture
//
// The facade composes four pieces, leaves first:
//
// 1. Resource Provider (pkg/provider): produces the real, expensive handle on
// demand. No caching logic lives here.
//
// 2. Pool Manager (pkg/pool): bounds the number of live resources, reuses
// released ones, and blocks callers when the pool is exhausted. Acquire is
// the only blocking point and honors context deadlines.
//
// 3. Cache Store (pkg/cache): key to value memoization with explicit,
// prefix-scoped invalidation triggered by writes.
//
// 4. Proxy Facade (pkg/proxy): the public entry point exposing the same
// contract as the real resource.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/gatecache/gatecache/pkg/config"
//	    "github.com/gatecache/gatecache/pkg/provider"
//	    "github.com/gatecache/gatecache/pkg/proxy"
//	)
//
//	cfg := config.Default()
//	cfg.Pool.Capacity = 4
//
//	backend := provider.NewMemoryBackend(cfg.Provider, logger)
//	p, _ := proxy.New(cfg, backend, logger)
//	defer p.Shutdown()
//
//	value, err := p.Read(context.Background(), "user:1")
//	err = p.Write(context.Background(), "user:1", "updated")
//
// # Consistency Model
//
// Cache correctness depends on the facade calling invalidation on every
// mutating operation before returning. Invalidation scope is derived from the
// written key's category prefix; writes without a recognizable category clear
// the whole store. A concurrent invalidation during an in-flight read is
// treated as acceptable staleness (corrected on the next read), not a hard
// guarantee. See pkg/proxy for the details of this trade-off.
//
// # Key Packages
//
//	pkg/proxy         - Public facade: Read, Write, Shutdown
//	pkg/pool          - Bounded resource pool with blocking acquire
//	pkg/cache         - Memoization store with prefix invalidation
//	pkg/provider      - Resource provider and simulated backend
//	pkg/access        - Prefix-based access-control rules
//	pkg/resilience    - Circuit breaker and token-bucket rate limiter
//	pkg/config        - Unified YAML configuration
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing setup
package gatecache
