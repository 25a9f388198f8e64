// Package metrics provides performance tracking and observability for
// gatecache using Prometheus metrics.
//
// # Overview
//
// The metrics package provides:
//   - Prometheus-compatible metrics collection
//   - Pre-defined metrics for cache, pool, and proxy operations
//   - Thread-safe metric recording
//   - Automatic metric registration
//
// # Basic Usage
//
//	// Record a cache hit
//	metrics.CacheHits.Inc()
//
//	// Track operation latency
//	timer := metrics.NewTimer("read")
//	value, err := doRead(key)
//	metrics.OperationLatency.WithLabelValues("read", status(err)).
//	    Observe(timer.Stop().Seconds())
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., total cache hits)
// Gauge: Values that can go up or down (e.g., resources in use)
// Histogram: Distribution of values (e.g., latency percentiles)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts reads served from the cache without touching the pool.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatecache_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses counts reads that had to go through the pool.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatecache_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheInvalidations counts invalidation events by scope.
	// Labels: scope (prefix/clear)
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatecache_cache_invalidations_total",
			Help: "Total number of cache invalidation events",
		},
		[]string{"scope"},
	)

	// CacheEntries tracks the current number of cached entries.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatecache_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	// PoolAcquires counts acquire attempts by outcome.
	// Labels: result (created/reused/timeout/error)
	PoolAcquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatecache_pool_acquires_total",
			Help: "Total number of pool acquire attempts",
		},
		[]string{"result"},
	)

	// PoolInUse tracks resources currently lent out.
	PoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatecache_pool_in_use",
			Help: "Number of resources currently in use",
		},
	)

	// PoolIdle tracks resources currently idle in the pool.
	PoolIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatecache_pool_idle",
			Help: "Number of idle resources in the pool",
		},
	)

	// OperationLatency tracks the distribution of proxy operation latencies.
	// Labels: operation (read/write), status (success/error)
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gatecache_operation_latency_seconds",
			Help: "Proxy operation latency in seconds",
			Buckets: []float64{
				.0001, // 100μs - cache hits
				.001,  // 1ms
				.005,  // 5ms
				.01,   // 10ms - single backend fetch
				.025,  // 25ms
				.05,   // 50ms - fetch plus resource creation
				.1,    // 100ms
				.25,   // 250ms
				1,     // 1s - blocked on an exhausted pool
			},
		},
		[]string{"operation", "status"},
	)

	// AccessDenials counts requests rejected by access control.
	// Labels: operation (read/write)
	AccessDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatecache_access_denials_total",
			Help: "Total number of access-control denials",
		},
		[]string{"operation"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration since creation.
// The timer can be stopped multiple times, each returning the total
// elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
