// Package config provides the unified configuration system for gatecache.
// It defines a single Config structure covering every component of the
// proxy: pool sizing, cache behavior, the simulated provider, access
// control, reliability, and observability.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Pool.Capacity = 4
//	cfg.Cache.TTL = time.Minute
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Config is the single unified configuration structure for a proxy instance.
type Config struct {
	// Name identifies the proxy instance
	Name string `yaml:"name" json:"name"`

	// Pool settings bound the resource pool
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Cache settings control memoization behavior
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Provider settings drive the simulated backend
	Provider ProviderConfig `yaml:"provider" json:"provider"`

	// Access settings define the access-control rules
	Access AccessConfig `yaml:"access" json:"access"`

	// Reliability settings for resilience around backend operations
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PoolConfig bounds the resource pool and its blocking behavior.
type PoolConfig struct {
	// Capacity is the maximum number of live resources (idle + in use)
	Capacity int `yaml:"capacity" json:"capacity"`
	// AcquireTimeout caps how long Acquire blocks when the pool is
	// exhausted and the caller's context carries no deadline of its own
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	// IdleTimeout closes resources idle longer than this (0 disables)
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// CacheConfig controls the memoization store.
type CacheConfig struct {
	// Enabled toggles memoized reads entirely
	Enabled bool `yaml:"enabled" json:"enabled"`
	// TTL expires entries after this duration (0 = no expiry)
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// EnableCompression compresses large string and byte values
	EnableCompression bool `yaml:"enable_compression" json:"enable_compression"`
	// CompressionThreshold skips compression for values below this size
	CompressionThreshold int `yaml:"compression_threshold" json:"compression_threshold"`
}

// ProviderConfig drives the simulated expensive backend.
type ProviderConfig struct {
	// OpenLatency models the cost of creating a resource
	OpenLatency time.Duration `yaml:"open_latency" json:"open_latency"`
	// FetchLatency models the cost of a backend read
	FetchLatency time.Duration `yaml:"fetch_latency" json:"fetch_latency"`
	// StoreLatency models the cost of a backend write
	StoreLatency time.Duration `yaml:"store_latency" json:"store_latency"`
	// FailureRate injects open failures for testing (0.0-1.0)
	FailureRate float64 `yaml:"failure_rate" json:"failure_rate"`
}

// AccessConfig defines prefix-based access-control rules.
type AccessConfig struct {
	// DefaultAllow is the policy when no rule matches
	DefaultAllow bool `yaml:"default_allow" json:"default_allow"`
	// Rules are evaluated with deny taking precedence over allow
	Rules []AccessRule `yaml:"rules" json:"rules"`
}

// AccessRule matches keys by prefix for a given operation.
type AccessRule struct {
	// Prefix of the keys this rule covers; empty matches every key
	Prefix string `yaml:"prefix" json:"prefix"`
	// Operation is "read", "write", or "any"
	Operation string `yaml:"operation" json:"operation"`
	// Allow or deny matching requests
	Allow bool `yaml:"allow" json:"allow"`
}

// ReliabilityConfig contains resilience settings for backend operations.
type ReliabilityConfig struct {
	// CircuitBreaker enables the circuit breaker around backend calls
	CircuitBreaker bool `yaml:"circuit_breaker" json:"circuit_breaker"`
	// FailureThreshold opens the circuit after this many consecutive failures
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold closes a half-open circuit after this many successes
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// RetryTimeout is how long an open circuit waits before probing
	RetryTimeout time.Duration `yaml:"retry_timeout" json:"retry_timeout"`
	// RateLimitPerSec limits proxy operations per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// RateLimitBurst is the token bucket burst size
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates Prometheus metrics recording
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates OpenTelemetry spans
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// Default returns a Config with sensible defaults. Callers override
// individual fields as needed and then call Validate.
func Default() *Config {
	return &Config{
		Name: "gatecache",
		Pool: PoolConfig{
			Capacity:       4,
			AcquireTimeout: 5 * time.Second,
			IdleTimeout:    5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:              true,
			TTL:                  0,
			EnableCompression:    false,
			CompressionThreshold: 1024,
		},
		Provider: ProviderConfig{
			OpenLatency:  20 * time.Millisecond,
			FetchLatency: 10 * time.Millisecond,
			StoreLatency: 10 * time.Millisecond,
			FailureRate:  0,
		},
		Access: AccessConfig{
			DefaultAllow: true,
		},
		Reliability: ReliabilityConfig{
			CircuitBreaker:   false,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			RetryTimeout:     30 * time.Second,
			RateLimitPerSec:  0,
			RateLimitBurst:   10,
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     true,
			EnableTracing:     false,
			LogLevel:          "info",
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool capacity must be positive")
	}
	if c.Pool.AcquireTimeout < 0 {
		return fmt.Errorf("acquire_timeout cannot be negative")
	}
	if c.Cache.CompressionThreshold < 0 {
		return fmt.Errorf("compression_threshold cannot be negative")
	}
	if c.Provider.FailureRate < 0 || c.Provider.FailureRate > 1 {
		return fmt.Errorf("failure_rate must be between 0 and 1")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	if c.Reliability.CircuitBreaker {
		if c.Reliability.FailureThreshold <= 0 {
			return fmt.Errorf("failure_threshold must be positive")
		}
		if c.Reliability.SuccessThreshold <= 0 {
			return fmt.Errorf("success_threshold must be positive")
		}
	}
	for i, rule := range c.Access.Rules {
		switch rule.Operation {
		case "read", "write", "any":
		default:
			return fmt.Errorf("access rule %d: operation must be read, write, or any", i)
		}
	}
	return nil
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}
