// Package cache provides the key-value memoization store behind the proxy
// facade.
//
// The store is a read-through cache: an entry is present only if no
// invalidating write has occurred since it was stored. Correctness depends
// entirely on the discipline of calling InvalidatePrefix or Clear on every
// mutating operation before serving further reads; the store performs no
// dependency tracking of its own. Invalidation is coarse-grained and
// prefix-based, which is a deliberate simplification and not a strong
// consistency guarantee.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gatecache/gatecache/pkg/config"
	"github.com/gatecache/gatecache/pkg/metrics"
)

// Store is a thread-safe key to value memoization store with optional TTL
// and transparent compression of large string and byte values.
type Store struct {
	logger *zap.Logger
	ttl    time.Duration
	codec  *codec

	mu      sync.RWMutex
	entries map[string]entry

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	value      interface{}
	compressed *compressedValue
	storedAt   time.Time
}

// Stats provides counters about store effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// New creates an empty store configured by cfg.
func New(cfg config.CacheConfig, logger *zap.Logger) *Store {
	s := &Store{
		logger:  logger.With(zap.String("component", "cache")),
		ttl:     cfg.TTL,
		entries: make(map[string]entry),
	}
	if cfg.EnableCompression {
		s.codec = newCodec(cfg.CompressionThreshold)
	}
	return s
}

// Get looks up a key. Pure lookup, no side effects beyond lazily dropping
// an expired entry.
func (s *Store) Get(key string) (interface{}, bool) {
	value, ok := s.lookup(key)
	if ok {
		s.hits.Add(1)
		metrics.CacheHits.Inc()
	} else {
		s.misses.Add(1)
		metrics.CacheMisses.Inc()
	}
	return value, ok
}

// Peek looks up a key without recording a hit or miss. Used by the facade
// when double-checking under request collapsing.
func (s *Store) Peek(key string) (interface{}, bool) {
	return s.lookup(key)
}

func (s *Store) lookup(key string) (interface{}, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if s.ttl > 0 && time.Since(e.storedAt) > s.ttl {
		s.mu.Lock()
		// Re-check: the entry may have been overwritten since the read.
		if cur, still := s.entries[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(s.entries, key)
			metrics.CacheEntries.Set(float64(len(s.entries)))
		}
		s.mu.Unlock()
		return nil, false
	}

	if e.compressed != nil {
		value, err := s.codec.decompress(e.compressed)
		if err != nil {
			s.logger.Warn("failed to decompress cached value",
				zap.String("key", key), zap.Error(err))
			return nil, false
		}
		return value, true
	}
	return e.value, true
}

// Put stores a value under key, unconditionally overwriting any previous
// entry. Last writer wins; there is no versioning.
func (s *Store) Put(key string, value interface{}) {
	e := entry{storedAt: time.Now()}
	if cv, ok := s.tryCompress(value); ok {
		e.compressed = cv
	} else {
		e.value = value
	}

	s.mu.Lock()
	s.entries[key] = e
	metrics.CacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

func (s *Store) tryCompress(value interface{}) (*compressedValue, bool) {
	if s.codec == nil {
		return nil, false
	}
	return s.codec.compress(value)
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns how many were removed.
func (s *Store) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	metrics.CacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	metrics.CacheInvalidations.WithLabelValues("prefix").Inc()
	s.logger.Debug("invalidated by prefix",
		zap.String("prefix", prefix), zap.Int("removed", removed))
	return removed
}

// Clear removes every entry. This is the conservative fallback when the
// invalidation scope of a write cannot be determined.
func (s *Store) Clear() int {
	s.mu.Lock()
	removed := len(s.entries)
	s.entries = make(map[string]entry)
	metrics.CacheEntries.Set(0)
	s.mu.Unlock()

	metrics.CacheInvalidations.WithLabelValues("clear").Inc()
	s.logger.Debug("cleared cache", zap.Int("removed", removed))
	return removed
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns hit/miss counters and the current entry count.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: s.Len(),
	}
}
