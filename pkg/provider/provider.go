// Package provider produces the real, expensive resource the rest of the
// system shields callers from. A Provider opens resources on demand and
// models creation latency; no caching logic lives here.
package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gatecache/gatecache/pkg/errors"
)

// Conn is the backend capability a Resource lends to its holder.
type Conn interface {
	// Fetch performs the real read for a key
	Fetch(ctx context.Context, key string) (interface{}, error)

	// Store performs the real write for a key
	Store(ctx context.Context, key string, value interface{}) error

	// Close releases the underlying handle
	Close() error
}

// Provider opens resources. Open fails only when the underlying subsystem
// is unreachable; failures surface as provider errors.
type Provider interface {
	Open(ctx context.Context) (*Resource, error)
}

// Resource is an opaque, expensive-to-create handle. It is owned
// exclusively by the pool while idle and lent to exactly one caller while
// in use; it is never shared concurrently by two callers.
type Resource struct {
	id        string
	conn      Conn
	createdAt time.Time

	alive    atomic.Bool
	useCount atomic.Int64
	lastUsed atomic.Int64 // unix nanos
}

// NewResource wraps a backend connection in a tracked resource handle.
func NewResource(conn Conn) *Resource {
	r := &Resource{
		id:        uuid.NewString(),
		conn:      conn,
		createdAt: time.Now(),
	}
	r.alive.Store(true)
	r.lastUsed.Store(time.Now().UnixNano())
	return r
}

// ID returns the unique identity of the resource.
func (r *Resource) ID() string { return r.id }

// CreatedAt returns when the resource was opened.
func (r *Resource) CreatedAt() time.Time { return r.createdAt }

// Alive reports whether the resource is still usable.
func (r *Resource) Alive() bool { return r.alive.Load() }

// UseCount returns how many times the resource has been lent out.
func (r *Resource) UseCount() int64 { return r.useCount.Load() }

// LastUsed returns the last time the resource was lent or touched.
func (r *Resource) LastUsed() time.Time { return time.Unix(0, r.lastUsed.Load()) }

// Touch records a lend-out. Called by the pool on every acquire.
func (r *Resource) Touch() {
	r.useCount.Add(1)
	r.lastUsed.Store(time.Now().UnixNano())
}

// Fetch performs the real read through the backend connection.
func (r *Resource) Fetch(ctx context.Context, key string) (interface{}, error) {
	if !r.alive.Load() {
		return nil, errors.New(errors.ErrorTypeInvalidState, "resource is closed").
			WithDetail("resource_id", r.id)
	}
	return r.conn.Fetch(ctx, key)
}

// Store performs the real write through the backend connection.
func (r *Resource) Store(ctx context.Context, key string, value interface{}) error {
	if !r.alive.Load() {
		return errors.New(errors.ErrorTypeInvalidState, "resource is closed").
			WithDetail("resource_id", r.id)
	}
	return r.conn.Store(ctx, key, value)
}

// Close marks the resource dead and releases the backend handle.
// Closing an already-closed resource is a no-op.
func (r *Resource) Close() error {
	if !r.alive.CompareAndSwap(true, false) {
		return nil
	}
	return r.conn.Close()
}
