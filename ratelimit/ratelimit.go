package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed          = errors.New("limiter closed")
	ErrResourceUnknown = errors.New("unknown resource")
)

// RateLimiter paces outbound sends per resource. For taskbot a resource
// is one chat address.
type RateLimiter interface {
	// Acquire blocks until a token is available for the resource.
	// Returns the context error if ctx ends first.
	Acquire(ctx context.Context, resource string) error

	// TryAcquire takes a token without blocking.
	TryAcquire(resource string) bool

	// SetCapacity configures capacity tokens per window for the resource.
	SetCapacity(resource string, capacity int, window time.Duration)

	// Penalize empties the resource's bucket and blocks it for d,
	// mirroring a retry-after received from the transport.
	Penalize(resource string, d time.Duration)

	// GetCapacity returns the current state of a resource, or nil.
	GetCapacity(resource string) *Capacity

	Close() error
}

// Capacity describes the limit for a resource.
type Capacity struct {
	Resource     string
	Available    int
	Total        int
	Window       time.Duration
	BlockedUntil time.Time
}
