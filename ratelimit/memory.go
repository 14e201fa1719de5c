package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously over its window.
type bucket struct {
	capacity     int
	available    int
	window       time.Duration
	lastRefill   time.Time
	blockedUntil time.Time
}

func (b *bucket) refill(now time.Time) {
	if now.Before(b.blockedUntil) {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if add > 0 {
		b.available += add
		if b.available > b.capacity {
			b.available = b.capacity
		}
		b.lastRefill = now
	}
}

// wait returns how long until the next token, assuming none is available.
func (b *bucket) wait(now time.Time) time.Duration {
	if now.Before(b.blockedUntil) {
		return b.blockedUntil.Sub(now)
	}
	per := b.window / time.Duration(b.capacity)
	d := b.lastRefill.Add(per).Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// MemoryLimiter implements RateLimiter in process. It is safe for
// concurrent use.
type MemoryLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	defaultCap    int
	defaultWindow time.Duration
	closed        bool
	nowFunc       func() time.Time
}

// Option configures a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithDefaultCapacity creates buckets lazily for unknown resources.
func WithDefaultCapacity(capacity int, window time.Duration) Option {
	return func(m *MemoryLimiter) {
		m.defaultCap = capacity
		m.defaultWindow = window
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryLimiter) {
		m.nowFunc = now
	}
}

// NewMemoryLimiter creates a limiter.
func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	m := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCapacity configures a resource. A non-positive capacity or window
// removes it.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(m.buckets, resource)
		return
	}
	if b, ok := m.buckets[resource]; ok {
		b.capacity = capacity
		b.window = window
		if b.available > capacity {
			b.available = capacity
		}
		return
	}
	m.buckets[resource] = &bucket{
		capacity:   capacity,
		available:  capacity,
		window:     window,
		lastRefill: m.nowFunc(),
	}
}

// lookup returns the bucket for resource, creating it from the default
// capacity when configured. Caller holds m.mu.
func (m *MemoryLimiter) lookup(resource string) *bucket {
	if b, ok := m.buckets[resource]; ok {
		return b
	}
	if m.defaultCap <= 0 || m.defaultWindow <= 0 {
		return nil
	}
	b := &bucket{
		capacity:   m.defaultCap,
		available:  m.defaultCap,
		window:     m.defaultWindow,
		lastRefill: m.nowFunc(),
	}
	m.buckets[resource] = b
	return b
}

// take consumes a token or reports how long to wait for one.
func (m *MemoryLimiter) take(resource string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	b := m.lookup(resource)
	if b == nil {
		return 0, ErrResourceUnknown
	}
	now := m.nowFunc()
	b.refill(now)
	if b.available > 0 && !now.Before(b.blockedUntil) {
		b.available--
		return 0, nil
	}
	return b.wait(now), nil
}

// Acquire blocks until a token is available.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		d, err := m.take(resource)
		if err != nil {
			return err
		}
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a token without blocking.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	d, err := m.take(resource)
	return err == nil && d == 0
}

// Penalize drains the bucket and blocks it for d.
func (m *MemoryLimiter) Penalize(resource string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || d <= 0 {
		return
	}
	b := m.lookup(resource)
	if b == nil {
		return
	}
	now := m.nowFunc()
	b.available = 0
	b.lastRefill = now
	if until := now.Add(d); until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
}

// GetCapacity returns the current state of a resource.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	b.refill(m.nowFunc())
	return &Capacity{
		Resource:     resource,
		Available:    b.available,
		Total:        b.capacity,
		Window:       b.window,
		BlockedUntil: b.blockedUntil,
	}
}

// Close stops the limiter. Pending Acquire calls return ErrClosed on
// their next attempt.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
