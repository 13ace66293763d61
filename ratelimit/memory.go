package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at capacity per window.
type bucket struct {
	available  int
	lastRefill time.Time
	lastUsed   time.Time
}

func (b *bucket) refill(now time.Time, capacity int, window time.Duration) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := int(float64(capacity) * float64(elapsed) / float64(window))
	if add <= 0 {
		return
	}
	b.available = min(b.available+add, capacity)
	b.lastRefill = now
}

// MemoryLimiter gives every key its own token bucket. Buckets are created
// full on first use and dropped after sitting idle and full. It is safe
// for concurrent use.
type MemoryLimiter struct {
	capacity int
	window   time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
	closed    bool
	nowFunc   func() time.Time
}

// NewMemoryLimiter allows capacity requests per window for each key.
// A non-positive capacity or window disables limiting.
func NewMemoryLimiter(capacity int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		capacity: capacity,
		window:   window,
		buckets:  make(map[string]*bucket),
		nowFunc:  time.Now,
	}
}

func (m *MemoryLimiter) disabled() bool {
	return m.capacity <= 0 || m.window <= 0
}

// Allow consumes a token for key.
func (m *MemoryLimiter) Allow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.disabled() {
		return true
	}

	now := m.nowFunc()
	m.prune(now)

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{available: m.capacity, lastRefill: now}
		m.buckets[key] = b
	}
	b.refill(now, m.capacity, m.window)
	b.lastUsed = now

	if b.available == 0 {
		return false
	}
	b.available--
	return true
}

// Capacity reports the bucket of key, or nil if key has none.
func (m *MemoryLimiter) Capacity(key string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		return nil
	}
	b.refill(m.nowFunc(), m.capacity, m.window)
	return &Capacity{
		Key:       key,
		Available: b.available,
		Total:     m.capacity,
		Window:    m.window,
	}
}

// Close shuts down the limiter.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.buckets = nil
	return nil
}

// prune drops buckets idle for a whole window, at most once per window.
// Such a bucket would be full again, so forgetting it changes nothing.
func (m *MemoryLimiter) prune(now time.Time) {
	if now.Sub(m.lastPrune) < m.window {
		return
	}
	m.lastPrune = now
	for key, b := range m.buckets {
		if now.Sub(b.lastUsed) >= m.window {
			delete(m.buckets, key)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
