package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(capacity int, window time.Duration) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(capacity, window)
	l.nowFunc = clock.Now
	return l, clock
}

func TestMemoryLimiter_Allow(t *testing.T) {
	limiter, _ := newTestLimiter(3, time.Minute)
	defer limiter.Close()

	for i := range 3 {
		if !limiter.Allow("alice") {
			t.Errorf("Allow failed on attempt %d", i+1)
		}
	}
	if limiter.Allow("alice") {
		t.Error("expected Allow to fail after exhausting capacity")
	}

	c := limiter.Capacity("alice")
	if c == nil || c.Available != 0 || c.Total != 3 || c.Window != time.Minute {
		t.Errorf("capacity = %+v", c)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)
	defer limiter.Close()

	if !limiter.Allow("alice") {
		t.Fatal("alice first call denied")
	}
	if limiter.Allow("alice") {
		t.Error("alice second call allowed")
	}
	if !limiter.Allow("bob") {
		t.Error("bob denied because of alice")
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	limiter, clock := newTestLimiter(10, time.Second)
	defer limiter.Close()

	for range 10 {
		limiter.Allow("alice")
	}
	if limiter.Allow("alice") {
		t.Fatal("expected empty bucket")
	}

	clock.Advance(500 * time.Millisecond)
	if c := limiter.Capacity("alice"); c.Available != 5 {
		t.Errorf("available after half window = %d, want 5", c.Available)
	}

	clock.Advance(10 * time.Second)
	if c := limiter.Capacity("alice"); c.Available != 10 {
		t.Errorf("available after long idle = %d, want capacity 10", c.Available)
	}
}

func TestMemoryLimiter_PrunesIdleBuckets(t *testing.T) {
	limiter, clock := newTestLimiter(2, time.Minute)
	defer limiter.Close()

	limiter.Allow("alice")
	clock.Advance(2 * time.Minute)
	limiter.Allow("bob")

	if c := limiter.Capacity("alice"); c != nil {
		t.Errorf("idle bucket kept: %+v", c)
	}
	if c := limiter.Capacity("bob"); c == nil || c.Available != 1 {
		t.Errorf("bob = %+v", c)
	}
}

func TestMemoryLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		window   time.Duration
	}{
		{"zero capacity", 0, time.Minute},
		{"zero window", 5, 0},
		{"negative", -1, -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewMemoryLimiter(tt.capacity, tt.window)
			defer limiter.Close()
			for range 100 {
				if !limiter.Allow("alice") {
					t.Fatal("disabled limiter denied a call")
				}
			}
		})
	}
}

func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter(5, time.Minute)

	if err := limiter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := limiter.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if limiter.Allow("alice") {
		t.Error("closed limiter allowed a call")
	}
	if c := limiter.Capacity("alice"); c != nil {
		t.Errorf("closed limiter capacity = %+v", c)
	}
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(100, time.Hour)
	defer limiter.Close()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if limiter.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 100 {
		t.Errorf("allowed = %d, want exactly capacity 100", got)
	}
}
