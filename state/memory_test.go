package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_Conformance(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	runConformance(t, s, "t.")
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	value := []byte("original")
	if err := s.Put(ctx, "copy.key", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value[0] = 'X'

	got, _ := s.Get(ctx, "copy.key")
	got[1] = 'Y'

	again, _ := s.Get(ctx, "copy.key")
	if string(again) != "original" {
		t.Errorf("stored value was mutated: %s", again)
	}
}

func TestMemoryStore_LockExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	l, err := s.Lock(ctx, "writer", time.Second)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	now = now.Add(2 * time.Second)

	if err := l.Refresh(); !errors.Is(err, ErrLockExpired) {
		t.Errorf("expected ErrLockExpired, got %v", err)
	}
	l2, err := s.Lock(ctx, "writer", time.Second)
	if err != nil {
		t.Fatalf("expired lock should be reacquirable: %v", err)
	}
	if l2.Key() != "_lock.writer" {
		t.Errorf("unexpected lock key %s", l2.Key())
	}
}

func TestMemoryStore_StaleUnlockKeepsNewHolder(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	stale, _ := s.Lock(ctx, "writer", time.Second)
	now = now.Add(2 * time.Second)
	fresh, err := s.Lock(ctx, "writer", time.Minute)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	_ = stale.Unlock()

	if _, err := s.Lock(ctx, "writer", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Errorf("stale unlock released the new holder: %v", err)
	}
	_ = fresh.Unlock()
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get: expected ErrClosed, got %v", err)
	}
	if err := s.Put(ctx, "k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Put: expected ErrClosed, got %v", err)
	}
	if _, err := s.Keys(ctx, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Keys: expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestMemoryStore_CloseRacesWriters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("w%d", w)
			for range 200 {
				err := s.Put(ctx, key, []byte("v"))
				if err != nil && !errors.Is(err, ErrClosed) {
					t.Errorf("Put: %v", err)
					return
				}
				if err := s.Delete(ctx, key); err != nil && !errors.Is(err, ErrClosed) {
					t.Errorf("Delete: %v", err)
					return
				}
			}
		}()
	}
	s.Close()
	wg.Wait()

	if err := s.Put(ctx, "late", []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close: expected ErrClosed, got %v", err)
	}
}
