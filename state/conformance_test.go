package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runConformance exercises the StateStore contract against any backend.
// Keys are namespaced by prefix so integration runs can share a bucket.
func runConformance(t *testing.T, s StateStore, prefix string) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, prefix+"missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGetOverwrite", func(t *testing.T) {
		key := prefix + "a"
		if err := s.Put(ctx, key, []byte("one")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(ctx, key, []byte("two")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "two" {
			t.Errorf("expected two, got %s", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := prefix + "b"
		if err := s.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Errorf("deleting a missing key should succeed, got %v", err)
		}
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		for _, k := range []string{"keys.3", "keys.1", "keys.2", "other.1"} {
			if err := s.Put(ctx, prefix+k, []byte("v")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		keys, err := s.Keys(ctx, prefix+"keys.")
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		want := []string{prefix + "keys.1", prefix + "keys.2", prefix + "keys.3"}
		if len(keys) != len(want) {
			t.Fatalf("expected %v, got %v", want, keys)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
			}
		}
	})

	t.Run("LockExclusive", func(t *testing.T) {
		key := prefix + "writer"
		l, err := s.Lock(ctx, key, 30*time.Second)
		if err != nil {
			t.Fatalf("Lock failed: %v", err)
		}
		if _, err := s.Lock(ctx, key, 30*time.Second); !errors.Is(err, ErrLockHeld) {
			t.Errorf("expected ErrLockHeld, got %v", err)
		}
		if err := l.Refresh(); err != nil {
			t.Errorf("Refresh failed: %v", err)
		}
		if err := l.Unlock(); err != nil {
			t.Fatalf("Unlock failed: %v", err)
		}
		if err := l.Unlock(); !errors.Is(err, ErrLockNotHeld) {
			t.Errorf("expected ErrLockNotHeld on second unlock, got %v", err)
		}

		l2, err := s.Lock(ctx, key, 30*time.Second)
		if err != nil {
			t.Fatalf("re-Lock after Unlock failed: %v", err)
		}
		_ = l2.Unlock()
	})
}
