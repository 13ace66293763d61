package tasks

import (
	"context"
	"errors"
	"math"
	"testing"
)

func noneTaken(context.Context, ID) (bool, error) { return false, nil }

func TestMonotonic_Allocate(t *testing.T) {
	ctx := context.Background()
	m := Monotonic{}

	id, cursor, err := m.Allocate(ctx, 0, noneTaken)
	if err != nil || id != "1" || cursor != 1 {
		t.Fatalf("Allocate(0) = %s, %d, %v", id, cursor, err)
	}

	id, cursor, err = m.Allocate(ctx, 41, noneTaken)
	if err != nil || id != "42" || cursor != 42 {
		t.Errorf("Allocate(41) = %s, %d, %v", id, cursor, err)
	}
}

func TestMonotonic_SkipsTaken(t *testing.T) {
	taken := func(_ context.Context, id ID) (bool, error) { return id == "1" || id == "2", nil }

	id, cursor, err := Monotonic{}.Allocate(context.Background(), 0, taken)
	if err != nil || id != "3" || cursor != 3 {
		t.Errorf("Allocate = %s, %d, %v; want 3", id, cursor, err)
	}
}

func TestMonotonic_Exhausted(t *testing.T) {
	ctx := context.Background()

	if _, _, err := (Monotonic{Max: 5}).Allocate(ctx, 5, noneTaken); !errors.Is(err, ErrIDExhausted) {
		t.Errorf("expected ErrIDExhausted at Max, got %v", err)
	}
	if _, _, err := (Monotonic{}).Allocate(ctx, math.MaxUint64, noneTaken); !errors.Is(err, ErrIDExhausted) {
		t.Errorf("expected ErrIDExhausted at MaxUint64, got %v", err)
	}
	if _, _, err := (Monotonic{Max: math.MaxUint32}).Allocate(ctx, math.MaxUint32-1, noneTaken); err != nil {
		t.Errorf("last id before the cap should be issued: %v", err)
	}
}

func TestMonotonic_TakenError(t *testing.T) {
	boom := errors.New("backend down")
	taken := func(context.Context, ID) (bool, error) { return false, boom }

	if _, _, err := (Monotonic{}).Allocate(context.Background(), 0, taken); !errors.Is(err, boom) {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestMonotonic_Observe(t *testing.T) {
	m := Monotonic{}
	tests := []struct {
		cursor uint64
		id     ID
		want   uint64
	}{
		{0, "7", 7},
		{9, "7", 9},
		{3, "4f1c2a9e-7d3b-4d8e-9a61-0c5b2e7f8a10", 3},
		{3, "-1", 3},
	}
	for _, tt := range tests {
		if got := m.Observe(tt.cursor, tt.id); got != tt.want {
			t.Errorf("Observe(%d, %s) = %d, want %d", tt.cursor, tt.id, got, tt.want)
		}
	}
}

func TestRandom_DefaultAttempts(t *testing.T) {
	var calls int
	r := Random{Generate: func() string { calls++; return "x" }}
	taken := func(context.Context, ID) (bool, error) { return true, nil }

	_, _, err := r.Allocate(context.Background(), 0, taken)
	if !errors.Is(err, ErrIDExhausted) {
		t.Fatalf("expected ErrIDExhausted, got %v", err)
	}
	if calls != DefaultRandomAttempts {
		t.Errorf("made %d attempts, want %d", calls, DefaultRandomAttempts)
	}
}

func TestRandom_CursorUntouched(t *testing.T) {
	r := Random{}
	_, cursor, err := r.Allocate(context.Background(), 17, noneTaken)
	if err != nil || cursor != 17 {
		t.Errorf("Allocate changed cursor to %d (%v)", cursor, err)
	}
	if r.Observe(17, "99") != 17 {
		t.Error("Observe should not move the random cursor")
	}
}
