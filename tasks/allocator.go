package tasks

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"

	kerrors "github.com/vinayprograms/taskkit/errors"
)

// TakenFunc reports whether an id is currently stored.
type TakenFunc func(ctx context.Context, id ID) (bool, error)

// Allocator issues task identifiers.
//
// Allocators hold no state of their own: the store passes in the persisted
// cursor and stores the one returned, so several processes sharing a backend
// continue the same sequence.
type Allocator interface {
	// Allocate returns a fresh id that taken reports as free, and the new
	// cursor. It returns an ID_EXHAUSTED error when no id can be issued.
	Allocate(ctx context.Context, cursor uint64, taken TakenFunc) (ID, uint64, error)

	// Observe returns cursor advanced past id, for ids the allocator did not
	// issue itself (imports).
	Observe(cursor uint64, id ID) uint64
}

// Monotonic issues decimal ids 1, 2, 3, ... and never reuses one.
type Monotonic struct {
	// Max is the last id that may be issued. Zero means math.MaxUint64.
	Max uint64
}

// Allocate returns cursor+1, skipping ids that are somehow occupied.
func (m Monotonic) Allocate(ctx context.Context, cursor uint64, taken TakenFunc) (ID, uint64, error) {
	limit := m.Max
	if limit == 0 {
		limit = math.MaxUint64
	}

	for cursor < limit {
		cursor++
		id := ID(strconv.FormatUint(cursor, 10))
		busy, err := taken(ctx, id)
		if err != nil {
			return "", 0, err
		}
		if !busy {
			return id, cursor, nil
		}
	}
	return "", cursor, kerrors.IDExhausted(fmt.Sprintf("monotonic id space exhausted at %d", limit))
}

// Observe advances the cursor past numeric ids.
func (m Monotonic) Observe(cursor uint64, id ID) uint64 {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil || n <= cursor {
		return cursor
	}
	return n
}

// DefaultRandomAttempts bounds collision retries.
const DefaultRandomAttempts = 8

// Random issues UUIDv4 ids and retries on collision.
type Random struct {
	// MaxAttempts bounds collision retries. Zero means DefaultRandomAttempts.
	MaxAttempts int

	// Generate produces a candidate. Nil means uuid.NewString.
	Generate func() string
}

// Allocate draws candidates until one is free.
func (r Random) Allocate(ctx context.Context, cursor uint64, taken TakenFunc) (ID, uint64, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultRandomAttempts
	}
	gen := r.Generate
	if gen == nil {
		gen = uuid.NewString
	}

	for range attempts {
		id := ID(gen())
		busy, err := taken(ctx, id)
		if err != nil {
			return "", cursor, err
		}
		if !busy {
			return id, cursor, nil
		}
	}
	return "", cursor, kerrors.IDExhausted(fmt.Sprintf("no free random id after %d attempts", attempts))
}

// Observe leaves the cursor unchanged.
func (r Random) Observe(cursor uint64, _ ID) uint64 {
	return cursor
}
