package ratelimit

import (
	"errors"
	"time"
)

// ErrClosed is returned by Close on a closed limiter.
var ErrClosed = errors.New("limiter closed")

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	// Allow consumes one token for key and reports whether one was left.
	Allow(key string) bool

	// Close stops the limiter. Allow returns false afterwards.
	Close() error
}

// Capacity describes the bucket of one key.
type Capacity struct {
	Key       string
	Available int
	Total     int
	Window    time.Duration
}
