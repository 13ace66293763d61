package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete before the deadline.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers returned an error.
	ErrHandlerFailed = errors.New("one or more shutdown handlers failed")
)

// Phases used by taskd. Lower phases stop first.
const (
	// PhaseListeners stops accepting connections and requests.
	PhaseListeners = 10

	// PhaseSessions drains open sessions and event forwarders.
	PhaseSessions = 20

	// PhaseBus closes the notification bus.
	PhaseBus = 30

	// PhaseStore closes state backends and releases writer locks.
	PhaseStore = 40

	// PhaseTelemetry flushes spans last so shutdown itself is traced.
	PhaseTelemetry = 50
)

// Handler is implemented by components that need graceful shutdown.
// The context is cancelled when the shutdown deadline passes.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// CloserFunc adapts a context-free close function such as
// (*state.NATSStore).Close to Handler.
func CloserFunc(fn func() error) Handler {
	return Func(func(context.Context) error { return fn() })
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a full shutdown.
type Result struct {
	TotalDuration time.Duration
	Handlers      []HandlerResult
	Err           error
}

// FailedHandlers returns the names of handlers that returned an error.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Handlers {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout and signal-triggered shutdown.
	// Default: 15 seconds
	Timeout time.Duration

	// DefaultPhase is used by Register.
	// Default: PhaseSessions
	DefaultPhase int

	// StopOnError aborts remaining phases after a failing phase.
	StopOnError bool
}

// DefaultConfig returns the configuration used by taskd.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		DefaultPhase: PhaseSessions,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
