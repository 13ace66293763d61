package shutdown

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/taskkit/logging"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) handler(name string, err error) Handler {
	return Func(func(context.Context) error {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		return err
	})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

func TestPhaseOrder(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	rec := &recorder{}
	c.RegisterWithPhase("state", rec.handler("state", nil), PhaseStore)
	c.RegisterWithPhase("telemetry", rec.handler("telemetry", nil), PhaseTelemetry)
	c.RegisterWithPhase("websocket", rec.handler("websocket", nil), PhaseListeners)
	c.RegisterWithPhase("bus", rec.handler("bus", nil), PhaseBus)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	want := []string{"websocket", "bus", "state", "telemetry"}
	if got := rec.names(); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	res := c.Result()
	if res == nil || len(res.Handlers) != 4 {
		t.Fatalf("result = %+v", res)
	}
	if res.Handlers[0].Phase != PhaseListeners {
		t.Errorf("first phase = %d", res.Handlers[0].Phase)
	}
}

func TestSamePhaseConcurrent(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	c.RegisterFunc("a", PhaseSessions, barrier)
	c.RegisterFunc("b", PhaseSessions, barrier)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestHandlerFailure(t *testing.T) {
	tests := []struct {
		name        string
		stopOnError bool
		wantRan     []string
	}{
		{"continue", false, []string{"bad", "later"}},
		{"stop", true, []string{"bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.StopOnError = tt.stopOnError
			c := NewCoordinator(cfg, nil)
			rec := &recorder{}
			c.RegisterWithPhase("bad", rec.handler("bad", errors.New("boom")), PhaseListeners)
			c.RegisterWithPhase("later", rec.handler("later", nil), PhaseStore)

			err := c.Shutdown(context.Background())
			if !errors.Is(err, ErrHandlerFailed) {
				t.Fatalf("err = %v, want ErrHandlerFailed", err)
			}
			if got := rec.names(); !slices.Equal(got, tt.wantRan) {
				t.Errorf("ran = %v, want %v", got, tt.wantRan)
			}
			if got := c.Result().FailedHandlers(); !slices.Equal(got, []string{"bad"}) {
				t.Errorf("FailedHandlers = %v", got)
			}
		})
	}
}

func TestDeadline(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.RegisterFunc("cancels", PhaseListeners, func(context.Context) error {
		cancel()
		return nil
	})
	var ran atomic.Bool
	c.RegisterFunc("never", PhaseStore, func(context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := c.Shutdown(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if ran.Load() {
		t.Error("handler after deadline ran")
	}
}

func TestShutdownOnce(t *testing.T) {
	c := NewCoordinator(DefaultConfig(), nil)
	var calls atomic.Int32
	c.Register("count", Func(func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	if c.Err() != nil || c.Result() != nil {
		t.Fatal("result available before shutdown")
	}
	if err := c.ShutdownWithTimeout(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestTrigger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)

	c := NewCoordinator(DefaultConfig(), logger)
	closed := make(chan struct{})
	c.RegisterWithPhase("closer", CloserFunc(func() error {
		close(closed)
		return nil
	}), PhaseStore)
	c.HandleSignals()
	c.Trigger()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not triggered")
	}
	select {
	case <-closed:
	default:
		t.Error("closer not called")
	}
	if !strings.Contains(buf.String(), "signal received") {
		t.Errorf("log = %q", buf.String())
	}
}
