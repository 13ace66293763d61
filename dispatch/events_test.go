package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/taskkit/bus"
	"github.com/vinayprograms/taskkit/state"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/transport"
)

// captureTransport records outbound messages.
type captureTransport struct {
	mu   sync.Mutex
	sent []*transport.OutboundMessage
	got  chan struct{}
}

func newCapture() *captureTransport {
	return &captureTransport{got: make(chan struct{}, 64)}
}

func (c *captureTransport) Recv() <-chan *transport.InboundMessage { return nil }
func (c *captureTransport) Run(ctx context.Context) error          { <-ctx.Done(); return ctx.Err() }
func (c *captureTransport) Close() error                           { return nil }

func (c *captureTransport) Send(msg *transport.OutboundMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *captureTransport) wait(t *testing.T, n int) []*transport.OutboundMessage {
	t.Helper()
	for range n {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
	return c.snapshot()
}

func (c *captureTransport) snapshot() []*transport.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*transport.OutboundMessage(nil), c.sent...)
}

func TestForwardEvents(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	kv := state.NewMemoryStore()
	defer kv.Close()
	store := tasks.NewStore(kv, tasks.WithNotifier(tasks.NewBusNotifier(b, "")))

	tr := newCapture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ForwardEvents(ctx, b, "", tr, nil) }()

	// Subscription is registered asynchronously; publish a probe until it
	// is seen.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := b.Publish(tasks.DefaultSubjectPrefix+".probe", []byte("not json")); err != nil {
			t.Fatal(err)
		}
		if err := b.Publish(tasks.DefaultSubjectPrefix+".deleted", mustEvent(t, tasks.Deleted("probe"))); err != nil {
			t.Fatal(err)
		}
		select {
		case <-tr.got:
		case <-time.After(20 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("forwarder never subscribed")
			}
			continue
		}
		break
	}

	id, err := store.Create(ctx, tasks.Draft{Title: "Buy milk", Priority: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, id); err != nil {
		t.Fatal(err)
	}

	var kinds []tasks.EventKind
	for len(kinds) < 2 {
		for _, msg := range tr.wait(t, 1) {
			if msg.Notification == nil || msg.Notification.Method != transport.EventMethod {
				t.Fatalf("unexpected message %+v", msg)
			}
		}
		kinds = kinds[:0]
		for _, msg := range tr.snapshot() {
			if ev := msg.Notification.Params.(tasks.Event); ev.ID == id {
				kinds = append(kinds, ev.Kind)
			}
		}
	}
	if len(kinds) != 2 || kinds[0] != tasks.EventCreated || kinds[1] != tasks.EventCompleted {
		t.Errorf("kinds = %v", kinds)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ForwardEvents = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ForwardEvents did not stop")
	}
}

func mustEvent(t *testing.T, e tasks.Event) []byte {
	t.Helper()
	data, err := e.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return data
}
