package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinayprograms/taskkit/bus"
)

// Notifier observes committed transitions. It is called synchronously after
// the backend write, once the store locks are released; its error is logged
// and never undoes the write.
//
// Events from one caller arrive in that caller's commit order. Across
// concurrent callers there is no ordering: a deleted event may be delivered
// before the created event for the same id. Consumers that need the current
// state re-read the store rather than replaying events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Notifiers fans an event out to every member and joins their errors.
type Notifiers []Notifier

// Notify delivers e to each notifier in order.
func (ns Notifiers) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// BusNotifier publishes events as JSON on "<Prefix>.<kind>".
type BusNotifier struct {
	Bus    bus.MessageBus
	Prefix string
}

// DefaultSubjectPrefix is used when BusNotifier.Prefix is empty.
const DefaultSubjectPrefix = "taskkit.events"

// NewBusNotifier creates a BusNotifier on the given subject prefix.
func NewBusNotifier(b bus.MessageBus, prefix string) *BusNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &BusNotifier{Bus: b, Prefix: prefix}
}

// Subject returns the subject an event of kind is published on.
func (n *BusNotifier) Subject(kind EventKind) string {
	return n.Prefix + "." + string(kind)
}

// Notify publishes e.
func (n *BusNotifier) Notify(_ context.Context, e Event) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	if err := n.Bus.Publish(n.Subject(e.Kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	return nil
}
