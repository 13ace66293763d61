package dispatch

import (
	"context"
	"errors"

	"github.com/vinayprograms/taskkit/bus"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/transport"
)

// ForwardEvents pushes every task event published under prefix to t as a
// transport.EventMethod notification. It returns when ctx ends, the
// subscription closes or t stops accepting messages.
func ForwardEvents(ctx context.Context, b bus.MessageBus, prefix string, t transport.Transport, logger *logging.Logger) error {
	if prefix == "" {
		prefix = tasks.DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.Nop()
	}

	sub, err := b.Subscribe(prefix + ".>")
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			ev, err := tasks.UnmarshalEvent(msg.Data)
			if err != nil {
				logger.Warn("dropping malformed event", map[string]any{
					"subject": msg.Subject,
					"error":   err.Error(),
				})
				continue
			}
			if err := t.Send(transport.NewNotification(transport.EventMethod, ev)); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}
