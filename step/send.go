package step

import (
	"context"
	"errors"

	"github.com/stepwise-dev/stepwise-go/event"
)

// Sender is the minimal event-sending capability step.Send/SendMany need.
// The handler installs one on the invocation context via SetSender; the
// Event Client (the root package's Client) implements it.
type Sender interface {
	Send(ctx context.Context, evt event.Event) (string, error)
	SendMany(ctx context.Context, events []event.Event) ([]string, error)
}

type senderCtxKey struct{}

// SetSender stores the Sender a running invocation should use for
// step.Send/SendMany calls.
func SetSender(ctx context.Context, s Sender) context.Context {
	return context.WithValue(ctx, senderCtxKey{}, s)
}

func senderFromContext(ctx context.Context) (Sender, bool) {
	s, ok := ctx.Value(senderCtxKey{}).(Sender)
	return s, ok
}

// Send sends a single event as a memoized step: sending is retried and
// deduplicated across replays exactly like step.Run.
func Send(ctx context.Context, id string, evt event.Event) (string, error) {
	return Run(ctx, id, func(ctx context.Context) (string, error) {
		sender, ok := senderFromContext(ctx)
		if !ok {
			return "", errors.New("step.Send: no event sender installed on context")
		}
		return sender.Send(ctx, evt)
	})
}

// SendMany sends a batch of events as a single memoized step.
func SendMany(ctx context.Context, id string, events []event.Event) ([]string, error) {
	return Run(ctx, id, func(ctx context.Context) ([]string, error) {
		sender, ok := senderFromContext(ctx)
		if !ok {
			return nil, errors.New("step.SendMany: no event sender installed on context")
		}
		return sender.SendMany(ctx, events)
	})
}
