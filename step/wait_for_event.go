package step

import (
	"context"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/stepwise-dev/stepwise-go/event"
	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
)

// WaitForEventOpts configures WaitForEvent.
type WaitForEventOpts struct {
	// Event is the name of the event to wait for.
	Event string
	// Timeout bounds how long the executor waits before giving up.
	Timeout time.Duration
	// If is an optional filter expression evaluated by the executor against
	// the matched event.
	If *string
}

// WaitForEvent pauses the function until an event named opts.Event arrives
// (optionally matching opts.If), or opts.Timeout elapses. A timeout is
// reported as a nil *event.Event, not an error.
func WaitForEvent(ctx context.Context, id string, opts WaitForEventOpts) (*event.Event, error) {
	mgr := manager(ctx)
	_, hash := hashOp(mgr, id)

	if raw, ok := mgr.Peek(hash); ok {
		if len(raw) == 0 || string(raw) == "null" {
			return nil, nil
		}
		evt, err := unmarshalInto[event.Event](raw)
		if err != nil {
			return nil, err
		}
		return &evt, nil
	}

	wireOpts := map[string]any{
		"event":   opts.Event,
		"timeout": str2duration.String(opts.Timeout),
	}
	if opts.If != nil {
		wireOpts["if"] = *opts.If
	}

	mgr.AppendOp(sdkrequest.GeneratorOpcode{
		Op:          sdkrequest.OpcodeWaitForEvent,
		ID:          hash,
		Name:        id,
		DisplayName: id,
		Opts:        wireOpts,
	})
	panic(sdkrequest.ControlHijack{})
}
