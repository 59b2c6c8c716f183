// Package step implements the user-facing step tool: the five operations
// (run, sleep, sleep_until, wait_for_event, invoke) that either resolve from
// memory or suspend the invocation by raising the control-flow sentinel.
package step

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
)

// manager retrieves the per-invocation memo state the handler stored on ctx.
// Calling a step operation outside an invocation is a programmer error.
func manager(ctx context.Context) *sdkrequest.Manager {
	mgr, ok := sdkrequest.FromContext(ctx)
	if !ok {
		panic("step: no invocation manager on context; step operations must run inside a handler-dispatched function")
	}
	return mgr
}

// hashOp computes this call's position via the manager's per-id counter and
// returns the resulting op hash alongside the unhashed op (for naming the
// emitted opcode).
func hashOp(mgr *sdkrequest.Manager, id string) (sdkrequest.UnhashedOp, string) {
	op := mgr.NewOp(id)
	return op, op.Hash()
}

// BasicStepError formats a plain user-facing error for a step-level
// precondition failure (e.g. a sleep_until deadline already in the past).
func BasicStepError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// taggedResult is the wire shape a memoized step.Run entry carries: either a
// successful value or a serialized user error.
type taggedResult struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *sdkrequest.StepError `json:"error,omitempty"`
}

func unmarshalInto[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("step: decoding memoized value: %w", err)
	}
	return v, nil
}
