package step

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
)

// Run executes f reliably: on first call it invokes f synchronously and
// memoizes the outcome for replay, then suspends the invocation; on replay
// it returns the memoized outcome without calling f again.
//
// If f returned an error on a prior run, that error is deserialized and
// returned here rather than re-raised as a new failure, so callers can
// inspect or propagate it like any other Go error.
func Run[T any](ctx context.Context, id string, f func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	mgr := manager(ctx)
	_, hash := hashOp(mgr, id)

	if raw, ok := mgr.Take(hash); ok {
		if len(raw) == 0 || string(raw) == "null" {
			return zero, nil
		}

		var tagged taggedResult
		if err := json.Unmarshal(raw, &tagged); err != nil {
			return zero, fmt.Errorf("step %q: decoding memoized result: %w", id, err)
		}
		if tagged.Error != nil {
			return zero, tagged.Error
		}
		return unmarshalInto[T](tagged.Data)
	}

	result, err := f(ctx)
	if err != nil {
		mgr.SetStepError(&sdkrequest.StepError{
			Name:    "Step failed",
			Message: err.Error(),
		})
		panic(sdkrequest.ControlHijack{})
	}

	data, err := json.Marshal(result)
	if err != nil {
		mgr.SetStepError(&sdkrequest.StepError{
			Name:    "Step failed",
			Message: fmt.Sprintf("marshaling result for step %q: %v", id, err),
		})
		panic(sdkrequest.ControlHijack{})
	}

	mgr.AppendOp(sdkrequest.GeneratorOpcode{
		Op:          sdkrequest.OpcodeStepRun,
		ID:          hash,
		Name:        id,
		DisplayName: id,
		Data:        data,
	})
	panic(sdkrequest.ControlHijack{})
}
