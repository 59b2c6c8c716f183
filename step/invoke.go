package step

import (
	"context"
	"encoding/json"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
)

// InvokeOpts configures Invoke.
type InvokeOpts struct {
	// FunctionID is the target function's slug.
	FunctionID string
	// Payload is passed as the target function's triggering event data.
	Payload any
	// Timeout optionally bounds how long the executor waits for the
	// invoked function to complete.
	Timeout time.Duration
}

// Invoke calls another registered function by id and waits for its result.
//
// A memoized entry that is present but null means the target function ran
// and produced no response: Invoke surfaces that as an error matched by
// IsNoInvokeResponse rather than as a zero value, since the two are
// meaningfully different outcomes for the caller.
func Invoke[T any](ctx context.Context, id string, opts InvokeOpts) (T, error) {
	var zero T
	mgr := manager(ctx)
	_, hash := hashOp(mgr, id)

	if raw, ok := mgr.Peek(hash); ok {
		if len(raw) == 0 || string(raw) == "null" {
			return zero, errNoInvokeResponse{}
		}
		return unmarshalInto[T](raw)
	}

	payload, err := json.Marshal(opts.Payload)
	if err != nil {
		return zero, err
	}

	wireOpts := map[string]any{
		"function_id": opts.FunctionID,
		"payload": map[string]any{
			"data": json.RawMessage(payload),
		},
	}
	if opts.Timeout > 0 {
		wireOpts["timeout"] = str2duration.String(opts.Timeout)
	}

	mgr.AppendOp(sdkrequest.GeneratorOpcode{
		Op:          sdkrequest.OpcodeInvokeFunction,
		ID:          hash,
		Name:        id,
		DisplayName: id,
		Opts:        wireOpts,
	})
	panic(sdkrequest.ControlHijack{})
}

// errNoInvokeResponse is returned by Invoke when the target function's
// memoized result is present but empty.
type errNoInvokeResponse struct{}

func (errNoInvokeResponse) Error() string {
	return "invoked function did not return a response"
}

// IsNoInvokeResponse reports whether err was returned because the invoked
// function's memoized result was present but empty.
func IsNoInvokeResponse(err error) bool {
	_, ok := err.(errNoInvokeResponse)
	return ok
}
