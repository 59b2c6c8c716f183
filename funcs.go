package stepwise

import (
	"context"
	"reflect"

	"github.com/gosimple/slug"
)

// Trigger is the sum type that fires a function: either an event trigger
// (optionally filtered by an expression) or a cron schedule.
type Trigger struct {
	Event      string `json:"event,omitempty"`
	Expression string `json:"expression,omitempty"`
	Cron       string `json:"cron,omitempty"`
}

// EventTrigger fires a function whenever an event named name arrives.
func EventTrigger(name string) Trigger {
	return Trigger{Event: name}
}

// EventTriggerWithExpression fires a function for events named name that
// also satisfy expression, evaluated by the executor.
func EventTriggerWithExpression(name, expression string) Trigger {
	return Trigger{Event: name, Expression: expression}
}

// CronTrigger fires a function on a cron schedule.
func CronTrigger(spec string) Trigger {
	return Trigger{Cron: spec}
}

// FunctionOpts configures a registered function.
type FunctionOpts struct {
	// Name is the human-readable function name shown in the dashboard.
	Name string
	// ID is the function's slug suffix. Defaults to slug.Make(Name) when
	// unset. The final registry key is slug.Make(appID)+"-"+slug.Make(ID).
	ID *string
	// Retries is the maximum number of attempts the executor should make.
	// Zero means the default of 3.
	Retries int
	// Concurrency is a cap on how many runs of this function may execute
	// at once. It is not included in the registration manifest and is not
	// enforced locally.
	Concurrency int
	// Idempotency is an optional expression for deduplicating runs. It is
	// not included in the registration manifest.
	Idempotency *string
}

func (o FunctionOpts) retries() int {
	if o.Retries <= 0 {
		return 3
	}
	return o.Retries
}

// SDKFunction is a user-defined function body. T is the type the whole
// triggering event object (name, data, user, ...) is decoded into.
type SDKFunction[T any] func(ctx context.Context, input Input[T]) (any, error)

// ServableFunction is a function that a Handler can serve. Built with
// CreateFunction.
type ServableFunction interface {
	// ID returns the function's slug suffix, before the app prefix is
	// applied.
	ID() string
	Name() string
	Config() FunctionOpts
	Trigger() Trigger
	// ZeroEvent returns a freshly allocated zero value of the event data
	// type this function expects, for JSON-unmarshaling the incoming
	// event into.
	ZeroEvent() any
	// Func returns the underlying SDKFunction as an any; the handler
	// dispatches into it via reflection.
	Func() any
}

// CreateFunction builds a ServableFunction from typed user code. T is
// inferred from f's Input[T] parameter.
func CreateFunction[T any](fc FunctionOpts, trigger Trigger, f SDKFunction[T]) ServableFunction {
	return servableFunc{fc: fc, trigger: trigger, f: f}
}

// Input is the data passed to a function body: the triggering event plus
// invocation context.
type Input[T any] struct {
	Event  T        `json:"event"`
	Events []T      `json:"events"`
	Ctx    InputCtx `json:"ctx"`
}

// InputCtx carries the invocation identifiers from the executor's run
// request.
type InputCtx struct {
	Env        string `json:"env"`
	FunctionID string `json:"fn_id"`
	RunID      string `json:"run_id"`
	StepID     string `json:"step_id"`
	Attempt    int    `json:"attempt"`
}

type servableFunc struct {
	fc      FunctionOpts
	trigger Trigger
	f       any
}

func (s servableFunc) Config() FunctionOpts {
	return s.fc
}

func (s servableFunc) ID() string {
	if s.fc.ID == nil {
		return slug.Make(s.fc.Name)
	}
	return *s.fc.ID
}

func (s servableFunc) Name() string {
	return s.fc.Name
}

func (s servableFunc) Trigger() Trigger {
	return s.trigger
}

func (s servableFunc) ZeroEvent() any {
	// f is an SDKFunction[T]; its second parameter is Input[T]. Reflect
	// into that parameter type to build a zero T without the caller
	// having to hand us T directly.
	fVal := reflect.ValueOf(s.f)
	inputVal := reflect.New(fVal.Type().In(1)).Elem()
	return reflect.New(inputVal.FieldByName("Event").Type()).Elem().Interface()
}

func (s servableFunc) Func() any {
	return s.f
}

// functionSlug implements invariant I5: slugify(app_id) + "-" + slugify(user_id).
func functionSlug(appID string, fn ServableFunction) string {
	return slug.Make(appID) + "-" + slug.Make(fn.ID())
}
