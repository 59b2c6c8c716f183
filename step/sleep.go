package step

import (
	"context"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
)

// Sleep pauses the function for d. On replay, once the executor has
// recorded the sleep as elapsed, this returns immediately without emitting
// another opcode.
func Sleep(ctx context.Context, id string, d time.Duration) {
	mgr := manager(ctx)
	_, hash := hashOp(mgr, id)

	if _, ok := mgr.Peek(hash); ok {
		return
	}

	mgr.AppendOp(sdkrequest.GeneratorOpcode{
		Op:          sdkrequest.OpcodeSleep,
		ID:          hash,
		Name:        id,
		DisplayName: id,
		Opts: map[string]any{
			"duration": str2duration.String(d),
		},
	})
	panic(sdkrequest.ControlHijack{})
}

// SleepUntil pauses the function until until. A deadline already in the past
// is a user error: the executor has nothing meaningful to schedule.
func SleepUntil(ctx context.Context, id string, until time.Time) error {
	mgr := manager(ctx)
	_, hash := hashOp(mgr, id)

	if _, ok := mgr.Peek(hash); ok {
		return nil
	}

	d := time.Until(until)
	if d < 0 {
		return BasicStepError("sleep_until: deadline %s is in the past", until.Format(time.RFC3339))
	}

	mgr.AppendOp(sdkrequest.GeneratorOpcode{
		Op:          sdkrequest.OpcodeSleep,
		ID:          hash,
		Name:        id,
		DisplayName: id,
		Opts: map[string]any{
			"duration": str2duration.String(d),
		},
	})
	panic(sdkrequest.ControlHijack{})
}
