package step

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
)

func TestSleepColdEmitsCanonicalDuration(t *testing.T) {
	mgr := sdkrequest.NewManager(&sdkrequest.Request{Steps: map[string]json.RawMessage{}})
	ctx := sdkrequest.SetManager(context.Background(), mgr)

	require.PanicsWithValue(t, sdkrequest.ControlHijack{}, func() {
		Sleep(ctx, "nap", 3*time.Second)
	})

	ops := mgr.Ops()
	require.Len(t, ops, 1)
	require.Equal(t, sdkrequest.OpcodeSleep, ops[0].Op)
	require.Equal(t, "3s", ops[0].Opts["duration"])
}

func TestSleepWarmReturnsWithoutOps(t *testing.T) {
	hash := sdkrequest.UnhashedOp{ID: "nap"}.Hash()
	mgr := sdkrequest.NewManager(&sdkrequest.Request{Steps: map[string]json.RawMessage{
		hash: json.RawMessage(`null`),
	}})
	ctx := sdkrequest.SetManager(context.Background(), mgr)

	require.NotPanics(t, func() {
		Sleep(ctx, "nap", 3*time.Second)
	})
	require.Empty(t, mgr.Ops())
}

func TestSleepUntilPastDeadlineIsBasicError(t *testing.T) {
	mgr := sdkrequest.NewManager(&sdkrequest.Request{Steps: map[string]json.RawMessage{}})
	ctx := sdkrequest.SetManager(context.Background(), mgr)

	err := SleepUntil(ctx, "nap", time.Now().Add(-time.Hour))
	require.Error(t, err)
	require.Empty(t, mgr.Ops())
}

func TestSleepUntilFutureDeadlineHijacks(t *testing.T) {
	mgr := sdkrequest.NewManager(&sdkrequest.Request{Steps: map[string]json.RawMessage{}})
	ctx := sdkrequest.SetManager(context.Background(), mgr)

	require.PanicsWithValue(t, sdkrequest.ControlHijack{}, func() {
		_ = SleepUntil(ctx, "nap", time.Now().Add(time.Hour))
	})
	require.Len(t, mgr.Ops(), 1)
}
