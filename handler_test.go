package stepwise

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stepwise-dev/stepwise-go/step"
)

type dummyEvent struct{}

func newTestHandler(t *testing.T) (Handler, *handler) {
	t.Helper()
	h := NewHandler("my-app", HandlerOpts{})
	hh, ok := h.(*handler)
	require.True(t, ok)
	return h, hh
}

func doInvoke(t *testing.T, h Handler, fnID string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/inngest?fnId="+fnID, strings.NewReader(string(raw)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScenarioColdSleep(t *testing.T) {
	t.Setenv("INNGEST_DEV", "1")
	h, _ := newTestHandler(t)

	fn := CreateFunction(FunctionOpts{Name: "Dummy Func", ID: strPtr("dummy-func")}, EventTrigger("app/dummy"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) {
			step.Sleep(ctx, "nap", 3*time.Second)
			return "done", nil
		})
	require.NoError(t, h.Register(fn))

	rec := doInvoke(t, h, "my-app-dummy-func", map[string]any{
		"ctx":   map[string]any{"fn_id": "my-app-dummy-func", "run_id": "run1", "step_id": "step"},
		"event": map[string]any{"name": "app/dummy", "data": map[string]any{}},
		"steps": map[string]any{},
	})

	require.Equal(t, http.StatusPartialContent, rec.Code)

	var ops []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	require.Equal(t, "Sleep", ops[0]["op"])
	require.Equal(t, "nap", ops[0]["name"])
	require.Equal(t, "3s", ops[0]["opts"].(map[string]any)["duration"])
}

func TestScenarioWarmSleep(t *testing.T) {
	t.Setenv("INNGEST_DEV", "1")
	h, _ := newTestHandler(t)

	fn := CreateFunction(FunctionOpts{Name: "Dummy Func", ID: strPtr("dummy-func")}, EventTrigger("app/dummy"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) {
			step.Sleep(ctx, "nap", 3*time.Second)
			return "done", nil
		})
	require.NoError(t, h.Register(fn))

	napHash := opHash("nap")

	rec := doInvoke(t, h, "my-app-dummy-func", map[string]any{
		"ctx":   map[string]any{"fn_id": "my-app-dummy-func", "run_id": "run1", "step_id": "step"},
		"event": map[string]any{"name": "app/dummy", "data": map[string]any{}},
		"steps": map[string]any{napHash: nil},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `"done"`, strings.TrimSpace(rec.Body.String()))
}

func TestScenarioStepRunMemoized(t *testing.T) {
	t.Setenv("INNGEST_DEV", "1")
	h, _ := newTestHandler(t)

	fn := CreateFunction(FunctionOpts{Name: "Calc", ID: strPtr("calc-func")}, EventTrigger("app/calc"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) {
			n, err := step.Run(ctx, "calc", func(ctx context.Context) (int, error) {
				return 21, nil
			})
			if err != nil {
				return nil, err
			}
			return n * 2, nil
		})
	require.NoError(t, h.Register(fn))

	calcHash := opHash("calc")
	rec := doInvoke(t, h, "my-app-calc-func", map[string]any{
		"ctx":   map[string]any{"fn_id": "my-app-calc-func", "run_id": "run1", "step_id": "step"},
		"event": map[string]any{"name": "app/calc", "data": map[string]any{}},
		"steps": map[string]any{calcHash: map[string]any{"data": 42}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "84", strings.TrimSpace(rec.Body.String()))
}

func TestScenarioStepRunFailureFirstTime(t *testing.T) {
	t.Setenv("INNGEST_DEV", "1")
	h, _ := newTestHandler(t)

	fn := CreateFunction(FunctionOpts{Name: "Boom", ID: strPtr("boom-func")}, EventTrigger("app/boom"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) {
			_, err := step.Run(ctx, "boom", func(ctx context.Context) (int, error) {
				return 0, errors.New("boom")
			})
			return nil, err
		})
	require.NoError(t, h.Register(fn))

	rec := doInvoke(t, h, "my-app-boom-func", map[string]any{
		"ctx":   map[string]any{"fn_id": "my-app-boom-func", "run_id": "run1", "step_id": "step"},
		"event": map[string]any{"name": "app/boom", "data": map[string]any{}},
		"steps": map[string]any{},
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var stepErr map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stepErr))
	require.Equal(t, "Step failed", stepErr["name"])
	require.Equal(t, "boom", stepErr["message"])
}

func TestScenarioIntrospectDev(t *testing.T) {
	t.Setenv("INNGEST_DEV", "1")
	h, _ := newTestHandler(t)

	fn := CreateFunction(FunctionOpts{Name: "Dummy Func", ID: strPtr("dummy-func")}, EventTrigger("app/dummy"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) {
			return "ok", nil
		})
	require.NoError(t, h.Register(fn))

	req := httptest.NewRequest(http.MethodGet, "/api/inngest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "dev", body["mode"])
	require.EqualValues(t, 1, body["function_count"])
	require.Equal(t, false, body["has_signing_key"])
	require.Equal(t, "2024-05-24", body["schema_version"])
}

func TestInvokeAcceptsSignatureFromFallbackKey(t *testing.T) {
	t.Setenv("INNGEST_DEV", "1")
	primary := testSigningKey
	fallback := "signkey-test-1111111111111111111111111111111111111111111111111111111111111111"

	h := NewHandler("my-app", HandlerOpts{SigningKey: strPtr(primary), SigningKeyFallback: strPtr(fallback)})

	fn := CreateFunction(FunctionOpts{Name: "Dummy Func", ID: strPtr("dummy-func")}, EventTrigger("app/dummy"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) {
			return "ok", nil
		})
	require.NoError(t, h.Register(fn))

	body, err := json.Marshal(map[string]any{
		"ctx":   map[string]any{"fn_id": "my-app-dummy-func", "run_id": "run1", "step_id": "step"},
		"event": map[string]any{"name": "app/dummy", "data": map[string]any{}},
		"steps": map[string]any{},
	})
	require.NoError(t, err)

	sig := signRequest(time.Now().Unix(), fallback, body)

	req := httptest.NewRequest(http.MethodPost, "/api/inngest?fnId=my-app-dummy-func", strings.NewReader(string(body)))
	req.Header.Set(headerKeySignature, sig)
	req.Header.Set(headerKeyServerKind, serverKindCloud)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `"ok"`, strings.TrimSpace(rec.Body.String()))
}

func TestRegisterDuplicateSlugIsError(t *testing.T) {
	h, _ := newTestHandler(t)

	mk := func(id string) ServableFunction {
		return CreateFunction(FunctionOpts{Name: "Dup", ID: strPtr(id)}, EventTrigger("app/dup"),
			func(ctx context.Context, input Input[dummyEvent]) (any, error) { return nil, nil })
	}

	err := h.Register(mk("same"), mk("same"))
	require.Error(t, err)
}

func TestRegisterLaterCallOverwrites(t *testing.T) {
	h, hh := newTestHandler(t)

	first := CreateFunction(FunctionOpts{Name: "V1", ID: strPtr("fn")}, EventTrigger("app/x"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) { return "v1", nil })
	second := CreateFunction(FunctionOpts{Name: "V2", ID: strPtr("fn")}, EventTrigger("app/x"),
		func(ctx context.Context, input Input[dummyEvent]) (any, error) { return "v2", nil })

	require.NoError(t, h.Register(first))
	require.NoError(t, h.Register(second))

	fn, ok := hh.registry.lookup("my-app-fn")
	require.True(t, ok)
	require.Equal(t, "V2", fn.Name())
}

// opHash mirrors the op-hasher's first-occurrence rule to build a request
// fixture's memo key without depending on internal/sdkrequest directly.
func opHash(id string) string {
	sum := sha1.Sum([]byte(id))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
