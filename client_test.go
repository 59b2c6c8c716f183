package stepwise

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestClientOptsGetEventKey(t *testing.T) {
	t.Run("env var", func(t *testing.T) {
		t.Setenv("INNGEST_EVENT_KEY", "env-var")
		o := ClientOpts{}
		require.Equal(t, "env-var", o.GetEventKey())
	})

	t.Run("field", func(t *testing.T) {
		o := ClientOpts{EventKey: strPtr("field")}
		require.Equal(t, "field", o.GetEventKey())
	})

	t.Run("field overrides env var", func(t *testing.T) {
		t.Setenv("INNGEST_EVENT_KEY", "env-var")
		o := ClientOpts{EventKey: strPtr("field")}
		require.Equal(t, "field", o.GetEventKey())
	})

	t.Run("no event key in cloud mode", func(t *testing.T) {
		o := ClientOpts{}
		require.Equal(t, "", o.GetEventKey())
	})

	t.Run("no event key in dev mode", func(t *testing.T) {
		t.Setenv("INNGEST_DEV", "1")
		o := ClientOpts{}
		require.Equal(t, "NO_EVENT_KEY_SET", o.GetEventKey())
	})
}
