package stepwise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsNoRetryError(t *testing.T) {
	err := NoRetryError(errors.New("boom"))
	require.True(t, IsNoRetryError(err))
	require.False(t, IsNoRetryError(errors.New("boom")))

	wrapped := fmtErrorf(err)
	require.True(t, IsNoRetryError(wrapped))
}

func TestGetRetryAtTime(t *testing.T) {
	err := RetryAtError(errors.New("boom"), 1700000000)
	at, ok := GetRetryAtTime(err)
	require.True(t, ok)
	require.EqualValues(t, 1700000000, at)

	_, ok = GetRetryAtTime(errors.New("boom"))
	require.False(t, ok)
}

func fmtErrorf(err error) error {
	return errors.Join(err)
}
