package skerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("sentinel")

func TestWrap_PreservesSentinel(t *testing.T) {
	err := Wrap(errSentinel)
	require.Error(t, err)
	require.True(t, errors.Is(err, errSentinel))
	require.Contains(t, err.Error(), "sentinel")
	require.Contains(t, err.Error(), "skerr_test.go")
}

func TestWrapf_AddsMessage(t *testing.T) {
	err := Wrapf(errSentinel, "loading subscription %d", 12)
	require.True(t, errors.Is(err, errSentinel))
	require.Contains(t, err.Error(), "loading subscription 12")
}

func TestWrap_NilIsNil(t *testing.T) {
	require.NoError(t, Wrap(nil))
	require.NoError(t, Wrapf(nil, "ignored"))
}

func TestUnwrap_ReturnsInnermost(t *testing.T) {
	err := Wrapf(Wrap(errSentinel), "outer")
	require.Equal(t, errSentinel, Unwrap(err))
}
