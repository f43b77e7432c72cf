package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "store unavailable")

	require.True(t, Is(err, CodeUnavailable))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "store unavailable", MessageOf(err))
}

func TestIsSeesThroughWrapping(t *testing.T) {
	err := New(CodeConflict, "already decided")
	wrapped := fmt.Errorf("engine: %w", err)

	require.True(t, Is(wrapped, CodeConflict))
	require.False(t, Is(wrapped, CodeForbidden))
}

func TestCodeOfUnknownErrorDefaultsToInternal(t *testing.T) {
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidInput: http.StatusBadRequest,
		CodeForbidden:    http.StatusForbidden,
		CodeConflict:     http.StatusConflict,
		CodeInvalidCode:  http.StatusBadRequest,
		CodeRateLimited:  http.StatusTooManyRequests,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
