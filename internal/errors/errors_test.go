package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	require.Equal(t, 1, NewInitError("x", "", "", nil).ExitCode())
	require.Equal(t, 2, NewInterruptRequested("SIGINT").ExitCode())
	require.Equal(t, 3, NewHealthCheckError(errors.New("boom")).ExitCode())
	require.Equal(t, 1, NewReadError("/a", errors.New("boom")).ExitCode())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	se := NewWriteFatalError("/a/b", cause)
	require.ErrorIs(t, se, cause)
}

func TestErrorMessage(t *testing.T) {
	se := NewTraversalError("/root", errors.New("permission denied"))
	require.Contains(t, se.Error(), "TraversalError")
	require.Contains(t, se.Error(), "permission denied")
}
