package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeForAPIErrors(t *testing.T) {
	require.Equal(t, exitNotFound, exitCodeFor(&apiError{status: http.StatusNotFound}))
	require.Equal(t, exitRejected, exitCodeFor(&apiError{status: http.StatusUnauthorized}))
	require.Equal(t, exitRejected, exitCodeFor(&apiError{status: http.StatusForbidden}))
	require.Equal(t, exitRejected, exitCodeFor(&apiError{status: http.StatusBadRequest}))
	require.Equal(t, exitRejected, exitCodeFor(&apiError{status: http.StatusServiceUnavailable}))
	require.Equal(t, exitError, exitCodeFor(&apiError{status: http.StatusInternalServerError}))
}

func TestExitCodeForUnreachable(t *testing.T) {
	require.Equal(t, exitUnreachable, exitCodeFor(&unreachableError{cause: errors.New("dial failed")}))
}

func TestExitCodeForGenericError(t *testing.T) {
	require.Equal(t, exitError, exitCodeFor(errors.New("boom")))
}

func TestAPIErrorMessageIncludesStatusAndBody(t *testing.T) {
	err := &apiError{status: 404, body: "not found"}
	require.Contains(t, err.Error(), "404")
	require.Contains(t, err.Error(), "not found")
}

func TestUnreachableErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &unreachableError{cause: cause}
	require.ErrorIs(t, err, cause)
}
