package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/stretchr/testify/require"
)

// TestWithHint_KeepsSentinelIdentity verifies that copies still match their sentinel.
func TestWithHint_KeepsSentinelIdentity(t *testing.T) {
	err := errors.ErrNotFound.WithHint("client unknown")

	require.True(t, errors.Is(err, errors.ErrNotFound))
	require.False(t, errors.Is(err, errors.ErrConflict))
	require.Equal(t, "client unknown", err.Hint)
	require.Empty(t, errors.ErrNotFound.Hint, "sentinel must not be mutated")
}

// TestToError covers typed, wrapped and untyped errors.
func TestToError(t *testing.T) {
	t.Run("typed error passes through", func(t *testing.T) {
		e := errors.ToError(errors.ErrInvalidGrant)
		require.Equal(t, "invalid_grant", e.Name)
		require.Equal(t, http.StatusBadRequest, e.StatusCode)
	})

	t.Run("wrapped typed error is found", func(t *testing.T) {
		wrapped := fmt.Errorf("redeem: %w", errors.ErrConflict.WithHint("used"))
		e := errors.ToError(wrapped)
		require.Equal(t, "conflict", e.Name)
		require.Equal(t, "used", e.Hint)
	})

	t.Run("untyped error becomes server_error", func(t *testing.T) {
		e := errors.ToError(stderrors.New("boom"))
		require.Equal(t, "server_error", e.Name)
		require.Equal(t, http.StatusInternalServerError, e.StatusCode)
		require.Equal(t, "boom", e.Debug)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		require.Nil(t, errors.ToError(nil))
	})
}

// TestWrapf verifies the chain is preserved.
func TestWrapf(t *testing.T) {
	require.NoError(t, errors.Wrapf(nil, "ctx"))
	err := errors.Wrapf(errors.ErrForbidden, "[Admin] %s", "keys")
	require.True(t, errors.Is(err, errors.ErrForbidden))
	require.Contains(t, err.Error(), "[Admin] keys")
}
