package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-consent-server/internal/utils"
	"github.com/stretchr/testify/require"
)

// TestRandomToken checks length and uniqueness.
func TestRandomToken(t *testing.T) {
	a, err := utils.RandomToken(32)
	require.NoError(t, err)
	b, err := utils.RandomToken(32)
	require.NoError(t, err)
	require.Len(t, a, 43)
	require.NotEqual(t, a, b)
}

// TestToStringSlice drops non-string values.
func TestToStringSlice(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, utils.ToStringSlice([]any{"a", 1, "b", nil}))
}

// TestPointerHelpers covers Ptr and Value.
func TestPointerHelpers(t *testing.T) {
	require.Equal(t, 3, utils.Value(utils.Ptr(3)))
	var s *string
	require.Equal(t, "", utils.Value(s))
}
