package oauth2_test

import (
	"testing"

	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/stretchr/testify/require"
)

// TestArguments covers the set helpers used for scopes and response types.
func TestArguments(t *testing.T) {
	a := oauth2.ParseArguments("  openid  offline photos ")

	require.Equal(t, oauth2.Arguments{"openid", "offline", "photos"}, a)
	require.True(t, a.Has("photos"))
	require.True(t, a.HasAll("openid", "photos"))
	require.True(t, a.HasAll())
	require.False(t, a.HasAll("openid", "email"))
	require.True(t, a.HasOneOf("email", "offline"))
	require.True(t, oauth2.Arguments{"code"}.ExactOne("code"))
	require.False(t, a.ExactOne("openid"))
	require.True(t, oauth2.ParseArguments("id_token code").Matches("code", "id_token"))
	require.Equal(t, "openid offline photos", a.String())
}
