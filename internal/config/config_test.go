package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/stretchr/testify/require"
)

// TestDefaults verifies values used when nothing is configured.
func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BASE_URL", "")
	t.Setenv("ROTATE_REFRESH_TOKENS", "")
	c := config.New()

	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, "http://localhost:8080", c.GetBaseURL())
	require.Equal(t, "http://localhost:8080/ui/login", c.GetLoginURL())
	require.True(t, c.GetRotateRefreshTokens())
	require.Equal(t, time.Hour, c.GetDefaultAccessTokenExpiry())
	require.Equal(t, "hydra.admin", c.GetAdminScope())
}

// TestOverrides verifies environment parsing for each value kind.
func TestOverrides(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("BASE_URL", "https://auth.example.com/")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("ROTATE_REFRESH_TOKENS", "false")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	c := config.New()

	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, "https://auth.example.com", c.GetBaseURL())
	require.Equal(t, 5*time.Minute, c.GetDefaultAccessTokenExpiry())
	require.False(t, c.GetRotateRefreshTokens())
	require.Equal(t, 3, c.GetRedisDB())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("https://b.example"))
	require.False(t, c.GetAllowedOrigins().IsAllowedOrigin("https://c.example"))
}

// TestInvalidValuesFallBack ignores malformed durations and booleans.
func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("FLOW_TTL", "soon")
	t.Setenv("REQUIRE_PKCE", "perhaps")
	c := config.New()

	require.Equal(t, 30*time.Minute, c.GetFlowTimeout())
	require.False(t, c.GetRequirePKCE())
}
