package config

import "time"

type SecurityConfig interface {
	GetRequirePKCE() bool
	GetMaxSessionAge() time.Duration
	GetCookieHashKey() []byte
	GetCookieBlockKey() []byte
	GetCookieSecure() bool
	GetAdminScope() string
	GetAdminAuthDisabled() bool
	GetAdminClientID() string
	GetAdminClientSecret() string
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetRequirePKCE() bool {
	return getEnvBool("REQUIRE_PKCE", false)
}

// GetMaxSessionAge is used for remembered logins that do not set remember_for.
func (Security) GetMaxSessionAge() time.Duration {
	return getEnvDuration("SESSION_TTL", 24*time.Hour)
}

// GetCookieHashKey returns the HMAC key for session cookies. Empty means a
// random key is generated at startup, which invalidates cookies on restart.
func (Security) GetCookieHashKey() []byte {
	return []byte(GetEnv("COOKIE_HASH_KEY", ""))
}

// GetCookieBlockKey must be 16, 24 or 32 bytes when set.
func (Security) GetCookieBlockKey() []byte {
	return []byte(GetEnv("COOKIE_BLOCK_KEY", ""))
}

func (Security) GetCookieSecure() bool {
	return getEnvBool("COOKIE_SECURE", EnvVars{}.GetEnv() != "DEV")
}

func (Security) GetAdminScope() string {
	return GetEnv("ADMIN_SCOPE", "hydra.admin")
}

func (Security) GetAdminAuthDisabled() bool {
	return getEnvBool("ADMIN_AUTH_DISABLED", false)
}

func (Security) GetAdminClientID() string {
	return GetEnv("ADMIN_CLIENT_ID", "admin-cli")
}

// GetAdminClientSecret returns an empty string when a secret should be generated.
func (Security) GetAdminClientSecret() string {
	return GetEnv("ADMIN_CLIENT_SECRET", "")
}
