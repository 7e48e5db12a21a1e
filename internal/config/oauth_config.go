package config

import "time"

type OAuthConfig interface {
	GetAuthCodeTimeout() time.Duration
	GetFlowTimeout() time.Duration
	GetDefaultAccessTokenExpiry() time.Duration
	GetDefaultIDTokenExpiry() time.Duration
	GetDefaultRefreshTokenExpiry() time.Duration
	GetRotateRefreshTokens() bool
	GetIDTokenAlgorithm() string
	GetAccessTokenAlgorithm() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetAuthCodeTimeout() time.Duration {
	return getEnvDuration("AUTH_CODE_TTL", 10*time.Minute)
}

// GetFlowTimeout is how long a login, consent or logout challenge may stay pending.
func (OAuth) GetFlowTimeout() time.Duration {
	return getEnvDuration("FLOW_TTL", 30*time.Minute)
}

func (OAuth) GetDefaultAccessTokenExpiry() time.Duration {
	return getEnvDuration("ACCESS_TOKEN_TTL", 1*time.Hour)
}

func (OAuth) GetDefaultIDTokenExpiry() time.Duration {
	return getEnvDuration("ID_TOKEN_TTL", 1*time.Hour)
}

func (OAuth) GetDefaultRefreshTokenExpiry() time.Duration {
	return getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour)
}

func (OAuth) GetRotateRefreshTokens() bool {
	return getEnvBool("ROTATE_REFRESH_TOKENS", true)
}

func (OAuth) GetIDTokenAlgorithm() string {
	return GetEnv("ID_TOKEN_ALG", "RS256")
}

func (OAuth) GetAccessTokenAlgorithm() string {
	return GetEnv("ACCESS_TOKEN_ALG", "RS256")
}
