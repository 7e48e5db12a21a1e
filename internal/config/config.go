package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	UrlsConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	StorageConfig
	UIConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
	GetVersion() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
}

type mainConfig struct {
	EnvVars
	Urls
	Cors
	OAuth
	Security
	Storage
	UI
}

// New loads a .env file from the working directory when one exists and
// returns the environment backed configuration.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
