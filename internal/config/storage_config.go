package config

import "time"

type StorageConfig interface {
	GetDatabaseDSN() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetCleanupInterval() time.Duration
}

// Storage selects the backing stores. Empty DSNs fall back to memory.
type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetDatabaseDSN() string {
	return GetEnv("DATABASE_DSN", "")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return getEnvInt("REDIS_DB", 0)
}

func (Storage) GetRedisKeyPrefix() string {
	return GetEnv("REDIS_KEY_PREFIX", "consent-server:")
}

// GetCleanupInterval is how often expired challenges and tokens are purged.
func (Storage) GetCleanupInterval() time.Duration {
	return getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
}
