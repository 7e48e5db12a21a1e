package redis

import (
	"context"
	"time"

	"github.com/jrsteele09/go-consent-server/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RevokedTokenCache shares revoked access token ids between instances. Keys
// expire with the token, so Cleanup has nothing to do.
type RevokedTokenCache struct {
	client  redis.UniversalClient
	ks      keyspace
	nowFunc func() time.Time
}

var _ token.RevokedTokenCache = (*RevokedTokenCache)(nil)

func NewRevokedTokenCache(client redis.UniversalClient, keyPrefix string) *RevokedTokenCache {
	return &RevokedTokenCache{client: client, ks: keyspace(keyPrefix), nowFunc: time.Now}
}

func (c *RevokedTokenCache) Add(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(c.nowFunc())
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.ks.key("revoked", jti), 1, ttl).Err()
}

// IsRevoked treats a Redis failure as not revoked; the store record still
// carries the revoked flag.
func (c *RevokedTokenCache) IsRevoked(ctx context.Context, jti string) bool {
	n, err := c.client.Exists(ctx, c.ks.key("revoked", jti)).Result()
	if err != nil {
		log.Err(err).Str("jti", jti).Msg("checking revoked token cache")
		return false
	}
	return n > 0
}

func (c *RevokedTokenCache) Cleanup(context.Context) {}
