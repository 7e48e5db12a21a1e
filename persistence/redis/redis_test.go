package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-consent-server/consent"
	consentstoretest "github.com/jrsteele09/go-consent-server/consent/storetest"
	redisstore "github.com/jrsteele09/go-consent-server/persistence/redis"
	"github.com/jrsteele09/go-consent-server/token"
	tokenstoretest "github.com/jrsteele09/go-consent-server/token/storetest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const prefix = "test:"

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// TestConsentStore runs the shared consent store suite against Redis.
func TestConsentStore(t *testing.T) {
	consentstoretest.TestStore(t, func(t *testing.T) consent.Store {
		_, client := newClient(t)
		return redisstore.NewConsentStore(client, prefix)
	})
}

// TestTokenStore runs the shared token store suite against Redis.
func TestTokenStore(t *testing.T) {
	tokenstoretest.TestStore(t, func(t *testing.T) token.Store {
		_, client := newClient(t)
		return redisstore.NewTokenStore(client, prefix)
	})
}

// TestConsentStore_KeyPrefix keeps all keys under the configured prefix.
func TestConsentStore_KeyPrefix(t *testing.T) {
	mr, client := newClient(t)
	s := redisstore.NewConsentStore(client, prefix)
	require.NoError(t, s.SaveLoginSession(context.Background(), &consent.LoginSession{ID: "s1", Subject: "alice", ExpiresAt: time.Now().Add(time.Hour)}))

	for _, key := range mr.Keys() {
		require.Contains(t, key, prefix)
	}
	require.True(t, mr.Exists(prefix+"session:s1"))
}

// TestDeleteExpired_SharedPrefix purges each store's records with its own index cleanup.
func TestDeleteExpired_SharedPrefix(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	consents := redisstore.NewConsentStore(client, prefix)
	tokens := redisstore.NewTokenStore(client, prefix)
	past := time.Now().Add(-time.Minute)

	require.NoError(t, consents.CreateChallenge(ctx, &consent.Challenge{
		ID: "c1", Kind: consent.KindLogin, Verifier: "v1", Status: consent.StatusPending, ExpiresAt: past,
	}))
	require.NoError(t, consents.SaveLoginSession(ctx, &consent.LoginSession{ID: "s1", Subject: "alice", ExpiresAt: past}))
	require.NoError(t, tokens.CreateRefreshToken(ctx, &token.RefreshTokenRecord{
		Signature: "sig1", Grant: token.Grant{RequestID: "fam"}, ExpiresAt: past, Active: true,
	}))

	n, err := tokens.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = consents.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Empty(t, mr.Keys())
}

// TestTokenStore_DeleteExpiredPartialFailure reports what was purged before an error.
func TestTokenStore_DeleteExpiredPartialFailure(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	tokens := redisstore.NewTokenStore(client, prefix)
	now := time.Now()

	require.NoError(t, tokens.CreateRefreshToken(ctx, &token.RefreshTokenRecord{
		Signature: "sig1", Grant: token.Grant{RequestID: "fam"}, ExpiresAt: now.Add(-2 * time.Minute), Active: true,
	}))
	// A record of the wrong type makes GETDEL fail on the second key.
	_, err := mr.SAdd(prefix+"refresh:broken", "x")
	require.NoError(t, err)
	_, err = mr.ZAdd(prefix+"expiry:token", float64(now.Add(-time.Minute).UnixMilli()), prefix+"refresh:broken")
	require.NoError(t, err)

	n, err := tokens.DeleteExpired(ctx, now)
	require.Error(t, err)
	require.Equal(t, 1, n)
	require.False(t, mr.Exists(prefix+"refresh:sig1"))
}

// TestRevokedTokenCache checks entries live exactly as long as the token.
func TestRevokedTokenCache(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	cache := redisstore.NewRevokedTokenCache(client, prefix)

	require.NoError(t, cache.Add(ctx, "jti-1", time.Now().Add(time.Minute)))
	require.NoError(t, cache.Add(ctx, "jti-old", time.Now().Add(-time.Minute)))
	require.True(t, cache.IsRevoked(ctx, "jti-1"))
	require.False(t, cache.IsRevoked(ctx, "jti-old"))
	require.False(t, cache.IsRevoked(ctx, "unknown"))

	mr.FastForward(2 * time.Minute)
	cache.Cleanup(ctx)
	require.False(t, cache.IsRevoked(ctx, "jti-1"))
}

// TestConnect fails fast without an address and succeeds against a live server.
func TestConnect(t *testing.T) {
	_, err := redisstore.Connect(context.Background(), redisstore.Config{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	client, err := redisstore.Connect(context.Background(), redisstore.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}
