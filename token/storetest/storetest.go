// Package storetest holds the behaviour every token.Store must share.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/token"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// TestStore runs the suite against stores built by newStore.
func TestStore(t *testing.T, newStore func(t *testing.T) token.Store) {
	t.Run("authorize codes", func(t *testing.T) {
		testAuthorizeCodes(t, newStore(t))
	})
	t.Run("concurrent code consumption", func(t *testing.T) {
		testConcurrentCodes(t, newStore(t))
	})
	t.Run("refresh rotation", func(t *testing.T) {
		testRefreshRotation(t, newStore(t))
	})
	t.Run("family revocation", func(t *testing.T) {
		testFamilyRevocation(t, newStore(t))
	})
	t.Run("client assertions", func(t *testing.T) {
		testClientAssertions(t, newStore(t))
	})
	t.Run("delete expired", func(t *testing.T) {
		testDeleteExpired(t, newStore(t))
	})
}

func grant(requestID string) token.Grant {
	return token.Grant{RequestID: requestID, ClientID: "app", Subject: "alice", GrantedScope: []string{"openid"}}
}

func testAuthorizeCodes(t *testing.T, s token.Store) {
	ctx := context.Background()
	c := &token.AuthorizeCode{Signature: "sig", Grant: grant("r1"), ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.CreateAuthorizeCode(ctx, c))
	require.True(t, errors.Is(s.CreateAuthorizeCode(ctx, c), errors.ErrConflict))

	got, err := s.ConsumeAuthorizeCode(ctx, "sig")
	require.NoError(t, err)
	require.Equal(t, "r1", got.Grant.RequestID)
	require.True(t, got.Used)

	again, err := s.ConsumeAuthorizeCode(ctx, "sig")
	require.True(t, errors.Is(err, errors.ErrConflict))
	require.NotNil(t, again)
	require.Equal(t, "r1", again.Grant.RequestID)

	_, err = s.ConsumeAuthorizeCode(ctx, "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func testConcurrentCodes(t *testing.T, s token.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAuthorizeCode(ctx, &token.AuthorizeCode{Signature: "race", Grant: grant("r"), ExpiresAt: now.Add(time.Minute)}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAuthorizeCode(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func refreshRecord(sig, requestID string) *token.RefreshTokenRecord {
	return &token.RefreshTokenRecord{Signature: sig, Grant: grant(requestID), IssuedAt: now, ExpiresAt: now.Add(time.Hour), Active: true}
}

func testRefreshRotation(t *testing.T, s token.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRefreshToken(ctx, refreshRecord("r-1", "fam")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := refreshRecord("r-2-"+string(rune('a'+i)), "fam")
			if err := s.RotateRefreshToken(ctx, "r-1", next); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	old, err := s.GetRefreshToken(ctx, "r-1")
	require.NoError(t, err)
	require.False(t, old.Active)

	_, err = s.GetRefreshToken(ctx, "nope")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	require.True(t, errors.Is(s.RotateRefreshToken(ctx, "nope", refreshRecord("x", "fam")), errors.ErrNotFound))
}

func accessRecord(jti, requestID string) *token.AccessTokenRecord {
	return &token.AccessTokenRecord{JTI: jti, RequestID: requestID, ClientID: "app", Subject: "alice", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func testFamilyRevocation(t *testing.T, s token.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAccessToken(ctx, accessRecord("a1", "fam")))
	require.NoError(t, s.CreateAccessToken(ctx, accessRecord("a2", "fam")))
	require.NoError(t, s.CreateAccessToken(ctx, accessRecord("b1", "other")))
	require.NoError(t, s.CreateRefreshToken(ctx, refreshRecord("r1", "fam")))

	require.NoError(t, s.RevokeAccessToken(ctx, "a1"))
	require.True(t, errors.Is(s.RevokeAccessToken(ctx, "zzz"), errors.ErrNotFound))

	revoked, err := s.RevokeAccessTokensByRequest(ctx, "fam")
	require.NoError(t, err)
	require.Len(t, revoked, 1, "already revoked tokens are not reported again")
	require.Equal(t, "a2", revoked[0].JTI)

	refresh, err := s.GetRefreshToken(ctx, "r1")
	require.NoError(t, err)
	require.True(t, refresh.Active, "access revocation leaves refresh tokens")

	_, err = s.RevokeRequest(ctx, "fam")
	require.NoError(t, err)
	refresh, err = s.GetRefreshToken(ctx, "r1")
	require.NoError(t, err)
	require.False(t, refresh.Active)

	b1, err := s.GetAccessToken(ctx, "b1")
	require.NoError(t, err)
	require.False(t, b1.Revoked)
}

func testClientAssertions(t *testing.T, s token.Store) {
	ctx := context.Background()
	require.NoError(t, s.MarkClientAssertionJTI(ctx, "j1", now.Add(time.Minute)))
	require.True(t, errors.Is(s.MarkClientAssertionJTI(ctx, "j1", now.Add(time.Minute)), errors.ErrConflict))
	require.NoError(t, s.MarkClientAssertionJTI(ctx, "j2", now.Add(time.Minute)))
}

func testDeleteExpired(t *testing.T, s token.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAuthorizeCode(ctx, &token.AuthorizeCode{Signature: "c", Grant: grant("f"), ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, s.CreateAccessToken(ctx, accessRecord("old", "f")))
	require.NoError(t, s.CreateAccessToken(ctx, &token.AccessTokenRecord{JTI: "new", RequestID: "f", ExpiresAt: now.Add(3 * time.Hour)}))
	require.NoError(t, s.MarkClientAssertionJTI(ctx, "j", now.Add(-time.Second)))

	n, err := s.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = s.GetAccessToken(ctx, "old")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = s.GetAccessToken(ctx, "new")
	require.NoError(t, err)
	require.NoError(t, s.MarkClientAssertionJTI(ctx, "j", now.Add(3*time.Hour)), "expired jti may be reused")
}
