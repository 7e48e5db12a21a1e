package token_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/jwk"
	jwkmemstore "github.com/jrsteele09/go-consent-server/jwk/memstore"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/jrsteele09/go-consent-server/token"
	tokenmemstore "github.com/jrsteele09/go-consent-server/token/memstore"
	"github.com/stretchr/testify/require"
)

const (
	issuer           = "https://auth.example.com"
	testClientID     = "app"
	testRedirectURI  = "https://app.example.com/cb"
	testCodeVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type testFixture struct {
	ctx     context.Context
	now     time.Time
	keys    *jwk.Manager
	store   *tokenmemstore.TokenStore
	manager *token.Manager
}

func setupTestFixture(t *testing.T, opts ...token.ManagerOption) *testFixture {
	t.Helper()
	f := &testFixture{
		ctx:   context.Background(),
		now:   time.Now().Truncate(time.Second),
		keys:  jwk.NewManager(jwkmemstore.New()),
		store: tokenmemstore.New(),
	}
	opts = append([]token.ManagerOption{
		token.WithIssuer(issuer),
		token.WithNowFunc(func() time.Time { return f.now }),
		token.WithTokenExpiry(time.Hour, time.Hour, 24*time.Hour),
	}, opts...)
	f.manager = token.New(f.store,
		f.keys.Signer(jwk.AccessTokenSet, jwk.RS256),
		f.keys.Signer(jwk.IDTokenSet, jwk.RS256),
		opts...)
	return f
}

func testGrant(requestID string) token.Grant {
	return token.Grant{
		RequestID:         requestID,
		ClientID:          testClientID,
		Subject:           "alice",
		GrantedScope:      []string{"openid", "offline", "read"},
		GrantedAudience:   []string{"https://api.example.com"},
		RedirectURI:       testRedirectURI,
		Nonce:             "n-0S6_WzA2Mj",
		AuthTime:          time.Now().Add(-time.Minute),
		SessionID:         "sid-1",
		AccessTokenClaims: map[string]any{"tenant": "acme"},
		IDTokenClaims:     map[string]any{"email": "alice@example.com", "sub": "spoofed"},
	}
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TestAuthorizationCode_FullExchange issues tokens from a redeemed code.
func TestAuthorizationCode_FullExchange(t *testing.T) {
	f := setupTestFixture(t)
	g := testGrant("req-1")
	g.CodeChallenge = s256(testCodeVerifier)
	g.CodeChallengeMethod = string(oauth2.CodeMethodTypeS256)

	code, err := f.manager.CreateAuthorizeCode(f.ctx, g)
	require.NoError(t, err)

	redeemed, err := f.manager.RedeemAuthorizeCode(f.ctx, code, testClientID, testRedirectURI, testCodeVerifier)
	require.NoError(t, err)
	require.Equal(t, "req-1", redeemed.RequestID)

	resp, err := f.manager.IssueTokens(f.ctx, *redeemed, true)
	require.NoError(t, err)
	require.Equal(t, oauth2.BearerTokenType, resp.TokenType)
	require.Equal(t, 3600, resp.ExpiresIn)
	require.Equal(t, "openid offline read", resp.Scope)
	require.NotEmpty(t, resp.RefreshToken)

	t.Run("access token claims", func(t *testing.T) {
		claims, err := f.keys.Signer(jwk.AccessTokenSet, jwk.RS256).Verify(f.ctx, resp.AccessToken)
		require.NoError(t, err)
		require.Equal(t, issuer, claims["iss"])
		require.Equal(t, "alice", claims["sub"])
		require.Equal(t, testClientID, claims["client_id"])
		require.Equal(t, []any{"openid", "offline", "read"}, claims["scp"])
		require.Equal(t, map[string]any{"tenant": "acme"}, claims["ext"])
		require.NotEmpty(t, claims["jti"])
	})

	t.Run("id token claims", func(t *testing.T) {
		claims, err := f.keys.Signer(jwk.IDTokenSet, jwk.RS256).Verify(f.ctx, resp.IDToken)
		require.NoError(t, err)
		require.Equal(t, "alice", claims["sub"], "session claims cannot override sub")
		require.Equal(t, "alice@example.com", claims["email"])
		require.Equal(t, "n-0S6_WzA2Mj", claims["nonce"])
		require.Equal(t, "sid-1", claims["sid"])
		require.Equal(t, token.LeftHalfHash(jwk.RS256, resp.AccessToken), claims["at_hash"])
		aud, err := claims.GetAudience()
		require.NoError(t, err)
		require.Equal(t, jwt.ClaimStrings{testClientID}, aud)
	})

	t.Run("code cannot be redeemed twice", func(t *testing.T) {
		_, err := f.manager.RedeemAuthorizeCode(f.ctx, code, testClientID, testRedirectURI, testCodeVerifier)
		require.True(t, errors.Is(err, errors.ErrInvalidGrant))
	})

	t.Run("code reuse revokes the family", func(t *testing.T) {
		require.False(t, f.manager.Introspect(f.ctx, resp.AccessToken, "", nil).Active)
		require.False(t, f.manager.Introspect(f.ctx, resp.RefreshToken, "", nil).Active)
	})
}

// TestRedeemAuthorizeCode_Checks covers every reason a code is refused.
func TestRedeemAuthorizeCode_Checks(t *testing.T) {
	tests := []struct {
		name        string
		challenge   string
		method      oauth2.CodeMethodType
		clientID    string
		redirectURI string
		verifier    string
		expired     bool
	}{
		{name: "other client", clientID: "other", redirectURI: testRedirectURI},
		{name: "redirect mismatch", clientID: testClientID, redirectURI: "https://evil.example.com/cb"},
		{name: "expired", clientID: testClientID, redirectURI: testRedirectURI, expired: true},
		{name: "missing verifier", challenge: s256(testCodeVerifier), method: oauth2.CodeMethodTypeS256, clientID: testClientID, redirectURI: testRedirectURI},
		{name: "wrong verifier", challenge: s256(testCodeVerifier), method: oauth2.CodeMethodTypeS256, clientID: testClientID, redirectURI: testRedirectURI, verifier: "x" + testCodeVerifier[1:]},
		{name: "verifier without challenge", clientID: testClientID, redirectURI: testRedirectURI, verifier: testCodeVerifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			g := testGrant("req")
			g.CodeChallenge = tt.challenge
			g.CodeChallengeMethod = string(tt.method)
			code, err := f.manager.CreateAuthorizeCode(f.ctx, g)
			require.NoError(t, err)
			if tt.expired {
				f.now = f.now.Add(11 * time.Minute)
			}
			_, err = f.manager.RedeemAuthorizeCode(f.ctx, code, tt.clientID, tt.redirectURI, tt.verifier)
			require.True(t, errors.Is(err, errors.ErrInvalidGrant), "got %v", err)
		})
	}

	t.Run("unknown code", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.manager.RedeemAuthorizeCode(f.ctx, "nope", testClientID, testRedirectURI, "")
		require.True(t, errors.Is(err, errors.ErrInvalidGrant))
	})
}

// TestVerifyPKCE checks both challenge methods.
func TestVerifyPKCE(t *testing.T) {
	require.NoError(t, token.VerifyPKCE(oauth2.CodeMethodTypeS256, s256(testCodeVerifier), testCodeVerifier))
	require.NoError(t, token.VerifyPKCE(oauth2.CodeMethodTypePlain, testCodeVerifier, testCodeVerifier))
	require.NoError(t, token.VerifyPKCE("", "", ""))
	require.Error(t, token.VerifyPKCE(oauth2.CodeMethodTypePlain, s256(testCodeVerifier), testCodeVerifier))
	require.Error(t, token.VerifyPKCE(oauth2.CodeMethodTypeS256, s256("short"), "short"))
}

// TestRedeemAuthorizeCode_Concurrent allows exactly one of many redemptions.
func TestRedeemAuthorizeCode_Concurrent(t *testing.T) {
	f := setupTestFixture(t)
	code, err := f.manager.CreateAuthorizeCode(f.ctx, testGrant("race"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.RedeemAuthorizeCode(f.ctx, code, testClientID, testRedirectURI, ""); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

// TestRefresh_Rotation verifies the old token dies and exactly one new one lives.
func TestRefresh_Rotation(t *testing.T) {
	f := setupTestFixture(t)
	first, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
	require.NoError(t, err)

	second, err := f.manager.Refresh(f.ctx, first.RefreshToken, testClientID, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEmpty(t, second.IDToken)

	t.Run("old access token revoked", func(t *testing.T) {
		require.False(t, f.manager.Introspect(f.ctx, first.AccessToken, "", nil).Active)
		require.True(t, f.manager.Introspect(f.ctx, second.AccessToken, "", nil).Active)
	})

	t.Run("reuse is invalid_grant", func(t *testing.T) {
		_, err := f.manager.Refresh(f.ctx, first.RefreshToken, testClientID, nil)
		require.True(t, errors.Is(err, errors.ErrInvalidGrant))
	})

	t.Run("replacement still valid", func(t *testing.T) {
		require.False(t, f.manager.Introspect(f.ctx, first.RefreshToken, "", nil).Active)
		require.True(t, f.manager.Introspect(f.ctx, second.RefreshToken, "", nil).Active)
	})

	t.Run("other client", func(t *testing.T) {
		_, err := f.manager.Refresh(f.ctx, second.RefreshToken, "other", nil)
		require.True(t, errors.Is(err, errors.ErrInvalidGrant))
	})

	t.Run("narrowed scope", func(t *testing.T) {
		third, err := f.manager.Refresh(f.ctx, second.RefreshToken, testClientID, oauth2.Arguments{"read"})
		require.NoError(t, err)
		require.Equal(t, "read", third.Scope)
		require.Empty(t, third.IDToken)

		_, err = f.manager.Refresh(f.ctx, third.RefreshToken, testClientID, oauth2.Arguments{"admin"})
		require.True(t, errors.Is(err, errors.ErrInvalidScope))
	})
}

// TestRefresh_Concurrent lets exactly one of many refreshes of the same token succeed.
func TestRefresh_Concurrent(t *testing.T) {
	f := setupTestFixture(t)
	resp, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.Refresh(f.ctx, resp.RefreshToken, testClientID, nil); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

// TestRefresh_WithoutRotation keeps the same refresh token.
func TestRefresh_WithoutRotation(t *testing.T) {
	f := setupTestFixture(t, token.WithRefreshTokenRotation(false))
	resp, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
	require.NoError(t, err)

	next, err := f.manager.Refresh(f.ctx, resp.RefreshToken, testClientID, nil)
	require.NoError(t, err)
	require.Equal(t, resp.RefreshToken, next.RefreshToken)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.manager.Refresh(f.ctx, resp.RefreshToken, testClientID, nil)
	require.True(t, errors.Is(err, errors.ErrInvalidGrant))
}

type failingSigner struct {
	token.Signer
	fail atomic.Bool
}

func (s *failingSigner) Sign(ctx context.Context, claims jwt.MapClaims) (string, error) {
	if s.fail.Load() {
		return "", errors.ErrInternal.WithHint("signing key unavailable")
	}
	return s.Signer.Sign(ctx, claims)
}

// TestRefresh_SigningFailureKeepsGrant leaves the presented token usable when signing fails.
func TestRefresh_SigningFailureKeepsGrant(t *testing.T) {
	f := setupTestFixture(t)
	signer := &failingSigner{Signer: f.keys.Signer(jwk.AccessTokenSet, jwk.RS256)}
	manager := token.New(f.store, signer, f.keys.Signer(jwk.IDTokenSet, jwk.RS256),
		token.WithIssuer(issuer),
		token.WithNowFunc(func() time.Time { return f.now }),
	)
	first, err := manager.IssueTokens(f.ctx, testGrant("fam"), true)
	require.NoError(t, err)

	signer.fail.Store(true)
	_, err = manager.Refresh(f.ctx, first.RefreshToken, testClientID, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, errors.ErrInvalidGrant))
	require.True(t, manager.Introspect(f.ctx, first.RefreshToken, "", nil).Active)
	require.True(t, manager.Introspect(f.ctx, first.AccessToken, "", nil).Active)

	signer.fail.Store(false)
	second, err := manager.Refresh(f.ctx, first.RefreshToken, testClientID, nil)
	require.NoError(t, err)
	require.True(t, manager.Introspect(f.ctx, second.RefreshToken, "", nil).Active)
	require.False(t, manager.Introspect(f.ctx, first.AccessToken, "", nil).Active)
}

// TestIntrospect_InactiveIsUniform checks unknown and revoked tokens look the same.
func TestIntrospect_InactiveIsUniform(t *testing.T) {
	f := setupTestFixture(t)
	resp, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
	require.NoError(t, err)

	active := f.manager.Introspect(f.ctx, resp.AccessToken, oauth2.AccessTokenHint, nil)
	require.True(t, active.Active)
	require.Equal(t, "alice", active.Subject)
	require.Equal(t, testClientID, active.ClientID)
	require.Equal(t, issuer, active.Issuer)
	require.Equal(t, []string{"https://api.example.com"}, active.Audience)

	require.NoError(t, f.manager.Revoke(f.ctx, resp.AccessToken, testClientID, ""))

	revoked := f.manager.Introspect(f.ctx, resp.AccessToken, "", nil)
	unknown := f.manager.Introspect(f.ctx, "not-a-token", "", nil)
	forged := f.manager.Introspect(f.ctx, "a.b.c", oauth2.RefreshTokenHint, nil)
	require.Equal(t, oauth2.Inactive(), revoked)
	require.Equal(t, revoked, unknown)
	require.Equal(t, revoked, forged)
	require.Equal(t, revoked, f.manager.Introspect(f.ctx, "", "", nil))

	t.Run("insufficient scope", func(t *testing.T) {
		require.True(t, f.manager.Introspect(f.ctx, resp.RefreshToken, "", oauth2.Arguments{"read"}).Active)
		require.Equal(t, oauth2.Inactive(), f.manager.Introspect(f.ctx, resp.RefreshToken, "", oauth2.Arguments{"write"}))
	})

	t.Run("expired", func(t *testing.T) {
		other, err := f.manager.IssueClientCredentials(f.ctx, testClientID, []string{"read"}, nil)
		require.NoError(t, err)
		f.now = f.now.Add(2 * time.Hour)
		require.Equal(t, oauth2.Inactive(), f.manager.Introspect(f.ctx, other.AccessToken, "", nil))
	})
}

// TestRevoke covers idempotency, cascade and foreign clients.
func TestRevoke(t *testing.T) {
	t.Run("refresh revocation cascades to access tokens", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
		require.NoError(t, err)

		require.NoError(t, f.manager.Revoke(f.ctx, resp.RefreshToken, testClientID, oauth2.RefreshTokenHint))
		require.False(t, f.manager.Introspect(f.ctx, resp.AccessToken, "", nil).Active)
		require.False(t, f.manager.Introspect(f.ctx, resp.RefreshToken, "", nil).Active)

		require.NoError(t, f.manager.Revoke(f.ctx, resp.RefreshToken, testClientID, ""), "revoke is idempotent")
	})

	t.Run("access revocation leaves refresh token", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
		require.NoError(t, err)

		require.NoError(t, f.manager.Revoke(f.ctx, resp.AccessToken, testClientID, oauth2.AccessTokenHint))
		require.NoError(t, f.manager.Revoke(f.ctx, resp.AccessToken, testClientID, oauth2.AccessTokenHint))
		require.False(t, f.manager.Introspect(f.ctx, resp.AccessToken, "", nil).Active)
		require.True(t, f.manager.Introspect(f.ctx, resp.RefreshToken, "", nil).Active)

		_, err = f.manager.ValidateAccessToken(f.ctx, resp.AccessToken)
		require.True(t, errors.Is(err, errors.ErrInvalidToken))
	})

	t.Run("other client's token is untouched", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
		require.NoError(t, err)

		require.NoError(t, f.manager.Revoke(f.ctx, resp.RefreshToken, "intruder", ""))
		require.NoError(t, f.manager.Revoke(f.ctx, resp.AccessToken, "intruder", ""))
		require.True(t, f.manager.Introspect(f.ctx, resp.RefreshToken, "", nil).Active)
		require.True(t, f.manager.Introspect(f.ctx, resp.AccessToken, "", nil).Active)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.manager.Revoke(f.ctx, "whatever", testClientID, ""))
	})
}

// TestIssueClientCredentials issues an access token only.
func TestIssueClientCredentials(t *testing.T) {
	f := setupTestFixture(t)
	resp, err := f.manager.IssueClientCredentials(f.ctx, "svc", []string{"openid", "read"}, []string{"api"})
	require.NoError(t, err)
	require.Empty(t, resp.IDToken)
	require.Empty(t, resp.RefreshToken)

	rec, err := f.manager.ValidateAccessToken(f.ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "svc", rec.Subject)
	require.Equal(t, []string{"api"}, rec.Audience)
}

// TestIssueImplicit returns only the requested implicit tokens.
func TestIssueImplicit(t *testing.T) {
	f := setupTestFixture(t)
	resp, err := f.manager.IssueImplicit(f.ctx, testGrant("imp"), false, true)
	require.NoError(t, err)
	require.Empty(t, resp.AccessToken)
	require.NotEmpty(t, resp.IDToken)

	claims, err := f.manager.VerifyIDToken(f.ctx, resp.IDToken)
	require.NoError(t, err)
	require.NotContains(t, claims, "at_hash")
}

// TestCleanup purges expired state.
func TestCleanup(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.IssueTokens(f.ctx, testGrant("fam"), true)
	require.NoError(t, err)
	_, err = f.manager.CreateAuthorizeCode(f.ctx, testGrant("code"))
	require.NoError(t, err)
	require.NoError(t, f.manager.MarkClientAssertionJTI(f.ctx, "jti-1", f.now.Add(time.Minute)))
	require.True(t, errors.Is(f.manager.MarkClientAssertionJTI(f.ctx, "jti-1", f.now.Add(time.Minute)), errors.ErrConflict))

	f.now = f.now.Add(48 * time.Hour)
	n, err := f.manager.Cleanup(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}
