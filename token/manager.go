package token

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/internal/utils"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const opaqueTokenLength = 32

type Manager struct {
	store              Store
	accessSigner       Signer
	idSigner           Signer
	issuer             string
	revokedCache       RevokedTokenCache
	rotateRefresh      bool
	authCodeExpiry     time.Duration
	accessTokenExpiry  time.Duration
	idTokenExpiry      time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry time.Duration, idTokenExpiry time.Duration, refreshTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.idTokenExpiry = idTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithAuthCodeExpiry(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.authCodeExpiry = d
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithRevokedTokenCache(cache RevokedTokenCache) ManagerOption {
	return func(m *Manager) {
		m.revokedCache = cache
	}
}

// WithRefreshTokenRotation controls whether a refresh replaces the refresh token.
func WithRefreshTokenRotation(rotate bool) ManagerOption {
	return func(m *Manager) {
		m.rotateRefresh = rotate
	}
}

// New creates a token manager. Access tokens are signed by accessSigner, ID tokens by idSigner.
func New(store Store, accessSigner, idSigner Signer, options ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		accessSigner:  accessSigner,
		idSigner:      idSigner,
		revokedCache:  NewInMemoryRevokedTokenCache(), // Default implementation
		rotateRefresh: true,
	}

	for _, opt := range options {
		opt(m)
	}

	if m.authCodeExpiry == 0 {
		m.authCodeExpiry = 10 * time.Minute
	}
	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = time.Hour
	}
	if m.idTokenExpiry == 0 {
		m.idTokenExpiry = time.Hour
	}
	if m.refreshTokenExpiry == 0 {
		m.refreshTokenExpiry = 30 * 24 * time.Hour
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m
}

// AccessTokenLifespan is reported as expires_in.
func (m *Manager) AccessTokenLifespan() time.Duration {
	return m.accessTokenExpiry
}

// CreateAuthorizeCode stores grant behind a new single-use code.
func (m *Manager) CreateAuthorizeCode(ctx context.Context, grant Grant) (string, error) {
	code, err := utils.RandomToken(opaqueTokenLength)
	if err != nil {
		return "", errors.Wrap(err, "[CreateAuthorizeCode] random")
	}
	if err := m.store.CreateAuthorizeCode(ctx, &AuthorizeCode{
		Signature: Signature(code),
		Grant:     grant.Clone(),
		ExpiresAt: m.nowFunc().Add(m.authCodeExpiry).UTC(),
	}); err != nil {
		return "", errors.Wrap(err, "[CreateAuthorizeCode] store")
	}
	return code, nil
}

// RedeemAuthorizeCode consumes code and checks it against the token request.
// A second redemption revokes everything issued from the first.
func (m *Manager) RedeemAuthorizeCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*Grant, error) {
	if code == "" {
		return nil, apperrors.ErrBadRequest.WithHint("Form parameter 'code' is required.")
	}
	ac, err := m.store.ConsumeAuthorizeCode(ctx, Signature(code))
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		return nil, apperrors.ErrInvalidGrant.WithHint("The authorization code is unknown.")
	case apperrors.Is(err, apperrors.ErrConflict):
		if ac != nil {
			log.Warn().Str("request_id", ac.Grant.RequestID).Msg("authorization code reused, revoking token family")
			if rerr := m.RevokeRequest(ctx, ac.Grant.RequestID); rerr != nil {
				log.Err(rerr).Msg("revoking token family")
			}
		}
		return nil, apperrors.ErrInvalidGrant.WithHint("The authorization code has already been used.")
	case err != nil:
		return nil, errors.Wrap(err, "[RedeemAuthorizeCode] consume")
	}

	g := ac.Grant
	if m.nowFunc().After(ac.ExpiresAt) {
		return nil, apperrors.ErrInvalidGrant.WithHint("The authorization code has expired.")
	}
	if g.ClientID != clientID {
		return nil, apperrors.ErrInvalidGrant.WithHint("The authorization code was issued to another client.")
	}
	if g.RedirectURI != "" && g.RedirectURI != redirectURI {
		return nil, apperrors.ErrInvalidGrant.WithHint("The 'redirect_uri' does not match the one used in the authorization request.")
	}
	if err := VerifyPKCE(oauth2.CodeMethodType(g.CodeChallengeMethod), g.CodeChallenge, codeVerifier); err != nil {
		return nil, err
	}
	return &g, nil
}

// VerifyPKCE checks a code_verifier against the stored challenge.
func VerifyPKCE(method oauth2.CodeMethodType, challenge, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			return apperrors.ErrInvalidGrant.WithHint("A 'code_verifier' was sent but the authorization request had no 'code_challenge'.")
		}
		return nil
	}
	if verifier == "" {
		return apperrors.ErrInvalidGrant.WithHint("Form parameter 'code_verifier' is required.")
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return apperrors.ErrInvalidGrant.WithHint("The 'code_verifier' must be between 43 and 128 characters.")
	}
	expected := verifier
	if method == oauth2.CodeMethodTypeS256 {
		sum := sha256.Sum256([]byte(verifier))
		expected = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) != 1 {
		return apperrors.ErrInvalidGrant.WithHint("The 'code_verifier' does not match the 'code_challenge'.")
	}
	return nil
}

// IssueTokens mints the token response for a grant. An ID token is added when
// openid was granted, a refresh token when withRefresh is set.
func (m *Manager) IssueTokens(ctx context.Context, grant Grant, withRefresh bool) (*oauth2.TokenResponse, error) {
	resp, err := m.issue(ctx, grant, true, true)
	if err != nil {
		return nil, err
	}
	if withRefresh {
		refresh, err := m.newRefreshToken(grant)
		if err != nil {
			return nil, err
		}
		if err := m.store.CreateRefreshToken(ctx, refresh.record); err != nil {
			return nil, errors.Wrap(err, "[IssueTokens] store refresh token")
		}
		resp.RefreshToken = refresh.raw
	}
	return resp, nil
}

// IssueImplicit mints the tokens returned in an implicit authorization response.
func (m *Manager) IssueImplicit(ctx context.Context, grant Grant, accessToken, idToken bool) (*oauth2.TokenResponse, error) {
	return m.issue(ctx, grant, accessToken, idToken)
}

// Refresh exchanges a refresh token. requestedScope may narrow the original grant.
func (m *Manager) Refresh(ctx context.Context, raw, clientID string, requestedScope oauth2.Arguments) (*oauth2.TokenResponse, error) {
	if raw == "" {
		return nil, apperrors.ErrBadRequest.WithHint("Form parameter 'refresh_token' is required.")
	}
	rec, err := m.store.GetRefreshToken(ctx, Signature(raw))
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrInvalidGrant.WithHint("The refresh token is unknown.")
	} else if err != nil {
		return nil, errors.Wrap(err, "[Refresh] get")
	}
	if rec.Grant.ClientID != clientID {
		return nil, apperrors.ErrInvalidGrant.WithHint("The refresh token was issued to another client.")
	}
	if !rec.Active {
		log.Warn().Str("request_id", rec.Grant.RequestID).Msg("inactive refresh token presented")
		return nil, apperrors.ErrInvalidGrant.WithHint("The refresh token is no longer active.")
	}
	if m.nowFunc().After(rec.ExpiresAt) {
		return nil, apperrors.ErrInvalidGrant.WithHint("The refresh token has expired.")
	}

	grant := rec.Grant.Clone()
	if len(requestedScope) > 0 {
		for _, s := range requestedScope {
			if !slices.Contains(rec.Grant.GrantedScope, s) {
				return nil, apperrors.ErrInvalidScope.WithHintf("The scope %q was not granted originally.", s)
			}
		}
		grant.GrantedScope = append([]string(nil), requestedScope...)
	}

	// Sign before touching stored state so a signing failure leaves the
	// presented refresh token usable.
	mt, err := m.mint(ctx, grant, true, true)
	if err != nil {
		return nil, err
	}

	refreshRaw := raw
	if m.rotateRefresh {
		next, err := m.newRefreshToken(rec.Grant)
		if err != nil {
			return nil, err
		}
		err = m.store.RotateRefreshToken(ctx, rec.Signature, next.record)
		if apperrors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.ErrInvalidGrant.WithHint("The refresh token has already been used.")
		} else if err != nil {
			return nil, errors.Wrap(err, "[Refresh] rotate")
		}
		refreshRaw = next.raw
	}

	revoked, err := m.store.RevokeAccessTokensByRequest(ctx, rec.Grant.RequestID)
	if err != nil {
		return nil, errors.Wrap(err, "[Refresh] revoke previous access tokens")
	}
	m.cacheRevoked(ctx, revoked)

	if err := m.persist(ctx, mt); err != nil {
		return nil, err
	}
	mt.resp.RefreshToken = refreshRaw
	log.Debug().Str("client_id", clientID).Str("request_id", grant.RequestID).Msg("refresh token exchanged")
	return mt.resp, nil
}

// IssueClientCredentials mints an access token whose subject is the client.
func (m *Manager) IssueClientCredentials(ctx context.Context, clientID string, scope, audience []string) (*oauth2.TokenResponse, error) {
	now := m.nowFunc().UTC()
	grant := Grant{
		RequestID:       uuid.NewString(),
		ClientID:        clientID,
		Subject:         clientID,
		GrantedScope:    scope,
		GrantedAudience: audience,
		RequestedAt:     now,
	}
	return m.issue(ctx, grant, true, false)
}

// ValidateAccessToken returns the record of an active access token or
// errors.ErrInvalidToken.
func (m *Manager) ValidateAccessToken(ctx context.Context, raw string) (*AccessTokenRecord, error) {
	rec, err := m.activeAccessToken(ctx, raw)
	if err != nil {
		return nil, apperrors.ErrInvalidToken.WithDebug(err.Error())
	}
	return rec, nil
}

// Introspect reports on an access or refresh token. Anything not usable,
// including a token lacking requiredScope, is {"active":false}.
func (m *Manager) Introspect(ctx context.Context, raw string, hint oauth2.TokenTypeHint, requiredScope oauth2.Arguments) *oauth2.IntrospectionResponse {
	if strings.TrimSpace(raw) == "" {
		return oauth2.Inactive()
	}
	for _, kind := range lookupOrder(raw, hint) {
		var resp *oauth2.IntrospectionResponse
		switch kind {
		case oauth2.AccessTokenHint:
			resp = m.introspectAccess(ctx, raw)
		case oauth2.RefreshTokenHint:
			resp = m.introspectRefresh(ctx, raw)
		}
		if resp == nil {
			continue
		}
		if !oauth2.ParseArguments(resp.Scope).HasAll(requiredScope...) {
			return oauth2.Inactive()
		}
		return resp
	}
	return oauth2.Inactive()
}

// Revoke revokes a token owned by clientID. Unknown tokens and tokens of
// other clients are ignored.
func (m *Manager) Revoke(ctx context.Context, raw, clientID string, hint oauth2.TokenTypeHint) error {
	for _, kind := range lookupOrder(raw, hint) {
		switch kind {
		case oauth2.AccessTokenHint:
			rec, err := m.accessTokenRecord(ctx, raw, jwt.WithoutClaimsValidation())
			if err != nil {
				continue
			}
			if rec.ClientID != clientID {
				return nil
			}
			if err := m.store.RevokeAccessToken(ctx, rec.JTI); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return errors.Wrap(err, "[Revoke] access token")
			}
			m.cacheRevoked(ctx, []*AccessTokenRecord{rec})
			log.Debug().Str("jti", rec.JTI).Msg("access token revoked")
			return nil
		case oauth2.RefreshTokenHint:
			rec, err := m.store.GetRefreshToken(ctx, Signature(raw))
			if err != nil {
				continue
			}
			if rec.Grant.ClientID != clientID {
				return nil
			}
			log.Debug().Str("request_id", rec.Grant.RequestID).Msg("refresh token revoked")
			return m.RevokeRequest(ctx, rec.Grant.RequestID)
		}
	}
	return nil
}

// RevokeRequest revokes every token of a family.
func (m *Manager) RevokeRequest(ctx context.Context, requestID string) error {
	revoked, err := m.store.RevokeRequest(ctx, requestID)
	if err != nil {
		return errors.Wrap(err, "[RevokeRequest] store")
	}
	m.cacheRevoked(ctx, revoked)
	return nil
}

// MarkClientAssertionJTI guards private_key_jwt assertions against replay.
func (m *Manager) MarkClientAssertionJTI(ctx context.Context, jti string, exp time.Time) error {
	return m.store.MarkClientAssertionJTI(ctx, jti, exp)
}

// Cleanup purges expired codes, tokens and revocation entries.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.revokedCache.Cleanup(ctx)
	n, err := m.store.DeleteExpired(ctx, m.nowFunc())
	if err != nil {
		return n, errors.Wrap(err, "[Cleanup] store")
	}
	return n, nil
}

type refreshToken struct {
	raw    string
	record *RefreshTokenRecord
}

func (m *Manager) newRefreshToken(grant Grant) (*refreshToken, error) {
	raw, err := utils.RandomToken(opaqueTokenLength)
	if err != nil {
		return nil, errors.Wrap(err, "refresh token random")
	}
	now := m.nowFunc().UTC()
	return &refreshToken{raw: raw, record: &RefreshTokenRecord{
		Signature: Signature(raw),
		Grant:     grant.Clone(),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.refreshTokenExpiry),
		Active:    true,
	}}, nil
}

func (m *Manager) cacheRevoked(ctx context.Context, recs []*AccessTokenRecord) {
	for _, r := range recs {
		if err := m.revokedCache.Add(ctx, r.JTI, r.ExpiresAt); err != nil {
			log.Err(err).Str("jti", r.JTI).Msg("caching revoked token")
		}
	}
}

// minted holds signed tokens whose access token record is not stored yet.
type minted struct {
	resp   *oauth2.TokenResponse
	access *AccessTokenRecord
}

func (m *Manager) issue(ctx context.Context, grant Grant, withAccess, withID bool) (*oauth2.TokenResponse, error) {
	mt, err := m.mint(ctx, grant, withAccess, withID)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx, mt); err != nil {
		return nil, err
	}
	return mt.resp, nil
}

// mint signs the tokens for grant without writing to the store.
func (m *Manager) mint(ctx context.Context, grant Grant, withAccess, withID bool) (*minted, error) {
	mt := &minted{resp: &oauth2.TokenResponse{
		TokenType: oauth2.BearerTokenType,
		ExpiresIn: int(m.accessTokenExpiry.Seconds()),
		Scope:     strings.Join(grant.GrantedScope, " "),
	}}
	if withAccess {
		at, rec, err := m.signAccessToken(ctx, grant)
		if err != nil {
			return nil, err
		}
		mt.resp.AccessToken = at
		mt.access = rec
	}
	if withID && slices.Contains(grant.GrantedScope, oauth2.ScopeOpenID) {
		idt, err := m.createIDToken(ctx, grant, mt.resp.AccessToken)
		if err != nil {
			return nil, err
		}
		mt.resp.IDToken = idt
	}
	return mt, nil
}

func (m *Manager) persist(ctx context.Context, mt *minted) error {
	if mt.access != nil {
		if err := m.store.CreateAccessToken(ctx, mt.access); err != nil {
			return errors.Wrap(err, "[persist] store access token")
		}
		log.Debug().Str("client_id", mt.access.ClientID).Str("request_id", mt.access.RequestID).Msg("tokens issued")
	}
	return nil
}

func (m *Manager) signAccessToken(ctx context.Context, g Grant) (string, *AccessTokenRecord, error) {
	now := m.nowFunc()
	exp := now.Add(m.accessTokenExpiry)
	jti := uuid.NewString()
	scope := nonNil(g.GrantedScope)
	audience := nonNil(g.GrantedAudience)

	claims := jwt.MapClaims{
		"iss":       m.issuer,
		"sub":       g.Subject,
		"aud":       audience,
		"client_id": g.ClientID,
		"scp":       scope,
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       exp.Unix(),
		"jti":       jti,
	}
	if len(g.AccessTokenClaims) > 0 {
		claims["ext"] = g.AccessTokenClaims
	}

	signed, err := m.accessSigner.Sign(ctx, claims)
	if err != nil {
		return "", nil, errors.Wrap(err, "[signAccessToken] sign")
	}
	return signed, &AccessTokenRecord{
		JTI:       jti,
		RequestID: g.RequestID,
		ClientID:  g.ClientID,
		Subject:   g.Subject,
		Scope:     scope,
		Audience:  audience,
		IssuedAt:  now.UTC(),
		ExpiresAt: exp.UTC(),
		Extra:     g.AccessTokenClaims,
		UserInfo:  g.IDTokenClaims,
	}, nil
}

// reservedIDTokenClaims cannot be overridden by session claims.
var reservedIDTokenClaims = []string{"iss", "sub", "aud", "iat", "exp", "nbf", "jti", "auth_time", "nonce", "at_hash", "acr", "amr", "sid", "azp"}

func (m *Manager) createIDToken(ctx context.Context, g Grant, accessToken string) (string, error) {
	now := m.nowFunc()
	claims := jwt.MapClaims{}
	for k, v := range g.IDTokenClaims {
		if !slices.Contains(reservedIDTokenClaims, k) {
			claims[k] = v
		}
	}
	claims["iss"] = m.issuer
	claims["sub"] = g.Subject
	claims["aud"] = []string{g.ClientID}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(m.idTokenExpiry).Unix()
	claims["jti"] = uuid.NewString()
	if !g.AuthTime.IsZero() {
		claims["auth_time"] = g.AuthTime.Unix()
	}
	if g.Nonce != "" {
		claims["nonce"] = g.Nonce
	}
	if g.ACR != "" {
		claims["acr"] = g.ACR
	}
	if len(g.AMR) > 0 {
		claims["amr"] = g.AMR
	}
	if g.SessionID != "" {
		claims["sid"] = g.SessionID
	}
	if accessToken != "" {
		alg, err := m.idSigner.Algorithm(ctx)
		if err != nil {
			return "", errors.Wrap(err, "[createIDToken] algorithm")
		}
		claims["at_hash"] = LeftHalfHash(alg, accessToken)
	}

	signed, err := m.idSigner.Sign(ctx, claims)
	if err != nil {
		return "", errors.Wrap(err, "[createIDToken] sign")
	}
	return signed, nil
}

// VerifyIDToken checks an ID token this server issued, ignoring expiry, as
// needed for id_token_hint.
func (m *Manager) VerifyIDToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims, err := m.idSigner.Verify(ctx, raw, jwt.WithoutClaimsValidation(), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, apperrors.ErrBadRequest.WithHint("The 'id_token_hint' is not a valid ID token issued by this server.").WithDebug(err.Error())
	}
	return claims, nil
}

// accessTokenRecord verifies raw and loads its record, whatever its state.
func (m *Manager) accessTokenRecord(ctx context.Context, raw string, opts ...jwt.ParserOption) (*AccessTokenRecord, error) {
	claims, err := m.accessSigner.Verify(ctx, raw, append(opts, jwt.WithIssuer(m.issuer))...)
	if err != nil {
		return nil, err
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, errors.New("token has no jti")
	}
	return m.store.GetAccessToken(ctx, jti)
}

func (m *Manager) activeAccessToken(ctx context.Context, raw string) (*AccessTokenRecord, error) {
	rec, err := m.accessTokenRecord(ctx, raw, jwt.WithTimeFunc(m.nowFunc))
	if err != nil {
		return nil, err
	}
	if rec.Revoked || m.revokedCache.IsRevoked(ctx, rec.JTI) {
		return nil, errors.New("token revoked")
	}
	if m.nowFunc().After(rec.ExpiresAt) {
		return nil, errors.New("token expired")
	}
	return rec, nil
}

func (m *Manager) introspectAccess(ctx context.Context, raw string) *oauth2.IntrospectionResponse {
	rec, err := m.activeAccessToken(ctx, raw)
	if err != nil {
		return nil
	}
	return &oauth2.IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(rec.Scope, " "),
		ClientID:  rec.ClientID,
		Subject:   rec.Subject,
		ExpiresAt: rec.ExpiresAt.Unix(),
		IssuedAt:  rec.IssuedAt.Unix(),
		NotBefore: rec.IssuedAt.Unix(),
		Audience:  rec.Audience,
		Issuer:    m.issuer,
		TokenType: "Bearer",
		TokenUse:  string(oauth2.AccessTokenHint),
		Extra:     rec.Extra,
	}
}

func (m *Manager) introspectRefresh(ctx context.Context, raw string) *oauth2.IntrospectionResponse {
	rec, err := m.store.GetRefreshToken(ctx, Signature(raw))
	if err != nil || !rec.Active || m.nowFunc().After(rec.ExpiresAt) {
		return nil
	}
	return &oauth2.IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(rec.Grant.GrantedScope, " "),
		ClientID:  rec.Grant.ClientID,
		Subject:   rec.Grant.Subject,
		ExpiresAt: rec.ExpiresAt.Unix(),
		IssuedAt:  rec.IssuedAt.Unix(),
		NotBefore: rec.IssuedAt.Unix(),
		Audience:  rec.Grant.GrantedAudience,
		Issuer:    m.issuer,
		TokenType: "Bearer",
		TokenUse:  string(oauth2.RefreshTokenHint),
	}
}

// lookupOrder tries the hinted type first. Opaque tokens are never JWTs, so
// a token without two dots is only looked up as a refresh token.
func lookupOrder(raw string, hint oauth2.TokenTypeHint) []oauth2.TokenTypeHint {
	if strings.Count(raw, ".") != 2 {
		return []oauth2.TokenTypeHint{oauth2.RefreshTokenHint}
	}
	if hint == oauth2.RefreshTokenHint {
		return []oauth2.TokenTypeHint{oauth2.RefreshTokenHint, oauth2.AccessTokenHint}
	}
	return []oauth2.TokenTypeHint{oauth2.AccessTokenHint, oauth2.RefreshTokenHint}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
