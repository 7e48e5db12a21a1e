package token

import (
	"context"
	"time"
)

// Grant is the request a user (or a client, for client_credentials)
// authorized. Every token minted from it shares its RequestID.
type Grant struct {
	RequestID           string         `json:"request_id"`
	ClientID            string         `json:"client_id"`
	Subject             string         `json:"subject"`
	GrantedScope        []string       `json:"granted_scope"`
	GrantedAudience     []string       `json:"granted_audience"`
	RedirectURI         string         `json:"redirect_uri,omitempty"`
	Nonce               string         `json:"nonce,omitempty"`
	CodeChallenge       string         `json:"code_challenge,omitempty"`
	CodeChallengeMethod string         `json:"code_challenge_method,omitempty"`
	AuthTime            time.Time      `json:"auth_time"`
	ACR                 string         `json:"acr,omitempty"`
	AMR                 []string       `json:"amr,omitempty"`
	SessionID           string         `json:"sid,omitempty"`
	AccessTokenClaims   map[string]any `json:"access_token_claims,omitempty"`
	IDTokenClaims       map[string]any `json:"id_token_claims,omitempty"`
	RequestedAt         time.Time      `json:"requested_at"`
}

func (g Grant) Clone() Grant {
	g.GrantedScope = append([]string(nil), g.GrantedScope...)
	g.GrantedAudience = append([]string(nil), g.GrantedAudience...)
	g.AMR = append([]string(nil), g.AMR...)
	return g
}

// AuthorizeCode is stored under the signature of the code.
type AuthorizeCode struct {
	Signature string    `json:"signature"`
	Grant     Grant     `json:"grant"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// AccessTokenRecord tracks an issued JWT access token by jti.
type AccessTokenRecord struct {
	JTI       string         `json:"jti"`
	RequestID string         `json:"request_id"`
	ClientID  string         `json:"client_id"`
	Subject   string         `json:"subject"`
	Scope     []string       `json:"scope"`
	Audience  []string       `json:"audience"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Revoked   bool           `json:"revoked"`
	Extra     map[string]any `json:"ext,omitempty"`
	// UserInfo holds the id_token session claims served by /userinfo.
	UserInfo map[string]any `json:"userinfo,omitempty"`
}

// RefreshTokenRecord is stored under the signature of the refresh token.
type RefreshTokenRecord struct {
	Signature string    `json:"signature"`
	Grant     Grant     `json:"grant"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// Store persists token state. Code consumption and refresh rotation are
// atomic: of two concurrent calls for the same signature, one fails with
// errors.ErrConflict.
type Store interface {
	CreateAuthorizeCode(ctx context.Context, c *AuthorizeCode) error
	// ConsumeAuthorizeCode marks a code used. A used code is returned together
	// with errors.ErrConflict so its family can be revoked.
	ConsumeAuthorizeCode(ctx context.Context, signature string) (*AuthorizeCode, error)

	CreateAccessToken(ctx context.Context, r *AccessTokenRecord) error
	GetAccessToken(ctx context.Context, jti string) (*AccessTokenRecord, error)
	RevokeAccessToken(ctx context.Context, jti string) error
	// RevokeAccessTokensByRequest revokes the family's active access tokens and returns them.
	RevokeAccessTokensByRequest(ctx context.Context, requestID string) ([]*AccessTokenRecord, error)

	CreateRefreshToken(ctx context.Context, r *RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, signature string) (*RefreshTokenRecord, error)
	// RotateRefreshToken deactivates oldSignature and stores next in one step.
	// It fails with errors.ErrConflict if oldSignature is no longer active.
	RotateRefreshToken(ctx context.Context, oldSignature string, next *RefreshTokenRecord) error

	// RevokeRequest deactivates every refresh token and revokes every access
	// token of the family. The revoked access tokens are returned.
	RevokeRequest(ctx context.Context, requestID string) ([]*AccessTokenRecord, error)

	// MarkClientAssertionJTI records a private_key_jwt jti until exp and
	// returns errors.ErrConflict if it was seen before.
	MarkClientAssertionJTI(ctx context.Context, jti string, exp time.Time) error

	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
