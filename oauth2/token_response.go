package oauth2

// TokenResponse represents the response from an OAuth2 token request (RFC 6749 5.1).
type TokenResponse struct {
	// AccessToken is the JWT used to access protected resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// IDToken is only present when the "openid" scope was granted.
	IDToken string `json:"id_token,omitempty"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Only present when "offline" or "offline_access" was granted.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space separated list of granted scopes.
	Scope string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 introspection result. Inactive tokens
// are reported as {"active":false} and nothing else.
type IntrospectionResponse struct {
	Active    bool           `json:"active"`
	Scope     string         `json:"scope,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	Subject   string         `json:"sub,omitempty"`
	ExpiresAt int64          `json:"exp,omitempty"`
	IssuedAt  int64          `json:"iat,omitempty"`
	NotBefore int64          `json:"nbf,omitempty"`
	Audience  []string       `json:"aud,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	TokenType string         `json:"token_type,omitempty"`
	TokenUse  string         `json:"token_use,omitempty"`
	Extra     map[string]any `json:"ext,omitempty"`
}

// Inactive is the only response given for unknown, expired or revoked tokens.
func Inactive() *IntrospectionResponse {
	return &IntrospectionResponse{Active: false}
}
