package oauth2

import "net/url"

// TokenRequest holds the form parameters sent to the /oauth2/token endpoint.
// Supports authorization_code, refresh_token and client_credentials.
type TokenRequest struct {
	GrantType GrantType

	// ClientID and ClientSecret as sent in the body (client_secret_post) or the
	// Authorization header (client_secret_basic).
	ClientID     string
	ClientSecret string

	// ClientAssertion is a signed JWT used by private_key_jwt clients.
	ClientAssertion     string
	ClientAssertionType string

	// Code is the authorization code received from the authorization endpoint.
	// Usage: Exchanged once for tokens, then becomes invalid
	Code string

	// RedirectURI must match the value sent to the authorization endpoint, if one was sent.
	RedirectURI string

	// CodeVerifier is the PKCE code verifier that matches the code_challenge.
	CodeVerifier string

	// RefreshToken is used to obtain new access tokens without re-authentication.
	RefreshToken string

	// Scope narrows the requested scope for refresh_token and client_credentials.
	Scope Arguments

	// Audience requested for client_credentials.
	Audience Arguments
}

// ParseTokenRequest reads a token request from a parsed form.
func ParseTokenRequest(form url.Values) *TokenRequest {
	return &TokenRequest{
		GrantType:           GrantType(form.Get("grant_type")),
		ClientID:            form.Get("client_id"),
		ClientSecret:        form.Get("client_secret"),
		ClientAssertion:     form.Get("client_assertion"),
		ClientAssertionType: form.Get("client_assertion_type"),
		Code:                form.Get("code"),
		RedirectURI:         form.Get("redirect_uri"),
		CodeVerifier:        form.Get("code_verifier"),
		RefreshToken:        form.Get("refresh_token"),
		Scope:               ParseArguments(form.Get("scope")),
		Audience:            ParseArguments(form.Get("audience")),
	}
}
