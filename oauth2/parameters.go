package oauth2

import (
	"net/url"
	"strconv"
)

// AuthorizationParameters holds parameters for the OAuth2 authorization request.
// These are received as query parameters at the /oauth2/auth endpoint.
type AuthorizationParameters struct {
	// ClientID identifies the application requesting authorization.
	// Required: Yes
	ClientID string

	// ResponseTypes specifies what the authorization endpoint should return.
	// Required: Yes
	// Example: "code", "token", "id_token", "code id_token"
	ResponseTypes Arguments

	// RedirectURI is where the authorization response will be sent.
	// Required: Only when the client registered more than one redirect URI
	// Security: Must exactly match a pre-registered URI to prevent open redirects
	RedirectURI string

	// ResponseMode controls how the response is returned (query/fragment/form_post).
	// Required: No (defaults to "query" for code, "fragment" for implicit)
	ResponseMode ResponseModeType

	// Scope specifies the permissions being requested.
	// Validated against: clients.Client.Scope
	// Example: "openid offline photos.read"
	Scope Arguments

	// Audience lists the resource servers the access token is intended for.
	// Validated against: clients.Client.Audience
	Audience Arguments

	// State is an opaque value echoed back to the client for CSRF protection.
	// Required: Recommended
	State string

	// Nonce is bound into the ID token so the client can detect replays.
	// Required: Yes when an id_token is returned from the authorization endpoint
	Nonce string

	// CodeChallenge is the PKCE challenge derived from code_verifier.
	// Required: Yes for public clients
	CodeChallenge string

	// CodeChallengeMethod specifies how code_challenge was derived.
	// Default: "plain" if not specified (but S256 strongly recommended)
	CodeChallengeMethod CodeMethodType

	// Prompt is a space separated list of "none", "login", "consent".
	Prompt Arguments

	// MaxAge is the allowable elapsed time in seconds since the last active
	// authentication. Negative means unset.
	MaxAge int

	// LoginHint pre-fills the username/email on the login page.
	// Security: Should not be trusted, only used for UI pre-population
	LoginHint string

	// IDTokenHint is a previously issued ID token identifying the end user.
	IDTokenHint string

	// Display, UILocales and ACRValues are forwarded untouched to the login provider.
	Display   string
	UILocales Arguments
	ACRValues Arguments

	// LoginVerifier and ConsentVerifier are set when the user-agent returns from the login or consent provider.
	LoginVerifier   string
	ConsentVerifier string
}

// ParseAuthorizationParameters reads the authorization request from the query string.
func ParseAuthorizationParameters(q url.Values) *AuthorizationParameters {
	p := &AuthorizationParameters{
		ClientID:            q.Get("client_id"),
		ResponseTypes:       ParseArguments(q.Get("response_type")),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseMode:        ResponseModeType(q.Get("response_mode")),
		Scope:               ParseArguments(q.Get("scope")),
		Audience:            ParseArguments(q.Get("audience")),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: CodeMethodType(q.Get("code_challenge_method")),
		Prompt:              ParseArguments(q.Get("prompt")),
		MaxAge:              -1,
		LoginHint:           q.Get("login_hint"),
		IDTokenHint:         q.Get("id_token_hint"),
		Display:             q.Get("display"),
		UILocales:           ParseArguments(q.Get("ui_locales")),
		ACRValues:           ParseArguments(q.Get("acr_values")),
		LoginVerifier:       q.Get("login_verifier"),
		ConsentVerifier:     q.Get("consent_verifier"),
	}
	if v := q.Get("max_age"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.MaxAge = n
		}
	}
	if p.CodeChallenge != "" && p.CodeChallengeMethod == "" {
		p.CodeChallengeMethod = CodeMethodTypePlain
	}
	return p
}

// IsImplicit reports whether any token is returned directly from the authorization endpoint.
func (p *AuthorizationParameters) IsImplicit() bool {
	return p.ResponseTypes.HasOneOf(string(TokenResponseType), string(IDTokenResponseType))
}

// EffectiveResponseMode returns the requested mode or the default for the response type.
func (p *AuthorizationParameters) EffectiveResponseMode() ResponseModeType {
	if p.ResponseMode != "" {
		return p.ResponseMode
	}
	if p.IsImplicit() {
		return FragmentResponseMode
	}
	return QueryResponseMode
}
