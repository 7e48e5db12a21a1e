package oauth2

// ResponseType represents a single OAuth 2.0 / OIDC response type.
// A request may combine several, e.g. "code id_token".
type ResponseType string

const (
	// CodeResponseType requests an authorization code to be exchanged at the token endpoint.
	// Example: /oauth2/auth?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"

	// TokenResponseType requests an access token directly from the authorization
	// endpoint (implicit grant). Tokens are always returned in the fragment.
	TokenResponseType ResponseType = "token"

	// IDTokenResponseType requests an ID token directly from the authorization endpoint.
	// Requires a nonce.
	IDTokenResponseType ResponseType = "id_token"
)

// ResponseModeType denotes how the authorization response parameters are returned to the client.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Example: https://client.example.com/callback?code=ABC123&state=xyz
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	// Example: https://client.example.com/callback#access_token=ABC123&state=xyz
	FragmentResponseMode ResponseModeType = "fragment"

	// FormPostResponseMode returns parameters via an auto-submitting HTML form.
	FormPostResponseMode ResponseModeType = "form_post"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256: code_challenge = BASE64URL(SHA256(code_verifier))
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain: code_challenge = code_verifier
	CodeMethodTypePlain CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Returns an access token only, the client is the subject.
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	RefreshTokenGrant GrantType = "refresh_token"

	// ImplicitGrant is not used at the token endpoint. A client must hold it to
	// request "token" or "id_token" response types at /oauth2/auth.
	ImplicitGrant GrantType = "implicit"
)

// TokenEndpointAuthMethod is how a client authenticates at the token, introspection and revocation endpoints.
type TokenEndpointAuthMethod string

const (
	ClientSecretBasic TokenEndpointAuthMethod = "client_secret_basic"
	ClientSecretPost  TokenEndpointAuthMethod = "client_secret_post"
	PrivateKeyJWT     TokenEndpointAuthMethod = "private_key_jwt"
	AuthMethodNone    TokenEndpointAuthMethod = "none"
)

// ClientAssertionTypeJWTBearer is the only client_assertion_type accepted (RFC 7523).
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// TokenTypeHint values for introspection and revocation (RFC 7009).
type TokenTypeHint string

const (
	AccessTokenHint  TokenTypeHint = "access_token"
	RefreshTokenHint TokenTypeHint = "refresh_token"
)

// Well known scopes.
const (
	ScopeOpenID        = "openid"
	ScopeOffline       = "offline"
	ScopeOfflineAccess = "offline_access"
)

// Prompt values from OpenID Connect Core 3.1.2.1.
const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
)

// BearerTokenType is the token_type returned by the token endpoint.
const BearerTokenType = "bearer"
