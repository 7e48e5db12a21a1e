package clients

import (
	"net/url"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
)

// Client is a registered OAuth 2.0 client.
type Client struct {
	ID   string `json:"client_id"`
	Name string `json:"client_name,omitempty"`

	// Secret is write-once. It is only populated in the response to a create
	// (or a secret rotating update) and is never persisted in plaintext.
	Secret     string `json:"client_secret,omitempty"`
	SecretHash string `json:"-"`

	RedirectURIs            []string                       `json:"redirect_uris"`
	GrantTypes              oauth2.Arguments               `json:"grant_types"`
	ResponseTypes           oauth2.Arguments               `json:"response_types"`
	Scope                   string                         `json:"scope"`
	Audience                []string                       `json:"audience"`
	AllowedCORSOrigins      []string                       `json:"allowed_cors_origins"`
	JWKSURI                 string                         `json:"jwks_uri,omitempty"`
	JWKS                    *jose.JSONWebKeySet            `json:"jwks,omitempty"`
	TokenEndpointAuthMethod oauth2.TokenEndpointAuthMethod `json:"token_endpoint_auth_method"`
	PostLogoutRedirectURIs  []string                       `json:"post_logout_redirect_uris"`
	CreatedAt               time.Time                      `json:"created_at"`
	UpdatedAt               time.Time                      `json:"updated_at"`
}

const defaultScope = "offline_access offline openid"

// IsPublic returns true if the client cannot keep a secret
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == oauth2.AuthMethodNone
}

func (c *Client) Scopes() oauth2.Arguments {
	return oauth2.ParseArguments(c.Scope)
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	return c.Scopes().Has(scope)
}

// ValidateScopes checks if all requested scopes are allowed for this client
func (c *Client) ValidateScopes(requested oauth2.Arguments) error {
	allowed := c.Scopes()
	for _, s := range requested {
		if !allowed.Has(s) {
			return errors.ErrInvalidScope.WithHintf("The client is not allowed to request scope %q.", s)
		}
	}
	return nil
}

// ValidateAudience checks if all requested audiences are whitelisted for this client
func (c *Client) ValidateAudience(requested oauth2.Arguments) error {
	for _, a := range requested {
		if !slices.Contains(c.Audience, a) {
			return errors.ErrBadRequest.WithHintf("The client is not allowed to request audience %q.", a)
		}
	}
	return nil
}

func (c *Client) HasGrantType(gt oauth2.GrantType) bool {
	return c.GrantTypes.Has(string(gt))
}

// HasResponseType reports whether the exact combination of response types is registered.
func (c *Client) HasResponseType(rt oauth2.Arguments) bool {
	for _, registered := range c.ResponseTypes {
		if oauth2.ParseArguments(registered).Matches(rt...) {
			return true
		}
	}
	return false
}

func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

func (c *Client) HasPostLogoutRedirectURI(uri string) bool {
	return slices.Contains(c.PostLogoutRedirectURIs, uri)
}

// SetDefaults fills the registration defaults for unset fields.
func (c *Client) SetDefaults() {
	if len(c.GrantTypes) == 0 {
		c.GrantTypes = oauth2.Arguments{string(oauth2.AuthorizationCodeGrant)}
	}
	if len(c.ResponseTypes) == 0 {
		c.ResponseTypes = oauth2.Arguments{string(oauth2.CodeResponseType)}
	}
	if c.Scope == "" {
		c.Scope = defaultScope
	}
	if c.TokenEndpointAuthMethod == "" {
		c.TokenEndpointAuthMethod = oauth2.ClientSecretBasic
	}
	if c.RedirectURIs == nil {
		c.RedirectURIs = []string{}
	}
	if c.Audience == nil {
		c.Audience = []string{}
	}
	if c.AllowedCORSOrigins == nil {
		c.AllowedCORSOrigins = []string{}
	}
	if c.PostLogoutRedirectURIs == nil {
		c.PostLogoutRedirectURIs = []string{}
	}
}

// Validate checks the registration metadata.
func (c *Client) Validate() error {
	for _, uri := range append(slices.Clone(c.RedirectURIs), c.PostLogoutRedirectURIs...) {
		u, err := url.Parse(uri)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			return errors.ErrBadRequest.WithHintf("Redirect URI %q must be an absolute URI without a fragment.", uri)
		}
	}
	for _, gt := range c.GrantTypes {
		switch oauth2.GrantType(gt) {
		case oauth2.AuthorizationCodeGrant, oauth2.RefreshTokenGrant, oauth2.ClientCredentialsGrant, oauth2.ImplicitGrant:
		default:
			return errors.ErrBadRequest.WithHintf("Grant type %q is not supported.", gt)
		}
	}
	for _, rt := range c.ResponseTypes {
		for _, part := range oauth2.ParseArguments(rt) {
			switch oauth2.ResponseType(part) {
			case oauth2.CodeResponseType, oauth2.TokenResponseType, oauth2.IDTokenResponseType:
			default:
				return errors.ErrBadRequest.WithHintf("Response type %q is not supported.", part)
			}
		}
	}
	switch c.TokenEndpointAuthMethod {
	case oauth2.ClientSecretBasic, oauth2.ClientSecretPost, oauth2.AuthMethodNone:
	case oauth2.PrivateKeyJWT:
		if (c.JWKS == nil || len(c.JWKS.Keys) == 0) == (c.JWKSURI == "") {
			return errors.ErrBadRequest.WithHint("private_key_jwt requires exactly one of jwks or jwks_uri.")
		}
	default:
		return errors.ErrBadRequest.WithHintf("Token endpoint auth method %q is not supported.", c.TokenEndpointAuthMethod)
	}
	if c.JWKS != nil {
		for _, k := range c.JWKS.Keys {
			if !k.IsPublic() {
				return errors.ErrBadRequest.WithHint("Client JSON Web Keys must be public keys.")
			}
		}
	}
	return nil
}

// Clone returns a copy that shares no mutable state with c.
func (c *Client) Clone() *Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.ResponseTypes = slices.Clone(c.ResponseTypes)
	cp.Audience = slices.Clone(c.Audience)
	cp.AllowedCORSOrigins = slices.Clone(c.AllowedCORSOrigins)
	cp.PostLogoutRedirectURIs = slices.Clone(c.PostLogoutRedirectURIs)
	if c.JWKS != nil {
		cp.JWKS = &jose.JSONWebKeySet{Keys: slices.Clone(c.JWKS.Keys)}
	}
	return &cp
}
