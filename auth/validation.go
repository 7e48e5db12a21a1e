package auth

import (
	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
)

// Validator holds the checks run on an authorization request before any
// challenge is created.
type Validator struct {
	requirePKCE bool
}

// NewValidator creates a Validator. With requirePKCE every client must send a
// code challenge, otherwise only public clients must.
func NewValidator(requirePKCE bool) *Validator {
	return &Validator{requirePKCE: requirePKCE}
}

// ValidateAuthorizationRequest checks params against the client registration
// and returns the redirect URI the response must be delivered to.
func (v *Validator) ValidateAuthorizationRequest(params *oauth2.AuthorizationParameters, client *clients.Client) (string, error) {
	if client == nil {
		return "", errors.ErrInvalidClient.WithHint("The requested OAuth 2.0 client does not exist.")
	}

	redirectURI, err := ResolveRedirectURI(params.RedirectURI, client)
	if err != nil {
		return "", err
	}

	if err := v.ValidateResponseType(params, client); err != nil {
		return "", err
	}
	if err := ValidateResponseMode(params); err != nil {
		return "", err
	}
	if err := client.ValidateScopes(params.Scope); err != nil {
		return "", err
	}
	if err := client.ValidateAudience(params.Audience); err != nil {
		return "", err
	}
	if err := ValidatePrompt(params.Prompt); err != nil {
		return "", err
	}

	if params.ResponseTypes.Has(string(oauth2.IDTokenResponseType)) && params.Nonce == "" {
		return "", errors.ErrBadRequest.WithHint("Parameter 'nonce' is required when an ID token is returned from the authorization endpoint.")
	}

	if params.ResponseTypes.Has(string(oauth2.CodeResponseType)) {
		required := v.requirePKCE || client.IsPublic()
		if err := ValidatePKCE(params.CodeChallenge, params.CodeChallengeMethod, required); err != nil {
			return "", err
		}
	}
	return redirectURI, nil
}

// ResolveRedirectURI returns the exact registered URI. The parameter may only
// be omitted when the client registered exactly one.
func ResolveRedirectURI(requested string, client *clients.Client) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", errors.ErrBadRequest.WithHint("Parameter 'redirect_uri' is required because the client registered more or fewer than one redirect URI.")
	}
	if !client.HasRedirectURI(requested) {
		return "", errors.ErrBadRequest.WithHintf("The 'redirect_uri' %q does not match any of the client's registered redirect URIs.", requested)
	}
	return requested, nil
}

// ValidateResponseType checks that the client registered the response type
// combination and holds the grant it implies.
func (v *Validator) ValidateResponseType(params *oauth2.AuthorizationParameters, client *clients.Client) error {
	if len(params.ResponseTypes) == 0 {
		return errors.ErrBadRequest.WithHint("Parameter 'response_type' is required.")
	}
	for _, rt := range params.ResponseTypes {
		switch oauth2.ResponseType(rt) {
		case oauth2.CodeResponseType, oauth2.TokenResponseType, oauth2.IDTokenResponseType:
		default:
			return errors.ErrUnsupportedResponseType.WithHintf("Response type %q is not supported.", rt)
		}
	}
	if !client.HasResponseType(params.ResponseTypes) {
		return errors.ErrUnsupportedResponseType.WithHintf("The client is not allowed to request response type %q.", params.ResponseTypes.String())
	}
	if params.ResponseTypes.Has(string(oauth2.CodeResponseType)) && !client.HasGrantType(oauth2.AuthorizationCodeGrant) {
		return errors.ErrUnauthorizedClient.WithHint("The client is not allowed to use the authorization_code grant.")
	}
	if params.IsImplicit() && !client.HasGrantType(oauth2.ImplicitGrant) {
		return errors.ErrUnauthorizedClient.WithHint("The client is not allowed to use the implicit grant.")
	}
	return nil
}

// ValidateResponseMode rejects unknown modes and tokens in the query string.
func ValidateResponseMode(params *oauth2.AuthorizationParameters) error {
	switch params.ResponseMode {
	case "", oauth2.FragmentResponseMode, oauth2.FormPostResponseMode:
	case oauth2.QueryResponseMode:
		if params.IsImplicit() {
			return errors.ErrBadRequest.WithHint("Tokens must not be returned in the query string, use response_mode fragment or form_post.")
		}
	default:
		return errors.ErrBadRequest.WithHintf("Response mode %q is not supported.", params.ResponseMode)
	}
	return nil
}

// ValidatePKCE validates PKCE (Proof Key for Code Exchange) parameters
func ValidatePKCE(codeChallenge string, method oauth2.CodeMethodType, required bool) error {
	if codeChallenge == "" {
		if required {
			return errors.ErrBadRequest.WithHint("This client must include a 'code_challenge' when performing the authorize code flow.")
		}
		return nil
	}
	if len(codeChallenge) < 43 || len(codeChallenge) > 128 {
		return errors.ErrBadRequest.WithHint("The 'code_challenge' must be between 43 and 128 characters.")
	}
	if method != oauth2.CodeMethodTypeS256 && method != oauth2.CodeMethodTypePlain {
		return errors.ErrBadRequest.WithHint("The 'code_challenge_method' must be 'S256' or 'plain'.")
	}
	return nil
}

// ValidatePrompt only allows "none" on its own.
func ValidatePrompt(prompt oauth2.Arguments) error {
	for _, p := range prompt {
		switch p {
		case oauth2.PromptNone, oauth2.PromptLogin, oauth2.PromptConsent:
		default:
			return errors.ErrBadRequest.WithHintf("Prompt value %q is not supported.", p)
		}
	}
	if prompt.Has(oauth2.PromptNone) && len(prompt) > 1 {
		return errors.ErrBadRequest.WithHint("Prompt 'none' must not be combined with other values.")
	}
	return nil
}

// ValidateClientCredentialsGrant checks a client_credentials request.
func ValidateClientCredentialsGrant(req *oauth2.TokenRequest, client *clients.Client) error {
	if client.IsPublic() {
		return errors.ErrUnauthorizedClient.WithHint("Public clients cannot use the client_credentials grant.")
	}
	if !client.HasGrantType(oauth2.ClientCredentialsGrant) {
		return errors.ErrUnauthorizedClient.WithHint("The client is not allowed to use the client_credentials grant.")
	}
	if err := client.ValidateScopes(req.Scope); err != nil {
		return err
	}
	return client.ValidateAudience(req.Audience)
}
