package auth

import (
	"context"
	"crypto/subtle"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/jrsteele09/go-consent-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// URLs are the endpoints the service redirects the user-agent to.
type URLs struct {
	// Issuer is the public base URL. The token endpoint is Issuer + "/oauth2/token".
	Issuer                string
	LoginURL              string
	ConsentURL            string
	LogoutURL             string
	PostLogoutRedirectURL string
}

func (u URLs) TokenURL() string {
	return u.Issuer + "/oauth2/token"
}

// AuthorizationService orchestrates the authorization endpoint, the token
// endpoint and the session endpoints on top of the challenge state machine
// and the token issuer.
type AuthorizationService struct {
	clients   *clients.Manager
	consent   *consent.Manager
	tokens    *token.Manager
	validator *Validator
	urls      URLs
	keySets   *clientKeySets
	observer  GrantObserver
	nowTime   func() time.Time // nowTime function (injectable for testing)
}

// GrantObserver is told about every token endpoint exchange.
type GrantObserver func(grantType oauth2.GrantType, err error)

// AuthorizationServiceOption defines a function type to modify the AuthorizationService instance.
type AuthorizationServiceOption func(*AuthorizationService)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.nowTime = nowFunc
	}
}

// WithRequirePKCE enforces PKCE for confidential clients too.
func WithRequirePKCE(required bool) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.validator = NewValidator(required)
	}
}

func WithGrantObserver(o GrantObserver) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.observer = o
	}
}

// NewAuthorizationService initializes a new AuthorizationService with required dependencies.
func NewAuthorizationService(
	clientManager *clients.Manager,
	consentManager *consent.Manager,
	tokenManager *token.Manager,
	urls URLs,
	options ...AuthorizationServiceOption,
) (*AuthorizationService, error) {
	if clientManager == nil {
		return nil, errors.New("[NewAuthorizationService] client manager is required")
	}
	if consentManager == nil {
		return nil, errors.New("[NewAuthorizationService] consent manager is required")
	}
	if tokenManager == nil {
		return nil, errors.New("[NewAuthorizationService] token manager is required")
	}
	if urls.LoginURL == "" || urls.ConsentURL == "" {
		return nil, errors.New("[NewAuthorizationService] login and consent URLs are required")
	}

	as := &AuthorizationService{
		clients:   clientManager,
		consent:   consentManager,
		tokens:    tokenManager,
		validator: NewValidator(false),
		urls:      urls,
		keySets:   newClientKeySets(),
		observer:  func(oauth2.GrantType, error) {},
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(as)
	}
	return as, nil
}

// AuthorizeRequest is one hit on /oauth2/auth.
type AuthorizeRequest struct {
	Params *oauth2.AuthorizationParameters
	// RequestURL is the absolute URL of the request, used to resume the flow.
	RequestURL string
	// SessionID is the login session referenced by the session cookie, if any.
	SessionID string
	// CSRF reads the CSRF cookie the user-agent holds for a challenge.
	CSRF CSRFLookup
}

// Authorize advances an authorization request by one step: a fresh request
// goes to the login provider, a login verifier to the consent provider, and a
// consent verifier to the client. Errors returned here must not be redirected;
// errors that may be sent to the client are already encoded in the Response.
func (as *AuthorizationService) Authorize(ctx context.Context, req *AuthorizeRequest) (*Response, error) {
	switch {
	case req.Params.ConsentVerifier != "":
		return as.resumeConsent(ctx, req)
	case req.Params.LoginVerifier != "":
		return as.resumeLogin(ctx, req)
	default:
		return as.startLogin(ctx, req)
	}
}

func (as *AuthorizationService) loadClient(ctx context.Context, id string) (*clients.Client, error) {
	if id == "" {
		return nil, apperrors.ErrBadRequest.WithHint("Parameter 'client_id' is required.")
	}
	client, err := as.clients.Get(ctx, id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrInvalidClient.WithHint("The requested OAuth 2.0 client does not exist.")
	} else if err != nil {
		return nil, errors.Wrap(err, "[Authorize] load client")
	}
	return client, nil
}

func (as *AuthorizationService) startLogin(ctx context.Context, req *AuthorizeRequest) (*Response, error) {
	params := req.Params
	client, err := as.loadClient(ctx, params.ClientID)
	if err != nil {
		return nil, err
	}
	redirectURI, err := as.validator.ValidateAuthorizationRequest(params, client)
	if err != nil {
		return nil, err
	}

	oidcContext := &consent.OpenIDConnectContext{
		ACRValues: params.ACRValues,
		Display:   params.Display,
		LoginHint: params.LoginHint,
		UILocales: params.UILocales,
	}
	if params.IDTokenHint != "" {
		claims, err := as.tokens.VerifyIDToken(ctx, params.IDTokenHint)
		if err != nil {
			return nil, err
		}
		oidcContext.IDTokenHintClaims = claims
	}

	session := as.rememberedSession(ctx, req.SessionID, params)
	if session != nil && oidcContext.IDTokenHintClaims != nil {
		if sub, _ := oidcContext.IDTokenHintClaims["sub"].(string); sub != "" && sub != session.Subject {
			session = nil
		}
	}
	if session == nil && params.Prompt.Has(oauth2.PromptNone) {
		return as.errorResponse(params, redirectURI, apperrors.ErrLoginRequired.WithHint("Prompt 'none' was requested but no valid login session exists.")), nil
	}

	lr := &consent.LoginRequest{
		Client:            client,
		RequestedScope:    nonNil(params.Scope),
		RequestedAudience: nonNil(params.Audience),
		RequestURL:        req.RequestURL,
		OIDCContext:       oidcContext,
		SessionID:         uuid.NewString(),
	}
	if session != nil {
		lr.Skip = true
		lr.Subject = session.Subject
		lr.SessionID = session.ID
	} else if req.SessionID != "" {
		lr.SessionID = req.SessionID
	}

	csrf, err := as.consent.CreateLoginRequest(ctx, lr)
	if err != nil {
		return nil, errors.Wrap(err, "[Authorize] create login request")
	}
	log.Debug().Str("challenge", lr.Challenge).Str("client_id", client.ID).Bool("skip", lr.Skip).Msg("login challenge created")
	return &Response{
		RedirectTo: withQuery(as.urls.LoginURL, "login_challenge", lr.Challenge),
		CSRF:       &CSRFCookie{Kind: consent.KindLogin, Challenge: lr.Challenge, Value: csrf},
	}, nil
}

// rememberedSession returns the login session that lets the login provider
// skip authentication, honoring prompt=login and max_age.
func (as *AuthorizationService) rememberedSession(ctx context.Context, id string, params *oauth2.AuthorizationParameters) *consent.LoginSession {
	if id == "" || params.Prompt.Has(oauth2.PromptLogin) {
		return nil
	}
	session, err := as.consent.GetLoginSession(ctx, id)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			log.Err(err).Str("session_id", id).Msg("loading login session")
		}
		return nil
	}
	if params.MaxAge >= 0 && as.nowTime().Sub(session.AuthenticatedAt) > time.Duration(params.MaxAge)*time.Second {
		return nil
	}
	return session
}

func (as *AuthorizationService) resumeLogin(ctx context.Context, req *AuthorizeRequest) (*Response, error) {
	handled, err := as.consent.VerifyAndInvalidateLoginRequest(ctx, req.Params.LoginVerifier)
	if err != nil {
		return nil, err
	}
	if err := checkCSRF(handled.CSRF, req.CSRF.value(consent.KindLogin, handled.Request.Challenge)); err != nil {
		return nil, err
	}
	lr := handled.Request
	params, client, redirectURI, err := as.restore(ctx, lr.RequestURL, lr.Client)
	if err != nil {
		return nil, err
	}
	if handled.Outcome.Rejected != nil {
		return as.errorResponse(params, redirectURI, handled.Outcome.Rejected.ToError()), nil
	}

	accepted := handled.Outcome.Accepted
	now := as.nowTime().UTC()
	authTime := now
	if lr.Skip {
		if s, err := as.consent.GetLoginSession(ctx, lr.SessionID); err == nil {
			authTime = s.AuthenticatedAt
		}
	}

	resp := &Response{}
	if accepted.Remember {
		session, err := as.consent.RememberLogin(ctx, lr.SessionID, accepted, authTime)
		if err != nil {
			return nil, errors.Wrap(err, "[Authorize] remember login")
		}
		resp.Session = session
	}

	cr := &consent.ConsentRequest{
		Client:            client,
		RequestedScope:    lr.RequestedScope,
		RequestedAudience: lr.RequestedAudience,
		Subject:           accepted.Subject,
		RequestURL:        lr.RequestURL,
		OIDCContext:       lr.OIDCContext,
		LoginChallenge:    lr.Challenge,
		LoginSessionID:    lr.SessionID,
		ACR:               accepted.ACR,
		AMR:               accepted.AMR,
		Context:           accepted.Context,
		AuthenticatedAt:   authTime,
	}
	if !params.Prompt.Has(oauth2.PromptConsent) {
		_, err := as.consent.FindRememberedConsent(ctx, accepted.Subject, client.ID, lr.RequestedScope, lr.RequestedAudience)
		switch {
		case err == nil:
			cr.Skip = true
		case !apperrors.Is(err, apperrors.ErrNotFound):
			return nil, errors.Wrap(err, "[Authorize] find remembered consent")
		}
	}
	if params.Prompt.Has(oauth2.PromptNone) && !cr.Skip {
		return as.errorResponse(params, redirectURI, apperrors.ErrConsentRequired.WithHint("Prompt 'none' was requested but no remembered consent covers the request.")), nil
	}

	csrf, err := as.consent.CreateConsentRequest(ctx, cr)
	if err != nil {
		return nil, errors.Wrap(err, "[Authorize] create consent request")
	}
	log.Debug().Str("challenge", cr.Challenge).Str("subject", cr.Subject).Bool("skip", cr.Skip).Msg("consent challenge created")
	resp.RedirectTo = withQuery(as.urls.ConsentURL, "consent_challenge", cr.Challenge)
	resp.CSRF = &CSRFCookie{Kind: consent.KindConsent, Challenge: cr.Challenge, Value: csrf}
	return resp, nil
}

func (as *AuthorizationService) resumeConsent(ctx context.Context, req *AuthorizeRequest) (*Response, error) {
	handled, err := as.consent.VerifyAndInvalidateConsentRequest(ctx, req.Params.ConsentVerifier)
	if err != nil {
		return nil, err
	}
	if err := checkCSRF(handled.CSRF, req.CSRF.value(consent.KindConsent, handled.Request.Challenge)); err != nil {
		return nil, err
	}
	cr := handled.Request
	params, client, redirectURI, err := as.restore(ctx, cr.RequestURL, cr.Client)
	if err != nil {
		return nil, err
	}
	if handled.Outcome.Rejected != nil {
		return as.errorResponse(params, redirectURI, handled.Outcome.Rejected.ToError()), nil
	}

	accepted := handled.Outcome.Accepted
	if err := client.ValidateScopes(accepted.GrantScope); err != nil {
		return as.errorResponse(params, redirectURI, apperrors.ToError(err)), nil
	}
	if err := client.ValidateAudience(accepted.GrantAudience); err != nil {
		return as.errorResponse(params, redirectURI, apperrors.ToError(err)), nil
	}
	if _, err := as.consent.SaveConsentSession(ctx, handled); err != nil {
		return nil, errors.Wrap(err, "[Authorize] save consent session")
	}

	grant := token.Grant{
		RequestID:           cr.Challenge,
		ClientID:            client.ID,
		Subject:             cr.Subject,
		GrantedScope:        nonNil(accepted.GrantScope),
		GrantedAudience:     nonNil(accepted.GrantAudience),
		RedirectURI:         params.RedirectURI,
		Nonce:               params.Nonce,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: string(params.CodeChallengeMethod),
		AuthTime:            cr.AuthenticatedAt,
		ACR:                 cr.ACR,
		AMR:                 cr.AMR,
		SessionID:           cr.LoginSessionID,
		RequestedAt:         as.nowTime().UTC(),
	}
	if accepted.Session != nil {
		grant.AccessTokenClaims = accepted.Session.AccessToken
		grant.IDTokenClaims = accepted.Session.IDToken
	}

	values := url.Values{}
	if params.ResponseTypes.Has(string(oauth2.CodeResponseType)) {
		code, err := as.tokens.CreateAuthorizeCode(ctx, grant)
		if err != nil {
			return nil, errors.Wrap(err, "[Authorize] create authorization code")
		}
		values.Set("code", code)
	}
	if params.IsImplicit() {
		wantAccess := params.ResponseTypes.Has(string(oauth2.TokenResponseType))
		wantID := params.ResponseTypes.Has(string(oauth2.IDTokenResponseType))
		if wantID && !oauth2.Arguments(grant.GrantedScope).Has(oauth2.ScopeOpenID) {
			return as.errorResponse(params, redirectURI, apperrors.ErrInvalidScope.WithHint("An ID token was requested but the 'openid' scope was not granted.")), nil
		}
		tr, err := as.tokens.IssueImplicit(ctx, grant, wantAccess, wantID)
		if err != nil {
			return nil, errors.Wrap(err, "[Authorize] issue implicit tokens")
		}
		if tr.AccessToken != "" {
			values.Set("access_token", tr.AccessToken)
			values.Set("token_type", tr.TokenType)
			values.Set("expires_in", strconv.Itoa(tr.ExpiresIn))
		}
		if tr.IDToken != "" {
			values.Set("id_token", tr.IDToken)
		}
	}
	values.Set("scope", oauth2.Arguments(grant.GrantedScope).String())
	if params.State != "" {
		values.Set("state", params.State)
	}
	log.Debug().Str("request_id", grant.RequestID).Str("client_id", client.ID).Msg("authorization completed")
	return as.deliver(params, redirectURI, values), nil
}

// restore rebuilds the original authorization request stored with a
// challenge. The client is reloaded so that registration changes made during
// the flow take effect.
func (as *AuthorizationService) restore(ctx context.Context, requestURL string, stored *clients.Client) (*oauth2.AuthorizationParameters, *clients.Client, string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return nil, nil, "", apperrors.ErrInternal.WithDebug(err.Error())
	}
	params := oauth2.ParseAuthorizationParameters(u.Query())
	id := params.ClientID
	if stored != nil {
		id = stored.ID
	}
	client, err := as.loadClient(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}
	redirectURI, err := ResolveRedirectURI(params.RedirectURI, client)
	if err != nil {
		return nil, nil, "", err
	}
	return params, client, redirectURI, nil
}

func checkCSRF(expected, cookie string) error {
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(cookie)) != 1 {
		return apperrors.ErrForbidden.WithHint("The CSRF value from the cookie does not match the one bound to the challenge.")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
