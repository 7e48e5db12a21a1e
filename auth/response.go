package auth

import (
	"net/url"

	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
)

// Response tells the transport what to send to the user-agent. Exactly one of
// RedirectTo or FormPost is set.
type Response struct {
	RedirectTo string
	FormPost   *FormPost
	// CSRF, when set, must be stored in the cookie of its challenge.
	CSRF *CSRFCookie
	// Session, when set, must be stored in the login session cookie.
	Session *consent.LoginSession
	// ClearSession asks for the login session cookie to be removed.
	ClearSession bool
}

// CSRFCookie binds a challenge to the user-agent that started it. Each
// challenge has its own cookie so parallel flows in one browser do not
// overwrite each other.
type CSRFCookie struct {
	Kind      consent.Kind
	Challenge string
	Value     string
}

// CSRFLookup returns the CSRF cookie value held for a challenge, or "".
type CSRFLookup func(kind consent.Kind, challenge string) string

func (l CSRFLookup) value(kind consent.Kind, challenge string) string {
	if l == nil {
		return ""
	}
	return l(kind, challenge)
}

// FormPost is rendered as an auto-submitting form for response_mode=form_post.
type FormPost struct {
	Action string
	Values url.Values
}

// deliver sends the authorization response parameters to the client.
func (as *AuthorizationService) deliver(params *oauth2.AuthorizationParameters, redirectURI string, values url.Values) *Response {
	switch params.EffectiveResponseMode() {
	case oauth2.FormPostResponseMode:
		return &Response{FormPost: &FormPost{Action: redirectURI, Values: values}}
	case oauth2.FragmentResponseMode:
		u, err := url.Parse(redirectURI)
		if err != nil {
			return &Response{RedirectTo: redirectURI}
		}
		u.Fragment = ""
		u.RawFragment = ""
		return &Response{RedirectTo: u.String() + "#" + values.Encode()}
	default:
		return &Response{RedirectTo: withValues(redirectURI, values)}
	}
}

// errorResponse sends an OAuth2 error to the already validated redirect URI.
func (as *AuthorizationService) errorResponse(params *oauth2.AuthorizationParameters, redirectURI string, e *apperrors.Error) *Response {
	values := url.Values{}
	values.Set("error", e.Name)
	if e.Description != "" {
		values.Set("error_description", e.Description)
	}
	if e.Hint != "" {
		values.Set("error_hint", e.Hint)
	}
	if params.State != "" {
		values.Set("state", params.State)
	}
	return as.deliver(params, redirectURI, values)
}

func withQuery(raw, key, value string) string {
	return withValues(raw, url.Values{key: {value}})
}

// withValues adds values to the query of raw, keeping existing parameters.
func withValues(raw string, values url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
