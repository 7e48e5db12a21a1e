package consent

import (
	"encoding/json"
	"time"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/internal/errors"
)

// Kind names the three challenge flows.
type Kind string

const (
	KindLogin   Kind = "login"
	KindConsent Kind = "consent"
	KindLogout  Kind = "logout"
)

// Status of a challenge. Accepted and rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// OpenIDConnectContext carries the OIDC specific parts of the authorization
// request to the login and consent providers.
type OpenIDConnectContext struct {
	ACRValues         []string       `json:"acr_values,omitempty"`
	Display           string         `json:"display,omitempty"`
	IDTokenHintClaims map[string]any `json:"id_token_hint_claims,omitempty"`
	LoginHint         string         `json:"login_hint,omitempty"`
	UILocales         []string       `json:"ui_locales,omitempty"`
}

// LoginRequest is shown to the login provider.
type LoginRequest struct {
	Challenge         string                `json:"challenge"`
	Client            *clients.Client       `json:"client"`
	RequestedScope    []string              `json:"requested_scope"`
	RequestedAudience []string              `json:"requested_access_token_audience"`
	// Subject is set when Skip is true: the user is already authenticated.
	Subject     string                `json:"subject"`
	Skip        bool                  `json:"skip"`
	SessionID   string                `json:"session_id,omitempty"`
	RequestURL  string                `json:"request_url"`
	OIDCContext *OpenIDConnectContext `json:"oidc_context,omitempty"`
	RequestedAt time.Time             `json:"requested_at"`
}

// ConsentRequest is shown to the consent provider once login is done.
type ConsentRequest struct {
	Challenge         string                `json:"challenge"`
	Client            *clients.Client       `json:"client"`
	RequestedScope    []string              `json:"requested_scope"`
	RequestedAudience []string              `json:"requested_access_token_audience"`
	Subject           string                `json:"subject"`
	// Skip is true when a remembered consent already covers the request.
	Skip            bool                  `json:"skip"`
	RequestURL      string                `json:"request_url"`
	OIDCContext     *OpenIDConnectContext `json:"oidc_context,omitempty"`
	LoginChallenge  string                `json:"login_challenge"`
	LoginSessionID  string                `json:"login_session_id,omitempty"`
	ACR             string                `json:"acr,omitempty"`
	AMR             []string              `json:"amr,omitempty"`
	Context         map[string]any        `json:"context,omitempty"`
	AuthenticatedAt time.Time             `json:"authenticated_at"`
	RequestedAt     time.Time             `json:"requested_at"`
}

// LogoutRequest is shown to the logout provider.
type LogoutRequest struct {
	Challenge             string          `json:"challenge"`
	Subject               string          `json:"subject"`
	SessionID             string          `json:"sid"`
	RequestURL            string          `json:"request_url"`
	RPInitiated           bool            `json:"rp_initiated"`
	Client                *clients.Client `json:"client,omitempty"`
	PostLogoutRedirectURI string          `json:"post_logout_redirect_uri,omitempty"`
	State                 string          `json:"state,omitempty"`
	RequestedAt           time.Time       `json:"requested_at"`
}

// AcceptLogin is the login provider's answer when the user authenticated.
type AcceptLogin struct {
	Subject  string `json:"subject"`
	Remember bool   `json:"remember"`
	// RememberFor is in seconds. Zero means the default session lifetime.
	RememberFor int            `json:"remember_for"`
	ACR         string         `json:"acr,omitempty"`
	AMR         []string       `json:"amr,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// SessionData is merged into the tokens issued for a consent.
type SessionData struct {
	AccessToken map[string]any `json:"access_token,omitempty"`
	IDToken     map[string]any `json:"id_token,omitempty"`
}

// AcceptConsent is the consent provider's answer when the user granted access.
type AcceptConsent struct {
	GrantScope    []string `json:"grant_scope"`
	GrantAudience []string `json:"grant_access_token_audience"`
	Remember      bool     `json:"remember"`
	// RememberFor is in seconds. Zero means forever.
	RememberFor int          `json:"remember_for"`
	Session     *SessionData `json:"session,omitempty"`
}

// AcceptLogout has no fields. Accepting a logout needs no body.
type AcceptLogout struct{}

// RequestDeniedError is the body of a reject call. It is forwarded to the
// OAuth2 client as an error response.
type RequestDeniedError struct {
	Name        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Hint        string `json:"error_hint,omitempty"`
	Code        int    `json:"status_code,omitempty"`
	Debug       string `json:"error_debug,omitempty"`
}

func (e *RequestDeniedError) validate() error {
	if e.Name == "" {
		return errors.ErrBadRequest.WithHint("Field 'error' is required when rejecting a request.")
	}
	if e.Code == 0 {
		e.Code = 400
	}
	return nil
}

// ToError converts the denial into the typed OAuth2 error sent to the client.
func (e RequestDeniedError) ToError() *errors.Error {
	out := errors.ErrRequestDenied.WithHint(e.Hint)
	if e.Name != "" {
		out.Name = e.Name
	}
	if e.Description != "" {
		out.Description = e.Description
	}
	if e.Code != 0 {
		out.StatusCode = e.Code
	}
	out.Debug = e.Debug
	return out
}

// Outcome is how a challenge was handled: exactly one of Accepted or Rejected is set.
type Outcome[T any] struct {
	Accepted *T                  `json:"accepted,omitempty"`
	Rejected *RequestDeniedError `json:"rejected,omitempty"`
}

func Accepted[T any](v T) Outcome[T] {
	return Outcome[T]{Accepted: &v}
}

func Rejected[T any](e RequestDeniedError) Outcome[T] {
	return Outcome[T]{Rejected: &e}
}

func (o Outcome[T]) IsAccepted() bool {
	return o.Accepted != nil
}

func (o Outcome[T]) Status() Status {
	if o.IsAccepted() {
		return StatusAccepted
	}
	return StatusRejected
}

func (o Outcome[T]) validate() error {
	if (o.Accepted == nil) == (o.Rejected == nil) {
		return errors.ErrBadRequest.WithHint("A request must be either accepted or rejected.")
	}
	if o.Rejected != nil {
		return o.Rejected.validate()
	}
	return nil
}

// Handled is a request together with how it was handled, as returned when
// its verifier is redeemed.
type Handled[R, T any] struct {
	Request   *R
	Outcome   Outcome[T]
	HandledAt time.Time
	// CSRF must match the cookie set when the challenge was created.
	CSRF string
}

type (
	HandledLogin   = Handled[LoginRequest, AcceptLogin]
	HandledConsent = Handled[ConsentRequest, AcceptConsent]
	HandledLogout  = Handled[LogoutRequest, AcceptLogout]
)

// CompletedRequest tells the provider where to send the user-agent next.
type CompletedRequest struct {
	RedirectTo string `json:"redirect_to"`
}

// LoginSession is a remembered authentication, referenced by the session cookie.
type LoginSession struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	Remember        bool      `json:"remember"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ConsentSession is a previously granted consent. Remembered sessions let
// later consent requests skip the consent UI.
type ConsentSession struct {
	ConsentRequest *ConsentRequest `json:"consent_request"`
	GrantScope     []string        `json:"grant_scope"`
	GrantAudience  []string        `json:"grant_access_token_audience"`
	Session        *SessionData    `json:"session,omitempty"`
	Remember       bool            `json:"remember"`
	RememberFor    int             `json:"remember_for"`
	HandledAt      time.Time       `json:"handled_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

func (s *ConsentSession) Subject() string {
	return s.ConsentRequest.Subject
}

func (s *ConsentSession) ClientID() string {
	if s.ConsentRequest.Client == nil {
		return ""
	}
	return s.ConsentRequest.Client.ID
}

// Challenge is the stored envelope for any of the three request kinds.
type Challenge struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Verifier     string          `json:"verifier"`
	CSRF         string          `json:"csrf"`
	Subject      string          `json:"subject,omitempty"`
	ClientID     string          `json:"client_id,omitempty"`
	Status       Status          `json:"status"`
	VerifierUsed bool            `json:"verifier_used"`
	Request      json.RawMessage `json:"request"`
	Outcome      json.RawMessage `json:"outcome,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
	HandledAt    time.Time       `json:"handled_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}
