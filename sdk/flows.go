package sdk

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-consent-server/consent"
)

func challengeQuery(kind consent.Kind, challenge string) url.Values {
	return url.Values{string(kind) + "_challenge": {challenge}}
}

func getFlow[R any](ctx context.Context, c *Client, kind consent.Kind, challenge string) (*R, error) {
	out := new(R)
	if err := c.do(ctx, http.MethodGet, "/oauth2/auth/requests/"+string(kind), challengeQuery(kind, challenge), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) settle(ctx context.Context, kind consent.Kind, action, challenge string, body any) (*consent.CompletedRequest, error) {
	out := &consent.CompletedRequest{}
	path := "/oauth2/auth/requests/" + string(kind) + "/" + action
	if err := c.do(ctx, http.MethodPut, path, challengeQuery(kind, challenge), body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetLoginRequest(ctx context.Context, challenge string) (*consent.LoginRequest, error) {
	return getFlow[consent.LoginRequest](ctx, c, consent.KindLogin, challenge)
}

// AcceptLoginRequest tells the server who authenticated. The user-agent must
// be sent to the returned RedirectTo.
func (c *Client) AcceptLoginRequest(ctx context.Context, challenge string, body consent.AcceptLogin) (*consent.CompletedRequest, error) {
	return c.settle(ctx, consent.KindLogin, "accept", challenge, body)
}

func (c *Client) RejectLoginRequest(ctx context.Context, challenge string, body consent.RequestDeniedError) (*consent.CompletedRequest, error) {
	return c.settle(ctx, consent.KindLogin, "reject", challenge, body)
}

func (c *Client) GetConsentRequest(ctx context.Context, challenge string) (*consent.ConsentRequest, error) {
	return getFlow[consent.ConsentRequest](ctx, c, consent.KindConsent, challenge)
}

func (c *Client) AcceptConsentRequest(ctx context.Context, challenge string, body consent.AcceptConsent) (*consent.CompletedRequest, error) {
	return c.settle(ctx, consent.KindConsent, "accept", challenge, body)
}

func (c *Client) RejectConsentRequest(ctx context.Context, challenge string, body consent.RequestDeniedError) (*consent.CompletedRequest, error) {
	return c.settle(ctx, consent.KindConsent, "reject", challenge, body)
}

func (c *Client) GetLogoutRequest(ctx context.Context, challenge string) (*consent.LogoutRequest, error) {
	return getFlow[consent.LogoutRequest](ctx, c, consent.KindLogout, challenge)
}

func (c *Client) AcceptLogoutRequest(ctx context.Context, challenge string) (*consent.CompletedRequest, error) {
	return c.settle(ctx, consent.KindLogout, "accept", challenge, nil)
}

// RejectLogoutRequest keeps the session. There is nowhere to redirect to.
func (c *Client) RejectLogoutRequest(ctx context.Context, challenge string) error {
	path := "/oauth2/auth/requests/" + string(consent.KindLogout) + "/reject"
	return c.do(ctx, http.MethodPut, path, challengeQuery(consent.KindLogout, challenge), nil, nil)
}

func (c *Client) ListConsentSessions(ctx context.Context, subject string) ([]*consent.ConsentSession, error) {
	var out []*consent.ConsentSession
	if err := c.do(ctx, http.MethodGet, "/oauth2/auth/sessions/consent", url.Values{"subject": {subject}}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RevokeConsentSessions forgets the consents of subject, for every client
// when clientID is empty, and revokes the tokens issued under them.
func (c *Client) RevokeConsentSessions(ctx context.Context, subject, clientID string) error {
	q := url.Values{"subject": {subject}}
	if clientID != "" {
		q.Set("client", clientID)
	}
	return c.do(ctx, http.MethodDelete, "/oauth2/auth/sessions/consent", q, nil, nil)
}

func (c *Client) RevokeLoginSessions(ctx context.Context, subject string) error {
	return c.do(ctx, http.MethodDelete, "/oauth2/auth/sessions/login", url.Values{"subject": {subject}}, nil, nil)
}
