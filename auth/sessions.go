package auth

import (
	"context"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LogoutRequest is one hit on /oauth2/sessions/logout.
type LogoutRequest struct {
	IDTokenHint           string
	PostLogoutRedirectURI string
	State                 string
	LogoutVerifier        string
	RequestURL            string
	SessionID             string
	CSRF                  CSRFLookup
}

// Logout starts an RP or user initiated logout by handing a logout challenge
// to the logout provider, or finishes one when the provider accepted it.
func (as *AuthorizationService) Logout(ctx context.Context, req *LogoutRequest) (*Response, error) {
	if req.LogoutVerifier != "" {
		return as.finishLogout(ctx, req)
	}

	lr := &consent.LogoutRequest{
		RequestURL: req.RequestURL,
		State:      req.State,
	}
	if req.IDTokenHint != "" {
		claims, err := as.tokens.VerifyIDToken(ctx, req.IDTokenHint)
		if err != nil {
			return nil, err
		}
		lr.RPInitiated = true
		lr.Subject, _ = claims["sub"].(string)
		lr.SessionID, _ = claims["sid"].(string)
		client, err := as.hintedClient(ctx, claims["aud"])
		if err != nil {
			return nil, err
		}
		lr.Client = client
		if req.PostLogoutRedirectURI != "" {
			if !client.HasPostLogoutRedirectURI(req.PostLogoutRedirectURI) {
				return nil, apperrors.ErrBadRequest.WithHintf("The 'post_logout_redirect_uri' %q is not registered for the client.", req.PostLogoutRedirectURI)
			}
			lr.PostLogoutRedirectURI = req.PostLogoutRedirectURI
		}
	} else if req.PostLogoutRedirectURI != "" {
		return nil, apperrors.ErrBadRequest.WithHint("Parameter 'post_logout_redirect_uri' requires an 'id_token_hint'.")
	}

	if req.SessionID != "" {
		if session, err := as.consent.GetLoginSession(ctx, req.SessionID); err == nil {
			if lr.Subject != "" && lr.Subject != session.Subject {
				return nil, apperrors.ErrBadRequest.WithHint("The 'id_token_hint' was issued to a different subject than the one logged in.")
			}
			lr.Subject = session.Subject
			lr.SessionID = session.ID
		}
	}
	if lr.Subject == "" {
		// Nobody is logged in, there is nothing to ask the logout provider.
		return &Response{RedirectTo: as.postLogoutTarget(lr.PostLogoutRedirectURI, lr.State), ClearSession: true}, nil
	}

	csrf, err := as.consent.CreateLogoutRequest(ctx, lr)
	if err != nil {
		return nil, errors.Wrap(err, "[Logout] create logout request")
	}
	log.Debug().Str("challenge", lr.Challenge).Str("subject", lr.Subject).Bool("rp_initiated", lr.RPInitiated).Msg("logout challenge created")
	return &Response{
		RedirectTo: withQuery(as.urls.LogoutURL, "logout_challenge", lr.Challenge),
		CSRF:       &CSRFCookie{Kind: consent.KindLogout, Challenge: lr.Challenge, Value: csrf},
	}, nil
}

func (as *AuthorizationService) finishLogout(ctx context.Context, req *LogoutRequest) (*Response, error) {
	handled, err := as.consent.VerifyAndInvalidateLogoutRequest(ctx, req.LogoutVerifier)
	if err != nil {
		return nil, err
	}
	if err := checkCSRF(handled.CSRF, req.CSRF.value(consent.KindLogout, handled.Request.Challenge)); err != nil {
		return nil, err
	}
	if !handled.Outcome.IsAccepted() {
		return nil, apperrors.ErrBadRequest.WithHint("The logout request was rejected.")
	}
	lr := handled.Request
	if lr.SessionID != "" {
		if _, err := as.consent.DeleteLoginSession(ctx, lr.SessionID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, errors.Wrap(err, "[Logout] delete login session")
		}
	}
	log.Debug().Str("subject", lr.Subject).Str("sid", lr.SessionID).Msg("logout completed")
	return &Response{RedirectTo: as.postLogoutTarget(lr.PostLogoutRedirectURI, lr.State), ClearSession: true}, nil
}

func (as *AuthorizationService) postLogoutTarget(uri, state string) string {
	if uri == "" {
		return as.urls.PostLogoutRedirectURL
	}
	if state == "" {
		return uri
	}
	return withQuery(uri, "state", state)
}

// hintedClient loads the client an ID token was issued to.
func (as *AuthorizationService) hintedClient(ctx context.Context, aud any) (*clients.Client, error) {
	var id string
	switch v := aud.(type) {
	case string:
		id = v
	case []any:
		if len(v) == 1 {
			id, _ = v[0].(string)
		}
	}
	if id == "" {
		return nil, apperrors.ErrBadRequest.WithHint("The 'id_token_hint' must have exactly one audience.")
	}
	client, err := as.clients.Get(ctx, id)
	if err != nil {
		return nil, apperrors.ErrBadRequest.WithHint("The 'id_token_hint' was issued to an unknown client.").WithDebug(err.Error())
	}
	return client, nil
}

// RevokeConsentSessions forgets consents of subject, optionally only for one
// client, and revokes every token issued under them.
func (as *AuthorizationService) RevokeConsentSessions(ctx context.Context, subject, clientID string) error {
	revoked, err := as.consent.RevokeConsentSessions(ctx, subject, clientID)
	if err != nil {
		return err
	}
	for _, s := range revoked {
		if err := as.tokens.RevokeRequest(ctx, s.ConsentRequest.Challenge); err != nil {
			return errors.Wrapf(err, "[RevokeConsentSessions] revoke tokens of %s", s.ConsentRequest.Challenge)
		}
	}
	log.Debug().Str("subject", subject).Str("client_id", clientID).Int("sessions", len(revoked)).Msg("consent sessions revoked")
	return nil
}

// RevokeLoginSessions logs subject out everywhere. Issued tokens stay valid.
func (as *AuthorizationService) RevokeLoginSessions(ctx context.Context, subject string) error {
	return as.consent.RevokeSubjectLoginSessions(ctx, subject)
}
