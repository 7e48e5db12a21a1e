package server

import (
	"net/http"

	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
)

const (
	actionAccept = "accept"
	actionReject = "reject"
)

// challengeKind reads the {kind} path segment.
func challengeKind(r *http.Request) (consent.Kind, string, error) {
	kind := consent.Kind(r.PathValue("kind"))
	switch kind {
	case consent.KindLogin, consent.KindConsent, consent.KindLogout:
	default:
		return "", "", apperrors.ErrNotFound.WithHintf("Unknown request kind %q.", kind)
	}
	challenge, err := requireQuery(r, string(kind)+"_challenge")
	if err != nil {
		return "", "", err
	}
	return kind, challenge, nil
}

// GetFlowRequest lets the login, consent or logout provider fetch a pending challenge.
func (s *Server) GetFlowRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, challenge, err := challengeKind(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		ctx := r.Context()
		var req any
		switch kind {
		case consent.KindLogin:
			req, err = s.consent.GetLoginRequest(ctx, challenge)
		case consent.KindConsent:
			req, err = s.consent.GetConsentRequest(ctx, challenge)
		case consent.KindLogout:
			req, err = s.consent.GetLogoutRequest(ctx, challenge)
		}
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, req)
	}
}

// HandleFlowRequest accepts or rejects a pending challenge and answers with
// where the user-agent goes next.
func (s *Server) HandleFlowRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, challenge, err := challengeKind(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		action := r.PathValue("action")
		if action != actionAccept && action != actionReject {
			writeJSONError(w, r, apperrors.ErrNotFound.WithHintf("Unknown action %q.", action))
			return
		}

		ctx := r.Context()
		var completed *consent.CompletedRequest
		switch {
		case kind == consent.KindLogin && action == actionAccept:
			var body consent.AcceptLogin
			if err = decodeJSON(w, r, &body); err == nil {
				completed, err = s.consent.AcceptLoginRequest(ctx, challenge, body)
			}
		case kind == consent.KindLogin:
			var body consent.RequestDeniedError
			if err = decodeJSON(w, r, &body); err == nil {
				completed, err = s.consent.RejectLoginRequest(ctx, challenge, body)
			}
		case kind == consent.KindConsent && action == actionAccept:
			var body consent.AcceptConsent
			if err = decodeJSON(w, r, &body); err == nil {
				completed, err = s.consent.AcceptConsentRequest(ctx, challenge, body)
			}
		case kind == consent.KindConsent:
			var body consent.RequestDeniedError
			if err = decodeJSON(w, r, &body); err == nil {
				completed, err = s.consent.RejectConsentRequest(ctx, challenge, body)
			}
		case action == actionAccept:
			completed, err = s.consent.AcceptLogoutRequest(ctx, challenge)
		default:
			if err = s.consent.RejectLogoutRequest(ctx, challenge); err == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, completed)
	}
}

// ListConsentSessions returns every remembered consent of a subject.
func (s *Server) ListConsentSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := requireQuery(r, "subject")
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		sessions, err := s.consent.ListConsentSessions(r.Context(), subject)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		if sessions == nil {
			sessions = []*consent.ConsentSession{}
		}
		writeJSON(w, r, http.StatusOK, sessions)
	}
}

// RevokeConsentSessions forgets consents, for one client when ?client= is
// given, and revokes the tokens issued under them.
func (s *Server) RevokeConsentSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := requireQuery(r, "subject")
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		if err := s.auth.RevokeConsentSessions(r.Context(), subject, r.URL.Query().Get("client")); err != nil {
			writeJSONError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RevokeLoginSessions logs a subject out of every browser.
func (s *Server) RevokeLoginSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := requireQuery(r, "subject")
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		if err := s.auth.RevokeLoginSessions(r.Context(), subject); err != nil {
			writeJSONError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
