package server

import (
	"context"
	"net/http"

	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/rs/zerolog/hlog"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// ContextKeyAdminClientID holds the client the admin caller acts for.
const ContextKeyAdminClientID ContextKey = "admin_client_id"

// AdminClientID returns the client that authenticated an admin request.
func AdminClientID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyAdminClientID).(string)
	return id
}

// RequireAdmin accepts a bearer token granted the admin scope or the basic
// credentials of a client registered with it. Missing or bad credentials
// are 401, credentials without the scope are 403.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.GetAdminAuthDisabled() {
			next.ServeHTTP(w, r)
			return
		}
		scope := s.config.GetAdminScope()
		ctx := r.Context()

		var clientID string
		if bearer := bearerToken(r); bearer != "" {
			rec, err := s.tokens.ValidateAccessToken(ctx, bearer)
			if err != nil {
				writeJSONError(w, r, apperrors.ErrUnauthorized.WithHint("The bearer token is not active.").WithDebug(err.Error()))
				return
			}
			if !oauth2.Arguments(rec.Scope).Has(scope) {
				writeJSONError(w, r, apperrors.ErrForbidden.WithHintf("The bearer token was not granted the %q scope.", scope))
				return
			}
			clientID = rec.ClientID
		} else if id, secret, ok := basicCredentials(r); ok {
			client, err := s.clients.Authenticate(ctx, id, secret)
			if err != nil {
				writeJSONError(w, r, apperrors.ErrUnauthorized.WithHint("Unknown client or wrong credentials.").WithDebug(err.Error()))
				return
			}
			if !client.HasScope(scope) {
				writeJSONError(w, r, apperrors.ErrForbidden.WithHintf("The client is not registered with the %q scope.", scope))
				return
			}
			clientID = client.ID
		} else {
			writeJSONError(w, r, apperrors.ErrUnauthorized.WithHint("The administrative API requires a bearer token or client credentials."))
			return
		}

		hlog.FromRequest(r).Debug().Str("client_id", clientID).Str("path", r.URL.Path).Msg("admin request")
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ContextKeyAdminClientID, clientID)))
	})
}
