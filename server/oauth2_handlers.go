package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-consent-server/auth"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/rs/zerolog/hlog"
)

// WellKnownOpenIDConfig serves the OIDC discovery document.
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := strings.TrimRight(s.config.GetBaseURL(), "/")
		codeMethods := []string{string(oauth2.CodeMethodTypeS256)}
		if !s.config.GetRequirePKCE() {
			codeMethods = append(codeMethods, string(oauth2.CodeMethodTypePlain))
		}

		resp := map[string]any{
			"issuer":                 baseURL,
			"authorization_endpoint": baseURL + RouteOAuth2Authorize,
			"token_endpoint":         baseURL + RouteOAuth2Token,
			"userinfo_endpoint":      baseURL + RouteUserInfo,
			"jwks_uri":               baseURL + RouteWellKnownJWKS,
			"revocation_endpoint":    baseURL + RouteOAuth2Revoke,
			"introspection_endpoint": baseURL + RouteOAuth2Introspect,
			"end_session_endpoint":   baseURL + RouteOAuth2Logout,

			"response_types_supported": []string{
				"code",
				"token",
				"id_token",
				"code id_token",
				"code token",
				"id_token token",
				"code id_token token",
			},
			"response_modes_supported": []string{
				string(oauth2.QueryResponseMode),
				string(oauth2.FragmentResponseMode),
				string(oauth2.FormPostResponseMode),
			},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{s.config.GetIDTokenAlgorithm()},
			"scopes_supported":                      []string{oauth2.ScopeOpenID, oauth2.ScopeOffline, oauth2.ScopeOfflineAccess},
			"token_endpoint_auth_methods_supported": []string{
				string(oauth2.ClientSecretBasic),
				string(oauth2.ClientSecretPost),
				string(oauth2.PrivateKeyJWT),
				string(oauth2.AuthMethodNone),
			},
			"grant_types_supported": []string{
				string(oauth2.AuthorizationCodeGrant),
				string(oauth2.ImplicitGrant),
				string(oauth2.RefreshTokenGrant),
				string(oauth2.ClientCredentialsGrant),
			},
			"code_challenge_methods_supported":      codeMethods,
			"claims_supported":                      []string{"sub"},
			"claims_parameter_supported":            false,
			"request_parameter_supported":           false,
			"request_uri_parameter_supported":       false,
			"frontchannel_logout_supported":         false,
			"backchannel_logout_supported":          false,
			"userinfo_signing_alg_values_supported": []string{"none"},
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, r, http.StatusOK, resp)
	}
}

// JWKS returns the public keys that verify ID tokens and access tokens.
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.keys.PublicJWKS(r.Context(), jwk.IDTokenSet, jwk.AccessTokenSet)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, r, http.StatusOK, keys)
	}
}

// Authorize runs the authorization endpoint. Errors raised before the
// redirect URI is trusted are answered here; later ones travel in the response.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.auth.Authorize(r.Context(), &auth.AuthorizeRequest{
			Params:     oauth2.ParseAuthorizationParameters(r.URL.Query()),
			RequestURL: s.publicURL(r),
			SessionID:  s.cookies.sessionID(r),
			CSRF:       s.cookies.csrfLookup(r),
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.writeFlowResponse(w, r, resp)
	}
}

// Logout runs /oauth2/sessions/logout for both starting and finishing a logout.
func (s *Server) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		resp, err := s.auth.Logout(r.Context(), &auth.LogoutRequest{
			IDTokenHint:           q.Get("id_token_hint"),
			PostLogoutRedirectURI: q.Get("post_logout_redirect_uri"),
			State:                 q.Get("state"),
			LogoutVerifier:        q.Get("logout_verifier"),
			RequestURL:            s.publicURL(r),
			SessionID:             s.cookies.sessionID(r),
			CSRF:                  s.cookies.csrfLookup(r),
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.writeFlowResponse(w, r, resp)
	}
}

// writeFlowResponse applies the cookie changes and sends the user-agent on.
func (s *Server) writeFlowResponse(w http.ResponseWriter, r *http.Request, resp *auth.Response) {
	if resp.CSRF != nil {
		if err := s.cookies.setCSRF(w, resp.CSRF); err != nil {
			writeJSONError(w, r, err)
			return
		}
	}
	switch {
	case resp.Session != nil:
		if err := s.cookies.setSession(w, resp.Session); err != nil {
			writeJSONError(w, r, err)
			return
		}
	case resp.ClearSession:
		s.cookies.clearSession(w)
	}

	if resp.FormPost != nil {
		w.Header().Set("Content-Type", contentTypeHTML)
		w.Header().Set("Cache-Control", "no-store")
		if err := s.formPost.Execute(w, resp.FormPost); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("failed to render form_post response")
		}
		return
	}
	http.Redirect(w, r, resp.RedirectTo, http.StatusFound)
}

// Token exchanges a grant for tokens.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, apperrors.ErrBadRequest.WithHint("The request body must be form encoded."))
			return
		}
		resp, err := s.auth.Token(r.Context(), clientCredentials(r), oauth2.ParseTokenRequest(r.PostForm))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

// Introspect implements RFC 7662. Callers authenticate as a client or with
// any active access token.
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, apperrors.ErrBadRequest.WithHint("The request body must be form encoded."))
			return
		}
		if err := s.auth.AuthenticateCaller(r.Context(), clientCredentials(r), bearerToken(r)); err != nil {
			writeJSONError(w, r, apperrors.ErrUnauthorized.WithHint("The caller of the introspection endpoint must authenticate.").WithDebug(err.Error()))
			return
		}
		raw := r.PostForm.Get("token")
		if raw == "" {
			writeJSONError(w, r, apperrors.ErrBadRequest.WithHint("Form parameter 'token' is required."))
			return
		}
		resp := s.auth.Introspect(r.Context(), raw,
			oauth2.TokenTypeHint(r.PostForm.Get("token_type_hint")),
			oauth2.ParseArguments(r.PostForm.Get("scope")))
		writeJSON(w, r, http.StatusOK, resp)
	}
}

// Revoke implements RFC 7009.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, apperrors.ErrBadRequest.WithHint("The request body must be form encoded."))
			return
		}
		err := s.auth.Revoke(r.Context(), clientCredentials(r),
			r.PostForm.Get("token"),
			oauth2.TokenTypeHint(r.PostForm.Get("token_type_hint")))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// UserInfo returns the claims of the access token holder. The token comes
// from the Authorization header or, on POST, the access_token form field.
func (s *Server) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		if bearer == "" && r.Method == http.MethodPost {
			if err := r.ParseForm(); err == nil {
				bearer = r.PostForm.Get("access_token")
			}
		}
		info, err := s.auth.UserInfo(r.Context(), bearer)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}
