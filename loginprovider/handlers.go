package loginprovider

import (
	"context"
	"errors"
	"net/http"

	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/users"
	"github.com/rs/zerolog/log"
)

var errMissingChallenge = errors.New("the request carries no challenge")

func statusOf(err error) int {
	if errors.Is(err, errMissingChallenge) {
		return http.StatusBadRequest
	}
	return apperrors.ToError(err).StatusCode
}

func denied(description string) consent.RequestDeniedError {
	return consent.RequestDeniedError{
		Name:        apperrors.ErrAccessDenied.Name,
		Description: description,
		Code:        http.StatusForbidden,
	}
}

// LoginPage shows the login form, or accepts right away when the server
// already knows who the user is.
func (p *Provider) LoginPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge := r.URL.Query().Get("login_challenge")
		if challenge == "" {
			p.renderError(w, http.StatusBadRequest, errMissingChallenge)
			return
		}
		lr, err := p.flows.GetLoginRequest(r.Context(), challenge)
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		if lr.Skip {
			completed, err := p.flows.AcceptLoginRequest(r.Context(), challenge, consent.AcceptLogin{Subject: lr.Subject})
			if err != nil {
				p.renderError(w, statusOf(err), err)
				return
			}
			p.redirect(w, r, completed)
			return
		}

		data := pageData{Challenge: challenge, Client: clientName(lr.Client)}
		if lr.OIDCContext != nil {
			data.Email = lr.OIDCContext.LoginHint
		}
		p.render(w, http.StatusOK, "login.html", data)
	}
}

// LoginSubmit checks the credentials and accepts or rejects the login challenge.
func (p *Provider) LoginSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			p.renderError(w, http.StatusBadRequest, err)
			return
		}
		ctx := r.Context()
		challenge := r.PostForm.Get("challenge")
		if challenge == "" {
			p.renderError(w, http.StatusBadRequest, errMissingChallenge)
			return
		}

		if r.PostForm.Get("action") == "deny" {
			completed, err := p.flows.RejectLoginRequest(ctx, challenge, denied("The user declined to sign in."))
			if err != nil {
				p.renderError(w, statusOf(err), err)
				return
			}
			p.redirect(w, r, completed)
			return
		}

		email := r.PostForm.Get("email")
		user, err := users.Authenticate(ctx, p.users, email, r.PostForm.Get("password"))
		if err != nil {
			p.render(w, http.StatusUnauthorized, "login.html", pageData{Challenge: challenge, Email: email, Error: err.Error()})
			return
		}

		completed, err := p.flows.AcceptLoginRequest(ctx, challenge, consent.AcceptLogin{
			Subject:     user.ID,
			Remember:    r.PostForm.Get("remember") != "",
			RememberFor: rememberFor,
			AMR:         []string{"pwd"},
		})
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		if err := p.users.SetLastLogin(ctx, user.ID, p.nowTime().UTC()); err != nil {
			log.Warn().Err(err).Str("subject", user.ID).Msg("failed to record last login")
		}
		p.redirect(w, r, completed)
	}
}

// ConsentPage asks the user which scopes to grant, unless they already did.
func (p *Provider) ConsentPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge := r.URL.Query().Get("consent_challenge")
		if challenge == "" {
			p.renderError(w, http.StatusBadRequest, errMissingChallenge)
			return
		}
		ctx := r.Context()
		cr, err := p.flows.GetConsentRequest(ctx, challenge)
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		if cr.Skip {
			completed, err := p.flows.AcceptConsentRequest(ctx, challenge, consent.AcceptConsent{
				GrantScope:    cr.RequestedScope,
				GrantAudience: cr.RequestedAudience,
				Session:       p.session(ctx, cr.Subject, cr.RequestedScope),
			})
			if err != nil {
				p.renderError(w, statusOf(err), err)
				return
			}
			p.redirect(w, r, completed)
			return
		}
		p.render(w, http.StatusOK, "consent.html", pageData{
			Challenge: challenge,
			Client:    clientName(cr.Client),
			Scopes:    cr.RequestedScope,
			Subject:   cr.Subject,
		})
	}
}

// ConsentSubmit grants the ticked scopes or rejects the consent challenge.
func (p *Provider) ConsentSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			p.renderError(w, http.StatusBadRequest, err)
			return
		}
		ctx := r.Context()
		challenge := r.PostForm.Get("challenge")
		if challenge == "" {
			p.renderError(w, http.StatusBadRequest, errMissingChallenge)
			return
		}

		if r.PostForm.Get("action") == "deny" {
			completed, err := p.flows.RejectConsentRequest(ctx, challenge, denied("The user declined to grant access."))
			if err != nil {
				p.renderError(w, statusOf(err), err)
				return
			}
			p.redirect(w, r, completed)
			return
		}

		cr, err := p.flows.GetConsentRequest(ctx, challenge)
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		granted := r.PostForm["grant_scope"]
		if granted == nil {
			granted = []string{}
		}
		completed, err := p.flows.AcceptConsentRequest(ctx, challenge, consent.AcceptConsent{
			GrantScope:    granted,
			GrantAudience: cr.RequestedAudience,
			Remember:      r.PostForm.Get("remember") != "",
			RememberFor:   rememberFor,
			Session:       p.session(ctx, cr.Subject, granted),
		})
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		p.redirect(w, r, completed)
	}
}

// session returns the claims of the subject that the granted scopes release.
func (p *Provider) session(ctx context.Context, subject string, scope []string) *consent.SessionData {
	user, err := p.users.GetByID(ctx, subject)
	if err != nil {
		return nil
	}
	claims := user.Claims(scope)
	if len(claims) == 0 {
		return nil
	}
	return &consent.SessionData{IDToken: claims}
}

// LogoutPage asks the user to confirm the logout.
func (p *Provider) LogoutPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge := r.URL.Query().Get("logout_challenge")
		if challenge == "" {
			p.renderError(w, http.StatusBadRequest, errMissingChallenge)
			return
		}
		lr, err := p.flows.GetLogoutRequest(r.Context(), challenge)
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		p.render(w, http.StatusOK, "logout.html", pageData{
			Challenge: challenge,
			Subject:   lr.Subject,
			Client:    clientName(lr.Client),
		})
	}
}

func (p *Provider) LogoutSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			p.renderError(w, http.StatusBadRequest, err)
			return
		}
		ctx := r.Context()
		challenge := r.PostForm.Get("challenge")
		if challenge == "" {
			p.renderError(w, http.StatusBadRequest, errMissingChallenge)
			return
		}
		if r.PostForm.Get("action") != "accept" {
			if err := p.flows.RejectLogoutRequest(ctx, challenge); err != nil {
				p.renderError(w, statusOf(err), err)
				return
			}
			p.render(w, http.StatusOK, "logged_out.html", pageData{Error: "You are still signed in."})
			return
		}
		completed, err := p.flows.AcceptLogoutRequest(ctx, challenge)
		if err != nil {
			p.renderError(w, statusOf(err), err)
			return
		}
		p.redirect(w, r, completed)
	}
}

// LoggedOutPage is the default post logout redirect target.
func (p *Provider) LoggedOutPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.render(w, http.StatusOK, "logged_out.html", pageData{})
	}
}
