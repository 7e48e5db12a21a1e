// Package loginprovider is a minimal login, consent and logout UI. It knows
// the users; the consent server only learns the subject it accepts.
package loginprovider

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/sdk"
	"github.com/jrsteele09/go-consent-server/users"
	"github.com/rs/zerolog/log"
)

// Routes served by the provider.
const (
	RouteLogin     = "/ui/login"
	RouteConsent   = "/ui/consent"
	RouteLogout    = "/ui/logout"
	RouteLoggedOut = "/ui/logged-out"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"

	// rememberFor is how long a remembered login or consent lasts, in seconds.
	rememberFor = 3600
)

//go:embed templates/*.html
var templateFiles embed.FS

// FlowAPI is the part of the admin API the provider calls.
type FlowAPI interface {
	GetLoginRequest(ctx context.Context, challenge string) (*consent.LoginRequest, error)
	AcceptLoginRequest(ctx context.Context, challenge string, body consent.AcceptLogin) (*consent.CompletedRequest, error)
	RejectLoginRequest(ctx context.Context, challenge string, body consent.RequestDeniedError) (*consent.CompletedRequest, error)
	GetConsentRequest(ctx context.Context, challenge string) (*consent.ConsentRequest, error)
	AcceptConsentRequest(ctx context.Context, challenge string, body consent.AcceptConsent) (*consent.CompletedRequest, error)
	RejectConsentRequest(ctx context.Context, challenge string, body consent.RequestDeniedError) (*consent.CompletedRequest, error)
	GetLogoutRequest(ctx context.Context, challenge string) (*consent.LogoutRequest, error)
	AcceptLogoutRequest(ctx context.Context, challenge string) (*consent.CompletedRequest, error)
	RejectLogoutRequest(ctx context.Context, challenge string) error
}

var _ FlowAPI = (*sdk.Client)(nil)

type Provider struct {
	appName   string
	flows     FlowAPI
	users     users.Repo
	mux       *http.ServeMux
	templates map[string]*template.Template
	nowTime   func() time.Time
}

func New(appName string, flows FlowAPI, repo users.Repo) (*Provider, error) {
	p := &Provider{
		appName:   appName,
		flows:     flows,
		users:     repo,
		mux:       http.NewServeMux(),
		templates: map[string]*template.Template{},
		nowTime:   time.Now,
	}
	for _, name := range []string{"login.html", "consent.html", "logout.html", "logged_out.html", "error.html"} {
		tmpl, err := template.ParseFS(templateFiles, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, err
		}
		p.templates[name] = tmpl
	}

	p.mux.HandleFunc("GET "+RouteLogin, p.LoginPage())
	p.mux.HandleFunc("POST "+RouteLogin, p.LoginSubmit())
	p.mux.HandleFunc("GET "+RouteConsent, p.ConsentPage())
	p.mux.HandleFunc("POST "+RouteConsent, p.ConsentSubmit())
	p.mux.HandleFunc("GET "+RouteLogout, p.LogoutPage())
	p.mux.HandleFunc("POST "+RouteLogout, p.LogoutSubmit())
	p.mux.HandleFunc("GET "+RouteLoggedOut, p.LoggedOutPage())
	return p, nil
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// pageData is what every template gets.
type pageData struct {
	AppName   string
	Challenge string
	Error     string
	Email     string
	Client    string
	Scopes    []string
	Subject   string
}

func (p *Provider) render(w http.ResponseWriter, status int, name string, data pageData) {
	data.AppName = p.appName
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	if err := p.templates[name].ExecuteTemplate(w, "layout", data); err != nil {
		log.Err(err).Str("template", name).Msg("failed to render page")
	}
}

func (p *Provider) renderError(w http.ResponseWriter, status int, err error) {
	log.Debug().Err(err).Msg("login provider request failed")
	p.render(w, status, "error.html", pageData{Error: err.Error()})
}

func (p *Provider) redirect(w http.ResponseWriter, r *http.Request, completed *consent.CompletedRequest) {
	http.Redirect(w, r, completed.RedirectTo, http.StatusFound)
}

func clientName(c *clients.Client) string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
