package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-consent-server/auth"
	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/jrsteele09/go-consent-server/token"
	"github.com/pkg/errors"
	"github.com/rs/cors"
)

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	handler http.Handler
	routes  []string
	config  config.Config

	auth    *auth.AuthorizationService
	clients *clients.Manager
	consent *consent.Manager
	tokens  *token.Manager
	keys    *jwk.Manager
	metrics *Metrics
	ready   map[string]ReadyCheck

	cookies  *cookieJar
	cors     *cors.Cors
	formPost *template.Template
}

// ReadyCheck reports whether a backing service can serve requests.
type ReadyCheck func(ctx context.Context) error

func New(cfg config.Config, deps *Dependencies) (*Server, error) {
	authService, err := auth.NewAuthorizationService(deps.Clients, deps.Consent, deps.Tokens, auth.URLs{
		Issuer:                cfg.GetBaseURL(),
		LoginURL:              cfg.GetLoginURL(),
		ConsentURL:            cfg.GetConsentURL(),
		LogoutURL:             cfg.GetLogoutURL(),
		PostLogoutRedirectURL: cfg.GetPostLogoutRedirectURL(),
	},
		auth.WithRequirePKCE(cfg.GetRequirePKCE()),
		auth.WithGrantObserver(deps.Metrics.ObserveGrant),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[Server New] failed to create authorization service")
	}
	cookies, err := newCookieJar(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "[Server New] failed to set up cookies")
	}
	formPost, err := ParseTemplate("form_post.html")
	if err != nil {
		return nil, errors.Wrap(err, "[Server New] failed to parse form_post template")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		auth:     authService,
		clients:  deps.Clients,
		consent:  deps.Consent,
		tokens:   deps.Tokens,
		keys:     deps.Keys,
		metrics:  deps.Metrics,
		ready:    deps.ReadyChecks,
		cookies:  cookies,
		cors:     newCORS(cfg),
		formPost: formPost,
	}
	s.initRoutes()
	s.handler = ChainMiddleware(s.mux, s.BaseMiddleware()...)
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Auth exposes the protocol engine to in-process callers such as the CLI.
func (s *Server) Auth() *auth.AuthorizationService {
	return s.auth
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, ok := strings.Cut(route, " ")
		if !ok {
			method, path = "", route
		}
		logRoute(method, path)
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	fmt.Printf("[%s] %s\n", color+paddedMethod+ResetColor, path)
}

// publicURL rebuilds the URL the user-agent requested, as seen from outside.
func (s *Server) publicURL(r *http.Request) string {
	return strings.TrimRight(s.config.GetBaseURL(), "/") + r.URL.RequestURI()
}
