package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-consent-server/janitor"
)

// Janitor returns the periodic purge of expired flow and token state.
func (s *Server) Janitor(interval time.Duration) *janitor.Janitor {
	return janitor.New(interval).
		Add("challenges", s.consent.DeleteExpired).
		Add("tokens", s.tokens.Cleanup)
}

// MountUI serves an HTML handler, such as the bundled login provider, under
// prefix with the same framing protections as the server's own pages.
func (s *Server) MountUI(prefix string, ui http.Handler) {
	s.RegisterRouteHandler(prefix, ChainMiddleware(ui, s.HTMLMiddleware()...))
}
