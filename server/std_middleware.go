package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/jrsteele09/go-consent-server/internal/config"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type Middleware = func(http.Handler) http.Handler

// ChainMiddleware wraps handler so that mw[0] runs first.
func ChainMiddleware(handler http.Handler, mw ...Middleware) http.Handler {
	chained := handler
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// BaseMiddleware runs for every request, matched or not.
func (s *Server) BaseMiddleware() []Middleware {
	return []Middleware{
		hlog.NewHandler(log.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.RemoteAddrHandler("ip"),
		hlog.UserAgentHandler("user_agent"),
		hlog.AccessHandler(s.logRequest),
		s.RecoverMiddleware,
	}
}

// HTMLMiddleware is for endpoints the browser navigates to.
func (s *Server) HTMLMiddleware(mw ...Middleware) []Middleware {
	return append([]Middleware{s.FrameSecurityMiddleware}, mw...)
}

// APIMiddleware is for endpoints called from client-side code.
func (s *Server) APIMiddleware(mw ...Middleware) []Middleware {
	return append([]Middleware{s.cors.Handler}, mw...)
}

// AdminMiddleware guards the administrative API.
func (s *Server) AdminMiddleware() []Middleware {
	return []Middleware{s.RequireAdmin}
}

func (s *Server) logRequest(r *http.Request, status, size int, duration time.Duration) {
	s.metrics.observeRequest(r, status, duration)

	if s.env == "DEV" {
		code := fmt.Sprint(status)
		if status >= http.StatusBadRequest {
			code = Red + code + ResetColor
		}
		logRoute(r.Method, r.URL.Path+" "+code)
	}
	level := zerolog.DebugLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}
	hlog.FromRequest(r).WithLevel(level).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

func (s *Server) FrameSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panicking handler into a server_error response.
func (s *Server) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			writeJSONError(w, r, apperrors.ErrInternal)
		}()
		next.ServeHTTP(w, r)
	})
}

// NoStoreMiddleware marks responses carrying tokens as uncacheable.
func NoStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func newCORS(cfg config.Config) *cors.Cors {
	origins := cfg.GetAllowedOrigins()
	return cors.New(cors.Options{
		AllowOriginFunc:  origins.IsAllowedOrigin,
		AllowedMethods:   cfg.GetAllowedMethods(),
		AllowedHeaders:   cfg.GetAllowedHeaders(),
		ExposedHeaders:   []string{"Content-Type", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}
