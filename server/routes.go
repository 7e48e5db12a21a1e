package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	preflight := map[string]bool{}
	api := func(method, path string, handler http.Handler, mw ...Middleware) {
		s.RegisterRouteHandler(method+" "+path, ChainMiddleware(handler, s.APIMiddleware(mw...)...))
		if !preflight[path] {
			preflight[path] = true
			s.RegisterRouteHandler(http.MethodOptions+" "+path, ChainMiddleware(http.NotFoundHandler(), s.APIMiddleware()...))
		}
	}
	admin := func(method, path string, handler http.Handler) {
		s.RegisterRouteHandler(method+" "+path, ChainMiddleware(handler, s.AdminMiddleware()...))
	}

	// OAuth2 / OIDC browser routes
	s.RegisterRouteHandler("GET "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.HTMLMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteOAuth2Logout, ChainMiddleware(s.Logout(), s.HTMLMiddleware()...))

	// OAuth2 / OIDC API routes
	api(http.MethodGet, RouteWellKnownOpenIDConfig, s.WellKnownOpenIDConfig())
	api(http.MethodGet, RouteWellKnownJWKS, s.JWKS())
	api(http.MethodPost, RouteOAuth2Token, s.Token(), NoStoreMiddleware)
	api(http.MethodPost, RouteOAuth2Introspect, s.Introspect(), NoStoreMiddleware)
	api(http.MethodPost, RouteOAuth2Revoke, s.Revoke())
	api(http.MethodGet, RouteUserInfo, s.UserInfo(), NoStoreMiddleware)
	api(http.MethodPost, RouteUserInfo, s.UserInfo(), NoStoreMiddleware)

	// Admin routes
	admin(http.MethodGet, RouteAdminFlowRequest, s.GetFlowRequest())
	admin(http.MethodPut, RouteAdminFlowRequestAction, s.HandleFlowRequest())

	admin(http.MethodGet, RouteAdminConsentSessions, s.ListConsentSessions())
	admin(http.MethodDelete, RouteAdminConsentSessions, s.RevokeConsentSessions())
	admin(http.MethodDelete, RouteAdminLoginSessions, s.RevokeLoginSessions())

	admin(http.MethodPost, RouteAdminClients, s.CreateClient())
	admin(http.MethodGet, RouteAdminClients, s.ListClients())
	admin(http.MethodGet, RouteAdminClient, s.GetClient())
	admin(http.MethodPut, RouteAdminClient, s.UpdateClient())
	admin(http.MethodDelete, RouteAdminClient, s.DeleteClient())

	admin(http.MethodPost, RouteAdminKeySet, s.CreateKeySet())
	admin(http.MethodGet, RouteAdminKeySet, s.GetKeySet())
	admin(http.MethodPut, RouteAdminKeySet, s.UpdateKeySet())
	admin(http.MethodDelete, RouteAdminKeySet, s.DeleteKeySet())
	admin(http.MethodGet, RouteAdminKey, s.GetKey())
	admin(http.MethodPut, RouteAdminKey, s.UpdateKey())
	admin(http.MethodDelete, RouteAdminKey, s.DeleteKey())

	// Operational routes
	s.RegisterRouteFunc("GET "+RouteHealthAlive, s.HealthAlive())
	s.RegisterRouteFunc("GET "+RouteHealthReady, s.HealthReady())
	s.RegisterRouteFunc("GET "+RouteVersion, s.Version())
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
}
