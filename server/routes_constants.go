package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth2 / OIDC Routes
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteWellKnownJWKS         = "/.well-known/jwks.json"
	RouteOAuth2Authorize       = "/oauth2/auth"
	RouteOAuth2Token           = "/oauth2/token"
	RouteOAuth2Introspect      = "/oauth2/introspect"
	RouteOAuth2Revoke          = "/oauth2/revoke"
	RouteOAuth2Logout          = "/oauth2/sessions/logout"
	RouteUserInfo              = "/userinfo"

	// Admin Routes - Flow challenges
	RouteAdminFlowRequest       = "/oauth2/auth/requests/{kind}"
	RouteAdminFlowRequestAction = "/oauth2/auth/requests/{kind}/{action}"

	// Admin Routes - Sessions
	RouteAdminConsentSessions = "/oauth2/auth/sessions/consent"
	RouteAdminLoginSessions   = "/oauth2/auth/sessions/login"

	// Admin Routes - Clients & keys
	RouteAdminClients = "/clients"
	RouteAdminClient  = "/clients/{id}"
	RouteAdminKeySet  = "/keys/{set}"
	RouteAdminKey     = "/keys/{set}/{kid}"

	// Operational Routes
	RouteHealthAlive = "/health/alive"
	RouteHealthReady = "/health/ready"
	RouteVersion     = "/version"
	RouteMetrics     = "/metrics/prometheus"
)
