package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/internal/config"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/jrsteele09/go-consent-server/loginprovider"
	"github.com/jrsteele09/go-consent-server/sdk"
	"github.com/jrsteele09/go-consent-server/server"
	"github.com/jrsteele09/go-consent-server/users"
	"github.com/jrsteele09/go-consent-server/users/memrepo"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testAdminSecret  = "admin-secret-for-tests"
	testClientID     = "web-app"
	testClientSecret = "web-app-secret"
	testRedirectURI  = "https://app.example.com/cb"
	testOrigin       = "https://spa.example.com"
	testEmail        = "alice@example.com"
	testPassword     = "Secr3tPassw0rd"
	testState        = "state-0123456789"
	testNonce        = "nonce-0123456789"
	testVersion      = "1.2.3"
)

type testFixture struct {
	ctx   context.Context
	ts    *httptest.Server
	host  string
	srv   *server.Server
	boot  *server.BootstrapResult
	admin *sdk.Client
	user  *users.User
}

// setupTestFixture starts an in-memory server with the login UI mounted.
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	f := &testFixture{ctx: context.Background(), ts: ts, host: ts.Listener.Addr().String()}
	baseURL := "http://" + f.host

	t.Setenv("BASE_URL", baseURL)
	t.Setenv("ENV", "DEV")
	t.Setenv("ADMIN_CLIENT_SECRET", testAdminSecret)
	t.Setenv("CORS_ALLOWED_ORIGINS", testOrigin)
	t.Setenv("VERSION", testVersion)

	cfg := config.New()
	deps, err := server.NewDependencies(f.ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	f.srv, err = server.New(cfg, deps)
	require.NoError(t, err)
	f.boot, err = f.srv.InitialiseSystem(f.ctx)
	require.NoError(t, err)

	f.admin, err = sdk.New(sdk.Config{URL: baseURL, ClientID: f.boot.AdminClientID, ClientSecret: f.boot.AdminClientSecret})
	require.NoError(t, err)

	repo := memrepo.New()
	f.user, err = users.EnsureUser(f.ctx, repo, testEmail, "Alice", testPassword)
	require.NoError(t, err)
	provider, err := loginprovider.New("Test Server", f.admin, repo)
	require.NoError(t, err)
	f.srv.MountUI("/ui/", provider)

	ts.Config.Handler = f.srv
	ts.Start()
	t.Cleanup(ts.Close)
	return f
}

func (f *testFixture) createWebClient(t *testing.T) *clients.Client {
	t.Helper()
	c, err := f.admin.CreateClient(f.ctx, &clients.Client{
		ID:                      testClientID,
		Name:                    "Web App",
		Secret:                  testClientSecret,
		RedirectURIs:            []string{testRedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   "openid offline email profile",
		TokenEndpointAuthMethod: "client_secret_basic",
	})
	require.NoError(t, err)
	return c
}

// browser keeps cookies and follows redirects until one leaves the server.
func (f *testFixture) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, _ []*http.Request) error {
			if req.URL.Host != f.host {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func drain(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

type flowResult struct {
	conf       *oauth2.Config
	provider   *oidc.Provider
	browser    *http.Client
	token      *oauth2.Token
	rawIDToken string
	idToken    *oidc.IDToken
}

// authorize signs the test user in through the login UI and redeems the code.
func (f *testFixture) authorize(t *testing.T, grant ...string) *flowResult {
	t.Helper()
	provider, err := oidc.NewProvider(f.ctx, f.ts.URL)
	require.NoError(t, err)
	res := &flowResult{
		provider: provider,
		browser:  f.browser(t),
		conf: &oauth2.Config{
			ClientID:     testClientID,
			ClientSecret: testClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  testRedirectURI,
			Scopes:       grant,
		},
	}
	verifier := oauth2.GenerateVerifier()
	authURL := res.conf.AuthCodeURL(testState, oidc.Nonce(testNonce), oauth2.S256ChallengeOption(verifier))

	resp, err := res.browser.Get(authURL)
	require.NoError(t, err)
	drain(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, loginprovider.RouteLogin, resp.Request.URL.Path)
	loginChallenge := resp.Request.URL.Query().Get("login_challenge")
	require.NotEmpty(t, loginChallenge)

	resp, err = res.browser.PostForm(f.ts.URL+loginprovider.RouteLogin, url.Values{
		"challenge": {loginChallenge},
		"email":     {testEmail},
		"password":  {testPassword},
	})
	require.NoError(t, err)
	drain(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, loginprovider.RouteConsent, resp.Request.URL.Path)
	consentChallenge := resp.Request.URL.Query().Get("consent_challenge")
	require.NotEmpty(t, consentChallenge)

	resp, err = res.browser.PostForm(f.ts.URL+loginprovider.RouteConsent, url.Values{
		"challenge":   {consentChallenge},
		"grant_scope": grant,
	})
	require.NoError(t, err)
	drain(t, resp)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	callback, err := resp.Location()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(callback.String(), testRedirectURI))
	require.Equal(t, testState, callback.Query().Get("state"))

	res.token, err = res.conf.Exchange(f.ctx, callback.Query().Get("code"), oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	raw, ok := res.token.Extra("id_token").(string)
	require.True(t, ok)
	res.rawIDToken = raw
	res.idToken, err = provider.Verifier(&oidc.Config{ClientID: testClientID}).Verify(f.ctx, raw)
	require.NoError(t, err)
	return res
}

// TestAuthorizationCodeFlow drives login, consent, token, userinfo, refresh and revocation.
func TestAuthorizationCodeFlow(t *testing.T) {
	f := setupTestFixture(t)
	f.createWebClient(t)
	res := f.authorize(t, "openid", "offline", "email")

	t.Run("id token", func(t *testing.T) {
		require.Equal(t, f.user.ID, res.idToken.Subject)
		require.Equal(t, testNonce, res.idToken.Nonce)
		var claims struct {
			Email string `json:"email"`
		}
		require.NoError(t, res.idToken.Claims(&claims))
		require.Equal(t, testEmail, claims.Email)
	})

	t.Run("userinfo", func(t *testing.T) {
		info, err := res.provider.UserInfo(f.ctx, oauth2.StaticTokenSource(res.token))
		require.NoError(t, err)
		require.Equal(t, f.user.ID, info.Subject)
	})

	t.Run("introspection", func(t *testing.T) {
		got, err := f.admin.IntrospectToken(f.ctx, res.token.AccessToken)
		require.NoError(t, err)
		require.True(t, got.Active)
		require.Equal(t, testClientID, got.ClientID)
		require.Equal(t, f.user.ID, got.Subject)
	})

	var refreshed *oauth2.Token
	t.Run("refresh", func(t *testing.T) {
		require.NotEmpty(t, res.token.RefreshToken)
		var err error
		refreshed, err = res.conf.TokenSource(f.ctx, &oauth2.Token{RefreshToken: res.token.RefreshToken}).Token()
		require.NoError(t, err)
		require.NotEmpty(t, refreshed.AccessToken)
		require.NotEqual(t, res.token.AccessToken, refreshed.AccessToken)
	})

	t.Run("consent sessions", func(t *testing.T) {
		sessions, err := f.admin.ListConsentSessions(f.ctx, f.user.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		require.Equal(t, testClientID, sessions[0].ClientID())
		require.ElementsMatch(t, []string{"openid", "offline", "email"}, sessions[0].GrantScope)

		require.NoError(t, f.admin.RevokeConsentSessions(f.ctx, f.user.ID, testClientID))
		sessions, err = f.admin.ListConsentSessions(f.ctx, f.user.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)

		require.NotNil(t, refreshed)
		got, err := f.admin.IntrospectToken(f.ctx, refreshed.AccessToken)
		require.NoError(t, err)
		require.False(t, got.Active)
	})
}

// TestParallelFlows lets one browser finish the older of two authorizations.
func TestParallelFlows(t *testing.T) {
	f := setupTestFixture(t)
	f.createWebClient(t)
	provider, err := oidc.NewProvider(f.ctx, f.ts.URL)
	require.NoError(t, err)
	conf := &oauth2.Config{
		ClientID:    testClientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: testRedirectURI,
		Scopes:      []string{oidc.ScopeOpenID},
	}
	browser := f.browser(t)

	start := func() string {
		resp, err := browser.Get(conf.AuthCodeURL(testState, oauth2.S256ChallengeOption(oauth2.GenerateVerifier())))
		require.NoError(t, err)
		drain(t, resp)
		require.Equal(t, loginprovider.RouteLogin, resp.Request.URL.Path)
		return resp.Request.URL.Query().Get("login_challenge")
	}
	first := start()
	second := start()
	require.NotEqual(t, first, second)

	for _, challenge := range []string{first, second} {
		resp, err := browser.PostForm(f.ts.URL+loginprovider.RouteLogin, url.Values{
			"challenge": {challenge},
			"email":     {testEmail},
			"password":  {testPassword},
		})
		require.NoError(t, err)
		drain(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, loginprovider.RouteConsent, resp.Request.URL.Path)
	}
}

// TestTokenRevocation revokes an access token through the revocation endpoint.
func TestTokenRevocation(t *testing.T) {
	f := setupTestFixture(t)
	f.createWebClient(t)
	res := f.authorize(t, "openid")

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+server.RouteOAuth2Revoke,
		strings.NewReader(url.Values{"token": {res.token.AccessToken}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	drain(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := f.admin.IntrospectToken(f.ctx, res.token.AccessToken)
	require.NoError(t, err)
	require.False(t, got.Active)
}

// TestLogout runs an RP initiated logout through the logout UI.
func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.createWebClient(t)
	res := f.authorize(t, "openid")

	resp, err := res.browser.Get(f.ts.URL + server.RouteOAuth2Logout + "?id_token_hint=" + url.QueryEscape(res.rawIDToken))
	require.NoError(t, err)
	drain(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, loginprovider.RouteLogout, resp.Request.URL.Path)
	challenge := resp.Request.URL.Query().Get("logout_challenge")
	require.NotEmpty(t, challenge)

	resp, err = res.browser.PostForm(f.ts.URL+loginprovider.RouteLogout, url.Values{
		"challenge": {challenge},
		"action":    {"accept"},
	})
	require.NoError(t, err)
	body := drain(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, loginprovider.RouteLoggedOut, resp.Request.URL.Path)
	require.Contains(t, body, "Signed out")
}

// TestBootstrap checks the admin client and signing keys exist and that a rerun is harmless.
func TestBootstrap(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, testAdminSecret, f.boot.AdminClientSecret)
	require.False(t, f.boot.SecretGenerated)

	again, err := f.srv.InitialiseSystem(f.ctx)
	require.NoError(t, err)
	require.Equal(t, f.boot.AdminClientID, again.AdminClientID)

	c, err := f.admin.GetClient(f.ctx, f.boot.AdminClientID)
	require.NoError(t, err)
	require.Empty(t, c.Secret)
	require.True(t, c.HasScope("hydra.admin"))

	for _, set := range []string{jwk.IDTokenSet, jwk.AccessTokenSet} {
		keys, err := f.admin.GetKeySet(f.ctx, set)
		require.NoError(t, err)
		require.NotEmpty(t, keys.Keys)
		for _, k := range keys.Keys {
			require.True(t, k.IsPublic())
		}
	}
}

// TestAdminAuthentication covers missing, wrong and insufficient credentials.
func TestAdminAuthentication(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("no credentials", func(t *testing.T) {
		anon, err := sdk.New(sdk.Config{URL: f.ts.URL})
		require.NoError(t, err)
		_, err = anon.ListClients(f.ctx, 0, 10)
		var apiErr *sdk.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	})

	t.Run("wrong basic credentials", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteAdminClients, nil)
		require.NoError(t, err)
		req.SetBasicAuth(f.boot.AdminClientID, "wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		drain(t, resp)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("right basic credentials", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteAdminClients, nil)
		require.NoError(t, err)
		req.SetBasicAuth(f.boot.AdminClientID, testAdminSecret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		drain(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("token without the admin scope", func(t *testing.T) {
		_, err := f.admin.CreateClient(f.ctx, &clients.Client{
			ID:                      "worker",
			Secret:                  "worker-secret",
			GrantTypes:              []string{"client_credentials"},
			Scope:                   "jobs",
			TokenEndpointAuthMethod: "client_secret_basic",
		})
		require.NoError(t, err)
		worker, err := sdk.New(sdk.Config{URL: f.ts.URL, ClientID: "worker", ClientSecret: "worker-secret", Scopes: []string{"jobs"}})
		require.NoError(t, err)

		_, err = worker.ListClients(f.ctx, 0, 10)
		var apiErr *sdk.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	})
}

// TestClientsAPI runs create, read, list, update and delete over HTTP.
func TestClientsAPI(t *testing.T) {
	f := setupTestFixture(t)
	created := f.createWebClient(t)
	require.Equal(t, testClientSecret, created.Secret)

	got, err := f.admin.GetClient(f.ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, "Web App", got.Name)
	require.Empty(t, got.Secret)

	list, err := f.admin.ListClients(f.ctx, 0, 100)
	require.NoError(t, err)
	ids := []string{}
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	require.ElementsMatch(t, []string{f.boot.AdminClientID, testClientID}, ids)

	got.Name = "Renamed"
	updated, err := f.admin.UpdateClient(f.ctx, testClientID, got)
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)

	require.NoError(t, f.admin.DeleteClient(f.ctx, testClientID))
	_, err = f.admin.GetClient(f.ctx, testClientID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

// TestKeysAPI generates, reads and deletes a custom key set.
func TestKeysAPI(t *testing.T) {
	f := setupTestFixture(t)

	set, err := f.admin.CreateKeySet(f.ctx, "custom", jwk.RS256, "k1", jwk.UseSig)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	require.Equal(t, "k1", set.Keys[0].KeyID)
	require.True(t, set.Keys[0].IsPublic())

	key, err := f.admin.GetKey(f.ctx, "custom", "k1")
	require.NoError(t, err)
	require.Len(t, key.Keys, 1)

	_, err = f.admin.CreateKeySet(f.ctx, "custom", "", "", "")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	require.NoError(t, f.admin.DeleteKeySet(f.ctx, "custom"))
	_, err = f.admin.GetKeySet(f.ctx, "custom")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

// TestDiscovery serves a document go-oidc accepts and a JWKS with the signing keys.
func TestDiscovery(t *testing.T) {
	f := setupTestFixture(t)

	provider, err := oidc.NewProvider(f.ctx, f.ts.URL)
	require.NoError(t, err)
	require.Equal(t, f.ts.URL+server.RouteOAuth2Token, provider.Endpoint().TokenURL)

	resp, err := http.Get(f.ts.URL + server.RouteWellKnownJWKS)
	require.NoError(t, err)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(drain(t, resp)), &jwks))
	require.Len(t, jwks.Keys, 2)
	for _, k := range jwks.Keys {
		require.NotContains(t, k, "d")
	}
}

// TestOperationalEndpoints covers health, version and metrics.
func TestOperationalEndpoints(t *testing.T) {
	f := setupTestFixture(t)

	for _, path := range []string{server.RouteHealthAlive, server.RouteHealthReady} {
		resp, err := http.Get(f.ts.URL + path)
		require.NoError(t, err)
		drain(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	require.NoError(t, f.admin.IsReady(f.ctx))

	version, err := f.admin.Version(f.ctx)
	require.NoError(t, err)
	require.Equal(t, testVersion, version)

	resp, err := http.Get(f.ts.URL + server.RouteMetrics)
	require.NoError(t, err)
	body := drain(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "consent_server_build_info")
	require.Contains(t, body, `consent_server_http_requests_total{code="200",method="GET",route="GET /health/alive"}`)
}

// TestCORS answers preflights for allowed origins only.
func TestCORS(t *testing.T) {
	f := setupTestFixture(t)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, f.ts.URL+server.RouteOAuth2Token, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		drain(t, resp)
		return resp
	}

	t.Run("allowed origin", func(t *testing.T) {
		resp := preflight(testOrigin)
		require.Less(t, resp.StatusCode, http.StatusMultipleChoices)
		require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		resp := preflight("https://evil.example.com")
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("admin routes send no CORS headers", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteAdminClients, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", testOrigin)
		req.SetBasicAuth(f.boot.AdminClientID, testAdminSecret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		drain(t, resp)
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
