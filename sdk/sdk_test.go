package sdk_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/sdk"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	ctx    context.Context
	ts     *httptest.Server
	client *sdk.Client
	last   *http.Request
	body   map[string]any
}

// setupTestFixture serves canned answers for a few admin routes.
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{ctx: context.Background()}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/auth/requests/login", func(w http.ResponseWriter, r *http.Request) {
		f.last = r
		if r.URL.Query().Get("login_challenge") != "known" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(apperrors.ErrNotFound.WithHint("Unknown login challenge."))
			return
		}
		_ = json.NewEncoder(w).Encode(consent.LoginRequest{Challenge: "known", Subject: "alice", Skip: true})
	})
	mux.HandleFunc("PUT /oauth2/auth/requests/login/accept", func(w http.ResponseWriter, r *http.Request) {
		f.last = r
		f.body = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.body)
		_ = json.NewEncoder(w).Encode(consent.CompletedRequest{RedirectTo: "https://auth.example.com/oauth2/auth?login_verifier=v"})
	})
	mux.HandleFunc("PUT /oauth2/auth/requests/logout/reject", func(w http.ResponseWriter, r *http.Request) {
		f.last = r
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not json"))
	})
	f.ts = httptest.NewServer(mux)
	t.Cleanup(f.ts.Close)

	var err error
	f.client, err = sdk.New(sdk.Config{URL: f.ts.URL + "/"})
	require.NoError(t, err)
	return f
}

// TestNew rejects relative or missing URLs.
func TestNew(t *testing.T) {
	_, err := sdk.New(sdk.Config{})
	require.Error(t, err)
	_, err = sdk.New(sdk.Config{URL: "/relative"})
	require.Error(t, err)
	_, err = sdk.New(sdk.Config{URL: "https://auth.example.com", ClientID: "admin", ClientSecret: "s"})
	require.NoError(t, err)
}

// TestFlows sends challenges as query parameters and bodies as JSON.
func TestFlows(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("get", func(t *testing.T) {
		lr, err := f.client.GetLoginRequest(f.ctx, "known")
		require.NoError(t, err)
		require.True(t, lr.Skip)
		require.Equal(t, "alice", lr.Subject)
	})

	t.Run("accept", func(t *testing.T) {
		done, err := f.client.AcceptLoginRequest(f.ctx, "known", consent.AcceptLogin{Subject: "alice", Remember: true})
		require.NoError(t, err)
		require.Contains(t, done.RedirectTo, "login_verifier=v")
		require.Equal(t, "known", f.last.URL.Query().Get("login_challenge"))
		require.Equal(t, "application/json", f.last.Header.Get("Content-Type"))
		require.Equal(t, "alice", f.body["subject"])
		require.Equal(t, true, f.body["remember"])
	})

	t.Run("no content", func(t *testing.T) {
		require.NoError(t, f.client.RejectLogoutRequest(f.ctx, "any"))
		require.Equal(t, "any", f.last.URL.Query().Get("logout_challenge"))
	})
}

// TestErrors decodes error bodies and falls back when there is none.
func TestErrors(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("typed error", func(t *testing.T) {
		_, err := f.client.GetLoginRequest(f.ctx, "unknown")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		var apiErr *sdk.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		require.Equal(t, "Unknown login challenge.", apiErr.Hint)
	})

	t.Run("unreadable body", func(t *testing.T) {
		err := f.client.IsReady(f.ctx)
		require.ErrorIs(t, err, apperrors.ErrInternal)
		var apiErr *sdk.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	})
}
