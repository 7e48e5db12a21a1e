// Package sdk is a Go client for the administrative and operational REST API
// of the consent server. Login, consent and logout providers use it to read
// and settle challenges.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultTimeout = 10 * time.Second

// Error is the error body every endpoint answers with. It matches the
// server's sentinels with errors.Is.
type Error = apperrors.Error

// Config is copied by New; changing it afterwards has no effect.
type Config struct {
	// URL is the base URL of the server, e.g. https://auth.example.com.
	URL string
	// ClientID and ClientSecret are the credentials of a client holding the
	// admin scope. When set, admin calls carry client_credentials bearer tokens.
	ClientID     string
	ClientSecret string
	// Scopes requested for admin tokens. Defaults to hydra.admin.
	Scopes []string
	// HTTPClient is the transport. Defaults to a client with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("sdk: URL is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil || !base.IsAbs() {
		return nil, errors.Errorf("sdk: URL %q must be absolute", cfg.URL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(cfg.URL, "/")

	if cfg.ClientID != "" {
		scopes := cfg.Scopes
		if len(scopes) == 0 {
			scopes = []string{"hydra.admin"}
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     baseURL + "/oauth2/token",
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		// The token source outlives any single call.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = cc.Client(ctx)
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// do sends in as JSON and decodes a 2xx answer into out. Any other status
// is returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "sdk: encode request")
		}
		body = bytes.NewReader(raw)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "sdk: build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "sdk: %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errors.Wrapf(decodeJSON(resp, out), "sdk: %s %s", method, path)
}

func decodeJSON(resp *http.Response, out any) error {
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "sdk: decode response")
}

func decodeError(resp *http.Response) error {
	e := &Error{}
	if err := json.NewDecoder(resp.Body).Decode(e); err != nil || e.Name == "" {
		e = &Error{Name: "server_error", Description: http.StatusText(resp.StatusCode)}
	}
	e.StatusCode = resp.StatusCode
	return e
}

func escape(segment string) string {
	return url.PathEscape(segment)
}

// IsReady returns nil when every backing store of the server answers.
func (c *Client) IsReady(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil, nil)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}
