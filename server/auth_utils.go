package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/jrsteele09/go-consent-server/auth"
	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// sessionCookieName holds the id of the remembered login session.
	sessionCookieName = "consent_server_session"
	// csrfCookiePrefix is followed by the challenge kind and id.
	csrfCookiePrefix = "consent_server_csrf_"
)

// cookieJar signs, and optionally encrypts, the cookies the authorization
// endpoint hands to the user-agent.
type cookieJar struct {
	codec   *securecookie.SecureCookie
	secure  bool
	csrfTTL time.Duration
}

func newCookieJar(cfg config.Config) (*cookieJar, error) {
	hashKey := cfg.GetCookieHashKey()
	blockKey := cfg.GetCookieBlockKey()
	if len(hashKey) == 0 {
		log.Warn().Msg("COOKIE_HASH_KEY is not set, using a random key; sessions will not survive a restart")
		hashKey = securecookie.GenerateRandomKey(64)
		if len(blockKey) == 0 {
			blockKey = securecookie.GenerateRandomKey(32)
		}
	}
	switch len(blockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, errors.Errorf("COOKIE_BLOCK_KEY must be 16, 24 or 32 bytes, got %d", len(blockKey))
	}
	if len(blockKey) == 0 {
		blockKey = nil
	}

	codec := securecookie.New(hashKey, blockKey)
	// Expiry is enforced by the stores, not by the cookie timestamp.
	codec.MaxAge(0)
	return &cookieJar{
		codec:   codec,
		secure:  cfg.GetCookieSecure(),
		csrfTTL: cfg.GetFlowTimeout(),
	}, nil
}

func (c *cookieJar) set(w http.ResponseWriter, name, value string, maxAge int) error {
	encoded, err := c.codec.Encode(name, value)
	if err != nil {
		return errors.Wrapf(err, "encode cookie %s", name)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *cookieJar) get(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	var value string
	if err := c.codec.Decode(name, cookie.Value, &value); err != nil {
		log.Debug().Err(err).Str("cookie", name).Msg("ignoring cookie that fails verification")
		return ""
	}
	return value
}

func (c *cookieJar) delete(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *cookieJar) sessionID(r *http.Request) string {
	return c.get(r, sessionCookieName)
}

// setSession stores a remembered session until it expires. Sessions that are
// not remembered live as long as the browser.
func (c *cookieJar) setSession(w http.ResponseWriter, session *consent.LoginSession) error {
	maxAge := 0
	if session.Remember && !session.ExpiresAt.IsZero() {
		maxAge = int(time.Until(session.ExpiresAt).Seconds())
		if maxAge <= 0 {
			maxAge = -1
		}
	}
	return c.set(w, sessionCookieName, session.ID, maxAge)
}

func (c *cookieJar) clearSession(w http.ResponseWriter) {
	c.delete(w, sessionCookieName)
}

func csrfCookieName(kind consent.Kind, challenge string) string {
	return csrfCookiePrefix + string(kind) + "_" + challenge
}

func (c *cookieJar) setCSRF(w http.ResponseWriter, csrf *auth.CSRFCookie) error {
	return c.set(w, csrfCookieName(csrf.Kind, csrf.Challenge), csrf.Value, int(c.csrfTTL.Seconds()))
}

// csrfLookup reads the CSRF cookies the request carries.
func (c *cookieJar) csrfLookup(r *http.Request) auth.CSRFLookup {
	return func(kind consent.Kind, challenge string) string {
		return c.get(r, csrfCookieName(kind, challenge))
	}
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// basicCredentials reads HTTP basic client credentials, which RFC 6749
// section 2.3.1 requires to be form-urlencoded before base64 encoding.
func basicCredentials(r *http.Request) (id, secret string, ok bool) {
	id, secret, ok = r.BasicAuth()
	if !ok {
		return "", "", false
	}
	if unescaped, err := url.QueryUnescape(id); err == nil {
		id = unescaped
	}
	if unescaped, err := url.QueryUnescape(secret); err == nil {
		secret = unescaped
	}
	return id, secret, true
}

// clientCredentials collects the client authentication a form request carries.
// Header credentials take precedence over form credentials.
func clientCredentials(r *http.Request) auth.ClientCredentials {
	creds := auth.ClientCredentials{
		ID:            r.PostForm.Get("client_id"),
		Secret:        r.PostForm.Get("client_secret"),
		Assertion:     r.PostForm.Get("client_assertion"),
		AssertionType: r.PostForm.Get("client_assertion_type"),
	}
	if id, secret, ok := basicCredentials(r); ok {
		creds.ID, creds.Secret, creds.Basic = id, secret, true
	}
	return creds
}
