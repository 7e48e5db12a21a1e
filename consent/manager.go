package consent

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/internal/utils"
	"github.com/rs/zerolog/log"
)

const (
	verifierLength = 32
	csrfLength     = 24
)

// Observer is told about every challenge transition.
type Observer func(kind Kind, status Status)

// Manager runs the login, consent and logout challenge state machine on top of a Store.
type Manager struct {
	store      Store
	logoutURL  string
	flowTTL    time.Duration
	sessionTTL time.Duration
	nowTime    func() time.Time
	observer   Observer
}

type ManagerOption func(*Manager)

func WithFlowTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.flowTTL = d
	}
}

// WithSessionTTL sets the lifetime of remembered logins without remember_for.
func WithSessionTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.sessionTTL = d
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates the state machine. logoutURL is the public logout
// endpoint that completes an accepted logout.
func NewManager(store Store, logoutURL string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		logoutURL:  logoutURL,
		flowTTL:    30 * time.Minute,
		sessionTTL: 24 * time.Hour,
		nowTime:    time.Now,
		observer:   func(Kind, Status) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateLoginRequest stores a new pending login challenge. It fills in the
// challenge id and returns the CSRF token to bind to the user-agent.
func (m *Manager) CreateLoginRequest(ctx context.Context, r *LoginRequest) (string, error) {
	r.Challenge = newChallengeID()
	r.RequestedAt = m.nowTime().UTC()
	return m.create(ctx, KindLogin, r.Challenge, r.Subject, clientID(r.Client), r)
}

func (m *Manager) CreateConsentRequest(ctx context.Context, r *ConsentRequest) (string, error) {
	r.Challenge = newChallengeID()
	r.RequestedAt = m.nowTime().UTC()
	return m.create(ctx, KindConsent, r.Challenge, r.Subject, clientID(r.Client), r)
}

func (m *Manager) CreateLogoutRequest(ctx context.Context, r *LogoutRequest) (string, error) {
	r.Challenge = newChallengeID()
	r.RequestedAt = m.nowTime().UTC()
	return m.create(ctx, KindLogout, r.Challenge, r.Subject, clientID(r.Client), r)
}

// GetLoginRequest returns a pending login request. Unknown or expired
// challenges give errors.ErrNotFound, handled ones errors.ErrGone.
func (m *Manager) GetLoginRequest(ctx context.Context, challenge string) (*LoginRequest, error) {
	return getPending[LoginRequest](ctx, m, KindLogin, challenge)
}

func (m *Manager) GetConsentRequest(ctx context.Context, challenge string) (*ConsentRequest, error) {
	return getPending[ConsentRequest](ctx, m, KindConsent, challenge)
}

func (m *Manager) GetLogoutRequest(ctx context.Context, challenge string) (*LogoutRequest, error) {
	return getPending[LogoutRequest](ctx, m, KindLogout, challenge)
}

// HandleLoginRequest accepts or rejects a pending login challenge.
func (m *Manager) HandleLoginRequest(ctx context.Context, challenge string, o Outcome[AcceptLogin]) (*CompletedRequest, error) {
	c, err := m.preHandle(ctx, KindLogin, challenge, o.validate)
	if err != nil {
		return nil, err
	}
	req, err := decode[LoginRequest](c.Request)
	if err != nil {
		return nil, err
	}
	if o.Accepted != nil {
		if o.Accepted.Subject == "" {
			return nil, errors.ErrBadRequest.WithHint("Field 'subject' is required when accepting a login request.")
		}
		if req.Skip && o.Accepted.Subject != req.Subject {
			return nil, errors.ErrBadRequest.WithHintf("The login request is bound to subject %q and cannot be accepted for %q.", req.Subject, o.Accepted.Subject)
		}
		if o.Accepted.RememberFor < 0 {
			return nil, errors.ErrBadRequest.WithHint("Field 'remember_for' must not be negative.")
		}
	}
	c, err = handle(ctx, m, KindLogin, challenge, o)
	if err != nil {
		return nil, err
	}
	return &CompletedRequest{RedirectTo: withParam(req.RequestURL, "login_verifier", c.Verifier)}, nil
}

func (m *Manager) AcceptLoginRequest(ctx context.Context, challenge string, body AcceptLogin) (*CompletedRequest, error) {
	return m.HandleLoginRequest(ctx, challenge, Accepted(body))
}

func (m *Manager) RejectLoginRequest(ctx context.Context, challenge string, body RequestDeniedError) (*CompletedRequest, error) {
	return m.HandleLoginRequest(ctx, challenge, Rejected[AcceptLogin](body))
}

// HandleConsentRequest accepts or rejects a pending consent challenge.
func (m *Manager) HandleConsentRequest(ctx context.Context, challenge string, o Outcome[AcceptConsent]) (*CompletedRequest, error) {
	c, err := m.preHandle(ctx, KindConsent, challenge, o.validate)
	if err != nil {
		return nil, err
	}
	req, err := decode[ConsentRequest](c.Request)
	if err != nil {
		return nil, err
	}
	if o.Accepted != nil && o.Accepted.RememberFor < 0 {
		return nil, errors.ErrBadRequest.WithHint("Field 'remember_for' must not be negative.")
	}
	c, err = handle(ctx, m, KindConsent, challenge, o)
	if err != nil {
		return nil, err
	}
	return &CompletedRequest{RedirectTo: withParam(req.RequestURL, "consent_verifier", c.Verifier)}, nil
}

func (m *Manager) AcceptConsentRequest(ctx context.Context, challenge string, body AcceptConsent) (*CompletedRequest, error) {
	return m.HandleConsentRequest(ctx, challenge, Accepted(body))
}

func (m *Manager) RejectConsentRequest(ctx context.Context, challenge string, body RequestDeniedError) (*CompletedRequest, error) {
	return m.HandleConsentRequest(ctx, challenge, Rejected[AcceptConsent](body))
}

// HandleLogoutRequest accepts or rejects a pending logout challenge. A
// rejection returns no redirect: the session is left untouched.
func (m *Manager) HandleLogoutRequest(ctx context.Context, challenge string, o Outcome[AcceptLogout]) (*CompletedRequest, error) {
	if _, err := m.preHandle(ctx, KindLogout, challenge, o.validate); err != nil {
		return nil, err
	}
	c, err := handle(ctx, m, KindLogout, challenge, o)
	if err != nil {
		return nil, err
	}
	if !o.IsAccepted() {
		return nil, nil
	}
	return &CompletedRequest{RedirectTo: withParam(m.logoutURL, "logout_verifier", c.Verifier)}, nil
}

func (m *Manager) AcceptLogoutRequest(ctx context.Context, challenge string) (*CompletedRequest, error) {
	return m.HandleLogoutRequest(ctx, challenge, Accepted(AcceptLogout{}))
}

func (m *Manager) RejectLogoutRequest(ctx context.Context, challenge string) error {
	_, err := m.HandleLogoutRequest(ctx, challenge, Rejected[AcceptLogout](RequestDeniedError{Name: "request_denied"}))
	return err
}

// VerifyAndInvalidateLoginRequest redeems a login verifier exactly once.
func (m *Manager) VerifyAndInvalidateLoginRequest(ctx context.Context, verifier string) (*HandledLogin, error) {
	return consume[LoginRequest, AcceptLogin](ctx, m, KindLogin, verifier)
}

func (m *Manager) VerifyAndInvalidateConsentRequest(ctx context.Context, verifier string) (*HandledConsent, error) {
	return consume[ConsentRequest, AcceptConsent](ctx, m, KindConsent, verifier)
}

func (m *Manager) VerifyAndInvalidateLogoutRequest(ctx context.Context, verifier string) (*HandledLogout, error) {
	return consume[LogoutRequest, AcceptLogout](ctx, m, KindLogout, verifier)
}

// RememberLogin creates or extends the login session an accepted login asked to remember.
func (m *Manager) RememberLogin(ctx context.Context, sessionID string, accepted *AcceptLogin, authenticatedAt time.Time) (*LoginSession, error) {
	ttl := m.sessionTTL
	if accepted.RememberFor > 0 {
		ttl = time.Duration(accepted.RememberFor) * time.Second
	}
	s := &LoginSession{
		ID:              sessionID,
		Subject:         accepted.Subject,
		AuthenticatedAt: authenticatedAt.UTC(),
		Remember:        true,
		ExpiresAt:       m.nowTime().Add(ttl).UTC(),
	}
	if err := m.store.SaveLoginSession(ctx, s); err != nil {
		return nil, errors.Wrapf(err, "[RememberLogin] session %s", sessionID)
	}
	return s, nil
}

// GetLoginSession returns an unexpired session.
func (m *Manager) GetLoginSession(ctx context.Context, id string) (*LoginSession, error) {
	s, err := m.store.GetLoginSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.nowTime().After(s.ExpiresAt) {
		return nil, errors.ErrNotFound.WithHint("The login session has expired.")
	}
	return s, nil
}

func (m *Manager) DeleteLoginSession(ctx context.Context, id string) (*LoginSession, error) {
	return m.store.DeleteLoginSession(ctx, id)
}

func (m *Manager) RevokeSubjectLoginSessions(ctx context.Context, subject string) error {
	if subject == "" {
		return errors.ErrBadRequest.WithHint("Query parameter 'subject' is required.")
	}
	return m.store.RevokeSubjectLoginSessions(ctx, subject)
}

// SaveConsentSession records an accepted consent so it can be listed,
// revoked, and reused when remembered.
func (m *Manager) SaveConsentSession(ctx context.Context, h *HandledConsent) (*ConsentSession, error) {
	if !h.Outcome.IsAccepted() {
		return nil, errors.ErrBadRequest.WithHint("Only accepted consent requests create sessions.")
	}
	a := h.Outcome.Accepted
	s := &ConsentSession{
		ConsentRequest: h.Request,
		GrantScope:     a.GrantScope,
		GrantAudience:  a.GrantAudience,
		Session:        a.Session,
		Remember:       a.Remember,
		RememberFor:    a.RememberFor,
		HandledAt:      h.HandledAt,
	}
	if a.Remember && a.RememberFor > 0 {
		exp := h.HandledAt.Add(time.Duration(a.RememberFor) * time.Second).UTC()
		s.ExpiresAt = &exp
	}
	if err := m.store.SaveConsentSession(ctx, s); err != nil {
		return nil, errors.Wrapf(err, "[SaveConsentSession] challenge %s", h.Request.Challenge)
	}
	return s, nil
}

// FindRememberedConsent returns the newest remembered, unexpired consent of
// subject for clientID that covers the requested scope and audience.
func (m *Manager) FindRememberedConsent(ctx context.Context, subject, clientID string, scope, audience []string) (*ConsentSession, error) {
	sessions, err := m.store.ListConsentSessions(ctx, subject)
	if err != nil {
		return nil, err
	}
	now := m.nowTime()
	var found *ConsentSession
	for _, s := range sessions {
		if !s.Remember || s.ClientID() != clientID {
			continue
		}
		if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
			continue
		}
		if !containsAll(s.GrantScope, scope) || !containsAll(s.GrantAudience, audience) {
			continue
		}
		if found == nil || s.HandledAt.After(found.HandledAt) {
			found = s
		}
	}
	if found == nil {
		return nil, errors.ErrNotFound.WithHint("No remembered consent covers this request.")
	}
	return found, nil
}

// ListConsentSessions returns every consent the subject granted.
func (m *Manager) ListConsentSessions(ctx context.Context, subject string) ([]*ConsentSession, error) {
	if subject == "" {
		return nil, errors.ErrBadRequest.WithHint("Query parameter 'subject' is required.")
	}
	sessions, err := m.store.ListConsentSessions(ctx, subject)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sessions, func(a, b *ConsentSession) int {
		return b.HandledAt.Compare(a.HandledAt)
	})
	return sessions, nil
}

// RevokeConsentSessions deletes consent sessions and returns them so the
// caller can revoke the tokens issued under them.
func (m *Manager) RevokeConsentSessions(ctx context.Context, subject, clientID string) ([]*ConsentSession, error) {
	if subject == "" {
		return nil, errors.ErrBadRequest.WithHint("Query parameter 'subject' is required.")
	}
	return m.store.RevokeConsentSessions(ctx, subject, clientID)
}

func (m *Manager) DeleteExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.nowTime())
}

func (m *Manager) create(ctx context.Context, kind Kind, id, subject, client string, req any) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s request", kind)
	}
	verifier, err := utils.RandomToken(verifierLength)
	if err != nil {
		return "", err
	}
	csrf, err := utils.RandomToken(csrfLength)
	if err != nil {
		return "", err
	}
	now := m.nowTime().UTC()
	c := &Challenge{
		ID:          id,
		Kind:        kind,
		Verifier:    verifier,
		CSRF:        csrf,
		Subject:     subject,
		ClientID:    client,
		Status:      StatusPending,
		Request:     raw,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.flowTTL),
	}
	if err := m.store.CreateChallenge(ctx, c); err != nil {
		return "", errors.Wrapf(err, "storing %s challenge", kind)
	}
	log.Debug().Str("kind", string(kind)).Str("challenge", id).Msg("challenge created")
	return csrf, nil
}

// load returns an unexpired challenge.
func (m *Manager) load(ctx context.Context, kind Kind, challenge string) (*Challenge, error) {
	if challenge == "" {
		return nil, errors.ErrBadRequest.WithHintf("Query parameter '%s_challenge' is required.", kind)
	}
	c, err := m.store.GetChallenge(ctx, kind, challenge)
	if err != nil {
		return nil, err
	}
	if m.nowTime().After(c.ExpiresAt) {
		return nil, errors.ErrNotFound.WithHintf("The %s challenge has expired.", kind)
	}
	return c, nil
}

// preHandle runs every precondition before the state changes.
func (m *Manager) preHandle(ctx context.Context, kind Kind, challenge string, validate func() error) (*Challenge, error) {
	if err := validate(); err != nil {
		return nil, err
	}
	c, err := m.load(ctx, kind, challenge)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, errors.ErrConflict.WithHintf("The %s challenge has already been %s.", kind, c.Status)
	}
	return c, nil
}

func getPending[R any](ctx context.Context, m *Manager, kind Kind, challenge string) (*R, error) {
	c, err := m.load(ctx, kind, challenge)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, errors.ErrGone.WithHintf("The %s challenge has already been %s.", kind, c.Status)
	}
	return decode[R](c.Request)
}

func handle[T any](ctx context.Context, m *Manager, kind Kind, challenge string, o Outcome[T]) (*Challenge, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s outcome", kind)
	}
	c, err := m.store.HandleChallenge(ctx, kind, challenge, o.Status(), raw, m.nowTime().UTC())
	if err != nil {
		return nil, err
	}
	m.observer(kind, o.Status())
	log.Debug().Str("kind", string(kind)).Str("challenge", challenge).Str("status", string(o.Status())).Msg("challenge handled")
	return c, nil
}

func consume[R, T any](ctx context.Context, m *Manager, kind Kind, verifier string) (*Handled[R, T], error) {
	if verifier == "" {
		return nil, errors.ErrBadRequest.WithHintf("The %s verifier is missing.", kind)
	}
	c, err := m.store.ConsumeVerifier(ctx, kind, verifier)
	if err != nil {
		return nil, err
	}
	if m.nowTime().After(c.ExpiresAt) {
		return nil, errors.ErrNotFound.WithHintf("The %s challenge has expired.", kind)
	}
	req, err := decode[R](c.Request)
	if err != nil {
		return nil, err
	}
	o, err := decode[Outcome[T]](c.Outcome)
	if err != nil {
		return nil, err
	}
	return &Handled[R, T]{Request: req, Outcome: *o, HandledAt: c.HandledAt, CSRF: c.CSRF}, nil
}

func decode[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "decoding stored %T", v)
	}
	return &v, nil
}

func newChallengeID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func clientID(c *clients.Client) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// withParam appends key=value to a URL, replacing an existing key.
func withParam(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
