// Package memstore is an in-memory consent.Store.
package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/internal/errors"
)

type challengeKey struct {
	kind consent.Kind
	id   string
}

// Store keeps everything behind one mutex so every transition is atomic.
type Store struct {
	mu         sync.Mutex
	challenges map[challengeKey]*consent.Challenge
	verifiers  map[challengeKey]string
	sessions   map[string]consent.LoginSession
	consents   map[string][]byte
}

var _ consent.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		challenges: make(map[challengeKey]*consent.Challenge),
		verifiers:  make(map[challengeKey]string),
		sessions:   make(map[string]consent.LoginSession),
		consents:   make(map[string][]byte),
	}
}

func (s *Store) CreateChallenge(_ context.Context, c *consent.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := challengeKey{c.Kind, c.ID}
	if _, exists := s.challenges[key]; exists {
		return errors.ErrConflict.WithHintf("%s challenge %s already exists", c.Kind, c.ID)
	}
	s.challenges[key] = copyChallenge(c)
	s.verifiers[challengeKey{c.Kind, c.Verifier}] = c.ID
	return nil
}

func (s *Store) GetChallenge(_ context.Context, kind consent.Kind, id string) (*consent.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeKey{kind, id}]
	if !ok {
		return nil, errors.ErrNotFound.WithHintf("Unknown %s challenge.", kind)
	}
	return copyChallenge(c), nil
}

func (s *Store) HandleChallenge(_ context.Context, kind consent.Kind, id string, status consent.Status, outcome json.RawMessage, at time.Time) (*consent.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeKey{kind, id}]
	if !ok {
		return nil, errors.ErrNotFound.WithHintf("Unknown %s challenge.", kind)
	}
	if c.Status != consent.StatusPending {
		return nil, errors.ErrConflict.WithHintf("The %s challenge has already been %s.", kind, c.Status)
	}
	c.Status = status
	c.Outcome = append(json.RawMessage(nil), outcome...)
	c.HandledAt = at
	return copyChallenge(c), nil
}

func (s *Store) ConsumeVerifier(_ context.Context, kind consent.Kind, verifier string) (*consent.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.verifiers[challengeKey{kind, verifier}]
	if !ok {
		return nil, errors.ErrNotFound.WithHintf("Unknown %s verifier.", kind)
	}
	c, ok := s.challenges[challengeKey{kind, id}]
	if !ok {
		return nil, errors.ErrNotFound.WithHintf("Unknown %s verifier.", kind)
	}
	if c.Status == consent.StatusPending {
		return nil, errors.ErrBadRequest.WithHintf("The %s challenge has not been handled yet.", kind)
	}
	if c.VerifierUsed {
		return nil, errors.ErrConflict.WithHintf("The %s verifier has already been used.", kind)
	}
	c.VerifierUsed = true
	return copyChallenge(c), nil
}

func (s *Store) SaveLoginSession(_ context.Context, ls *consent.LoginSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ls.ID] = *ls
	return nil
}

func (s *Store) GetLoginSession(_ context.Context, id string) (*consent.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, errors.ErrNotFound.WithHint("Unknown login session.")
	}
	return &ls, nil
}

func (s *Store) DeleteLoginSession(_ context.Context, id string) (*consent.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, errors.ErrNotFound.WithHint("Unknown login session.")
	}
	delete(s.sessions, id)
	return &ls, nil
}

func (s *Store) RevokeSubjectLoginSessions(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ls := range s.sessions {
		if ls.Subject == subject {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *Store) SaveConsentSession(_ context.Context, cs *consent.ConsentSession) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return errors.Wrapf(err, "encoding consent session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[cs.ConsentRequest.Challenge] = raw
	return nil
}

func (s *Store) ListConsentSessions(_ context.Context, subject string) ([]*consent.ConsentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*consent.ConsentSession{}
	for _, raw := range s.consents {
		cs, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		if cs.Subject() == subject {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (s *Store) RevokeConsentSessions(_ context.Context, subject, clientID string) ([]*consent.ConsentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*consent.ConsentSession{}
	for id, raw := range s.consents {
		cs, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		if cs.Subject() != subject || (clientID != "" && cs.ClientID() != clientID) {
			continue
		}
		delete(s.consents, id)
		out = append(out, cs)
	}
	return out, nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, key)
			delete(s.verifiers, challengeKey{c.Kind, c.Verifier})
			n++
		}
	}
	for id, ls := range s.sessions {
		if now.After(ls.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	for id, raw := range s.consents {
		cs, err := decodeSession(raw)
		if err != nil {
			return n, err
		}
		if cs.ExpiresAt != nil && now.After(*cs.ExpiresAt) {
			delete(s.consents, id)
			n++
		}
	}
	return n, nil
}

func copyChallenge(c *consent.Challenge) *consent.Challenge {
	out := *c
	out.Request = append(json.RawMessage(nil), c.Request...)
	out.Outcome = append(json.RawMessage(nil), c.Outcome...)
	return &out
}

func decodeSession(raw []byte) (*consent.ConsentSession, error) {
	var cs consent.ConsentSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, errors.Wrapf(err, "decoding consent session")
	}
	return &cs, nil
}
