// Package memstore keeps token state in process memory.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/token"
)

var _ token.Store = (*TokenStore)(nil)

type TokenStore struct {
	codes      map[string]token.AuthorizeCode
	access     map[string]token.AccessTokenRecord
	refresh    map[string]token.RefreshTokenRecord
	assertions map[string]time.Time
	lock       sync.RWMutex
}

func New() *TokenStore {
	return &TokenStore{
		codes:      make(map[string]token.AuthorizeCode),
		access:     make(map[string]token.AccessTokenRecord),
		refresh:    make(map[string]token.RefreshTokenRecord),
		assertions: make(map[string]time.Time),
	}
}

func (s *TokenStore) CreateAuthorizeCode(_ context.Context, c *token.AuthorizeCode) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.codes[c.Signature]; ok {
		return errors.ErrConflict.WithHint("authorization code exists")
	}
	cp := *c
	cp.Grant = c.Grant.Clone()
	s.codes[c.Signature] = cp
	return nil
}

func (s *TokenStore) ConsumeAuthorizeCode(_ context.Context, signature string) (*token.AuthorizeCode, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, ok := s.codes[signature]
	if !ok {
		return nil, errors.ErrNotFound.WithHint("authorization code not found")
	}
	if c.Used {
		return &c, errors.ErrConflict.WithHint("authorization code already used")
	}
	c.Used = true
	s.codes[signature] = c
	c.Grant = c.Grant.Clone()
	return &c, nil
}

func (s *TokenStore) CreateAccessToken(_ context.Context, r *token.AccessTokenRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.access[r.JTI] = *r
	return nil
}

func (s *TokenStore) GetAccessToken(_ context.Context, jti string) (*token.AccessTokenRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	r, ok := s.access[jti]
	if !ok {
		return nil, errors.ErrNotFound.WithHint("access token not found")
	}
	return &r, nil
}

func (s *TokenStore) RevokeAccessToken(_ context.Context, jti string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, ok := s.access[jti]
	if !ok {
		return errors.ErrNotFound.WithHint("access token not found")
	}
	r.Revoked = true
	s.access[jti] = r
	return nil
}

func (s *TokenStore) RevokeAccessTokensByRequest(_ context.Context, requestID string) ([]*token.AccessTokenRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.revokeAccessLocked(requestID), nil
}

func (s *TokenStore) revokeAccessLocked(requestID string) []*token.AccessTokenRecord {
	out := []*token.AccessTokenRecord{}
	for jti, r := range s.access {
		if r.RequestID != requestID || r.Revoked {
			continue
		}
		r.Revoked = true
		s.access[jti] = r
		out = append(out, &r)
	}
	return out
}

func (s *TokenStore) CreateRefreshToken(_ context.Context, r *token.RefreshTokenRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	cp := *r
	cp.Grant = r.Grant.Clone()
	s.refresh[r.Signature] = cp
	return nil
}

func (s *TokenStore) GetRefreshToken(_ context.Context, signature string) (*token.RefreshTokenRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	r, ok := s.refresh[signature]
	if !ok {
		return nil, errors.ErrNotFound.WithHint("refresh token not found")
	}
	r.Grant = r.Grant.Clone()
	return &r, nil
}

func (s *TokenStore) RotateRefreshToken(_ context.Context, oldSignature string, next *token.RefreshTokenRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	old, ok := s.refresh[oldSignature]
	if !ok {
		return errors.ErrNotFound.WithHint("refresh token not found")
	}
	if !old.Active {
		return errors.ErrConflict.WithHint("refresh token already rotated")
	}
	old.Active = false
	s.refresh[oldSignature] = old
	cp := *next
	cp.Grant = next.Grant.Clone()
	s.refresh[next.Signature] = cp
	return nil
}

func (s *TokenStore) RevokeRequest(_ context.Context, requestID string) ([]*token.AccessTokenRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for sig, r := range s.refresh {
		if r.Grant.RequestID == requestID && r.Active {
			r.Active = false
			s.refresh[sig] = r
		}
	}
	return s.revokeAccessLocked(requestID), nil
}

func (s *TokenStore) MarkClientAssertionJTI(_ context.Context, jti string, exp time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, seen := s.assertions[jti]; seen {
		return errors.ErrConflict.WithHint("client assertion jti already used")
	}
	s.assertions[jti] = exp
	return nil
}

func (s *TokenStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for k, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, k)
			n++
		}
	}
	for k, r := range s.access {
		if now.After(r.ExpiresAt) {
			delete(s.access, k)
			n++
		}
	}
	for k, r := range s.refresh {
		if now.After(r.ExpiresAt) {
			delete(s.refresh, k)
			n++
		}
	}
	for k, exp := range s.assertions {
		if now.After(exp) {
			delete(s.assertions, k)
			n++
		}
	}
	return n, nil
}
