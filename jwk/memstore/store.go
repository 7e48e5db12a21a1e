package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/jwk"
)

var _ jwk.Store = (*KeyStore)(nil)

// KeyStore keeps key sets in memory, newest key first.
type KeyStore struct {
	sets map[string][]jose.JSONWebKey
	lock sync.RWMutex
}

func New() *KeyStore {
	return &KeyStore{sets: make(map[string][]jose.JSONWebKey)}
}

func (s *KeyStore) AddKey(_ context.Context, set string, key *jose.JSONWebKey) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if indexOf(s.sets[set], key.KeyID) >= 0 {
		return errors.ErrConflict.WithHintf("Key %q already exists in set %q.", key.KeyID, set)
	}
	s.sets[set] = append([]jose.JSONWebKey{*key}, s.sets[set]...)
	return nil
}

func (s *KeyStore) UpdateKey(_ context.Context, set string, key *jose.JSONWebKey) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	keys := slices.DeleteFunc(slices.Clone(s.sets[set]), func(k jose.JSONWebKey) bool {
		return k.KeyID == key.KeyID
	})
	s.sets[set] = append([]jose.JSONWebKey{*key}, keys...)
	return nil
}

func (s *KeyStore) UpdateKeySet(_ context.Context, set string, keys *jose.JSONWebKeySet) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sets[set] = slices.Clone(keys.Keys)
	return nil
}

func (s *KeyStore) GetKey(_ context.Context, set, kid string) (*jose.JSONWebKey, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := s.sets[set]
	i := indexOf(keys, kid)
	if i < 0 {
		return nil, errors.ErrNotFound.WithHintf("Key %q does not exist in set %q.", kid, set)
	}
	k := keys[i]
	return &k, nil
}

func (s *KeyStore) GetKeySet(_ context.Context, set string) (*jose.JSONWebKeySet, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := s.sets[set]
	if len(keys) == 0 {
		return nil, errors.ErrNotFound.WithHintf("Key set %q does not exist.", set)
	}
	return &jose.JSONWebKeySet{Keys: slices.Clone(keys)}, nil
}

func (s *KeyStore) DeleteKey(_ context.Context, set, kid string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	keys := s.sets[set]
	i := indexOf(keys, kid)
	if i < 0 {
		return errors.ErrNotFound.WithHintf("Key %q does not exist in set %q.", kid, set)
	}
	keys = slices.Delete(slices.Clone(keys), i, i+1)
	if len(keys) == 0 {
		delete(s.sets, set)
		return nil
	}
	s.sets[set] = keys
	return nil
}

func (s *KeyStore) DeleteKeySet(_ context.Context, set string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.sets[set]; !ok {
		return errors.ErrNotFound.WithHintf("Key set %q does not exist.", set)
	}
	delete(s.sets, set)
	return nil
}

func indexOf(keys []jose.JSONWebKey, kid string) int {
	return slices.IndexFunc(keys, func(k jose.JSONWebKey) bool {
		return k.KeyID == kid
	})
}
