package jwk

import (
	"context"
	"sync"

	"github.com/go-jose/go-jose/v4"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager generates, imports and serves JSON Web Keys. Everything it returns
// is a public view: private asymmetric parts are stripped and symmetric keys
// are omitted.
type Manager struct {
	store Store
	// ensureLock serialises lazy creation of signing key sets.
	ensureLock sync.Mutex
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// CreateKeySet generates a key and adds it to set, creating the set if needed.
func (m *Manager) CreateKeySet(ctx context.Context, set, alg, kid, use string) (*jose.JSONWebKeySet, error) {
	if set == "" {
		return nil, apperrors.ErrBadRequest.WithHint("A key set name is required.")
	}
	if use != "" && use != UseSig && use != UseEnc {
		return nil, apperrors.ErrBadRequest.WithHintf("Key use %q is not supported.", use)
	}
	key, err := GenerateKey(alg, kid, use)
	if err != nil {
		return nil, err
	}
	if err := m.store.AddKey(ctx, set, key); err != nil {
		return nil, errors.Wrapf(err, "[CreateKeySet] set %s", set)
	}
	log.Debug().Str("set", set).Str("kid", key.KeyID).Str("alg", alg).Msg("generated json web key")
	return PublicSet(&jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*key}}), nil
}

// UpdateKey imports key under kid, replacing any key with the same kid.
func (m *Manager) UpdateKey(ctx context.Context, set, kid string, key *jose.JSONWebKey) (*jose.JSONWebKeySet, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if key.KeyID != kid {
		return nil, apperrors.ErrBadRequest.WithHintf("The kid %q of the key does not match %q.", key.KeyID, kid)
	}
	if err := m.store.UpdateKey(ctx, set, key); err != nil {
		return nil, errors.Wrapf(err, "[UpdateKey] set %s", set)
	}
	return PublicSet(&jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*key}}), nil
}

// UpdateKeySet replaces the whole set with the supplied keys.
func (m *Manager) UpdateKeySet(ctx context.Context, set string, keys *jose.JSONWebKeySet) (*jose.JSONWebKeySet, error) {
	if keys == nil || len(keys.Keys) == 0 {
		return nil, apperrors.ErrBadRequest.WithHint("At least one key is required.")
	}
	seen := map[string]bool{}
	for i := range keys.Keys {
		if err := ValidateKey(&keys.Keys[i]); err != nil {
			return nil, err
		}
		if seen[keys.Keys[i].KeyID] {
			return nil, apperrors.ErrBadRequest.WithHintf("Duplicate kid %q.", keys.Keys[i].KeyID)
		}
		seen[keys.Keys[i].KeyID] = true
	}
	if err := m.store.UpdateKeySet(ctx, set, keys); err != nil {
		return nil, errors.Wrapf(err, "[UpdateKeySet] set %s", set)
	}
	return PublicSet(keys), nil
}

func (m *Manager) GetKeySet(ctx context.Context, set string) (*jose.JSONWebKeySet, error) {
	keys, err := m.store.GetKeySet(ctx, set)
	if err != nil {
		return nil, errors.Wrapf(err, "[GetKeySet] set %s", set)
	}
	return PublicSet(keys), nil
}

func (m *Manager) GetKey(ctx context.Context, set, kid string) (*jose.JSONWebKeySet, error) {
	key, err := m.store.GetKey(ctx, set, kid)
	if err != nil {
		return nil, errors.Wrapf(err, "[GetKey] set %s", set)
	}
	return PublicSet(&jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*key}}), nil
}

// DeleteKey removes the key for good. Tokens signed with it can no longer be verified.
func (m *Manager) DeleteKey(ctx context.Context, set, kid string) error {
	return errors.Wrapf(m.store.DeleteKey(ctx, set, kid), "[DeleteKey] set %s", set)
}

func (m *Manager) DeleteKeySet(ctx context.Context, set string) error {
	return errors.Wrapf(m.store.DeleteKeySet(ctx, set), "[DeleteKeySet] set %s", set)
}

// PublicJWKS merges the public views of several sets. Missing sets are skipped.
func (m *Manager) PublicJWKS(ctx context.Context, sets ...string) (*jose.JSONWebKeySet, error) {
	out := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	for _, set := range sets {
		keys, err := m.store.GetKeySet(ctx, set)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "[PublicJWKS] set %s", set)
		}
		out.Keys = append(out.Keys, PublicSet(keys).Keys...)
	}
	return out, nil
}

// ActiveKey returns the newest signing key of set, generating one with alg when
// the set holds none.
func (m *Manager) ActiveKey(ctx context.Context, set, alg string) (*jose.JSONWebKey, error) {
	if key, err := m.newestSigningKey(ctx, set, alg); err == nil || !apperrors.Is(err, apperrors.ErrNotFound) {
		return key, err
	}

	m.ensureLock.Lock()
	defer m.ensureLock.Unlock()
	if key, err := m.newestSigningKey(ctx, set, alg); err == nil || !apperrors.Is(err, apperrors.ErrNotFound) {
		return key, err
	}
	key, err := GenerateKey(alg, "", UseSig)
	if err != nil {
		return nil, err
	}
	if err := m.store.AddKey(ctx, set, key); err != nil {
		return nil, errors.Wrapf(err, "[ActiveKey] set %s", set)
	}
	log.Info().Str("set", set).Str("kid", key.KeyID).Str("alg", alg).Msg("created signing key")
	return key, nil
}

func (m *Manager) newestSigningKey(ctx context.Context, set, alg string) (*jose.JSONWebKey, error) {
	keys, err := m.store.GetKeySet(ctx, set)
	if err != nil {
		return nil, err
	}
	var fallback *jose.JSONWebKey
	for i := range keys.Keys {
		k := &keys.Keys[i]
		if !CanSign(k) || k.Algorithm == "" {
			continue
		}
		if k.Algorithm == alg {
			return k, nil
		}
		if fallback == nil {
			fallback = k
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, apperrors.ErrNotFound.WithHintf("Key set %q has no signing key.", set)
}

// privateKey returns the stored key for verification.
func (m *Manager) privateKey(ctx context.Context, set, kid string) (*jose.JSONWebKey, error) {
	return m.store.GetKey(ctx, set, kid)
}
