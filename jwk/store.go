package jwk

import (
	"context"

	"github.com/go-jose/go-jose/v4"
)

// Store persists private key material grouped in named sets. Sets are ordered
// newest key first. Implementations return errors.ErrNotFound for missing keys
// or empty sets and errors.ErrConflict when adding a kid that already exists.
type Store interface {
	AddKey(ctx context.Context, set string, key *jose.JSONWebKey) error
	// UpdateKey replaces the key with the same kid, or adds it. The key becomes the newest in the set.
	UpdateKey(ctx context.Context, set string, key *jose.JSONWebKey) error
	// UpdateKeySet replaces the whole set.
	UpdateKeySet(ctx context.Context, set string, keys *jose.JSONWebKeySet) error
	GetKey(ctx context.Context, set, kid string) (*jose.JSONWebKey, error)
	GetKeySet(ctx context.Context, set string) (*jose.JSONWebKeySet, error)
	DeleteKey(ctx context.Context, set, kid string) error
	DeleteKeySet(ctx context.Context, set string) error
}
