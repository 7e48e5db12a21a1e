package jwk

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/pkg/errors"
)

// Supported signing algorithms.
const (
	RS256 = "RS256"
	ES512 = "ES512"
	HS256 = "HS256"
	HS512 = "HS512"
)

// Well known key sets.
const (
	IDTokenSet     = "hydra.openid.id-token"
	AccessTokenSet = "hydra.jwt.access-token"
)

const (
	UseSig = "sig"
	UseEnc = "enc"
)

const rsaKeyBits = 2048

// SupportedAlgorithms lists every algorithm GenerateKey accepts.
var SupportedAlgorithms = []string{RS256, ES512, HS256, HS512}

// GenerateKey creates a private JSON Web Key for alg. An empty kid is replaced by a uuid.
func GenerateKey(alg, kid, use string) (*jose.JSONWebKey, error) {
	if kid == "" {
		kid = uuid.NewString()
	}
	if use == "" {
		use = UseSig
	}

	var key any
	switch alg {
	case RS256:
		k, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate RSA key")
		}
		key = k
	case ES512:
		k, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate ECDSA key")
		}
		key = k
	case HS256, HS512:
		size := 32
		if alg == HS512 {
			size = 64
		}
		secret := make([]byte, size)
		if _, err := rand.Read(secret); err != nil {
			return nil, errors.Wrap(err, "failed to generate HMAC secret")
		}
		key = secret
	default:
		return nil, apperrors.ErrBadRequest.WithHintf("Algorithm %q is not supported, use one of %s.", alg, strings.Join(SupportedAlgorithms, ", "))
	}

	return &jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: alg, Use: use}, nil
}

// IsSymmetric reports whether the key is a shared secret.
func IsSymmetric(k *jose.JSONWebKey) bool {
	_, ok := k.Key.([]byte)
	return ok
}

// PublicView returns the part of k that may leave the server. Symmetric keys
// have no such part and report false.
func PublicView(k *jose.JSONWebKey) (jose.JSONWebKey, bool) {
	if IsSymmetric(k) {
		return jose.JSONWebKey{}, false
	}
	if k.IsPublic() {
		return *k, true
	}
	pub := k.Public()
	return pub, pub.Valid()
}

// PublicSet filters a set down to its public views.
func PublicSet(set *jose.JSONWebKeySet) *jose.JSONWebKeySet {
	out := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	if set == nil {
		return out
	}
	for i := range set.Keys {
		if pub, ok := PublicView(&set.Keys[i]); ok {
			out.Keys = append(out.Keys, pub)
		}
	}
	return out
}

// ValidateKey checks that an imported key is well formed and that its
// algorithm matches the key material.
func ValidateKey(k *jose.JSONWebKey) error {
	if k == nil || k.KeyID == "" {
		return apperrors.ErrBadRequest.WithHint("A JSON Web Key must have a kid.")
	}
	if secret, ok := k.Key.([]byte); ok {
		if len(secret) == 0 {
			return apperrors.ErrBadRequest.WithHintf("JSON Web Key %q has an empty secret.", k.KeyID)
		}
	} else if !k.Valid() {
		return apperrors.ErrBadRequest.WithHintf("JSON Web Key %q is not valid.", k.KeyID)
	}
	if k.Use != "" && k.Use != UseSig && k.Use != UseEnc {
		return apperrors.ErrBadRequest.WithHintf("Key use %q is not supported.", k.Use)
	}
	if k.Algorithm == "" {
		return nil
	}
	ok := false
	switch k.Algorithm {
	case RS256:
		switch k.Key.(type) {
		case *rsa.PrivateKey, *rsa.PublicKey:
			ok = true
		}
	case ES512:
		switch k.Key.(type) {
		case *ecdsa.PrivateKey, *ecdsa.PublicKey:
			ok = true
		}
	case HS256, HS512:
		_, ok = k.Key.([]byte)
	}
	if !ok {
		return apperrors.ErrBadRequest.WithHintf("Key %q does not match algorithm %q.", k.KeyID, k.Algorithm)
	}
	return nil
}

// CanSign reports whether k holds private or secret material.
func CanSign(k *jose.JSONWebKey) bool {
	if IsSymmetric(k) {
		return true
	}
	return !k.IsPublic() && (k.Use == "" || k.Use == UseSig)
}

// verificationKey returns the key golang-jwt needs to check a signature made with k.
func verificationKey(k *jose.JSONWebKey) (any, error) {
	switch key := k.Key.(type) {
	case *rsa.PrivateKey:
		return &key.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &key.PublicKey, nil
	case *rsa.PublicKey, *ecdsa.PublicKey, []byte:
		return key, nil
	default:
		return nil, errors.Errorf("unsupported key type %T", k.Key)
	}
}

// HashForAlgorithm returns the hash function backing a JWS algorithm, as
// needed for at_hash and c_hash.
func HashForAlgorithm(alg string) crypto.Hash {
	switch {
	case strings.HasSuffix(alg, "512"):
		return crypto.SHA512
	case strings.HasSuffix(alg, "384"):
		return crypto.SHA384
	default:
		return crypto.SHA256
	}
}
