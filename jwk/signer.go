package jwk

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs and verifies JWTs with the keys of one set.
type Signer struct {
	manager *Manager
	set     string
	alg     string
}

// Signer returns a signer for set that generates an alg key on first use.
func (m *Manager) Signer(set, alg string) *Signer {
	return &Signer{manager: m, set: set, alg: alg}
}

// Algorithm returns the algorithm of the key that will sign the next token.
func (s *Signer) Algorithm(ctx context.Context) (string, error) {
	key, err := s.manager.ActiveKey(ctx, s.set, s.alg)
	if err != nil {
		return "", err
	}
	return key.Algorithm, nil
}

// Sign creates a signed JWT with the newest key of the set and its kid in the header.
func (s *Signer) Sign(ctx context.Context, claims jwt.MapClaims) (string, error) {
	key, err := s.manager.ActiveKey(ctx, s.set, s.alg)
	if err != nil {
		return "", errors.Wrap(err, "failed to load signing key")
	}
	method := jwt.GetSigningMethod(key.Algorithm)
	if method == nil {
		return "", errors.Errorf("unsupported signing algorithm %q", key.Algorithm)
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.Key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Verify checks the signature against the key named by the kid header and
// validates the registered time claims.
func (s *Signer) Verify(ctx context.Context, raw string, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods(SupportedAlgorithms)}, opts...)
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		key, err := s.manager.privateKey(ctx, s.set, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, errors.Errorf("key %s does not sign %s", kid, t.Method.Alg())
		}
		return verificationKey(key)
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	return claims, nil
}
