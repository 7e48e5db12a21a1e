package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-consent-server/jwk"
)

// Signer is an interface for signing and verifying JWT tokens
type Signer interface {
	// Sign creates a signed JWT token from claims
	Sign(ctx context.Context, claims jwt.MapClaims) (string, error)

	// Verify checks the signature and registered claims of raw
	Verify(ctx context.Context, raw string, opts ...jwt.ParserOption) (jwt.MapClaims, error)

	// Algorithm is the JWS algorithm of the next signature
	Algorithm(ctx context.Context) (string, error)
}

var _ Signer = (*jwk.Signer)(nil)

// Signature is the storage key of an opaque token. The raw token is never stored.
func Signature(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LeftHalfHash computes at_hash for an access token signed with alg.
func LeftHalfHash(alg, accessToken string) string {
	h := jwk.HashForAlgorithm(alg).New()
	_, _ = h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
