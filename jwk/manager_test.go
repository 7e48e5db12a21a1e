package jwk_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/jrsteele09/go-consent-server/jwk/memstore"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) *jwk.Manager {
	t.Helper()
	return jwk.NewManager(memstore.New())
}

// TestCreateKeySet_RS256RoundTrip verifies the public view omits private parameters.
func TestCreateKeySet_RS256RoundTrip(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	created, err := m.CreateKeySet(ctx, "sig", jwk.RS256, "k1", "")
	require.NoError(t, err)
	require.Len(t, created.Keys, 1)

	got, err := m.GetKey(ctx, "sig", "k1")
	require.NoError(t, err)
	require.Len(t, got.Keys, 1)
	require.Equal(t, "k1", got.Keys[0].KeyID)
	require.Equal(t, jwk.UseSig, got.Keys[0].Use)
	require.True(t, got.Keys[0].IsPublic())

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	var decoded struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, field := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		require.NotContains(t, decoded.Keys[0], field)
	}
	require.Equal(t, "RSA", decoded.Keys[0]["kty"])
}

// TestCreateKeySet_SymmetricNeverExposed verifies secrets never appear in any view.
func TestCreateKeySet_SymmetricNeverExposed(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	for _, alg := range []string{jwk.HS256, jwk.HS512} {
		created, err := m.CreateKeySet(ctx, "hmac", alg, alg, "")
		require.NoError(t, err)
		require.Empty(t, created.Keys)
	}

	set, err := m.GetKeySet(ctx, "hmac")
	require.NoError(t, err)
	require.Empty(t, set.Keys)

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"k"`)
}

// TestCreateKeySet_Errors covers conflicts and bad input.
func TestCreateKeySet_Errors(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateKeySet(ctx, "sig", jwk.ES512, "k1", "")
	require.NoError(t, err)

	_, err = m.CreateKeySet(ctx, "sig", jwk.ES512, "k1", "")
	require.ErrorIs(t, err, errors.ErrConflict)

	_, err = m.CreateKeySet(ctx, "sig", "PS256", "k2", "")
	require.ErrorIs(t, err, errors.ErrBadRequest)

	_, err = m.CreateKeySet(ctx, "sig", jwk.ES512, "k3", "wrap")
	require.ErrorIs(t, err, errors.ErrBadRequest)

	_, err = m.GetKeySet(ctx, "missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

// TestUpdateKey_ImportsAndReplaces verifies imported keys replace entries with the same kid.
func TestUpdateKey_ImportsAndReplaces(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateKeySet(ctx, "imp", jwk.RS256, "k1", "")
	require.NoError(t, err)

	replacement, err := jwk.GenerateKey(jwk.ES512, "k1", jwk.UseSig)
	require.NoError(t, err)
	updated, err := m.UpdateKey(ctx, "imp", "k1", replacement)
	require.NoError(t, err)
	require.Equal(t, jwk.ES512, updated.Keys[0].Algorithm)

	set, err := m.GetKeySet(ctx, "imp")
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	require.Equal(t, jwk.ES512, set.Keys[0].Algorithm)

	_, err = m.UpdateKey(ctx, "imp", "other", replacement)
	require.ErrorIs(t, err, errors.ErrBadRequest)

	mismatched, err := jwk.GenerateKey(jwk.RS256, "k2", jwk.UseSig)
	require.NoError(t, err)
	mismatched.Algorithm = jwk.ES512
	_, err = m.UpdateKey(ctx, "imp", "k2", mismatched)
	require.ErrorIs(t, err, errors.ErrBadRequest)
}

// TestUpdateKeySet_ReplacesSet verifies the whole set is swapped.
func TestUpdateKeySet_ReplacesSet(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.CreateKeySet(ctx, "swap", jwk.RS256, "old", "")
	require.NoError(t, err)

	a, err := jwk.GenerateKey(jwk.ES512, "a", "")
	require.NoError(t, err)
	b, err := jwk.GenerateKey(jwk.ES512, "b", "")
	require.NoError(t, err)
	_, err = m.UpdateKeySet(ctx, "swap", &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*a, *b}})
	require.NoError(t, err)

	set, err := m.GetKeySet(ctx, "swap")
	require.NoError(t, err)
	require.Len(t, set.Keys, 2)
	_, err = m.GetKey(ctx, "swap", "old")
	require.ErrorIs(t, err, errors.ErrNotFound)

	_, err = m.UpdateKeySet(ctx, "swap", &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*a, *a}})
	require.ErrorIs(t, err, errors.ErrBadRequest)
}

// TestDelete_MakesTokensUnverifiable verifies hard deletes.
func TestDelete_MakesTokensUnverifiable(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	signer := m.Signer("tokens", jwk.RS256)

	raw, err := signer.Sign(ctx, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	_, err = signer.Verify(ctx, raw)
	require.NoError(t, err)

	set, err := m.GetKeySet(ctx, "tokens")
	require.NoError(t, err)
	require.NoError(t, m.DeleteKey(ctx, "tokens", set.Keys[0].KeyID))
	require.ErrorIs(t, m.DeleteKey(ctx, "tokens", set.Keys[0].KeyID), errors.ErrNotFound)

	_, err = signer.Verify(ctx, raw)
	require.Error(t, err)

	_, err = m.CreateKeySet(ctx, "gone", jwk.ES512, "", "")
	require.NoError(t, err)
	require.NoError(t, m.DeleteKeySet(ctx, "gone"))
	require.ErrorIs(t, m.DeleteKeySet(ctx, "gone"), errors.ErrNotFound)
}

// TestSigner_Algorithms signs and verifies with every supported algorithm.
func TestSigner_Algorithms(t *testing.T) {
	for _, alg := range jwk.SupportedAlgorithms {
		t.Run(alg, func(t *testing.T) {
			m := setupManager(t)
			ctx := context.Background()
			signer := m.Signer("set-"+alg, alg)

			raw, err := signer.Sign(ctx, jwt.MapClaims{"sub": "bob"})
			require.NoError(t, err)

			parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
			require.NoError(t, err)
			require.Equal(t, alg, parsed.Method.Alg())
			require.NotEmpty(t, parsed.Header["kid"])

			claims, err := signer.Verify(ctx, raw)
			require.NoError(t, err)
			require.Equal(t, "bob", claims["sub"])
		})
	}
}

// TestSigner_RejectsExpiredAndForeignTokens covers verification failures.
func TestSigner_RejectsExpiredAndForeignTokens(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	signer := m.Signer("a", jwk.ES512)
	other := m.Signer("b", jwk.ES512)

	expired, err := signer.Sign(ctx, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	_, err = signer.Verify(ctx, expired)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	foreign, err := other.Sign(ctx, jwt.MapClaims{"sub": "x"})
	require.NoError(t, err)
	_, err = signer.Verify(ctx, foreign)
	require.Error(t, err)
}

// TestActiveKey_CreatedOnce verifies concurrent first use creates a single key.
func TestActiveKey_CreatedOnce(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	kids := make([]string, 8)
	for i := range kids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := m.ActiveKey(ctx, "lazy", jwk.ES512)
			if err == nil {
				kids[i] = k.KeyID
			}
		}(i)
	}
	wg.Wait()

	for _, kid := range kids {
		require.Equal(t, kids[0], kid)
	}
	set, err := m.GetKeySet(ctx, "lazy")
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
}

// TestPublicJWKS merges sets and skips missing ones.
func TestPublicJWKS(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	_, err := m.CreateKeySet(ctx, jwk.IDTokenSet, jwk.RS256, "id", "")
	require.NoError(t, err)
	_, err = m.CreateKeySet(ctx, jwk.AccessTokenSet, jwk.HS256, "at", "")
	require.NoError(t, err)

	set, err := m.PublicJWKS(ctx, jwk.IDTokenSet, jwk.AccessTokenSet, "missing")
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	require.Equal(t, "id", set.Keys[0].KeyID)
}
