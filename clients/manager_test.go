package clients_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/clients/memrepo"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testClientID    = "test-client-1"
	testRedirectURI = "https://app.example.com/cb"
)

type testFixture struct {
	repo    *memrepo.ClientRepo
	manager *clients.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	repo := memrepo.New()
	return &testFixture{
		repo:    repo,
		manager: clients.NewManager(repo, clients.WithHashCost(bcrypt.MinCost)),
	}
}

// TestCreate_GeneratesAndHashesSecret verifies the secret is returned once and stored hashed.
func TestCreate_GeneratesAndHashesSecret(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	created, err := f.manager.Create(ctx, &clients.Client{ID: testClientID, RedirectURIs: []string{testRedirectURI}})
	require.NoError(t, err)
	require.NotEmpty(t, created.Secret)
	require.Empty(t, created.SecretHash)
	require.Equal(t, oauth2.ClientSecretBasic, created.TokenEndpointAuthMethod)
	require.True(t, created.HasGrantType(oauth2.AuthorizationCodeGrant))

	stored, err := f.repo.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Empty(t, stored.Secret)
	require.NotEqual(t, created.Secret, stored.SecretHash)
	require.True(t, clients.CompareSecret(stored.SecretHash, created.Secret))

	got, err := f.manager.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Empty(t, got.Secret)
}

// TestCreate_Duplicate returns Conflict.
func TestCreate_Duplicate(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, &clients.Client{ID: testClientID})
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, &clients.Client{ID: testClientID})
	require.ErrorIs(t, err, errors.ErrConflict)
}

// TestCreate_Validation rejects malformed registrations before storing them.
func TestCreate_Validation(t *testing.T) {
	cases := []struct {
		name   string
		client clients.Client
	}{
		{"relative redirect", clients.Client{RedirectURIs: []string{"/cb"}}},
		{"fragment redirect", clients.Client{RedirectURIs: []string{"https://app/cb#x"}}},
		{"unknown grant", clients.Client{GrantTypes: oauth2.Arguments{"password"}}},
		{"unknown response type", clients.Client{ResponseTypes: oauth2.Arguments{"code device"}}},
		{"unknown auth method", clients.Client{TokenEndpointAuthMethod: "tls_client_auth"}},
		{"private_key_jwt without keys", clients.Client{TokenEndpointAuthMethod: oauth2.PrivateKeyJWT}},
		{"public with secret", clients.Client{TokenEndpointAuthMethod: oauth2.AuthMethodNone, Secret: "s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t)
			_, err := f.manager.Create(context.Background(), &tc.client)
			require.ErrorIs(t, err, errors.ErrBadRequest)

			list, err := f.manager.List(context.Background(), 0, 0)
			require.NoError(t, err)
			require.Empty(t, list)
		})
	}
}

// TestAuthenticate covers good and bad credentials.
func TestAuthenticate(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	_, err := f.manager.Create(ctx, &clients.Client{ID: testClientID, Secret: "s3cret"})
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, &clients.Client{ID: "spa", TokenEndpointAuthMethod: oauth2.AuthMethodNone})
	require.NoError(t, err)

	c, err := f.manager.Authenticate(ctx, testClientID, "s3cret")
	require.NoError(t, err)
	require.Equal(t, testClientID, c.ID)

	_, err = f.manager.Authenticate(ctx, testClientID, "wrong")
	require.ErrorIs(t, err, errors.ErrInvalidClient)

	_, err = f.manager.Authenticate(ctx, "nobody", "s3cret")
	require.ErrorIs(t, err, errors.ErrInvalidClient)

	_, err = f.manager.Authenticate(ctx, "spa", "")
	require.ErrorIs(t, err, errors.ErrInvalidClient)
}

// TestUpdate_KeepsSecretUnlessReplaced verifies secret handling on update.
func TestUpdate_KeepsSecretUnlessReplaced(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	created, err := f.manager.Create(ctx, &clients.Client{ID: testClientID, Secret: "first"})
	require.NoError(t, err)

	updated, err := f.manager.Update(ctx, testClientID, &clients.Client{Name: "renamed", RedirectURIs: []string{testRedirectURI}})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Empty(t, updated.Secret)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = f.manager.Authenticate(ctx, testClientID, "first")
	require.NoError(t, err)

	_, err = f.manager.Update(ctx, testClientID, &clients.Client{Secret: "second"})
	require.NoError(t, err)
	_, err = f.manager.Authenticate(ctx, testClientID, "first")
	require.ErrorIs(t, err, errors.ErrInvalidClient)
	_, err = f.manager.Authenticate(ctx, testClientID, "second")
	require.NoError(t, err)

	_, err = f.manager.Update(ctx, "nobody", &clients.Client{})
	require.ErrorIs(t, err, errors.ErrNotFound)
}

// TestListAndDelete covers paging and hard delete.
func TestListAndDelete(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := f.manager.Create(ctx, &clients.Client{ID: id})
		require.NoError(t, err)
	}

	page, err := f.manager.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "b", page[0].ID)

	require.NoError(t, f.manager.Delete(ctx, "b"))
	require.ErrorIs(t, f.manager.Delete(ctx, "b"), errors.ErrNotFound)
	_, err = f.manager.Get(ctx, "b")
	require.ErrorIs(t, err, errors.ErrNotFound)
}
