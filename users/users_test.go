package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-consent-server/users"
	"github.com/jrsteele09/go-consent-server/users/memrepo"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	ctx  context.Context
	repo *memrepo.UserRepo
	user *users.User
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{ctx: context.Background(), repo: memrepo.New()}
	var err error
	f.user, err = users.EnsureUser(f.ctx, f.repo, " Bob@Example.com ", "Bob", "Passw0rdOk")
	require.NoError(t, err)
	return f
}

// TestEnsureUser seeds once and keeps the first password.
func TestEnsureUser(t *testing.T) {
	f := setupTestFixture(t)
	require.NotEmpty(t, f.user.ID)
	require.Equal(t, "bob@example.com", f.user.Email)
	require.False(t, f.user.DateJoined.IsZero())

	again, err := users.EnsureUser(f.ctx, f.repo, "bob@example.com", "Other", "Different1A")
	require.NoError(t, err)
	require.Equal(t, f.user.ID, again.ID)
	require.Equal(t, "Bob", again.Name)
}

// TestAuthenticate checks credentials, blocking and email case folding.
func TestAuthenticate(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("valid", func(t *testing.T) {
		u, err := users.Authenticate(f.ctx, f.repo, "BOB@example.com", "Passw0rdOk")
		require.NoError(t, err)
		require.Equal(t, f.user.ID, u.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := users.Authenticate(f.ctx, f.repo, "bob@example.com", "nope")
		require.ErrorIs(t, err, users.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := users.Authenticate(f.ctx, f.repo, "carol@example.com", "Passw0rdOk")
		require.ErrorIs(t, err, users.ErrInvalidCredentials)
	})

	t.Run("blocked user", func(t *testing.T) {
		u, err := f.repo.GetByID(f.ctx, f.user.ID)
		require.NoError(t, err)
		u.Blocked = true
		require.NoError(t, f.repo.Upsert(f.ctx, u))

		_, err = users.Authenticate(f.ctx, f.repo, "bob@example.com", "Passw0rdOk")
		require.ErrorIs(t, err, users.ErrInvalidCredentials)
	})
}

// TestClaims maps scopes to the claims they release.
func TestClaims(t *testing.T) {
	u := &users.User{Email: "bob@example.com", Name: "Bob", Verified: true}

	require.Empty(t, u.Claims([]string{"openid"}))
	require.Equal(t, map[string]any{"email": "bob@example.com", "email_verified": true}, u.Claims([]string{"openid", "email"}))
	require.Equal(t, map[string]any{"name": "Bob"}, u.Claims([]string{"profile"}))
}

// TestValidatePasswordStrength covers each rule.
func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Sh0rt", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
		{"G00dEnough", true},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := users.ValidatePasswordStrength(tt.password)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

// TestRepoEmailChange moves the email index with the user.
func TestRepoEmailChange(t *testing.T) {
	f := setupTestFixture(t)

	u, err := f.repo.GetByID(f.ctx, f.user.ID)
	require.NoError(t, err)
	u.Email = "robert@example.com"
	require.NoError(t, f.repo.Upsert(f.ctx, u))

	_, err = f.repo.GetByEmail(f.ctx, "bob@example.com")
	require.ErrorIs(t, err, users.ErrNotFound)
	got, err := f.repo.GetByEmail(f.ctx, "Robert@example.com")
	require.NoError(t, err)
	require.Equal(t, f.user.ID, got.ID)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.repo.SetLastLogin(f.ctx, f.user.ID, at))
	got, err = f.repo.GetByID(f.ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, at, got.LastLogin)

	require.ErrorIs(t, f.repo.SetLastLogin(f.ctx, "missing", at), users.ErrNotFound)
}
