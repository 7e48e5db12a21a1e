package users

import (
	"context"

	"github.com/pkg/errors"
)

// EnsureUser creates the user with email and password unless one exists.
// It is how the demo account is seeded.
func EnsureUser(ctx context.Context, repo Repo, email, name, password string) (*User, error) {
	if u, err := repo.GetByEmail(ctx, email); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "[EnsureUser] hash password")
	}
	u := &User{
		Email:        NormalizeEmail(email),
		Name:         name,
		PasswordHash: hash,
		Verified:     true,
	}
	if err := repo.Upsert(ctx, u); err != nil {
		return nil, errors.Wrap(err, "[EnsureUser] store user")
	}
	return u, nil
}
