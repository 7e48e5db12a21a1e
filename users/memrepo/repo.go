package memrepo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-consent-server/users"
)

var _ users.Repo = (*UserRepo)(nil)

type UserRepo struct {
	lock     sync.RWMutex
	users    map[string]users.User
	emailIDs map[string]string // email to user id
}

func New() *UserRepo {
	return &UserRepo{
		users:    map[string]users.User{},
		emailIDs: map[string]string{},
	}
}

// Upsert stores a copy of user, assigning an id to new users.
func (r *UserRepo) Upsert(_ context.Context, user *users.User) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC()
	}
	if old, ok := r.users[user.ID]; ok {
		delete(r.emailIDs, users.NormalizeEmail(old.Email))
	}
	r.users[user.ID] = *user
	r.emailIDs[users.NormalizeEmail(user.Email)] = user.ID
	return nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.emailIDs[users.NormalizeEmail(email)]
	if !ok {
		return nil, users.ErrNotFound
	}
	u := r.users[id]
	return &u, nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) SetLastLogin(_ context.Context, id string, at time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	u, ok := r.users[id]
	if !ok {
		return users.ErrNotFound
	}
	u.LastLogin = at
	r.users[id] = u
	return nil
}
