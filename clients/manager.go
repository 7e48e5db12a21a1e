package clients

import (
	"context"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/internal/utils"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const secretLength = 26

// Manager owns client registration and client secret handling.
type Manager struct {
	repo     Repo
	hashCost int
	nowTime  func() time.Time
}

type ManagerOption func(*Manager)

// WithHashCost sets the bcrypt cost (tests use bcrypt.MinCost)
func WithHashCost(cost int) ManagerOption {
	return func(m *Manager) {
		m.hashCost = cost
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func NewManager(repo Repo, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:     repo,
		hashCost: bcrypt.DefaultCost,
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a client. Confidential clients without a secret get a
// generated one. The returned copy is the only place the plaintext secret appears.
func (m *Manager) Create(ctx context.Context, c *Client) (*Client, error) {
	c = c.Clone()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	secret := c.Secret
	if c.IsPublic() {
		if secret != "" {
			return nil, apperrors.ErrBadRequest.WithHint("Public clients must not have a client_secret.")
		}
	} else if secret == "" {
		generated, err := utils.RandomToken(secretLength)
		if err != nil {
			return nil, errors.Wrap(err, "[Create] failed to generate client secret")
		}
		secret = generated
	}
	if err := m.setSecret(c, secret); err != nil {
		return nil, err
	}

	now := m.nowTime().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := m.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "[Create] failed to store client")
	}

	out := c.Clone()
	out.Secret = secret
	out.SecretHash = ""
	return out, nil
}

// Update replaces the client registration. The stored secret is kept unless a new one is supplied.
func (m *Manager) Update(ctx context.Context, id string, c *Client) (*Client, error) {
	existing, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "[Update] failed to load client")
	}
	c = c.Clone()
	c.ID = id
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	secret := c.Secret
	switch {
	case c.IsPublic():
		c.SecretHash = ""
	case secret != "":
		if err := m.setSecret(c, secret); err != nil {
			return nil, err
		}
	case existing.SecretHash == "":
		return nil, apperrors.ErrBadRequest.WithHint("A confidential client requires a client_secret.")
	default:
		c.SecretHash = existing.SecretHash
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.nowTime().UTC()
	if err := m.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "[Update] failed to store client")
	}

	out := c.Clone()
	out.Secret = secret
	out.SecretHash = ""
	return out, nil
}

// Get returns the client. The secret hash stays populated for callers that authenticate.
func (m *Manager) Get(ctx context.Context, id string) (*Client, error) {
	c, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "[Get] client %s", id)
	}
	c.Secret = ""
	return c, nil
}

func (m *Manager) List(ctx context.Context, offset, limit int) ([]*Client, error) {
	list, err := m.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "[List] failed to list clients")
	}
	for _, c := range list {
		c.Secret = ""
	}
	return list, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return errors.Wrapf(m.repo.Delete(ctx, id), "[Delete] client %s", id)
}

// Authenticate checks a client id and secret pair. Every failure, including
// an unknown client, is reported as invalid_client.
func (m *Manager) Authenticate(ctx context.Context, id, secret string) (*Client, error) {
	c, err := m.repo.Get(ctx, id)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidClient.WithHint("Unknown client or wrong credentials.")
		}
		return nil, errors.Wrap(err, "[Authenticate] failed to load client")
	}
	if c.IsPublic() || c.SecretHash == "" {
		return nil, apperrors.ErrInvalidClient.WithHint("The client has no secret to authenticate with.")
	}
	if !CompareSecret(c.SecretHash, secret) {
		return nil, apperrors.ErrInvalidClient.WithHint("Unknown client or wrong credentials.")
	}
	return c, nil
}

func (m *Manager) setSecret(c *Client, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), m.hashCost)
	if err != nil {
		return errors.Wrap(err, "[setSecret] failed to hash client secret")
	}
	c.Secret = ""
	c.SecretHash = string(hash)
	return nil
}

// CompareSecret reports whether secret matches the bcrypt hash.
func CompareSecret(hash, secret string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
