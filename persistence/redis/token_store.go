package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/token"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TokenStore implements token.Store. Layout under the prefix:
//
//	code:{signature}     JSON authorization code
//	access:{jti}         JSON access token record
//	refresh:{signature}  JSON refresh token record
//	assertion:{jti}      seen private_key_jwt ids
//	family:{request_id}  set of access and refresh keys of one grant
//	expiry:token         zset of the keys above scored by expiry (ms)
type TokenStore struct {
	client redis.UniversalClient
	ks     keyspace
}

var _ token.Store = (*TokenStore)(nil)

func NewTokenStore(client redis.UniversalClient, keyPrefix string) *TokenStore {
	return &TokenStore{client: client, ks: keyspace(keyPrefix)}
}

func (s *TokenStore) expiryKey() string {
	return s.ks.key("expiry", "token")
}

// put stores v at key, registers its expiry and adds it to a family.
func (s *TokenStore) put(ctx context.Context, key string, v any, exp time.Time, requestID string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, 0)
		p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(exp.UnixMilli()), Member: key})
		if requestID != "" {
			p.SAdd(ctx, s.ks.key("family", requestID), key)
		}
		return nil
	})
	return errors.Wrapf(err, "storing %s", key)
}

func getJSON[T any](ctx context.Context, client redis.UniversalClient, key string, notFound error) (*T, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "loading %s", key)
	}
	return decodeJSON[T](raw)
}

func (s *TokenStore) CreateAuthorizeCode(ctx context.Context, c *token.AuthorizeCode) error {
	key := s.ks.key("code", c.Signature)
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding authorization code")
	}
	created, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return errors.Wrap(err, "storing authorization code")
	}
	if !created {
		return apperrors.ErrConflict.WithHint("authorization code exists")
	}
	return errors.Wrap(s.client.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(c.ExpiresAt.UnixMilli()), Member: key}).Err(), "indexing authorization code")
}

func (s *TokenStore) ConsumeAuthorizeCode(ctx context.Context, signature string) (*token.AuthorizeCode, error) {
	return casJSON(ctx, s.client, s.ks.key("code", signature), apperrors.ErrNotFound.WithHint("authorization code not found"), func(c *token.AuthorizeCode) error {
		if c.Used {
			return apperrors.ErrConflict.WithHint("authorization code already used")
		}
		c.Used = true
		return nil
	})
}

func (s *TokenStore) CreateAccessToken(ctx context.Context, r *token.AccessTokenRecord) error {
	return s.put(ctx, s.ks.key("access", r.JTI), r, r.ExpiresAt, r.RequestID)
}

func (s *TokenStore) GetAccessToken(ctx context.Context, jti string) (*token.AccessTokenRecord, error) {
	return getJSON[token.AccessTokenRecord](ctx, s.client, s.ks.key("access", jti), apperrors.ErrNotFound.WithHint("access token not found"))
}

func (s *TokenStore) RevokeAccessToken(ctx context.Context, jti string) error {
	_, err := casJSON(ctx, s.client, s.ks.key("access", jti), apperrors.ErrNotFound.WithHint("access token not found"), func(r *token.AccessTokenRecord) error {
		r.Revoked = true
		return nil
	})
	return err
}

func (s *TokenStore) RevokeAccessTokensByRequest(ctx context.Context, requestID string) ([]*token.AccessTokenRecord, error) {
	return s.revokeFamily(ctx, requestID, false)
}

func (s *TokenStore) CreateRefreshToken(ctx context.Context, r *token.RefreshTokenRecord) error {
	return s.put(ctx, s.ks.key("refresh", r.Signature), r, r.ExpiresAt, r.Grant.RequestID)
}

func (s *TokenStore) GetRefreshToken(ctx context.Context, signature string) (*token.RefreshTokenRecord, error) {
	return getJSON[token.RefreshTokenRecord](ctx, s.client, s.ks.key("refresh", signature), apperrors.ErrNotFound.WithHint("refresh token not found"))
}

// RotateRefreshToken deactivates the old token and writes the new one in the
// same MULTI so there is no moment where both are active.
func (s *TokenStore) RotateRefreshToken(ctx context.Context, oldSignature string, next *token.RefreshTokenRecord) error {
	oldKey := s.ks.key("refresh", oldSignature)
	nextKey := s.ks.key("refresh", next.Signature)
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return errors.Wrap(err, "encoding refresh token")
	}
	return update(ctx, s.client, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, oldKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperrors.ErrNotFound.WithHint("refresh token not found")
		} else if err != nil {
			return errors.Wrap(err, "loading refresh token")
		}
		old, err := decodeJSON[token.RefreshTokenRecord](raw)
		if err != nil {
			return err
		}
		if !old.Active {
			return apperrors.ErrConflict.WithHint("refresh token already rotated")
		}
		old.Active = false
		oldRaw, err := json.Marshal(old)
		if err != nil {
			return errors.Wrap(err, "encoding refresh token")
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, oldKey, oldRaw, 0)
			p.Set(ctx, nextKey, nextRaw, 0)
			p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(next.ExpiresAt.UnixMilli()), Member: nextKey})
			p.SAdd(ctx, s.ks.key("family", next.Grant.RequestID), nextKey)
			return nil
		})
		return err
	}, oldKey)
}

func (s *TokenStore) RevokeRequest(ctx context.Context, requestID string) ([]*token.AccessTokenRecord, error) {
	return s.revokeFamily(ctx, requestID, true)
}

// revokeFamily revokes the family's access tokens and, with refresh set,
// deactivates its refresh tokens too.
func (s *TokenStore) revokeFamily(ctx context.Context, requestID string, refresh bool) ([]*token.AccessTokenRecord, error) {
	keys, err := s.client.SMembers(ctx, s.ks.key("family", requestID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing token family")
	}
	out := []*token.AccessTokenRecord{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, string(s.ks))
		switch {
		case strings.HasPrefix(rest, "access:"):
			var changed bool
			rec, err := casJSON(ctx, s.client, key, apperrors.ErrNotFound, func(r *token.AccessTokenRecord) error {
				changed = !r.Revoked
				r.Revoked = true
				return nil
			})
			if apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			if changed {
				out = append(out, rec)
			}
		case refresh && strings.HasPrefix(rest, "refresh:"):
			_, err := casJSON(ctx, s.client, key, apperrors.ErrNotFound, func(r *token.RefreshTokenRecord) error {
				r.Active = false
				return nil
			})
			if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *TokenStore) MarkClientAssertionJTI(ctx context.Context, jti string, exp time.Time) error {
	key := s.ks.key("assertion", jti)
	created, err := s.client.SetNX(ctx, key, exp.UnixMilli(), 0).Result()
	if err != nil {
		return errors.Wrap(err, "storing client assertion jti")
	}
	if !created {
		return apperrors.ErrConflict.WithHint("client assertion jti already used")
	}
	return errors.Wrap(s.client.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(exp.UnixMilli()), Member: key}).Err(), "indexing client assertion jti")
}

func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	expiry := s.expiryKey()
	keys, err := s.client.ZRangeByScore(ctx, expiry, &redis.ZRangeBy{Min: "-inf", Max: scoreMax(now)}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "listing expired tokens")
	}
	n := 0
	for _, key := range keys {
		raw, err := s.client.GetDel(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return n, errors.Wrap(err, "deleting expired token")
		}
		var family struct {
			RequestID string `json:"request_id"`
			Grant     struct {
				RequestID string `json:"request_id"`
			} `json:"grant"`
		}
		_ = json.Unmarshal(raw, &family)
		_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZRem(ctx, expiry, key)
			for _, id := range []string{family.RequestID, family.Grant.RequestID} {
				if id != "" {
					p.SRem(ctx, s.ks.key("family", id), key)
				}
			}
			return nil
		})
		if err != nil {
			return n, errors.Wrap(err, "unindexing expired token")
		}
		n++
	}
	return n, nil
}
