package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jrsteele09/go-consent-server/consent"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ConsentStore implements consent.Store. Layout under the prefix:
//
//	challenge:{kind}:{id}      JSON challenge envelope
//	verifier:{kind}:{verifier} challenge id
//	session:{id}               JSON login session
//	consent:{challenge}        JSON consent session
//	subject:sessions:{sub}     set of session ids
//	subject:consents:{sub}     set of consent challenges
//	expiry:consent             zset of the keys above scored by expiry (ms)
type ConsentStore struct {
	client redis.UniversalClient
	ks     keyspace
}

var _ consent.Store = (*ConsentStore)(nil)

func NewConsentStore(client redis.UniversalClient, keyPrefix string) *ConsentStore {
	return &ConsentStore{client: client, ks: keyspace(keyPrefix)}
}

// expiryKey is not shared with TokenStore, whose cleanup would orphan the
// verifier and subject index entries of consent records.
func (s *ConsentStore) expiryKey() string {
	return s.ks.key("expiry", "consent")
}

func (s *ConsentStore) challengeKey(kind consent.Kind, id string) string {
	return s.ks.key("challenge", string(kind), id)
}

func (s *ConsentStore) verifierKey(kind consent.Kind, v string) string {
	return s.ks.key("verifier", string(kind), v)
}

func (s *ConsentStore) CreateChallenge(ctx context.Context, c *consent.Challenge) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding challenge")
	}
	key := s.challengeKey(c.Kind, c.ID)
	created, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return errors.Wrap(err, "storing challenge")
	}
	if !created {
		return apperrors.ErrConflict.WithHintf("%s challenge %s already exists", c.Kind, c.ID)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.verifierKey(c.Kind, c.Verifier), c.ID, 0)
		p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(c.ExpiresAt.UnixMilli()), Member: key})
		return nil
	})
	return errors.Wrap(err, "indexing challenge")
}

func (s *ConsentStore) GetChallenge(ctx context.Context, kind consent.Kind, id string) (*consent.Challenge, error) {
	raw, err := s.client.Get(ctx, s.challengeKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound.WithHintf("Unknown %s challenge.", kind)
	} else if err != nil {
		return nil, errors.Wrap(err, "loading challenge")
	}
	return decodeJSON[consent.Challenge](raw)
}

// transition applies mutate to the challenge at key atomically.
func (s *ConsentStore) transition(ctx context.Context, kind consent.Kind, key string, mutate func(c *consent.Challenge) error) (*consent.Challenge, error) {
	c, err := casJSON(ctx, s.client, key, apperrors.ErrNotFound.WithHintf("Unknown %s challenge.", kind), mutate)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ConsentStore) HandleChallenge(ctx context.Context, kind consent.Kind, id string, status consent.Status, outcome json.RawMessage, at time.Time) (*consent.Challenge, error) {
	return s.transition(ctx, kind, s.challengeKey(kind, id), func(c *consent.Challenge) error {
		if c.Status != consent.StatusPending {
			return apperrors.ErrConflict.WithHintf("The %s challenge has already been %s.", kind, c.Status)
		}
		c.Status = status
		c.Outcome = outcome
		c.HandledAt = at
		return nil
	})
}

func (s *ConsentStore) ConsumeVerifier(ctx context.Context, kind consent.Kind, verifier string) (*consent.Challenge, error) {
	id, err := s.client.Get(ctx, s.verifierKey(kind, verifier)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound.WithHintf("Unknown %s verifier.", kind)
	} else if err != nil {
		return nil, errors.Wrap(err, "loading verifier")
	}
	c, err := s.transition(ctx, kind, s.challengeKey(kind, id), func(c *consent.Challenge) error {
		if c.Status == consent.StatusPending {
			return apperrors.ErrBadRequest.WithHintf("The %s challenge has not been handled yet.", kind)
		}
		if c.VerifierUsed {
			return apperrors.ErrConflict.WithHintf("The %s verifier has already been used.", kind)
		}
		c.VerifierUsed = true
		return nil
	})
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithHintf("Unknown %s verifier.", kind)
	}
	return c, err
}

func (s *ConsentStore) SaveLoginSession(ctx context.Context, ls *consent.LoginSession) error {
	raw, err := json.Marshal(ls)
	if err != nil {
		return errors.Wrap(err, "encoding login session")
	}
	key := s.ks.key("session", ls.ID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, 0)
		p.SAdd(ctx, s.ks.key("subject", "sessions", ls.Subject), ls.ID)
		p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(ls.ExpiresAt.UnixMilli()), Member: key})
		return nil
	})
	return errors.Wrap(err, "storing login session")
}

func (s *ConsentStore) GetLoginSession(ctx context.Context, id string) (*consent.LoginSession, error) {
	raw, err := s.client.Get(ctx, s.ks.key("session", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound.WithHint("Unknown login session.")
	} else if err != nil {
		return nil, errors.Wrap(err, "loading login session")
	}
	return decodeJSON[consent.LoginSession](raw)
}

func (s *ConsentStore) DeleteLoginSession(ctx context.Context, id string) (*consent.LoginSession, error) {
	key := s.ks.key("session", id)
	raw, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound.WithHint("Unknown login session.")
	} else if err != nil {
		return nil, errors.Wrap(err, "deleting login session")
	}
	ls, err := decodeJSON[consent.LoginSession](raw)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, s.ks.key("subject", "sessions", ls.Subject), id)
		p.ZRem(ctx, s.expiryKey(), key)
		return nil
	})
	return ls, errors.Wrap(err, "unindexing login session")
}

func (s *ConsentStore) RevokeSubjectLoginSessions(ctx context.Context, subject string) error {
	index := s.ks.key("subject", "sessions", subject)
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return errors.Wrap(err, "listing login sessions")
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			key := s.ks.key("session", id)
			p.Del(ctx, key)
			p.ZRem(ctx, s.expiryKey(), key)
		}
		p.Del(ctx, index)
		return nil
	})
	return errors.Wrap(err, "revoking login sessions")
}

func (s *ConsentStore) SaveConsentSession(ctx context.Context, cs *consent.ConsentSession) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return errors.Wrap(err, "encoding consent session")
	}
	key := s.ks.key("consent", cs.ConsentRequest.Challenge)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, 0)
		p.SAdd(ctx, s.ks.key("subject", "consents", cs.Subject()), cs.ConsentRequest.Challenge)
		if cs.ExpiresAt != nil {
			p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(cs.ExpiresAt.UnixMilli()), Member: key})
		}
		return nil
	})
	return errors.Wrap(err, "storing consent session")
}

func (s *ConsentStore) ListConsentSessions(ctx context.Context, subject string) ([]*consent.ConsentSession, error) {
	ids, err := s.client.SMembers(ctx, s.ks.key("subject", "consents", subject)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing consent sessions")
	}
	out := []*consent.ConsentSession{}
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.ks.key("consent", id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			return nil, errors.Wrap(err, "loading consent session")
		}
		cs, err := decodeJSON[consent.ConsentSession](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *ConsentStore) RevokeConsentSessions(ctx context.Context, subject, clientID string) ([]*consent.ConsentSession, error) {
	sessions, err := s.ListConsentSessions(ctx, subject)
	if err != nil {
		return nil, err
	}
	out := []*consent.ConsentSession{}
	for _, cs := range sessions {
		if clientID != "" && cs.ClientID() != clientID {
			continue
		}
		out = append(out, cs)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, cs := range out {
			key := s.ks.key("consent", cs.ConsentRequest.Challenge)
			p.Del(ctx, key)
			p.SRem(ctx, s.ks.key("subject", "consents", subject), cs.ConsentRequest.Challenge)
			p.ZRem(ctx, s.expiryKey(), key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "revoking consent sessions")
	}
	return out, nil
}

func (s *ConsentStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	expiry := s.expiryKey()
	keys, err := s.client.ZRangeByScore(ctx, expiry, &redis.ZRangeBy{Min: "-inf", Max: scoreMax(now)}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "listing expired records")
	}
	n := 0
	for _, key := range keys {
		if err := s.deleteRecord(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// deleteRecord removes an expired record and its index entries.
func (s *ConsentStore) deleteRecord(ctx context.Context, key string) error {
	raw, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "deleting expired record")
	}
	rest := strings.TrimPrefix(key, string(s.ks))
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.expiryKey(), key)
		if raw == nil {
			return nil
		}
		switch {
		case strings.HasPrefix(rest, "challenge:"):
			if c, err := decodeJSON[consent.Challenge](raw); err == nil {
				p.Del(ctx, s.verifierKey(c.Kind, c.Verifier))
			}
		case strings.HasPrefix(rest, "session:"):
			if ls, err := decodeJSON[consent.LoginSession](raw); err == nil {
				p.SRem(ctx, s.ks.key("subject", "sessions", ls.Subject), ls.ID)
			}
		case strings.HasPrefix(rest, "consent:"):
			if cs, err := decodeJSON[consent.ConsentSession](raw); err == nil {
				p.SRem(ctx, s.ks.key("subject", "consents", cs.Subject()), cs.ConsentRequest.Challenge)
			}
		}
		return nil
	})
	return errors.Wrap(err, "unindexing expired record")
}
