package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-jose/go-jose/v4"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/pkg/errors"
)

// KeyStore implements jwk.Store. The autoincrement seq orders a set newest first.
type KeyStore struct {
	db *sql.DB
}

var _ jwk.Store = (*KeyStore)(nil)

func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db.DB()}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertKey(ctx context.Context, e execer, set string, key *jose.JSONWebKey) error {
	raw, err := key.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encoding key")
	}
	_, err = e.ExecContext(ctx, `INSERT INTO jwks (set_id, kid, data) VALUES (?, ?, ?)`, set, key.KeyID, string(raw))
	if isUniqueViolation(err) {
		return apperrors.ErrConflict.WithHintf("Key %q already exists in set %q.", key.KeyID, set)
	}
	return errors.Wrap(err, "inserting key")
}

// insertSet writes keys given newest first, so the oldest is inserted first.
func insertSet(ctx context.Context, e execer, set string, keys []jose.JSONWebKey) error {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := insertKey(ctx, e, set, &keys[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *KeyStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer rollback(tx)
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (s *KeyStore) AddKey(ctx context.Context, set string, key *jose.JSONWebKey) error {
	return insertKey(ctx, s.db, set, key)
}

func (s *KeyStore) UpdateKey(ctx context.Context, set string, key *jose.JSONWebKey) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jwks WHERE set_id = ? AND kid = ?`, set, key.KeyID); err != nil {
			return errors.Wrap(err, "replacing key")
		}
		return insertKey(ctx, tx, set, key)
	})
}

func (s *KeyStore) UpdateKeySet(ctx context.Context, set string, keys *jose.JSONWebKeySet) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jwks WHERE set_id = ?`, set); err != nil {
			return errors.Wrap(err, "replacing key set")
		}
		return insertSet(ctx, tx, set, keys.Keys)
	})
}

func (s *KeyStore) GetKey(ctx context.Context, set, kid string) (*jose.JSONWebKey, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jwks WHERE set_id = ? AND kid = ?`, set, kid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithHintf("Key %q does not exist in set %q.", kid, set)
	} else if err != nil {
		return nil, errors.Wrap(err, "loading key")
	}
	return decodeKey(data)
}

func (s *KeyStore) GetKeySet(ctx context.Context, set string) (*jose.JSONWebKeySet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM jwks WHERE set_id = ? ORDER BY seq DESC`, set)
	if err != nil {
		return nil, errors.Wrap(err, "loading key set")
	}
	defer func() { _ = rows.Close() }()

	out := &jose.JSONWebKeySet{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scanning key")
		}
		k, err := decodeKey(data)
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating keys")
	}
	if len(out.Keys) == 0 {
		return nil, apperrors.ErrNotFound.WithHintf("Key set %q does not exist.", set)
	}
	return out, nil
}

func (s *KeyStore) DeleteKey(ctx context.Context, set, kid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jwks WHERE set_id = ? AND kid = ?`, set, kid)
	if err != nil {
		return errors.Wrap(err, "deleting key")
	}
	return expectRow(res, apperrors.ErrNotFound.WithHintf("Key %q does not exist in set %q.", kid, set))
}

func (s *KeyStore) DeleteKeySet(ctx context.Context, set string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jwks WHERE set_id = ?`, set)
	if err != nil {
		return errors.Wrap(err, "deleting key set")
	}
	return expectRow(res, apperrors.ErrNotFound.WithHintf("Key set %q does not exist.", set))
}

func decodeKey(data string) (*jose.JSONWebKey, error) {
	var k jose.JSONWebKey
	if err := json.Unmarshal([]byte(data), &k); err != nil {
		return nil, errors.Wrap(err, "decoding key")
	}
	return &k, nil
}
