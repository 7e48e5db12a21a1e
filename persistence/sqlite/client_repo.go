package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jrsteele09/go-consent-server/clients"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/pkg/errors"
)

// ClientRepo implements clients.Repo. The client document is stored as JSON
// and the secret hash in its own column.
type ClientRepo struct {
	db *sql.DB
}

var _ clients.Repo = (*ClientRepo)(nil)

func NewClientRepo(db *DB) *ClientRepo {
	return &ClientRepo{db: db.DB()}
}

func encodeClient(c *clients.Client) (string, error) {
	cp := c.Clone()
	cp.Secret = ""
	raw, err := json.Marshal(cp)
	if err != nil {
		return "", errors.Wrap(err, "encoding client")
	}
	return string(raw), nil
}

func (r *ClientRepo) Create(ctx context.Context, c *clients.Client) error {
	data, err := encodeClient(c)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO clients (id, data, secret_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, data, c.SecretHash, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.ErrConflict.WithHintf("Client %q already exists.", c.ID)
	}
	return errors.Wrap(err, "inserting client")
}

func (r *ClientRepo) Update(ctx context.Context, c *clients.Client) error {
	data, err := encodeClient(c)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE clients SET data = ?, secret_hash = ?, updated_at = ? WHERE id = ?`,
		data, c.SecretHash, c.UpdatedAt, c.ID)
	if err != nil {
		return errors.Wrap(err, "updating client")
	}
	return expectRow(res, apperrors.ErrNotFound.WithHintf("Client %q does not exist.", c.ID))
}

func (r *ClientRepo) Get(ctx context.Context, clientID string) (*clients.Client, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data, secret_hash FROM clients WHERE id = ?`, clientID)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithHintf("Client %q does not exist.", clientID)
	}
	return c, err
}

func (r *ClientRepo) Delete(ctx context.Context, clientID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
	if err != nil {
		return errors.Wrap(err, "deleting client")
	}
	return expectRow(res, apperrors.ErrNotFound.WithHintf("Client %q does not exist.", clientID))
}

func (r *ClientRepo) List(ctx context.Context, offset, limit int) ([]*clients.Client, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `SELECT data, secret_hash FROM clients ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing clients")
	}
	defer func() { _ = rows.Close() }()

	out := []*clients.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterating clients")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(s scanner) (*clients.Client, error) {
	var data, hash string
	if err := s.Scan(&data, &hash); err != nil {
		return nil, err
	}
	var c clients.Client
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, errors.Wrap(err, "decoding client")
	}
	c.SecretHash = hash
	return &c, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
