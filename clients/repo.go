package clients

import "context"

// Repo persists clients. Implementations return errors.ErrNotFound for
// unknown ids and errors.ErrConflict when creating an existing id.
type Repo interface {
	Create(ctx context.Context, client *Client) error
	Update(ctx context.Context, client *Client) error
	Get(ctx context.Context, clientID string) (*Client, error)
	Delete(ctx context.Context, clientID string) error
	List(ctx context.Context, offset, limit int) ([]*Client, error)
}

// Page returns the [offset, offset+limit) window of a sorted slice.
// A non-positive limit returns everything from offset.
func Page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
