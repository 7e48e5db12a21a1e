package memrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/internal/errors"
)

var _ clients.Repo = (*ClientRepo)(nil)

// ClientRepo keeps clients in memory. Values are copied on the way in and out.
type ClientRepo struct {
	clients map[string]*clients.Client
	lock    sync.RWMutex
}

func New() *ClientRepo {
	return &ClientRepo{
		clients: make(map[string]*clients.Client),
	}
}

func (r *ClientRepo) Create(_ context.Context, c *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.clients[c.ID]; ok {
		return errors.ErrConflict.WithHintf("Client %q already exists.", c.ID)
	}
	r.clients[c.ID] = c.Clone()
	return nil
}

func (r *ClientRepo) Update(_ context.Context, c *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.clients[c.ID]; !ok {
		return errors.ErrNotFound.WithHintf("Client %q does not exist.", c.ID)
	}
	r.clients[c.ID] = c.Clone()
	return nil
}

func (r *ClientRepo) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return errors.ErrNotFound.WithHintf("Client %q does not exist.", clientID)
	}
	delete(r.clients, clientID)
	return nil
}

func (r *ClientRepo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, errors.ErrNotFound.WithHintf("Client %q does not exist.", clientID)
	}
	return c.Clone(), nil
}

func (r *ClientRepo) List(_ context.Context, offset, limit int) ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*clients.Client, 0, len(r.clients))
	for _, c := range r.clients {
		list = append(list, c.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return clients.Page(list, offset, limit), nil
}
