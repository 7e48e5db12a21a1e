package sdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/oauth2"
)

// CreateClient registers c. The returned client carries the plaintext secret,
// which is never shown again.
func (c *Client) CreateClient(ctx context.Context, client *clients.Client) (*clients.Client, error) {
	out := &clients.Client{}
	if err := c.do(ctx, http.MethodPost, "/clients", nil, client, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetClient(ctx context.Context, id string) (*clients.Client, error) {
	out := &clients.Client{}
	if err := c.do(ctx, http.MethodGet, "/clients/"+escape(id), nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListClients(ctx context.Context, offset, limit int) ([]*clients.Client, error) {
	q := url.Values{"offset": {strconv.Itoa(offset)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []*clients.Client
	if err := c.do(ctx, http.MethodGet, "/clients", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateClient(ctx context.Context, id string, client *clients.Client) (*clients.Client, error) {
	out := &clients.Client{}
	if err := c.do(ctx, http.MethodPut, "/clients/"+escape(id), nil, client, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteClient(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/clients/"+escape(id), nil, nil, nil)
}

// CreateKeySet generates a key with alg in set. kid and use may be empty.
func (c *Client) CreateKeySet(ctx context.Context, set, alg, kid, use string) (*jose.JSONWebKeySet, error) {
	body := map[string]string{"alg": alg, "kid": kid, "use": use}
	out := &jose.JSONWebKeySet{}
	if err := c.do(ctx, http.MethodPost, "/keys/"+escape(set), nil, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetKeySet(ctx context.Context, set string) (*jose.JSONWebKeySet, error) {
	out := &jose.JSONWebKeySet{}
	if err := c.do(ctx, http.MethodGet, "/keys/"+escape(set), nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateKeySet(ctx context.Context, set string, keys *jose.JSONWebKeySet) (*jose.JSONWebKeySet, error) {
	out := &jose.JSONWebKeySet{}
	if err := c.do(ctx, http.MethodPut, "/keys/"+escape(set), nil, keys, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteKeySet(ctx context.Context, set string) error {
	return c.do(ctx, http.MethodDelete, "/keys/"+escape(set), nil, nil, nil)
}

func (c *Client) GetKey(ctx context.Context, set, kid string) (*jose.JSONWebKeySet, error) {
	out := &jose.JSONWebKeySet{}
	if err := c.do(ctx, http.MethodGet, "/keys/"+escape(set)+"/"+escape(kid), nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateKey(ctx context.Context, set string, key *jose.JSONWebKey) (*jose.JSONWebKeySet, error) {
	out := &jose.JSONWebKeySet{}
	if err := c.do(ctx, http.MethodPut, "/keys/"+escape(set)+"/"+escape(key.KeyID), nil, key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteKey(ctx context.Context, set, kid string) error {
	return c.do(ctx, http.MethodDelete, "/keys/"+escape(set)+"/"+escape(kid), nil, nil, nil)
}

// IntrospectToken asks the server about a token. The caller authenticates
// with its admin bearer token.
func (c *Client) IntrospectToken(ctx context.Context, token string, scope ...string) (*oauth2.IntrospectionResponse, error) {
	form := url.Values{"token": {token}}
	if len(scope) > 0 {
		form.Set("scope", strings.Join(scope, " "))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/introspect", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}
	out := &oauth2.IntrospectionResponse{}
	if err := decodeJSON(resp, out); err != nil {
		return nil, err
	}
	return out, nil
}
