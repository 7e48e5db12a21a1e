// Package redis stores consent and token state in Redis so several server
// instances can share it. Compare-and-set transitions use WATCH/MULTI.
package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// maxTxRetries bounds optimistic retries of a WATCH transaction.
	maxTxRetries = 100
)

type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connect opens a client and checks it answers.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return client, nil
}

type keyspace string

func (k keyspace) key(parts ...string) string {
	return string(k) + strings.Join(parts, ":")
}

// update runs fn inside WATCH on key and retries while another client wins the race.
func update(ctx context.Context, client redis.UniversalClient, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return errors.Errorf("redis transaction on %v kept conflicting", keys)
}

func scoreMax(now time.Time) string {
	// exclusive bound: expired means strictly before now
	return "(" + strconv.FormatInt(now.UnixMilli(), 10)
}

// casJSON loads the JSON value at key, lets mutate change it and writes it
// back only if nobody touched key in between. A mutate error aborts the
// write and is returned together with the loaded value.
func casJSON[T any](ctx context.Context, client redis.UniversalClient, key string, notFound error, mutate func(v *T) error) (*T, error) {
	var out *T
	err := update(ctx, client, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound
		} else if err != nil {
			return errors.Wrapf(err, "loading %s", key)
		}
		v, err := decodeJSON[T](raw)
		if err != nil {
			return err
		}
		out = v
		if err := mutate(v); err != nil {
			return err
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "encoding %s", key)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, enc, 0)
			return nil
		})
		return err
	}, key)
	return out, err
}

func decodeJSON[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "decoding %T", v)
	}
	return &v, nil
}
