// Package redisstore is a redis-backed implementation of kvstore.Store.
// Each box is a redis hash (HSET box field value); values round-trip
// through JSON exactly as memstore and pgstore do. Grounded on the
// teacher's use of *redis.Client as a plain dependency threaded through
// constructors (pkg/alert's deduplicator, internal/auth's rate limiter)
// rather than a bespoke driver.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
)

// Store is a redis-backed kvstore.Store. The zero value is not usable;
// use New.
type Store struct {
	client *redis.Client
}

// New wraps an existing redis client. The caller owns the client's
// lifecycle.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Box(_ context.Context, name string) (kvstore.Box, error) {
	return &box{client: s.client, name: name}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

type box struct {
	client *redis.Client
	name   string
}

func (b *box) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redisstore: marshal %q: %w", key, err)
	}
	if err := b.client.HSet(ctx, b.name, key, data).Err(); err != nil {
		return fmt.Errorf("redisstore: put %q: %w", key, err)
	}
	return nil
}

func (b *box) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := b.client.HGet(ctx, b.name, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("redisstore: unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (b *box) Delete(ctx context.Context, key string) error {
	if err := b.client.HDel(ctx, b.name, key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}

func (b *box) Iterate(ctx context.Context, dest any, fn func(key string) (bool, error)) error {
	all, err := b.client.HGetAll(ctx, b.name).Result()
	if err != nil {
		return fmt.Errorf("redisstore: iterate: %w", err)
	}
	for key, data := range all {
		if err := json.Unmarshal([]byte(data), dest); err != nil {
			return fmt.Errorf("redisstore: iterate: unmarshal %q: %w", key, err)
		}
		cont, err := fn(key)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (b *box) Count(ctx context.Context) (int, error) {
	n, err := b.client.HLen(ctx, b.name).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: count: %w", err)
	}
	return int(n), nil
}
