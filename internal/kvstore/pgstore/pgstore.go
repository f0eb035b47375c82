// Package pgstore is a postgres-backed implementation of kvstore.Store,
// following the same JSON-round-tripping value semantics as memstore so
// callers can swap backends without behavior changes. All boxes share one
// physical table (migrations/0001_kv_store.up.sql), keyed by (box, key),
// mirroring the teacher's pattern of one pgxpool.Pool threaded through
// every storage adapter (internal/authadapter/adapter.go).
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
)

// Store is a postgres-backed kvstore.Store. The zero value is not usable;
// use New.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgx pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Box(_ context.Context, name string) (kvstore.Box, error) {
	return &box{pool: s.pool, name: name}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type box struct {
	pool *pgxpool.Pool
	name string
}

func (b *box) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("pgstore: marshal %q: %w", key, err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO kv_store (box, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (box, key) DO UPDATE SET value = EXCLUDED.value
	`, b.name, key, data)
	if err != nil {
		return fmt.Errorf("pgstore: put %q: %w", key, err)
	}
	return nil
}

func (b *box) Get(ctx context.Context, key string, dest any) (bool, error) {
	var data []byte
	err := b.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE box = $1 AND key = $2`, b.name, key).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("pgstore: get %q: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("pgstore: unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (b *box) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM kv_store WHERE box = $1 AND key = $2`, b.name, key); err != nil {
		return fmt.Errorf("pgstore: delete %q: %w", key, err)
	}
	return nil
}

func (b *box) Iterate(ctx context.Context, dest any, fn func(key string) (bool, error)) error {
	rows, err := b.pool.Query(ctx, `SELECT key, value FROM kv_store WHERE box = $1`, b.name)
	if err != nil {
		return fmt.Errorf("pgstore: iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return fmt.Errorf("pgstore: iterate: scan: %w", err)
		}
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("pgstore: iterate: unmarshal %q: %w", key, err)
		}
		cont, err := fn(key)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return rows.Err()
}

func (b *box) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT count(*) FROM kv_store WHERE box = $1`, b.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count: %w", err)
	}
	return n, nil
}
