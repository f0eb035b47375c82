// Package idempotency implements the local duplicate-suppression cache
// (spec §4.5): a set of recently-processed idempotency keys with a 24h
// TTL. Grounded on the teacher pack's infrastructure/cache/cache.go
// mutex-guarded TTL map, adapted from an in-process map to the
// kvstore.Box contract so it persists across restarts the same way the
// pending store does.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
)

// DefaultTTL is the duration after which a marked key is considered
// expired (spec §4.5).
const DefaultTTL = 24 * time.Hour

type entry struct {
	Key      string    `json:"key"`
	MarkedAt time.Time `json:"marked_at"`
}

// Cache is the durable idempotency-key cache.
type Cache struct {
	box kvstore.Box
	mu  sync.Mutex
}

// New opens the idempotency box from backend.
func New(ctx context.Context, backend kvstore.Store) (*Cache, error) {
	box, err := backend.Box(ctx, kvstore.BoxIdempotency)
	if err != nil {
		return nil, fmt.Errorf("idempotency: open box: %w", err)
	}
	return &Cache{box: box}, nil
}

// IsDuplicate reports whether key was marked processed less than
// DefaultTTL ago. An entry with now-markedAt exactly equal to the TTL is
// NOT a duplicate; strictly greater is (spec §4.5 boundary).
func (c *Cache) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	var e entry
	ok, err := c.box.Get(ctx, key, &e)
	if err != nil {
		return false, fmt.Errorf("idempotency: is duplicate: get %q: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	return now.Sub(e.MarkedAt) <= DefaultTTL, nil
}

// MarkProcessed records key as processed at now. Re-marking an existing
// key updates its timestamp.
func (c *Cache) MarkProcessed(ctx context.Context, key string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.box.Put(ctx, key, entry{Key: key, MarkedAt: now}); err != nil {
		return fmt.Errorf("idempotency: mark processed %q: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes every entry older than ttl (DefaultTTL if ttl <=
// 0), measured from now. It returns the number of entries removed and is
// safe to call concurrently with IsDuplicate: the removal pass only
// takes the lock around each individual delete, the same granularity as
// MarkProcessed, so a concurrent IsDuplicate never observes a torn
// write.
func (c *Cache) PurgeExpired(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var expired []string
	var e entry
	if err := c.box.Iterate(ctx, &e, func(key string) (bool, error) {
		if now.Sub(e.MarkedAt) > ttl {
			expired = append(expired, key)
		}
		return true, nil
	}); err != nil {
		return 0, fmt.Errorf("idempotency: purge expired: iterate: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range expired {
		if err := c.box.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("idempotency: purge expired: delete %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}
