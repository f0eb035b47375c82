// Package memstore is an in-process implementation of kvstore.Store backed
// by mutex-guarded maps and JSON round-tripping (so it enforces the same
// "opaque, JSON-equivalent" value semantics a real backend would). It is
// the default store for tests and for single-process deployments that
// don't need cross-process durability.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
)

// Store is an in-memory kvstore.Store. The zero value is not usable; use
// New.
type Store struct {
	mu    sync.Mutex
	boxes map[string]*box
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{boxes: make(map[string]*box)}
}

func (s *Store) Box(_ context.Context, name string) (kvstore.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boxes[name]
	if !ok {
		b = &box{records: make(map[string][]byte)}
		s.boxes[name] = b
	}
	return b, nil
}

func (s *Store) Close() error { return nil }

type box struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func (b *box) Put(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memstore: marshal %q: %w", key, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = data
	return nil
}

func (b *box) Get(_ context.Context, key string, dest any) (bool, error) {
	b.mu.RLock()
	data, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("memstore: unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (b *box) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

func (b *box) Iterate(_ context.Context, dest any, fn func(key string) (bool, error)) error {
	b.mu.RLock()
	snapshot := make(map[string][]byte, len(b.records))
	for k, v := range b.records {
		snapshot[k] = v
	}
	b.mu.RUnlock()

	for k, data := range snapshot {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("memstore: unmarshal %q: %w", k, err)
		}
		cont, err := fn(k)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (b *box) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records), nil
}
