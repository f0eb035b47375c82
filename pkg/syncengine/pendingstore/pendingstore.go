// Package pendingstore implements the persistent FIFO queue of pending ops
// (spec §4.1): a record box keyed by op ID plus a sorted index kept
// consistent with it. It is grounded on the teacher's repository style in
// pkg/apikey/store.go — a thin struct wrapping a store handle with one
// method per operation — adapted from a raw-SQL repository to the
// kvstore.Store/Box contract so the same logic runs against memstore,
// Postgres or Redis without change.
package pendingstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// indexEntry is the sorted-index record: just enough to order without
// decoding the full op record.
type indexEntry struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// Store is the persistent FIFO queue of op.PendingOp records.
type Store struct {
	records kvstore.Box
	index   kvstore.Box

	mu sync.Mutex
}

// New opens the pending-ops and pending-index boxes from backend.
func New(ctx context.Context, backend kvstore.Store) (*Store, error) {
	records, err := backend.Box(ctx, kvstore.BoxPendingOps)
	if err != nil {
		return nil, fmt.Errorf("pendingstore: open records box: %w", err)
	}
	index, err := backend.Box(ctx, kvstore.BoxPendingIndex)
	if err != nil {
		return nil, fmt.Errorf("pendingstore: open index box: %w", err)
	}
	return &Store{records: records, index: index}, nil
}

// Enqueue appends o to the store. It is atomic across the record box and
// the index box: the record is written first, then the index entry, so a
// crash between the two leaves an orphan record that RebuildIndex repairs
// on the next startup, rather than an index entry with no backing record.
func (s *Store) Enqueue(ctx context.Context, o op.PendingOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		return fmt.Errorf("pendingstore: enqueue: op has empty id")
	}
	if err := s.records.Put(ctx, o.ID, o); err != nil {
		return fmt.Errorf("pendingstore: enqueue: put record: %w", err)
	}
	entry := indexEntry{ID: o.ID, CreatedAt: o.CreatedAt.UnixNano()}
	if err := s.index.Put(ctx, o.ID, entry); err != nil {
		return fmt.Errorf("pendingstore: enqueue: put index: %w", err)
	}
	return nil
}

// Oldest returns the earliest op by createdAt, ties broken by ID, or
// (nil, nil) if the queue is empty.
func (s *Store) Oldest(ctx context.Context) (*op.PendingOp, error) {
	entries, err := s.sortedIndex(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, entries[0].ID)
}

// GetByID returns the op with the given ID, or (nil, nil) if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*op.PendingOp, error) {
	var o op.PendingOp
	ok, err := s.records.Get(ctx, id, &o)
	if err != nil {
		return nil, fmt.Errorf("pendingstore: get %q: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// Update overwrites the stored record for o.ID. The index entry is
// refreshed too, since createdAt is immutable in practice but this keeps
// the index authoritative without a special case.
func (s *Store) Update(ctx context.Context, o op.PendingOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetByID(ctx, o.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("pendingstore: update: no such op %q", o.ID)
	}
	if err := s.records.Put(ctx, o.ID, o); err != nil {
		return fmt.Errorf("pendingstore: update: put record: %w", err)
	}
	entry := indexEntry{ID: o.ID, CreatedAt: o.CreatedAt.UnixNano()}
	return s.index.Put(ctx, o.ID, entry)
}

// MarkProcessed removes the op from both the record box and the index,
// its normal exit from the pending queue on success.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("pendingstore: mark processed: delete record: %w", err)
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("pendingstore: mark processed: delete index: %w", err)
	}
	return nil
}

// MarkFailed removes id from the pending store. Callers are responsible
// for archiving the op to failedarchive before calling this; pendingstore
// itself only knows about the active queue.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.MarkProcessed(ctx, id)
}

// Count returns the number of ops currently queued.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.records.Count(ctx)
}

// All returns every queued op in unspecified order. Used by the
// coalescer, which needs to scan for same-entity matches rather than
// just the FIFO head.
func (s *Store) All(ctx context.Context) ([]op.PendingOp, error) {
	var all []op.PendingOp
	var o op.PendingOp
	if err := s.records.Iterate(ctx, &o, func(key string) (bool, error) {
		all = append(all, o)
		return true, nil
	}); err != nil {
		return nil, fmt.Errorf("pendingstore: all: iterate: %w", err)
	}
	return all, nil
}

// RebuildIndex walks the record box and regenerates the index from
// scratch, discarding any index entries that do not correspond to a
// record. Spec §4.1: run before the first Oldest call when an index
// entry is found to point at a missing record.
func (s *Store) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var built []indexEntry
	var o op.PendingOp
	if err := s.records.Iterate(ctx, &o, func(key string) (bool, error) {
		built = append(built, indexEntry{ID: o.ID, CreatedAt: o.CreatedAt.UnixNano()})
		return true, nil
	}); err != nil {
		return fmt.Errorf("pendingstore: rebuild index: iterate records: %w", err)
	}

	var stale []string
	var existing indexEntry
	if err := s.index.Iterate(ctx, &existing, func(key string) (bool, error) {
		stale = append(stale, key)
		return true, nil
	}); err != nil {
		return fmt.Errorf("pendingstore: rebuild index: iterate index: %w", err)
	}
	for _, key := range stale {
		if err := s.index.Delete(ctx, key); err != nil {
			return fmt.Errorf("pendingstore: rebuild index: clear stale entry %q: %w", key, err)
		}
	}

	for _, entry := range built {
		if err := s.index.Put(ctx, entry.ID, entry); err != nil {
			return fmt.Errorf("pendingstore: rebuild index: put %q: %w", entry.ID, err)
		}
	}
	return nil
}

// sortedIndex returns the index entries ordered by createdAt ascending,
// ties broken by ID, verifying every entry resolves to a record first and
// self-healing via RebuildIndex if one doesn't (spec §4.1).
func (s *Store) sortedIndex(ctx context.Context) ([]indexEntry, error) {
	var entries []indexEntry
	var e indexEntry
	if err := s.index.Iterate(ctx, &e, func(key string) (bool, error) {
		entries = append(entries, e)
		return true, nil
	}); err != nil {
		return nil, fmt.Errorf("pendingstore: iterate index: %w", err)
	}

	for _, entry := range entries {
		ok, err := recordExists(ctx, s.records, entry.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := s.RebuildIndex(ctx); err != nil {
				return nil, err
			}
			return s.sortedIndexNoRepair(ctx)
		}
	}

	sortEntries(entries)
	return entries, nil
}

func (s *Store) sortedIndexNoRepair(ctx context.Context) ([]indexEntry, error) {
	var entries []indexEntry
	var e indexEntry
	if err := s.index.Iterate(ctx, &e, func(key string) (bool, error) {
		entries = append(entries, e)
		return true, nil
	}); err != nil {
		return nil, fmt.Errorf("pendingstore: iterate index after rebuild: %w", err)
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []indexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
}

func recordExists(ctx context.Context, records kvstore.Box, id string) (bool, error) {
	var o op.PendingOp
	ok, err := records.Get(ctx, id, &o)
	if err != nil {
		return false, fmt.Errorf("pendingstore: check record %q: %w", id, err)
	}
	return ok, nil
}
