// Package failedarchive holds terminal op failures moved out of the
// active pending queue (spec §4.2): it records them, flags old ones as
// archived, and purges ones past retention. Grounded on the same
// box-per-collection repository shape as pendingstore, following the
// teacher's pkg/apikey/store.go convention of one small struct per
// durable collection.
package failedarchive

import (
	"context"
	"fmt"
	"time"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// DefaultArchiveAfter is the age at which a failed op is flagged archived
// if Archive is called with the zero value (spec §4.2: ageDays=30).
const DefaultArchiveAfter = 30 * 24 * time.Hour

// DefaultRetention is how long a failed op is kept at all before
// PurgeExpired deletes it outright.
const DefaultRetention = 90 * 24 * time.Hour

// Archive is the durable store of op.FailedOp records.
type Archive struct {
	box kvstore.Box
}

// New opens the failed-ops box from backend.
func New(ctx context.Context, backend kvstore.Store) (*Archive, error) {
	box, err := backend.Box(ctx, kvstore.BoxFailedOps)
	if err != nil {
		return nil, fmt.Errorf("failedarchive: open box: %w", err)
	}
	return &Archive{box: box}, nil
}

// Record moves a PendingOp into the archive as a terminal failure. now is
// used for both createdAt and updatedAt of the new FailedOp.
func (a *Archive) Record(ctx context.Context, pending op.PendingOp, errorCode, errorMessage string, now time.Time) error {
	failed := op.FailedOp{
		PendingOp:    pending,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Archived:     false,
		FailedAt:     now,
		UpdatedAt:    now,
	}
	if err := a.box.Put(ctx, failed.ID, failed); err != nil {
		return fmt.Errorf("failedarchive: record %q: %w", failed.ID, err)
	}
	return nil
}

// GetByID returns the failed op with the given ID, or (nil, nil) if
// absent.
func (a *Archive) GetByID(ctx context.Context, id string) (*op.FailedOp, error) {
	var f op.FailedOp
	ok, err := a.box.Get(ctx, id, &f)
	if err != nil {
		return nil, fmt.Errorf("failedarchive: get %q: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// All returns every failed op currently held, archived or not. Used by
// ops-notification watchers that need to scan for newly archived entries
// rather than fetch by ID.
func (a *Archive) All(ctx context.Context) ([]op.FailedOp, error) {
	var all []op.FailedOp
	var f op.FailedOp
	if err := a.box.Iterate(ctx, &f, func(key string) (bool, error) {
		all = append(all, f)
		return true, nil
	}); err != nil {
		return nil, fmt.Errorf("failedarchive: all: iterate: %w", err)
	}
	return all, nil
}

// Archive flags every non-archived failed op older than maxAge (measured
// from FailedAt to now) as archived. A zero maxAge uses
// DefaultArchiveAfter. Idempotent: already-archived records are left
// completely unchanged, including UpdatedAt (spec §4.2, "archive
// preservation").
func (a *Archive) Archive(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultArchiveAfter
	}

	var toFlag []op.FailedOp
	var f op.FailedOp
	if err := a.box.Iterate(ctx, &f, func(key string) (bool, error) {
		if !f.Archived && now.Sub(f.FailedAt) > maxAge {
			toFlag = append(toFlag, f)
		}
		return true, nil
	}); err != nil {
		return 0, fmt.Errorf("failedarchive: archive: iterate: %w", err)
	}

	for _, entry := range toFlag {
		entry.Archived = true
		entry.UpdatedAt = now
		if err := a.box.Put(ctx, entry.ID, entry); err != nil {
			return 0, fmt.Errorf("failedarchive: archive: put %q: %w", entry.ID, err)
		}
	}
	return len(toFlag), nil
}

// ArchiveByID flags a single failed op as archived, regardless of age.
// Idempotent: calling it on an already-archived op is a no-op that
// preserves UpdatedAt.
func (a *Archive) ArchiveByID(ctx context.Context, id string, now time.Time) error {
	f, err := a.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("failedarchive: archive by id: no such op %q", id)
	}
	if f.Archived {
		return nil
	}
	f.Archived = true
	f.UpdatedAt = now
	if err := a.box.Put(ctx, f.ID, *f); err != nil {
		return fmt.Errorf("failedarchive: archive by id: put %q: %w", id, err)
	}
	return nil
}

// PurgeExpired deletes failed ops whose FailedAt is older than retention
// (from now), regardless of archived status. A zero retention uses
// DefaultRetention. Returns the number of records deleted.
func (a *Archive) PurgeExpired(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	var expired []string
	var f op.FailedOp
	if err := a.box.Iterate(ctx, &f, func(key string) (bool, error) {
		if now.Sub(f.FailedAt) > retention {
			expired = append(expired, key)
		}
		return true, nil
	}); err != nil {
		return 0, fmt.Errorf("failedarchive: purge expired: iterate: %w", err)
	}

	for _, key := range expired {
		if err := a.box.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("failedarchive: purge expired: delete %q: %w", key, err)
		}
	}
	return len(expired), nil
}

// Count returns the number of failed ops currently held, archived or not.
func (a *Archive) Count(ctx context.Context) (int, error) {
	return a.box.Count(ctx)
}
