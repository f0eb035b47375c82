package failedarchive

import (
	"context"
	"testing"
	"time"

	"github.com/aurafall/syncengine/internal/kvstore/memstore"
	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

func newArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(context.Background(), memstore.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func newPending(id string) op.PendingOp {
	return op.PendingOp{
		ID:         id,
		OpType:     op.Update,
		EntityType: "vital_reading",
		Payload:    op.Payload{"id": id},
		Attempts:   5,
		Status:     op.StatusFailed,
	}
}

func TestRecordAndGetByID(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	now := time.Now()

	if err := a.Record(ctx, newPending("op-1"), "server_error", "boom", now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := a.GetByID(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.ErrorCode != "server_error" || got.Archived {
		t.Fatalf("GetByID = %+v", got)
	}
}

func TestArchiveFlagsOldUnarchivedOps(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)

	old := time.Now().Add(-40 * 24 * time.Hour)
	recent := time.Now().Add(-5 * 24 * time.Hour)

	_ = a.Record(ctx, newPending("old-op"), "server_error", "boom", old)
	_ = a.Record(ctx, newPending("recent-op"), "server_error", "boom", recent)

	n, err := a.Archive(ctx, 0, time.Now())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("Archive flagged %d ops, want 1", n)
	}

	oldOp, _ := a.GetByID(ctx, "old-op")
	if !oldOp.Archived {
		t.Fatalf("old-op should be archived")
	}
	recentOp, _ := a.GetByID(ctx, "recent-op")
	if recentOp.Archived {
		t.Fatalf("recent-op should not be archived yet")
	}
}

func TestArchiveIsIdempotentAndPreservesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)

	failedAt := time.Now().Add(-40 * 24 * time.Hour)
	_ = a.Record(ctx, newPending("op-1"), "server_error", "boom", failedAt)

	firstRun := failedAt.Add(41 * 24 * time.Hour)
	if _, err := a.Archive(ctx, 0, firstRun); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	archived, _ := a.GetByID(ctx, "op-1")
	firstUpdatedAt := archived.UpdatedAt

	secondRun := firstRun.Add(24 * time.Hour)
	n, err := a.Archive(ctx, 0, secondRun)
	if err != nil {
		t.Fatalf("Archive second run: %v", err)
	}
	if n != 0 {
		t.Fatalf("Archive second run flagged %d ops, want 0 (already archived)", n)
	}

	stillArchived, _ := a.GetByID(ctx, "op-1")
	if !stillArchived.UpdatedAt.Equal(firstUpdatedAt) {
		t.Fatalf("UpdatedAt changed on idempotent archive: %v != %v", stillArchived.UpdatedAt, firstUpdatedAt)
	}
}

func TestArchiveByIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	now := time.Now()

	_ = a.Record(ctx, newPending("op-1"), "server_error", "boom", now)
	if err := a.ArchiveByID(ctx, "op-1", now); err != nil {
		t.Fatalf("ArchiveByID: %v", err)
	}
	archived, _ := a.GetByID(ctx, "op-1")
	firstUpdatedAt := archived.UpdatedAt

	later := now.Add(time.Hour)
	if err := a.ArchiveByID(ctx, "op-1", later); err != nil {
		t.Fatalf("ArchiveByID second call: %v", err)
	}
	stillArchived, _ := a.GetByID(ctx, "op-1")
	if !stillArchived.UpdatedAt.Equal(firstUpdatedAt) {
		t.Fatalf("UpdatedAt changed on idempotent ArchiveByID")
	}
}

func TestPurgeExpiredDeletesOldRecordsRegardlessOfArchiveState(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)

	ancient := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now().Add(-1 * 24 * time.Hour)

	_ = a.Record(ctx, newPending("ancient-op"), "server_error", "boom", ancient)
	_ = a.Record(ctx, newPending("recent-op"), "server_error", "boom", recent)

	n, err := a.PurgeExpired(ctx, 0, time.Now())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("PurgeExpired removed %d, want 1", n)
	}

	gone, _ := a.GetByID(ctx, "ancient-op")
	if gone != nil {
		t.Fatalf("ancient-op should be purged")
	}
	stillThere, _ := a.GetByID(ctx, "recent-op")
	if stillThere == nil {
		t.Fatalf("recent-op should survive purge")
	}
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		_ = a.Record(ctx, newPending(id), "server_error", "boom", now)
	}

	n, err := a.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}
}

func TestAllReturnsEveryFailedOp(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		if err := a.Record(ctx, newPending(id), "server_error", "boom", now); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := a.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("All returned %d ops, want 3", len(all))
	}

	seen := make(map[string]bool, len(all))
	for _, f := range all {
		seen[f.ID] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Fatalf("All missing op %q", id)
		}
	}
}

func TestAllOnEmptyArchiveReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)

	all, err := a.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("All = %v, want empty", all)
	}
}
