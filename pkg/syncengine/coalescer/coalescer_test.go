package coalescer

import (
	"testing"
	"time"

	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

func TestTryCoalesceMergesUpdateOnSameEntity(t *testing.T) {
	createdAt := time.Now().Add(-time.Minute)
	existing := op.PendingOp{
		ID:             "op-1",
		OpType:         op.Update,
		EntityType:     "device",
		Payload:        op.Payload{"id": "D1", "state": "ON"},
		IdempotencyKey: "idem-1",
		CreatedAt:      createdAt,
		Attempts:       2,
		Status:         op.StatusQueued,
	}
	newOp := op.PendingOp{
		ID:         "op-2",
		OpType:     op.Update,
		EntityType: "device",
		Payload:    op.Payload{"id": "D1", "state": "OFF"},
		CreatedAt:  time.Now(),
	}

	merged, ok := TryCoalesce(existing, newOp)
	if !ok {
		t.Fatalf("expected coalesce to succeed")
	}
	if merged.ID != "op-1" {
		t.Fatalf("merged.ID = %q, want op-1 (existing's id preserved)", merged.ID)
	}
	if !merged.CreatedAt.Equal(createdAt) {
		t.Fatalf("merged.CreatedAt changed, want preserved %v got %v", createdAt, merged.CreatedAt)
	}
	if merged.IdempotencyKey != "idem-1" {
		t.Fatalf("merged.IdempotencyKey changed")
	}
	if merged.Attempts != 2 {
		t.Fatalf("merged.Attempts changed, want preserved 2 got %d", merged.Attempts)
	}
	if merged.Payload["state"] != "OFF" {
		t.Fatalf("merged payload state = %v, want OFF (newOp wins overlay)", merged.Payload["state"])
	}
}

func TestTryCoalesceRejectsNonCoalescableTypes(t *testing.T) {
	existing := op.PendingOp{ID: "op-1", OpType: op.Create, EntityType: "device", Payload: op.Payload{"id": "D1"}, Status: op.StatusQueued}
	newOp := op.PendingOp{ID: "op-2", OpType: op.Create, EntityType: "device", Payload: op.Payload{"id": "D1"}}

	if _, ok := TryCoalesce(existing, newOp); ok {
		t.Fatalf("CREATE ops should not coalesce")
	}
}

func TestTryCoalesceRejectsDifferentEntity(t *testing.T) {
	existing := op.PendingOp{ID: "op-1", OpType: op.Update, EntityType: "device", Payload: op.Payload{"id": "D1"}, Status: op.StatusQueued}
	newOp := op.PendingOp{ID: "op-2", OpType: op.Update, EntityType: "device", Payload: op.Payload{"id": "D2"}}

	if _, ok := TryCoalesce(existing, newOp); ok {
		t.Fatalf("different entity id should not coalesce")
	}
}

func TestTryCoalesceRejectsNonQueuedExisting(t *testing.T) {
	existing := op.PendingOp{ID: "op-1", OpType: op.Update, EntityType: "device", Payload: op.Payload{"id": "D1"}, Status: op.StatusProcessing}
	newOp := op.PendingOp{ID: "op-2", OpType: op.Update, EntityType: "device", Payload: op.Payload{"id": "D1"}}

	if _, ok := TryCoalesce(existing, newOp); ok {
		t.Fatalf("in-flight (processing) existing op should not be coalesced into")
	}
}

func TestTryCoalesceTxnTokenMovesToNewer(t *testing.T) {
	existing := op.PendingOp{ID: "op-1", OpType: op.Update, EntityType: "device", Payload: op.Payload{"id": "D1"}, Status: op.StatusQueued, TxnToken: "t1"}
	newOp := op.PendingOp{ID: "op-2", OpType: op.Update, EntityType: "device", Payload: op.Payload{"id": "D1"}, TxnToken: "t2"}

	merged, ok := TryCoalesce(existing, newOp)
	if !ok {
		t.Fatalf("expected coalesce")
	}
	if merged.TxnToken != "t2" {
		t.Fatalf("TxnToken = %q, want t2", merged.TxnToken)
	}
}

func TestRemoveSupersededByDelete(t *testing.T) {
	createOp := op.PendingOp{ID: "op-1", OpType: op.Create, EntityType: "room", Payload: op.Payload{"id": "R1"}, Status: op.StatusQueued}
	updateOp := op.PendingOp{ID: "op-2", OpType: op.Update, EntityType: "room", Payload: op.Payload{"id": "R1"}, Status: op.StatusQueued}
	otherRoom := op.PendingOp{ID: "op-3", OpType: op.Update, EntityType: "room", Payload: op.Payload{"id": "R2"}, Status: op.StatusQueued}
	deleteOp := op.PendingOp{ID: "op-4", OpType: op.Delete, EntityType: "room", Payload: op.Payload{"id": "R1"}}

	superseded := RemoveSuperseded(deleteOp, []op.PendingOp{createOp, updateOp, otherRoom})
	if len(superseded) != 2 {
		t.Fatalf("superseded = %v, want 2 entries", superseded)
	}
	seen := map[string]bool{}
	for _, id := range superseded {
		seen[id] = true
	}
	if !seen["op-1"] || !seen["op-2"] {
		t.Fatalf("expected op-1 and op-2 superseded, got %v", superseded)
	}
}

func TestRemoveSupersededNoOpForNonDelete(t *testing.T) {
	updateOp := op.PendingOp{ID: "op-1", OpType: op.Update, EntityType: "room", Payload: op.Payload{"id": "R1"}}
	result := RemoveSuperseded(updateOp, []op.PendingOp{updateOp})
	if result != nil {
		t.Fatalf("non-delete op should supersede nothing, got %v", result)
	}
}

func TestBatchSynthesizesSingleOp(t *testing.T) {
	ops := []op.PendingOp{
		{ID: "op-1", OpType: op.RecordVital, EntityType: "heart_rate", Payload: op.Payload{"value": 72}},
		{ID: "op-2", OpType: op.RecordVital, EntityType: "heart_rate", Payload: op.Payload{"value": 75}},
	}
	batched, ok := Batch(ops)
	if !ok {
		t.Fatalf("expected batch to succeed")
	}
	if batched.ID != "op-1" {
		t.Fatalf("batched.ID = %q, want op-1", batched.ID)
	}
	if batched.Payload["batch_size"] != 2 {
		t.Fatalf("batch_size = %v, want 2", batched.Payload["batch_size"])
	}
	operations, ok := batched.Payload["operations"].([]op.Payload)
	if !ok || len(operations) != 2 {
		t.Fatalf("operations = %+v", batched.Payload["operations"])
	}
}

func TestBatchRejectsMixedTypes(t *testing.T) {
	ops := []op.PendingOp{
		{ID: "op-1", OpType: op.RecordVital, EntityType: "heart_rate"},
		{ID: "op-2", OpType: op.Update, EntityType: "heart_rate"},
	}
	if _, ok := Batch(ops); ok {
		t.Fatalf("mixed op types should not batch")
	}
}
