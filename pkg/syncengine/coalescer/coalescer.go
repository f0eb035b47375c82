// Package coalescer merges compatible queued ops and removes superseded
// ones before they ever reach the network (spec §4.10). It operates
// purely on op.PendingOp values handed to it by the engine; it has no
// store of its own, matching the spec's framing of it as a pure
// decision function the engine consults on enqueue.
package coalescer

import (
	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// TryCoalesce attempts to merge newOp into existing. It returns the
// merged op and true if existing is coalescable with newOp: both must be
// UPDATE/PATCH/TOGGLE, target the same entity type and entity ID, and
// existing must still be queued. The merge keeps existing's id,
// createdAt, idempotencyKey, attempts and nextAttemptAt; payload is
// existing's payload with newOp's payload fields overlaid; txnToken
// moves to newOp's if newOp has one.
func TryCoalesce(existing, newOp op.PendingOp) (op.PendingOp, bool) {
	if !newOp.OpType.Coalescable() || !existing.OpType.Coalescable() {
		return op.PendingOp{}, false
	}
	if existing.Status != op.StatusQueued {
		return op.PendingOp{}, false
	}
	if existing.EntityType != newOp.EntityType || existing.EntityID() != newOp.EntityID() {
		return op.PendingOp{}, false
	}

	merged := existing
	merged.Payload = existing.Payload.Overlay(newOp.Payload)
	if newOp.TxnToken != "" {
		merged.TxnToken = newOp.TxnToken
	}
	return merged, true
}

// RemoveSuperseded reports, given a newly enqueued op and the current
// queue contents, which queued op IDs are superseded by it. A DELETE for
// entity e supersedes every queued CREATE/UPDATE/PATCH for e (spec
// §4.10: "CREATE+DELETE pair also cancels out in practice").
func RemoveSuperseded(newOp op.PendingOp, queued []op.PendingOp) []string {
	if newOp.OpType != op.Delete {
		return nil
	}
	var superseded []string
	for _, existing := range queued {
		if existing.ID == newOp.ID {
			continue
		}
		if existing.Status != op.StatusQueued {
			continue
		}
		if existing.EntityType != newOp.EntityType || existing.EntityID() != newOp.EntityID() {
			continue
		}
		switch existing.OpType {
		case op.Create, op.Update, op.Patch:
			superseded = append(superseded, existing.ID)
		}
	}
	return superseded
}

// Batch synthesizes a single op from N ops of identical type and entity
// type, with payload { operations, batch_size } (spec §4.10). The
// returned op reuses the first op's ID, createdAt, idempotencyKey and
// traceID as the batch's own identity.
func Batch(ops []op.PendingOp) (op.PendingOp, bool) {
	if len(ops) == 0 {
		return op.PendingOp{}, false
	}
	first := ops[0]
	for _, o := range ops[1:] {
		if o.OpType != first.OpType || o.EntityType != first.EntityType {
			return op.PendingOp{}, false
		}
	}

	operations := make([]op.Payload, 0, len(ops))
	for _, o := range ops {
		operations = append(operations, o.Payload)
	}

	batched := first
	batched.Payload = op.Payload{
		"operations": operations,
		"batch_size": len(ops),
	}
	return batched, true
}
