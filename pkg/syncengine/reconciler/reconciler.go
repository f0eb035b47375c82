// Package reconciler implements the fetch-current -> three-way merge ->
// rebased op path the engine runs on a versionMismatch conflict (spec
// §4.12). It has no store or transport of its own: the engine supplies
// the freshly fetched server state and reconciler returns the next op to
// requeue, keeping this package a pure function like backoff and
// coalescer.
package reconciler

import (
	"time"

	"github.com/google/uuid"

	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// serverManagedFields are never overlaid from the local payload onto the
// server state during rebase (spec §4.12).
var serverManagedFields = map[string]bool{
	"version":    true,
	"updated_at": true,
	"created_at": true,
}

// Rebase computes the rebased payload for an update/patch op that hit a
// versionMismatch conflict: it starts from serverState and overlays only
// the local payload's "data" keys, excluding server-managed fields, then
// stores the server's version. It returns a fresh op (new ID, zeroed
// attempts, createdAt = now) ready to requeue; the caller is responsible
// for removing the original op from the pending store.
func Rebase(pending op.PendingOp, serverState map[string]any, now time.Time) op.PendingOp {
	merged := make(map[string]any, len(serverState))
	for k, v := range serverState {
		merged[k] = v
	}

	if localData, ok := pending.Payload["data"].(map[string]any); ok {
		for k, v := range localData {
			if serverManagedFields[k] {
				continue
			}
			merged[k] = v
		}
	}

	payload := op.Payload{
		"id":      pending.EntityID(),
		"data":    merged,
		"version": serverState["version"],
	}

	return op.PendingOp{
		ID:             uuid.NewString(),
		OpType:         pending.OpType,
		EntityType:     pending.EntityType,
		Payload:        payload,
		IdempotencyKey: pending.IdempotencyKey,
		TraceID:        pending.TraceID,
		TxnToken:       pending.TxnToken,
		Attempts:       0,
		CreatedAt:      now,
		Status:         op.StatusQueued,
	}
}

// DefaultCreateIntentFields is the small allowlist of fields compared
// between a local create's intent and the server's existing resource
// when deciding whether a create conflict is success-equivalent.
var DefaultCreateIntentFields = []string{"name", "type"}

// MatchesCreateIntent reports whether serverState already reflects what
// the local create intended to produce, checked field-by-field over
// allowlist (spec §4.12: "if server state matches the local intent
// field-by-field on a small allowlist, treat as success").
func MatchesCreateIntent(pending op.PendingOp, serverState map[string]any, allowlist []string) bool {
	localData, ok := pending.Payload["data"].(map[string]any)
	if !ok {
		localData = pending.Payload
	}
	for _, field := range allowlist {
		if localData[field] != serverState[field] {
			return false
		}
	}
	return true
}

// ResolveDeleteConflict reports whether a delete conflict should be
// treated as success: the resource no longer existing on the server is
// exactly the delete's desired end state (spec §4.12).
func ResolveDeleteConflict(resourceExists bool) bool {
	return !resourceExists
}
