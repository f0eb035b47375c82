// Package op defines the shared data model for the sync engine: the unit
// of durable work (PendingOp), its terminal form after permanent failure
// (FailedOp), and the small set of tagged enums every other syncengine
// package dispatches on. Keeping these types in their own leaf package
// avoids import cycles between pendingstore, router, coalescer, conflict,
// reconciler and engine.
package op

import "time"

// Type identifies the kind of mutation a PendingOp represents.
type Type string

const (
	Create       Type = "CREATE"
	Update       Type = "UPDATE"
	Patch        Type = "PATCH"
	Delete       Type = "DELETE"
	Toggle       Type = "TOGGLE"
	BatchCreate  Type = "BATCH_CREATE"
	BatchUpdate  Type = "BATCH_UPDATE"
	RecordVital  Type = "RECORD_VITAL"
	DeviceState  Type = "DEVICE_STATE"
)

// Coalescable reports whether ops of this type may be merged into an
// already-queued op for the same entity (spec §4.10).
func (t Type) Coalescable() bool {
	switch t {
	case Update, Patch, Toggle:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a PendingOp within the active queue.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// Payload is the opaque key-value map carried by an op. Field names are
// local (camelCase) convention; the router's transform step is
// responsible for translating to the wire's snake_case convention.
type Payload map[string]any

// Clone returns a shallow copy of the payload, sufficient for overlay
// merges where values themselves are not further mutated in place.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Overlay returns a new Payload containing p's fields with other's fields
// applied on top (other wins on key collision).
func (p Payload) Overlay(other Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = make(Payload, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// PendingOp is the unit of durable work a presentation layer enqueues and
// the engine drains in FIFO order. See spec §3 for field invariants.
type PendingOp struct {
	ID             string    `json:"id"`
	OpType         Type      `json:"op_type"`
	EntityType     string    `json:"entity_type"`
	Payload        Payload   `json:"payload"`
	IdempotencyKey string    `json:"idempotency_key"`
	TraceID        string    `json:"trace_id"`
	TxnToken       string    `json:"txn_token,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"created_at"`
	NextAttemptAt  time.Time `json:"next_attempt_at,omitempty"`
	Status         Status    `json:"status"`
}

// EntityID extracts the "id" field from payload, if present, as used by
// the coalescer and router to target same-entity ops.
func (o *PendingOp) EntityID() string {
	if o == nil || o.Payload == nil {
		return ""
	}
	if v, ok := o.Payload["id"].(string); ok {
		return v
	}
	return ""
}

// FailedOp is the terminal record an op is moved to on permanent failure
// or attempt exhaustion (spec §3, FailedOp).
type FailedOp struct {
	PendingOp
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Archived     bool      `json:"archived"`
	FailedAt     time.Time `json:"failed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
