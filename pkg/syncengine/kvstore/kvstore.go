// Package kvstore defines the durable key-value store contract the sync
// engine depends on but does not implement (spec §6: "the engine does not
// implement persistence primitives"). Concrete backends live under
// internal/kvstore/{memstore,postgres,redisstore}.
package kvstore

import "context"

// Box is a named collection of string-keyed opaque records. Values are
// anything JSON-marshalable; implementations persist them as such.
type Box interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, key string) error
	// Iterate calls fn for every key/value pair in the box, in
	// unspecified order, until fn returns false or an error occurs.
	// dest must be a pointer; fn receives a freshly decoded value on
	// each call.
	Iterate(ctx context.Context, dest any, fn func(key string) (bool, error)) error
	Count(ctx context.Context) (int, error)
}

// Store opens named boxes. The engine opens at least: pending ops,
// pending index, failed ops, idempotency cache, circuit state, lease
// record (spec §6).
type Store interface {
	Box(ctx context.Context, name string) (Box, error)
	Close() error
}

// Well-known box names the engine requires from any Store implementation.
const (
	BoxPendingOps    = "pending_ops"
	BoxPendingIndex  = "pending_index"
	BoxFailedOps     = "failed_ops"
	BoxIdempotency   = "idempotency_cache"
	BoxCircuitState  = "circuit_state"
	BoxLeaseRecord   = "lease_record"
	BoxSecureTokens  = "secure_tokens"
)
