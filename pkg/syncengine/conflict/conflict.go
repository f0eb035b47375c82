// Package conflict classifies a 409 (or 404/410 on delete/update paths)
// into one of the engine's conflict classifications and maps it to the
// action the sync engine should take (spec §4.11). It is a pure
// classification layer sitting downstream of taxonomy, the same
// "classify, then table-dispatch an action" shape as the teacher pack's
// infrastructure/errors/errors.go uses for HTTP status -> ServiceError,
// here specialized to the conflict subset of the taxonomy.
package conflict

import (
	"strings"

	"github.com/aurafall/syncengine/pkg/syncengine/op"
	"github.com/aurafall/syncengine/pkg/syncengine/taxonomy"
)

// Classification is the closed set of conflict causes (spec §4.11).
type Classification string

const (
	VersionMismatch Classification = "version_mismatch"
	AlreadyDeleted  Classification = "already_deleted"
	StaleUpdate     Classification = "stale_update"
	NotFound        Classification = "not_found"
	DuplicateCreate Classification = "duplicate_create"
	SemanticConflict Classification = "semantic_conflict"
)

// Action is what the engine should do about a classified conflict.
type Action string

const (
	ActionRebase            Action = "rebase"
	ActionSuccess            Action = "success"
	ActionPermanentFailure   Action = "permanent_failure"
	ActionPermanentAuditable Action = "permanent_failure_audit"
	ActionSurfaceForReview   Action = "surface_for_human_review"
)

// Classify maps a taxonomy error produced while dispatching opType to a
// Classification, using the conflict's conflictType hint (when the
// server supplies one) and the op's type to disambiguate.
func Classify(err *taxonomy.Error, opType op.Type) Classification {
	switch err.Kind {
	case taxonomy.ResourceNotFound:
		if opType == op.Delete {
			return AlreadyDeleted
		}
		return NotFound
	case taxonomy.Conflict:
		return classifyConflictType(err, opType)
	default:
		return SemanticConflict
	}
}

func classifyConflictType(err *taxonomy.Error, opType op.Type) Classification {
	hint := strings.ToLower(err.ConflictType)
	switch {
	case strings.Contains(hint, "version"):
		return VersionMismatch
	case strings.Contains(hint, "deleted"):
		return AlreadyDeleted
	case strings.Contains(hint, "stale"):
		return StaleUpdate
	case strings.Contains(hint, "duplicate") && opType == op.Create:
		return DuplicateCreate
	case hint == "" && opType == op.Create:
		// No explicit hint from the server on a create conflict; spec
		// §4.11 treats this as the idempotent-create case by default,
		// the reconciler still double-checks field-by-field.
		return DuplicateCreate
	case hint == "" && (opType == op.Update || opType == op.Patch):
		return VersionMismatch
	default:
		return SemanticConflict
	}
}

// ActionFor returns the engine action for a classification, given the op
// type that produced it (spec §4.11 table; notFound branches on
// delete vs. update/patch).
func ActionFor(c Classification, opType op.Type) Action {
	switch c {
	case VersionMismatch:
		return ActionRebase
	case AlreadyDeleted:
		return ActionSuccess
	case StaleUpdate:
		return ActionPermanentAuditable
	case NotFound:
		if opType == op.Delete {
			return ActionSuccess
		}
		return ActionPermanentFailure
	case DuplicateCreate:
		return ActionSuccess
	case SemanticConflict:
		return ActionSurfaceForReview
	default:
		return ActionSurfaceForReview
	}
}
