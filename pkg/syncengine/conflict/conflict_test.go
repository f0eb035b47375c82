package conflict

import (
	"testing"

	"github.com/aurafall/syncengine/pkg/syncengine/op"
	"github.com/aurafall/syncengine/pkg/syncengine/taxonomy"
)

func TestClassifyNotFoundOnDeleteIsAlreadyDeleted(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.ResourceNotFound}
	c := Classify(err, op.Delete)
	if c != AlreadyDeleted {
		t.Fatalf("Classify = %q, want already_deleted", c)
	}
	if ActionFor(c, op.Delete) != ActionSuccess {
		t.Fatalf("ActionFor(already_deleted) should be success")
	}
}

func TestClassifyNotFoundOnUpdateIsNotFound(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.ResourceNotFound}
	c := Classify(err, op.Update)
	if c != NotFound {
		t.Fatalf("Classify = %q, want not_found", c)
	}
	if ActionFor(c, op.Update) != ActionPermanentFailure {
		t.Fatalf("ActionFor(not_found, update) should be permanent failure")
	}
}

func TestClassifyNotFoundOnDeleteAction(t *testing.T) {
	// notFound classification itself only arises on non-delete paths per
	// Classify, but ActionFor must still handle notFound+delete per the
	// spec table in case a caller classifies it directly.
	if ActionFor(NotFound, op.Delete) != ActionSuccess {
		t.Fatalf("ActionFor(not_found, delete) should be success")
	}
}

func TestClassifyVersionMismatch(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Conflict, ConflictType: "version_mismatch"}
	c := Classify(err, op.Update)
	if c != VersionMismatch {
		t.Fatalf("Classify = %q, want version_mismatch", c)
	}
	if ActionFor(c, op.Update) != ActionRebase {
		t.Fatalf("ActionFor(version_mismatch) should be rebase")
	}
}

func TestClassifyStaleUpdate(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Conflict, ConflictType: "stale_write"}
	c := Classify(err, op.Update)
	if c != StaleUpdate {
		t.Fatalf("Classify = %q, want stale_update", c)
	}
	if ActionFor(c, op.Update) != ActionPermanentAuditable {
		t.Fatalf("ActionFor(stale_update) should be permanent_failure_audit")
	}
}

func TestClassifyDuplicateCreateOnCreate(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Conflict, ConflictType: "duplicate_entry"}
	c := Classify(err, op.Create)
	if c != DuplicateCreate {
		t.Fatalf("Classify = %q, want duplicate_create", c)
	}
	if ActionFor(c, op.Create) != ActionSuccess {
		t.Fatalf("ActionFor(duplicate_create) should be success")
	}
}

func TestClassifyUnhintedCreateConflictDefaultsToDuplicateCreate(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Conflict}
	c := Classify(err, op.Create)
	if c != DuplicateCreate {
		t.Fatalf("Classify = %q, want duplicate_create for unhinted create conflict", c)
	}
}

func TestClassifyUnhintedUpdateConflictDefaultsToVersionMismatch(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Conflict}
	c := Classify(err, op.Update)
	if c != VersionMismatch {
		t.Fatalf("Classify = %q, want version_mismatch for unhinted update conflict", c)
	}
}

func TestClassifyUnknownConflictTypeIsSemanticConflict(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Conflict, ConflictType: "something_weird"}
	c := Classify(err, op.Update)
	if c != SemanticConflict {
		t.Fatalf("Classify = %q, want semantic_conflict", c)
	}
	if ActionFor(c, op.Update) != ActionSurfaceForReview {
		t.Fatalf("ActionFor(semantic_conflict) should surface for human review")
	}
}

func TestClassifyNonConflictNonNotFoundKindIsSemanticConflict(t *testing.T) {
	err := &taxonomy.Error{Kind: taxonomy.Server}
	c := Classify(err, op.Update)
	if c != SemanticConflict {
		t.Fatalf("Classify = %q, want semantic_conflict as a conservative default", c)
	}
}
