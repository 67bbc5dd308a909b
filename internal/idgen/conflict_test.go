package idgen

import (
	"regexp"
	"testing"
)

var conflictIDPattern = regexp.MustCompile(`^CONFLICT-[0-9a-f]{32}$`)

func baseFields() ConflictFields {
	return ConflictFields{
		Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "graph",
		Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2,
	}
}

// TestConflictIDStable covers testable property 8: identical inputs always
// produce the identical literal ConflictId string.
func TestConflictIDStable(t *testing.T) {
	f := baseFields()
	first := ConflictID(f)
	second := ConflictID(f)
	if first != second {
		t.Fatalf("expected deterministic id, got %q then %q", first, second)
	}
	if !conflictIDPattern.MatchString(first) {
		t.Fatalf("expected CONFLICT-<32 hex>, got %q", first)
	}
}

// TestConflictIDSensitiveToEachField verifies every one of the nine fields
// in the signature is load-bearing: changing any single one changes the id.
func TestConflictIDSensitiveToEachField(t *testing.T) {
	base := ConflictID(baseFields())

	variants := []ConflictFields{
		{Workspace: "ws2", FromBranch: "feat", IntoBranch: "main", Doc: "graph", Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "other", IntoBranch: "main", Doc: "graph", Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "other", Doc: "graph", Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "other", Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "graph", Kind: "edge", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "graph", Kind: "node", Key: "B", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "graph", Kind: "node", Key: "A", BaseCutoffSeq: 2, TheirsSeq: 3, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "graph", Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 4, OursSeq: 2},
		{Workspace: "ws1", FromBranch: "feat", IntoBranch: "main", Doc: "graph", Kind: "node", Key: "A", BaseCutoffSeq: 1, TheirsSeq: 3, OursSeq: 5},
	}
	for i, v := range variants {
		if got := ConflictID(v); got == base {
			t.Fatalf("variant %d: expected a different id than base, both were %q", i, got)
		}
	}
}

// TestConflictIDNegativeCutoffSentinel exercises the "-1 means no cutoff"
// sentinel used for unrelated branches (spec §9 open question).
func TestConflictIDNegativeCutoffSentinel(t *testing.T) {
	f := baseFields()
	f.BaseCutoffSeq = -1
	if !conflictIDPattern.MatchString(ConflictID(f)) {
		t.Fatalf("expected well-formed id even with sentinel cutoff")
	}
}
