package store

import (
	"context"
	"strings"
	"testing"

	"github.com/branchmind/reasonstore/internal/types"
)

func setupMergeBranches(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	baseSeq := int64(0)
	if err := s.BranchCreate(ctx, "ws1", "feat", strPtr("main"), &baseSeq); err != nil {
		t.Fatalf("create feat: %v", err)
	}
}

// TestGraphDiffAndMergeBackConflictIsDeterministic covers S4: concurrent
// writers on feat and main both mutate node A; a dry-run merge-back reports
// one conflict with a deterministic id, and repeating the call reports the
// same id (testable property 8).
func TestGraphDiffAndMergeBackConflictIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setupMergeBranches(t, s)

	if _, err := s.GraphApply(ctx, "ws1", "feat", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "A", Tags: []string{"x"}},
	}); err != nil {
		t.Fatalf("feat upsert: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "A", Tags: []string{"y"}},
	}); err != nil {
		t.Fatalf("main upsert: %v", err)
	}

	first, err := s.GraphMergeBack(ctx, "ws1", MergeBackRequest{From: "feat", Into: "main", Doc: "graph", Limit: 10, DryRun: true})
	if err != nil {
		t.Fatalf("first dry-run merge back: %v", err)
	}
	if len(first.Conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d", len(first.Conflicts))
	}
	if len(first.AppliedNodes) != 0 || len(first.AppliedEdges) != 0 {
		t.Fatalf("dry_run must not apply anything, got nodes=%v edges=%v", first.AppliedNodes, first.AppliedEdges)
	}
	firstID := first.Conflicts[0].ConflictID

	second, err := s.GraphMergeBack(ctx, "ws1", MergeBackRequest{From: "feat", Into: "main", Doc: "graph", Limit: 10, DryRun: true})
	if err != nil {
		t.Fatalf("second dry-run merge back: %v", err)
	}
	if len(second.Conflicts) != 1 || second.Conflicts[0].ConflictID != firstID {
		t.Fatalf("expected same conflict id on repeat, got %q vs %q", second.Conflicts[0].ConflictID, firstID)
	}
}

// TestGraphMergeBackAppliesTheirsOnly covers theirs-only projection with
// merge provenance stamped in metadata (spec §4.6).
func TestGraphMergeBackAppliesTheirsOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setupMergeBranches(t, s)

	if _, err := s.GraphApply(ctx, "ws1", "feat", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "new-node", Type: "fact", Title: "only on feat", Tags: []string{"fresh"}},
	}); err != nil {
		t.Fatalf("feat upsert: %v", err)
	}

	result, err := s.GraphMergeBack(ctx, "ws1", MergeBackRequest{From: "feat", Into: "main", Doc: "graph", Limit: 10, DryRun: false})
	if err != nil {
		t.Fatalf("merge back: %v", err)
	}
	if len(result.AppliedNodes) != 1 || result.AppliedNodes[0] != "new-node" {
		t.Fatalf("expected new-node applied, got %v", result.AppliedNodes)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", result.Conflicts)
	}

	onMain, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", IDs: []string{"new-node"}, Limit: 10})
	if err != nil {
		t.Fatalf("query main: %v", err)
	}
	if len(onMain.Nodes) != 1 {
		t.Fatalf("expected new-node visible on main after merge, got %d", len(onMain.Nodes))
	}
	if onMain.Nodes[0].MetadataJSON == "" || onMain.Nodes[0].MetadataJSON == "{}" {
		t.Fatalf("expected merge provenance metadata, got %q", onMain.Nodes[0].MetadataJSON)
	}
}

// TestGraphMergeBackPreservesNonJSONMetadataAsMetaRaw covers spec §6: a
// theirs-only entity carrying non-JSON existing metadata must have that
// metadata nested under "_meta_raw" rather than dropped.
func TestGraphMergeBackPreservesNonJSONMetadataAsMetaRaw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setupMergeBranches(t, s)

	if _, err := s.GraphApply(ctx, "ws1", "feat", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "raw-meta-node", Type: "fact", Title: "has raw meta", MetadataJSON: "not-json-at-all"},
	}); err != nil {
		t.Fatalf("feat upsert: %v", err)
	}

	result, err := s.GraphMergeBack(ctx, "ws1", MergeBackRequest{From: "feat", Into: "main", Doc: "graph", Limit: 10, DryRun: false})
	if err != nil {
		t.Fatalf("merge back: %v", err)
	}
	if len(result.AppliedNodes) != 1 || result.AppliedNodes[0] != "raw-meta-node" {
		t.Fatalf("expected raw-meta-node applied, got %v", result.AppliedNodes)
	}

	onMain, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", IDs: []string{"raw-meta-node"}, Limit: 10})
	if err != nil {
		t.Fatalf("query main: %v", err)
	}
	if len(onMain.Nodes) != 1 {
		t.Fatalf("expected raw-meta-node visible on main after merge, got %d", len(onMain.Nodes))
	}
	meta := onMain.Nodes[0].MetadataJSON
	if !strings.Contains(meta, `"_meta_raw":"not-json-at-all"`) {
		t.Fatalf("expected _meta_raw to preserve the original non-JSON metadata, got %q", meta)
	}
	if !strings.Contains(meta, `"_merge"`) {
		t.Fatalf("expected merge provenance alongside _meta_raw, got %q", meta)
	}
}

// TestGraphConflictResolveTheirs covers graph_conflict_resolve applying the
// "theirs" side and marking the conflict row resolved.
func TestGraphConflictResolveTheirs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setupMergeBranches(t, s)

	if _, err := s.GraphApply(ctx, "ws1", "feat", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "theirs-title"},
	}); err != nil {
		t.Fatalf("feat upsert: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "ours-title"},
	}); err != nil {
		t.Fatalf("main upsert: %v", err)
	}

	merged, err := s.GraphMergeBack(ctx, "ws1", MergeBackRequest{From: "feat", Into: "main", Doc: "graph", Limit: 10, DryRun: false})
	if err != nil {
		t.Fatalf("merge back: %v", err)
	}
	if len(merged.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict row, got %d", len(merged.Conflicts))
	}
	conflictID := merged.Conflicts[0].ConflictID

	if err := s.GraphConflictResolve(ctx, "ws1", conflictID, ConflictResolution{Mode: "theirs"}); err != nil {
		t.Fatalf("resolve theirs: %v", err)
	}

	resolved, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", IDs: []string{"A"}, Limit: 10})
	if err != nil {
		t.Fatalf("query after resolve: %v", err)
	}
	if len(resolved.Nodes) != 1 || resolved.Nodes[0].Title != "theirs-title" {
		t.Fatalf("expected theirs-title to win on main, got %+v", resolved.Nodes)
	}

	rows, err := s.ConflictList(ctx, "ws1", "main", "graph", "")
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	var found bool
	for _, r := range rows {
		if r.ConflictID == conflictID {
			found = true
			if r.Status != types.ConflictResolvedStatus {
				t.Fatalf("expected resolved status, got %q", r.Status)
			}
			if r.Resolution != "theirs" {
				t.Fatalf("expected resolution=theirs, got %q", r.Resolution)
			}
		}
	}
	if !found {
		t.Fatalf("expected conflict %s in list", conflictID)
	}

	// Once the conflict is resolved, the open-conflict guard on
	// graph_apply no longer blocks writes to this (into_branch, doc).
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "B", Type: "fact", Title: "after resolve"},
	}); err != nil {
		t.Fatalf("expected graph_apply to proceed once conflict resolved, got %v", err)
	}
}

// TestGraphDiffBranchAncestryVisibility covers testable property 4: entries
// on the base branch past the branch's cutoff seq must not be visible to it.
func TestGraphDiffBranchAncestryVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "before-cut", Type: "fact", Title: "visible to feat"},
	}); err != nil {
		t.Fatalf("main upsert before cut: %v", err)
	}

	cutoff := *nodeLastSeq(t, s, "before-cut")
	if err := s.BranchCreate(ctx, "ws1", "feat", strPtr("main"), &cutoff); err != nil {
		t.Fatalf("create feat: %v", err)
	}

	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "after-cut", Type: "fact", Title: "not visible to feat"},
	}); err != nil {
		t.Fatalf("main upsert after cut: %v", err)
	}

	res, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "feat", Doc: "graph", Limit: 10})
	if err != nil {
		t.Fatalf("graph query on feat: %v", err)
	}
	ids := map[string]bool{}
	for _, n := range res.Nodes {
		ids[n.ID] = true
	}
	if !ids["before-cut"] {
		t.Fatalf("expected before-cut visible on feat, got %+v", res.Nodes)
	}
	if ids["after-cut"] {
		t.Fatalf("expected after-cut NOT visible on feat, got %+v", res.Nodes)
	}
}

func nodeLastSeq(t *testing.T, s *Store, nodeID string) *int64 {
	t.Helper()
	res, err := s.GraphQuery(context.Background(), "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", IDs: []string{nodeID}, Limit: 10})
	if err != nil {
		t.Fatalf("query node %s: %v", nodeID, err)
	}
	if len(res.Nodes) != 1 {
		t.Fatalf("expected 1 node for %s, got %d", nodeID, len(res.Nodes))
	}
	seq := res.Nodes[0].LastSeq
	return &seq
}
