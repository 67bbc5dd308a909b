package store

import (
	"context"
	"testing"

	"github.com/branchmind/reasonstore/internal/types"
)

// TestGraphApplyUpsertAndQueryCursor covers S3: three nodes with mixed-case
// duplicate tags normalize to ["bar","foo"], and paginating graph_query with
// limit=2 then the returned cursor visits every node exactly once in
// (last_seq DESC, id ASC) order.
func TestGraphApplyUpsertAndQueryCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}

	results, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "Node A", Tags: []string{"Foo", "foo", "BAR"}},
		{Kind: OpUpsertNode, NodeID: "B", Type: "fact", Title: "Node B", Tags: []string{"Foo"}},
		{Kind: OpUpsertNode, NodeID: "C", Type: "fact", Title: "Node C", Tags: []string{"bar"}},
	})
	if err != nil {
		t.Fatalf("graph apply: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	fetched, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", IDs: []string{"A"}, Limit: 10})
	if err != nil {
		t.Fatalf("fetch node A: %v", err)
	}
	if len(fetched.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(fetched.Nodes))
	}
	if got := fetched.Nodes[0].Tags; len(got) != 2 || got[0] != "bar" || got[1] != "foo" {
		t.Fatalf("expected normalized tags [bar foo], got %v", got)
	}

	seen := map[string]bool{}
	var cursor *int64
	for i := 0; i < 10; i++ {
		res, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("graph query page %d: %v", i, err)
		}
		for _, n := range res.Nodes {
			if seen[n.ID] {
				t.Fatalf("node %s visited twice", n.ID)
			}
			seen[n.ID] = true
		}
		if !res.HasMore {
			break
		}
		cursor = res.NextCursor
	}
	if len(seen) != 3 {
		t.Fatalf("expected to visit 3 nodes exactly once, saw %d", len(seen))
	}

	first, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if !first.HasMore || len(first.Nodes) != 2 {
		t.Fatalf("expected has_more=true with 2 nodes, got %+v", first)
	}
	if first.Nodes[0].LastSeq < first.Nodes[1].LastSeq {
		t.Fatalf("expected last_seq DESC order, got %d then %d", first.Nodes[0].LastSeq, first.Nodes[1].LastSeq)
	}

	second, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if second.HasMore {
		t.Fatalf("expected has_more=false on final page, got %+v", second)
	}
	if len(second.Nodes) != 1 {
		t.Fatalf("expected 1 remaining node, got %d", len(second.Nodes))
	}
}

// TestGraphApplyExpectedVersionMismatch covers testable property 6: two
// writers racing on the same node with the same expected_version — exactly
// one succeeds, the other gets REVISION_MISMATCH{expected, actual}.
func TestGraphApplyExpectedVersionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "v1"},
	}); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}

	expected := int64(1)
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "v2", ExpectedVersion: &expected},
	}); err != nil {
		t.Fatalf("first writer should succeed: %v", err)
	}

	_, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "v2-conflict", ExpectedVersion: &expected},
	})
	if types.KindOf(err) != types.ErrRevisionMismatch {
		t.Fatalf("expected REVISION_MISMATCH, got %v", err)
	}
	se, ok := err.(*types.StoreError)
	if !ok {
		t.Fatalf("expected *types.StoreError, got %T", err)
	}
	if se.Expected != 1 || se.Actual != 2 {
		t.Fatalf("expected {expected:1 actual:2}, got {expected:%d actual:%d}", se.Expected, se.Actual)
	}
}

// TestGraphQueryFilters covers type/text/tags_all/tags_any/ids filters.
func TestGraphQueryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "decision-1", Type: "decision", Title: "Use SQLite", Tags: []string{"storage", "db"}},
		{Kind: OpUpsertNode, NodeID: "evidence-1", Type: "evidence", Title: "Benchmark results", Tags: []string{"perf"}},
		{Kind: OpUpsertEdge, EdgeFrom: "decision-1", EdgeRel: "supported_by", EdgeTo: "evidence-1", Tags: []string{"db"}},
	}); err != nil {
		t.Fatalf("graph apply: %v", err)
	}

	res, err := s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", Type: "decision", Limit: 10})
	if err != nil {
		t.Fatalf("type filter query: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != "decision-1" {
		t.Fatalf("expected only decision-1, got %+v", res.Nodes)
	}

	res, err = s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", Text: "sqlite", Limit: 10})
	if err != nil {
		t.Fatalf("text filter query: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != "decision-1" {
		t.Fatalf("expected text search to match decision-1, got %+v", res.Nodes)
	}

	res, err = s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", TagsAll: []string{"db", "storage"}, Limit: 10})
	if err != nil {
		t.Fatalf("tags_all query: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != "decision-1" {
		t.Fatalf("expected tags_all to match only decision-1, got %+v", res.Nodes)
	}

	res, err = s.GraphQuery(ctx, "ws1", types.GraphQueryRequest{Branch: "main", Doc: "graph", IDs: []string{"evidence-1"}, IncludeEdges: true, EdgesLimit: 10, Limit: 10})
	if err != nil {
		t.Fatalf("ids+edges query: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != "evidence-1" {
		t.Fatalf("expected only evidence-1, got %+v", res.Nodes)
	}
	if len(res.Edges) != 1 || res.Edges[0].Rel != "supported_by" {
		t.Fatalf("expected the supported_by edge included, got %+v", res.Edges)
	}
}

// TestGraphValidateFindsDanglingEdges covers §4.5's graph_validate pass.
func TestGraphValidateFindsDanglingEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "only-node", Type: "fact", Title: "lonely"},
		{Kind: OpUpsertEdge, EdgeFrom: "only-node", EdgeRel: "relates_to", EdgeTo: "missing-node"},
	}); err != nil {
		t.Fatalf("graph apply: %v", err)
	}

	report, err := s.GraphValidate(ctx, "ws1", "main", "graph")
	if err != nil {
		t.Fatalf("graph validate: %v", err)
	}
	if len(report.DanglingEdges) != 1 {
		t.Fatalf("expected 1 dangling edge, got %d", len(report.DanglingEdges))
	}
	if report.DanglingEdges[0].ToID != "missing-node" {
		t.Fatalf("expected dangling edge to missing-node, got %+v", report.DanglingEdges[0])
	}
}

// TestGraphApplyBlockedByOpenConflict covers the CONFLICT_OPEN open-question
// decision recorded in DESIGN.md: graph_apply on a destination with an open
// conflict for the same doc is rejected until resolved.
func TestGraphApplyBlockedByOpenConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.BranchCreate(ctx, "ws1", "main", nil, nil); err != nil {
		t.Fatalf("create main: %v", err)
	}
	baseSeq := int64(0)
	if err := s.BranchCreate(ctx, "ws1", "feat", strPtr("main"), &baseSeq); err != nil {
		t.Fatalf("create feat: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "ours", Tags: []string{"y"}},
	}); err != nil {
		t.Fatalf("main upsert: %v", err)
	}
	if _, err := s.GraphApply(ctx, "ws1", "feat", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "A", Type: "fact", Title: "theirs", Tags: []string{"x"}},
	}); err != nil {
		t.Fatalf("feat upsert: %v", err)
	}

	if _, err := s.GraphMergeBack(ctx, "ws1", MergeBackRequest{From: "feat", Into: "main", Doc: "graph", Limit: 10, DryRun: false}); err != nil {
		t.Fatalf("merge back: %v", err)
	}

	_, err := s.GraphApply(ctx, "ws1", "main", "graph", []GraphOp{
		{Kind: OpUpsertNode, NodeID: "B", Type: "fact", Title: "new"},
	})
	if types.KindOf(err) != types.ErrConflictOpen {
		t.Fatalf("expected CONFLICT_OPEN, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
