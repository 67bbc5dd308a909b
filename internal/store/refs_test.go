package store

import (
	"context"
	"testing"

	"github.com/branchmind/reasonstore/internal/types"
)

func TestReasoningRefGetDerivesWithoutPersisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref, err := s.ReasoningRefGet(ctx, "ws1", "TASK-unseen", types.KindTask)
	if err != nil {
		t.Fatalf("ref get: %v", err)
	}
	if ref.Persisted {
		t.Fatalf("expected unpersisted derivation for an id never ensured")
	}
	if ref.Branch != "task:TASK-unseen" || ref.NotesDoc != "notes" || ref.GraphDoc != "graph" || ref.TraceDoc != "trace" {
		t.Fatalf("unexpected derived ref: %+v", ref)
	}

	exists, err := s.BranchExists(ctx, "ws1", ref.Branch)
	if err != nil {
		t.Fatalf("branch exists: %v", err)
	}
	if exists {
		t.Fatalf("deriving a ref must not create any persisted state")
	}
}

func TestEnsureReasoningRefPlanKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref, err := s.EnsureReasoningRef(ctx, "ws1", "PLAN-1", types.KindPlan)
	if err != nil {
		t.Fatalf("ensure ref: %v", err)
	}
	if ref.Branch != "plan:PLAN-1" {
		t.Fatalf("unexpected plan branch: %s", ref.Branch)
	}
	got, err := s.ReasoningRefGet(ctx, "ws1", "PLAN-1", types.KindPlan)
	if err != nil {
		t.Fatalf("ref get after ensure: %v", err)
	}
	if !got.Persisted {
		t.Fatalf("expected persisted ref after EnsureReasoningRef")
	}
}
