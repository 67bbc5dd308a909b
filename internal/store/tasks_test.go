package store

import (
	"context"
	"testing"

	"github.com/branchmind/reasonstore/internal/types"
)

func TestTaskCreateMintsIDAndRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "ship the thing"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID == "" || task.Kind != types.KindTask {
		t.Fatalf("unexpected task: %+v", task)
	}
	ref, err := s.ReasoningRefGet(ctx, "ws1", task.ID, types.KindTask)
	if err != nil {
		t.Fatalf("ref get: %v", err)
	}
	if !ref.Persisted {
		t.Fatalf("expected reasoning ref to be persisted on task_create")
	}
	if ref.Branch != "task:"+task.ID {
		t.Fatalf("unexpected branch derivation: %s", ref.Branch)
	}
}

func TestTaskCreateExplicitIDCollision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{ID: "TASK-fixed", Title: "first"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	_, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{ID: "TASK-fixed", Title: "second"})
	if types.KindOf(err) != types.ErrInvalidInput {
		t.Fatalf("expected INVALID_INPUT on id collision, got %v", err)
	}
}

func TestTaskDetailPatchRevisionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	stale := int64(99)
	newTitle := "renamed"
	_, err = s.TaskDetailPatch(ctx, "ws1", task.ID, &newTitle, nil, &stale)
	if types.KindOf(err) != types.ErrRevisionMismatch {
		t.Fatalf("expected REVISION_MISMATCH, got %v", err)
	}

	updated, err := s.TaskDetailPatch(ctx, "ws1", task.ID, &newTitle, nil, &task.Revision)
	if err != nil {
		t.Fatalf("patch with correct revision: %v", err)
	}
	if updated.Title != "renamed" || updated.Revision != task.Revision+1 {
		t.Fatalf("unexpected patched task: %+v", updated)
	}
}
