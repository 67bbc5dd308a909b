package store

import (
	"context"
	"testing"

	"github.com/branchmind/reasonstore/internal/types"
)

func setupTaskWithStep(t *testing.T, s *Store, path string) (*types.Task, *types.Step) {
	t.Helper()
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	step, err := s.StepDefine(ctx, "ws1", task.ID, path, "do it")
	if err != nil {
		t.Fatalf("define step: %v", err)
	}
	return task, step
}

func TestStepDefineAndResolveByPathAndID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, step := setupTaskWithStep(t, s, "s:0")

	byID, err := s.StepResolve(ctx, "ws1", task.ID, &step.StepID, nil)
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	path := "s:0"
	byPath, err := s.StepResolve(ctx, "ws1", task.ID, nil, &path)
	if err != nil {
		t.Fatalf("resolve by path: %v", err)
	}
	if byID.StepID != byPath.StepID {
		t.Fatalf("expected id and path resolution to agree: %s vs %s", byID.StepID, byPath.StepID)
	}

	locatedTask, err := s.StepLocate(ctx, "ws1", step.StepID)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if locatedTask != task.ID {
		t.Fatalf("expected locate to find owning task, got %s", locatedTask)
	}
}

func TestStepProgressRequiresConfirmationUnlessForced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, step := setupTaskWithStep(t, s, "s:0")

	proofRequired := types.CheckpointProofRequired
	_, err := s.StepPatch(ctx, "ws1", StepPatchRequest{
		StepID: &step.StepID, TaskID: task.ID, CriteriaMode: &proofRequired,
	})
	if err != nil {
		t.Fatalf("set criteria mode: %v", err)
	}

	_, err = s.StepProgress(ctx, "ws1", &step.StepID, nil, task.ID, true, false)
	if types.KindOf(err) != types.ErrInvalidInput {
		t.Fatalf("expected INVALID_INPUT blocking completion, got %v", err)
	}

	completed, err := s.StepProgress(ctx, "ws1", &step.StepID, nil, task.ID, true, true)
	if err != nil {
		t.Fatalf("force-complete: %v", err)
	}
	if !completed.Completed || completed.CompletedAtMs == nil {
		t.Fatalf("expected step to be completed: %+v", completed)
	}
}

func TestStepLeaseAcquireConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, step := setupTaskWithStep(t, s, "s:0")

	lease, err := s.StepLeaseAcquire(ctx, "ws1", task.ID, step.StepID, "alice", 60_000)
	if err != nil {
		t.Fatalf("acquire lease: %v", err)
	}
	_, err = s.StepLeaseAcquire(ctx, "ws1", task.ID, step.StepID, "bob", 60_000)
	if types.KindOf(err) != types.ErrInvalidInput {
		t.Fatalf("expected INVALID_INPUT for conflicting holder, got %v", err)
	}

	if err := s.StepLeaseRelease(ctx, "ws1", task.ID, step.StepID, "alice", lease.Token); err != nil {
		t.Fatalf("release lease: %v", err)
	}
	if _, err := s.StepLeaseAcquire(ctx, "ws1", task.ID, step.StepID, "bob", 60_000); err != nil {
		t.Fatalf("expected bob to acquire the free lease: %v", err)
	}
}

func TestStepBlockSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, step := setupTaskWithStep(t, s, "s:0")

	blocked, err := s.StepBlockSet(ctx, "ws1", &step.StepID, nil, task.ID, true, "waiting on review")
	if err != nil {
		t.Fatalf("block step: %v", err)
	}
	if !blocked.Blocked || blocked.BlockedReason != "waiting on review" {
		t.Fatalf("unexpected blocked step: %+v", blocked)
	}
}
