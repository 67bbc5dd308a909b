package store

import (
	"context"
	"reflect"
	"testing"
)

func TestTaskNodeDefineAndPatchListFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	node, err := s.TaskNodeDefine(ctx, "ws1", task.ID, "t:0", "investigate")
	if err != nil {
		t.Fatalf("define node: %v", err)
	}
	if node.Ordinal != 0 {
		t.Fatalf("expected ordinal 0, got %d", node.Ordinal)
	}

	updated, err := s.TaskNodePatch(ctx, "ws1", TaskNodePatchRequest{
		NodeID: &node.NodeID, TaskID: task.ID,
		ListField: "risks", Op: ListOpAppend, Values: []string{"flaky test", "tight deadline"},
	})
	if err != nil {
		t.Fatalf("append risks: %v", err)
	}
	if !reflect.DeepEqual(updated.Risks, []string{"flaky test", "tight deadline"}) {
		t.Fatalf("unexpected risks after append: %v", updated.Risks)
	}

	updated, err = s.TaskNodePatch(ctx, "ws1", TaskNodePatchRequest{
		NodeID: &node.NodeID, TaskID: task.ID,
		ListField: "risks", Op: ListOpRemove, Values: []string{"flaky test"},
	})
	if err != nil {
		t.Fatalf("remove risk: %v", err)
	}
	if !reflect.DeepEqual(updated.Risks, []string{"tight deadline"}) {
		t.Fatalf("unexpected risks after remove: %v", updated.Risks)
	}
	if updated.Revision != node.Revision+2 {
		t.Fatalf("expected revision to bump on each patch, got %d", updated.Revision)
	}
}

func TestTaskNodePatchScalarFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	node, err := s.TaskNodeDefine(ctx, "ws1", task.ID, "t:0", "investigate")
	if err != nil {
		t.Fatalf("define node: %v", err)
	}

	status := "in_progress"
	priority := "high"
	updated, err := s.TaskNodePatch(ctx, "ws1", TaskNodePatchRequest{
		NodeID: &node.NodeID, TaskID: task.ID, Status: &status, Priority: &priority,
	})
	if err != nil {
		t.Fatalf("patch scalars: %v", err)
	}
	if updated.Status != "in_progress" || updated.Priority != "high" {
		t.Fatalf("unexpected node after scalar patch: %+v", updated)
	}
}
