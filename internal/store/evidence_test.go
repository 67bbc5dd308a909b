package store

import (
	"context"
	"testing"

	"github.com/branchmind/reasonstore/internal/types"
)

func TestEvidenceCaptureAppendsNoteAndEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	seq, err := s.EvidenceCapture(ctx, "ws1", EvidenceCaptureRequest{
		TaskID: task.ID, Kind: EvidenceKindTest, Summary: "all green", Links: []string{"ci://run/1"},
	})
	if err != nil {
		t.Fatalf("capture evidence: %v", err)
	}
	if seq == 0 {
		t.Fatalf("expected a non-zero seq")
	}

	entry, err := s.DocEntryGetBySeq(ctx, "ws1", seq)
	if err != nil {
		t.Fatalf("get doc entry: %v", err)
	}
	if entry.Kind != types.EntryKindNote || entry.NoteKind != "evidence" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	events, err := s.ListEventsForTask(ctx, "ws1", task.ID, 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.EventType == "evidence_captured" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an evidence_captured event, got %+v", events)
	}
}

func TestEvidenceCaptureRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.TaskCreate(ctx, "ws1", TaskCreateRequest{Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	_, err = s.EvidenceCapture(ctx, "ws1", EvidenceCaptureRequest{TaskID: task.ID, Kind: "bogus", Summary: "x"})
	if types.KindOf(err) != types.ErrInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
