package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/branchmind/reasonstore/internal/types"
)

// EvidenceKind discriminates the three kinds of captured evidence.
type EvidenceKind string

const (
	EvidenceKindDecision EvidenceKind = "decision"
	EvidenceKindEvidence EvidenceKind = "evidence"
	EvidenceKindTest     EvidenceKind = "test"
)

// EvidenceCaptureRequest parameterizes evidence_capture.
type EvidenceCaptureRequest struct {
	TaskID  string
	Kind    EvidenceKind
	Summary string
	Detail  string
	Links   []string
}

type evidencePayload struct {
	Summary string   `json:"summary"`
	Detail  string   `json:"detail"`
	Kind    string   `json:"kind"`
	Links   []string `json:"links"`
}

// EvidenceCapture appends a note entry of kind "evidence" to the task's
// notes document, recording a decision, piece of evidence, or test
// result tied to the task's reasoning trail, and mirrors an
// evidence_captured event the same way any other C8 mutation does
// (spec §4.7 "evidence capture").
func (s *Store) EvidenceCapture(ctx context.Context, workspace string, req EvidenceCaptureRequest) (int64, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return 0, types.InvalidInput("summary", "must not be empty")
	}
	switch req.Kind {
	case EvidenceKindDecision, EvidenceKindEvidence, EvidenceKindTest:
	default:
		return 0, types.InvalidInput("kind", "must be one of decision, evidence, test")
	}

	var seq int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		task, err := s.taskGetTx(ctx, tx, workspace, req.TaskID)
		if err != nil {
			return err
		}
		ref, err := s.ensureReasoningRefTx(ctx, tx, workspace, req.TaskID, task.Kind)
		if err != nil {
			return err
		}

		payload, _ := json.Marshal(evidencePayload{
			Summary: req.Summary, Detail: req.Detail, Kind: string(req.Kind), Links: req.Links,
		})
		noteSeq, err := s.appendNoteEntry(ctx, tx, workspace, ref.Branch, ref.NotesDoc, "evidence", string(payload))
		if err != nil {
			return err
		}
		seq = noteSeq

		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, req.TaskID, nil, "evidence_captured", string(payload)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}
