package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/branchmind/reasonstore/internal/types"
)

// deriveReasoningRef computes the deterministic (branch, notes_doc,
// graph_doc, trace_doc) tuple for a task or plan id: one branch per
// entity, holding its own fixed-named notes/graph/trace documents
// (spec §4.10).
func deriveReasoningRef(workspace, id string, kind types.TaskKind) types.ReasoningRef {
	return types.ReasoningRef{
		Workspace: workspace,
		ID:        id,
		Kind:      kind,
		Branch:    fmt.Sprintf("%s:%s", kind, id),
		NotesDoc:  "notes",
		GraphDoc:  "graph",
		TraceDoc:  "trace",
	}
}

// EnsureReasoningRef creates the reasoning ref row for (id, kind) if it
// doesn't already exist, registering its notes and trace documents, and
// returns the persisted row either way (spec §4.10).
func (s *Store) EnsureReasoningRef(ctx context.Context, workspace, id string, kind types.TaskKind) (*types.ReasoningRef, error) {
	var ref types.ReasoningRef
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		r, err := s.ensureReasoningRefTx(ctx, tx, workspace, id, kind)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// ensureReasoningRefTx is the transactional core of EnsureReasoningRef,
// reused by C8 writers that must ensure a task/plan's ref inside their
// own write transaction.
func (s *Store) ensureReasoningRefTx(ctx context.Context, tx *sql.Tx, workspace, id string, kind types.TaskKind) (types.ReasoningRef, error) {
	if id == "" {
		return types.ReasoningRef{}, types.InvalidInput("id", "must not be empty")
	}
	ref := deriveReasoningRef(workspace, id, kind)
	if err := s.ensureWorkspace(ctx, tx, workspace); err != nil {
		return types.ReasoningRef{}, err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reasoning_refs (workspace, id, kind, branch, notes_doc, graph_doc, trace_doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace, id) DO NOTHING
	`, workspace, id, string(kind), ref.Branch, ref.NotesDoc, ref.GraphDoc, ref.TraceDoc)
	if err != nil {
		return types.ReasoningRef{}, types.Store("ensure reasoning ref", err)
	}
	if err := s.ensureDocument(ctx, tx, workspace, ref.Branch, ref.NotesDoc, types.DocKindNotes); err != nil {
		return types.ReasoningRef{}, err
	}
	if err := s.ensureDocument(ctx, tx, workspace, ref.Branch, ref.TraceDoc, types.DocKindTrace); err != nil {
		return types.ReasoningRef{}, err
	}
	ref.Persisted = true
	return ref, nil
}

// ReasoningRefGet resolves the reasoning ref for (id, kind) without
// mutating the store: it returns the persisted row if one exists, or
// the same derived values with Persisted=false otherwise (spec §4.10).
func (s *Store) ReasoningRefGet(ctx context.Context, workspace, id string, kind types.TaskKind) (*types.ReasoningRef, error) {
	var ref types.ReasoningRef
	var found bool
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT workspace, id, kind, branch, notes_doc, graph_doc, trace_doc
			FROM reasoning_refs WHERE workspace = ? AND id = ?
		`, workspace, id)
		var k string
		err := row.Scan(&ref.Workspace, &ref.ID, &k, &ref.Branch, &ref.NotesDoc, &ref.GraphDoc, &ref.TraceDoc)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return types.Store("get reasoning ref", err)
		}
		ref.Kind = types.TaskKind(k)
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found {
		ref.Persisted = true
		return &ref, nil
	}
	ref = deriveReasoningRef(workspace, id, kind)
	ref.Persisted = false
	return &ref, nil
}
