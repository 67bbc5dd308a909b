package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/branchmind/reasonstore/internal/types"
)

// nextSeq mints the next per-workspace global sequence number. Every
// doc_entries row (whether it originated as a note, a mirrored event, or
// a graph upsert's "doc event") is stamped from this single counter, so
// seq is a strict total order within a workspace (spec §3, §5).
func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, workspace string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO counters (workspace, name, value) VALUES (?, 'seq', 1)
		ON CONFLICT (workspace, name) DO UPDATE SET value = value + 1
	`, workspace); err != nil {
		return 0, types.Store("mint seq", err)
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE workspace = ? AND name = 'seq'`, workspace).Scan(&v); err != nil {
		return 0, types.Store("read seq", err)
	}
	return v, nil
}

// ensureDocument lazily creates the (workspace, branch, doc) row on first
// write, and otherwise bumps its updated_at_ms.
func (s *Store) ensureDocument(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, kind types.DocKind) error {
	now := s.nowMs()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (workspace, branch, doc, kind, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace, branch, doc) DO UPDATE SET updated_at_ms = excluded.updated_at_ms
	`, workspace, branch, doc, string(kind), now, now)
	if err != nil {
		return types.Store("ensure document", err)
	}
	return nil
}

// appendNoteEntry appends a free-form note entry and returns its
// assigned seq.
func (s *Store) appendNoteEntry(ctx context.Context, tx *sql.Tx, workspace, branch, doc, noteKind, payloadJSON string) (int64, error) {
	if err := s.ensureDocument(ctx, tx, workspace, branch, doc, types.DocKindNotes); err != nil {
		return 0, err
	}
	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO doc_entries (seq, workspace, branch, doc, kind, ts_ms, note_kind, payload_json)
		VALUES (?, ?, ?, ?, 'note', ?, ?, ?)
	`, seq, workspace, branch, doc, s.nowMs(), noteKind, payloadJSON)
	if err != nil {
		return 0, types.Store("append note entry", err)
	}
	return seq, nil
}

// appendEventEntry mirrors an already-minted EventRow into
// (branch, doc) as an event-kind entry. It is idempotent by
// (workspace, source_event_id): a second call with the same event.Seq
// inserts nothing and returns inserted=false (spec §4.4, §8 property 3).
func (s *Store) appendEventEntry(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, event types.EventRow) (inserted bool, err error) {
	if err := s.ensureDocument(ctx, tx, workspace, branch, doc, types.DocKindTrace); err != nil {
		return false, err
	}
	sourceEventID := fmt.Sprintf("evt_%016d", event.Seq)

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0 FROM doc_entries WHERE workspace = ? AND source_event_id = ?
	`, workspace, sourceEventID).Scan(&exists); err != nil {
		return false, types.Store("check event idempotence", err)
	}
	if exists {
		return false, nil
	}

	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO doc_entries (seq, workspace, branch, doc, kind, ts_ms, source_event_id, payload_json)
		VALUES (?, ?, ?, ?, 'event', ?, ?, ?)
	`, seq, workspace, branch, doc, event.TsMs, sourceEventID, event.PayloadJSON)
	if err != nil {
		return false, types.Store("append event entry", err)
	}
	return true, nil
}

// DocIngestTaskEvent is the public entry point for mirroring a task/step
// event into a (branch, doc); returns true on first insert, false on an
// idempotent repeat (spec §6 doc_ingest_task_event, §8 S1).
func (s *Store) DocIngestTaskEvent(ctx context.Context, workspace, branch, doc string, event types.EventRow) (bool, error) {
	var inserted bool
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = s.appendEventEntry(ctx, tx, workspace, branch, doc, event)
		return err
	})
	return inserted, err
}

// DocList returns the documents registered on branch.
func (s *Store) DocList(ctx context.Context, workspace, branch string) ([]types.Document, error) {
	var out []types.Document
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT workspace, branch, doc, kind, created_at_ms, updated_at_ms
			FROM documents WHERE workspace = ? AND branch = ? ORDER BY doc
		`, workspace, branch)
		if err != nil {
			return types.Store("list documents", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var d types.Document
			var kind string
			if err := rows.Scan(&d.Workspace, &d.Branch, &d.Doc, &kind, &d.CreatedAtMs, &d.UpdatedAtMs); err != nil {
				return types.Store("scan document", err)
			}
			d.Kind = types.DocKind(kind)
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// visibilityClause builds a SQL fragment and args selecting rows visible
// per sources: each BranchSource contributes
// "(branch = ? AND (? IS NULL OR seq <= ?))", OR'd together. An empty
// sources list yields a clause that matches nothing.
func visibilityClause(sources []types.BranchSource) (string, []any) {
	if len(sources) == 0 {
		return "1 = 0", nil
	}
	parts := make([]string, 0, len(sources))
	args := make([]any, 0, len(sources)*3)
	for _, src := range sources {
		parts = append(parts, "(branch = ? AND (? IS NULL OR seq <= ?))")
		args = append(args, src.Branch, src.CutoffSeq, src.CutoffSeq)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// DocHeadSeqForBranchDoc returns MAX(seq) over entries visible on branch
// for doc, or nil if none are visible (spec §4.4 doc_head_seq).
func (s *Store) DocHeadSeqForBranchDoc(ctx context.Context, workspace, branch, doc string) (*int64, error) {
	sources, err := s.Sources(ctx, workspace, branch)
	if err != nil {
		return nil, err
	}
	clause, args := visibilityClause(sources)
	var head *int64
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT MAX(seq) FROM doc_entries WHERE workspace = ? AND doc = ? AND %s`, clause)
		fullArgs := append([]any{workspace, doc}, args...)
		row := tx.QueryRowContext(ctx, query, fullArgs...)
		if err := row.Scan(&head); err != nil {
			return types.Store("doc head seq", err)
		}
		return nil
	})
	return head, err
}

// DocEntryVisible reports whether the entry at seq is visible on branch
// for doc.
func (s *Store) DocEntryVisible(ctx context.Context, workspace, branch, doc string, seq int64) (bool, error) {
	sources, err := s.Sources(ctx, workspace, branch)
	if err != nil {
		return false, err
	}
	clause, args := visibilityClause(sources)
	var visible bool
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT COUNT(*) > 0 FROM doc_entries WHERE workspace = ? AND doc = ? AND seq = ? AND %s`, clause)
		fullArgs := append([]any{workspace, doc, seq}, args...)
		row := tx.QueryRowContext(ctx, query, fullArgs...)
		if err := row.Scan(&visible); err != nil {
			return types.Store("doc entry visible", err)
		}
		return nil
	})
	return visible, err
}

// DocEntryGetBySeq fetches a single entry by its global seq, regardless
// of branch/doc (used by callers that already hold a seq from a prior
// query and just need the row).
func (s *Store) DocEntryGetBySeq(ctx context.Context, workspace string, seq int64) (*types.DocEntry, error) {
	var e types.DocEntry
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT seq, workspace, branch, doc, kind, ts_ms, source_event_id, note_kind, payload_json
			FROM doc_entries WHERE workspace = ? AND seq = ?
		`, workspace, seq)
		var kind string
		var noteKind sql.NullString
		if err := row.Scan(&e.Seq, &e.Workspace, &e.Branch, &e.Doc, &kind, &e.TsMs, &e.SourceEventID, &noteKind, &e.PayloadJSON); err != nil {
			if err == sql.ErrNoRows {
				return types.UnknownID("doc entry %d not found", seq)
			}
			return types.Store("get doc entry", err)
		}
		e.Kind = types.EntryKind(kind)
		e.NoteKind = noteKind.String
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DocDiffTail returns entries visible on toBranch but not on fromBranch
// for doc, newest first, paginated by an optional seq cursor
// (beforeSeq), with limit clamped to [1, 200] (spec §4.4).
func (s *Store) DocDiffTail(ctx context.Context, workspace, fromBranch, toBranch, doc string, beforeSeq *int64, limit int) ([]types.DocEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	fromSources, err := s.Sources(ctx, workspace, fromBranch)
	if err != nil {
		return nil, err
	}
	toSources, err := s.Sources(ctx, workspace, toBranch)
	if err != nil {
		return nil, err
	}
	fromClause, fromArgs := visibilityClause(fromSources)
	toClause, toArgs := visibilityClause(toSources)

	var out []types.DocEntry
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
			SELECT seq, workspace, branch, doc, kind, ts_ms, source_event_id, note_kind, payload_json
			FROM doc_entries
			WHERE workspace = ? AND doc = ? AND %s AND NOT %s
		`, toClause, fromClause)
		args := append([]any{workspace, doc}, toArgs...)
		args = append(args, fromArgs...)
		if beforeSeq != nil {
			query += " AND seq < ?"
			args = append(args, *beforeSeq)
		}
		query += " ORDER BY seq DESC LIMIT ?"
		args = append(args, limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return types.Store("doc diff tail", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var e types.DocEntry
			var kind string
			var noteKind sql.NullString
			if err := rows.Scan(&e.Seq, &e.Workspace, &e.Branch, &e.Doc, &kind, &e.TsMs, &e.SourceEventID, &noteKind, &e.PayloadJSON); err != nil {
				return types.Store("scan doc diff entry", err)
			}
			e.Kind = types.EntryKind(kind)
			e.NoteKind = noteKind.String
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}
