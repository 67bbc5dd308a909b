package store

import (
	"context"
	"database/sql"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/branchmind/reasonstore/internal/types"
)

// emitTaskEvent mints an EventRow in the same transaction as a C8
// mutation, appends it to the per-task event log, and mirrors it into
// the task's reasoning-ref trace doc (spec §4.8). Mirroring never fails
// the caller's write if the ref has no registered trace doc yet: the
// doc is lazily created the same way any other doc write would.
func (s *Store) emitTaskEvent(ctx context.Context, tx *sql.Tx, workspace string, kind types.TaskKind, taskID string, path *string, eventType, payloadJSON string) (types.EventRow, error) {
	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return types.EventRow{}, err
	}
	now := s.nowMs()
	event := types.EventRow{
		Seq: seq, Workspace: workspace, TsMs: now,
		TaskID: &taskID, Path: path, EventType: eventType, PayloadJSON: payloadJSON,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (seq, workspace, ts_ms, task_id, path, event_type, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, seq, workspace, now, taskID, path, eventType, payloadJSON); err != nil {
		return types.EventRow{}, types.Store("record task event", err)
	}

	ref := deriveReasoningRef(workspace, taskID, kind)
	if _, err := s.appendEventEntry(ctx, tx, workspace, ref.Branch, ref.TraceDoc, event); err != nil {
		return types.EventRow{}, err
	}
	return event, nil
}

// ListEventsForTask returns events recorded for taskID, oldest first,
// paginated by offset; a non-positive limit defaults to 100 and larger
// limits are capped at 500.
func (s *Store) ListEventsForTask(ctx context.Context, workspace, taskID string, limit, offset int) ([]types.EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	var out []types.EventRow
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT seq, workspace, ts_ms, task_id, path, event_type, payload_json
			FROM events WHERE workspace = ? AND task_id = ?
			ORDER BY seq ASC LIMIT ? OFFSET ?
		`, workspace, taskID, limit, offset)
		if err != nil {
			return types.Store("list events for task", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var e types.EventRow
			if err := rows.Scan(&e.Seq, &e.Workspace, &e.TsMs, &e.TaskID, &e.Path, &e.EventType, &e.PayloadJSON); err != nil {
				return types.Store("scan event", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// LiftLegacyStepMeta normalizes a payload's step scoping for readers:
// canonical rows carry meta.step.{task_id,path} directly; older rows
// may carry it nested one level deeper as meta.meta.step. This lifts
// the legacy shape into the canonical one without touching storage
// (spec §4.8); canonical rows are returned unchanged.
func LiftLegacyStepMeta(payloadJSON string) string {
	if !gjson.Valid(payloadJSON) {
		return payloadJSON
	}
	if gjson.Get(payloadJSON, "meta.step").Exists() {
		return payloadJSON
	}
	legacy := gjson.Get(payloadJSON, "meta.meta.step")
	if !legacy.Exists() {
		return payloadJSON
	}
	lifted, err := sjson.SetRaw(payloadJSON, "meta.step", legacy.Raw)
	if err != nil {
		return payloadJSON
	}
	return lifted
}
