package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/branchmind/reasonstore/internal/types"
)

// reversibleIntents is the strict allow-list ops_history_undo/redo will
// operate on; anything else is UNDO_NOT_SUPPORTED (spec §4.9).
var reversibleIntents = map[string]bool{
	"task_detail_patch": true,
	"step_patch":        true,
	"step_progress":     true,
	"step_block_set":    true,
	"task_node_patch":   true,
}

// recordOpsHistory appends an undo/redo journal row for a reversible
// intent in the same transaction as its mutation.
func (s *Store) recordOpsHistory(ctx context.Context, tx *sql.Tx, workspace, intent string, taskID, path *string, beforeJSON, afterJSON string) error {
	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return err
	}
	now := s.nowMs()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ops_history (seq, workspace, ts_ms, task_id, path, intent, payload_json, before_json, after_json, undoable, undone)
		VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?, 1, 0)
	`, seq, workspace, now, taskID, path, intent, beforeJSON, afterJSON)
	if err != nil {
		return types.Store("record ops history", err)
	}
	return nil
}

// OpsHistoryList returns ops_history rows for taskID, most recent
// first, with limit clamped to [1, 200].
func (s *Store) OpsHistoryList(ctx context.Context, workspace, taskID string, limit int) ([]types.OpsHistoryRow, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	var out []types.OpsHistoryRow
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT seq, workspace, ts_ms, task_id, path, intent, payload_json, before_json, after_json, undoable, undone
			FROM ops_history WHERE workspace = ? AND task_id = ? ORDER BY seq DESC LIMIT ?
		`, workspace, taskID, limit)
		if err != nil {
			return types.Store("list ops history", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var r types.OpsHistoryRow
			if err := rows.Scan(&r.Seq, &r.Workspace, &r.TsMs, &r.TaskID, &r.Path, &r.Intent, &r.PayloadJSON, &r.BeforeJSON, &r.AfterJSON, &r.Undoable, &r.Undone); err != nil {
				return types.Store("scan ops history", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// taskSnapshot, stepSnapshot, and taskNodeSnapshot are the before/after
// shapes the three C8 entity kinds serialize into ops_history so undo
// and redo can dispatch on the "entity" discriminator without knowing
// which table a given intent touched.
type taskSnapshot struct {
	Entity   string `json:"entity"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Revision int64  `json:"revision"`
}

type stepSnapshot struct {
	Entity                 string `json:"entity"`
	StepID                 string `json:"step_id"`
	Title                  string `json:"title"`
	Completed              bool   `json:"completed"`
	CompletedAtMs          *int64 `json:"completed_at_ms,omitempty"`
	Blocked                bool   `json:"blocked"`
	BlockedReason          string `json:"blocked_reason"`
	CriteriaAutoConfirmed  bool   `json:"criteria_auto_confirmed"`
	CriteriaMode           int    `json:"criteria_mode"`
	TestsAutoConfirmed     bool   `json:"tests_auto_confirmed"`
	TestsMode              int    `json:"tests_mode"`
	SecurityConfirmed      bool   `json:"security_confirmed"`
	SecurityMode           int    `json:"security_mode"`
	PerfConfirmed          bool   `json:"perf_confirmed"`
	PerfMode               int    `json:"perf_mode"`
	DocsConfirmed          bool   `json:"docs_confirmed"`
	DocsMode               int    `json:"docs_mode"`
	Revision               int64  `json:"revision"`
}

type taskNodeSnapshot struct {
	Entity          string   `json:"entity"`
	NodeID          string   `json:"node_id"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	Blockers        []string `json:"blockers"`
	Dependencies    []string `json:"dependencies"`
	NextSteps       []string `json:"next_steps"`
	Problems        []string `json:"problems"`
	Risks           []string `json:"risks"`
	SuccessCriteria []string `json:"success_criteria"`
	Revision        int64    `json:"revision"`
}

// OpsHistoryUndo applies the most recent undone=false, undoable=true
// row (optionally scoped to taskID) as a reverse patch, marks it
// undone, bumps the task's revision once, and emits an undo_redo
// event (spec §4.9).
func (s *Store) OpsHistoryUndo(ctx context.Context, workspace string, taskID *string) (*types.OpsHistoryRow, error) {
	return s.opsHistoryApply(ctx, workspace, taskID, true)
}

// OpsHistoryRedo reverses the most recently undone row.
func (s *Store) OpsHistoryRedo(ctx context.Context, workspace string, taskID *string) (*types.OpsHistoryRow, error) {
	return s.opsHistoryApply(ctx, workspace, taskID, false)
}

func (s *Store) opsHistoryApply(ctx context.Context, workspace string, taskID *string, undo bool) (*types.OpsHistoryRow, error) {
	var applied types.OpsHistoryRow
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT seq, workspace, ts_ms, task_id, path, intent, payload_json, before_json, after_json, undoable, undone
			FROM ops_history WHERE workspace = ? AND undoable = 1 AND undone = ?
		`
		args := []any{workspace, !undo}
		if taskID != nil {
			query += " AND task_id = ?"
			args = append(args, *taskID)
		}
		query += " ORDER BY seq DESC LIMIT 1"

		var r types.OpsHistoryRow
		row := tx.QueryRowContext(ctx, query, args...)
		if err := row.Scan(&r.Seq, &r.Workspace, &r.TsMs, &r.TaskID, &r.Path, &r.Intent, &r.PayloadJSON, &r.BeforeJSON, &r.AfterJSON, &r.Undoable, &r.Undone); err != nil {
			if err == sql.ErrNoRows {
				return types.UnknownID("no reversible op to %s", undoOrRedoLabel(undo))
			}
			return types.Store("find reversible op", err)
		}
		if !reversibleIntents[r.Intent] {
			return types.UndoNotSupported(r.Intent)
		}

		patchJSON := r.BeforeJSON
		if !undo {
			patchJSON = r.AfterJSON
		}
		if r.TaskID == nil {
			return types.Store("apply ops history", errMissingTaskScope)
		}
		if err := s.applyOpsHistorySnapshot(ctx, tx, workspace, *r.TaskID, patchJSON); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE ops_history SET undone = ? WHERE workspace = ? AND seq = ?`, undo, workspace, r.Seq); err != nil {
			return types.Store("mark ops history undone", err)
		}
		r.Undone = undo

		payload, _ := json.Marshal(struct {
			OpSeq  int64   `json:"op_seq"`
			Intent string  `json:"intent"`
			Undo   bool    `json:"undo"`
			Task   *string `json:"task,omitempty"`
			Path   *string `json:"path,omitempty"`
		}{r.Seq, r.Intent, undo, r.TaskID, r.Path})
		task, err := s.taskGetTx(ctx, tx, workspace, *r.TaskID)
		if err != nil {
			return err
		}
		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, *r.TaskID, r.Path, "undo_redo", string(payload)); err != nil {
			return err
		}

		applied = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &applied, nil
}

var errMissingTaskScope = errors.New("reversible op missing task scope")

type entityDiscriminator struct {
	Entity string `json:"entity"`
}

// applyOpsHistorySnapshot dispatches a before/after snapshot to the
// table it describes, applying it as the new row state.
func (s *Store) applyOpsHistorySnapshot(ctx context.Context, tx *sql.Tx, workspace, taskID, snapshotJSON string) error {
	var disc entityDiscriminator
	if err := json.Unmarshal([]byte(snapshotJSON), &disc); err != nil {
		return types.Store("decode ops history snapshot", err)
	}
	now := s.nowMs()
	switch disc.Entity {
	case "task":
		var snap taskSnapshot
		if err := json.Unmarshal([]byte(snapshotJSON), &snap); err != nil {
			return types.Store("decode task snapshot", err)
		}
		task, err := s.taskGetTx(ctx, tx, workspace, taskID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, status = ?, revision = ?, updated_at_ms = ?
			WHERE workspace = ? AND id = ?
		`, snap.Title, snap.Status, task.Revision+1, now, workspace, taskID); err != nil {
			return types.Store("apply task snapshot", err)
		}
		return nil
	case "step":
		var snap stepSnapshot
		if err := json.Unmarshal([]byte(snapshotJSON), &snap); err != nil {
			return types.Store("decode step snapshot", err)
		}
		step, err := s.stepGetByIDTx(ctx, tx, workspace, snap.StepID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE steps SET title = ?, completed = ?, completed_at_ms = ?, blocked = ?, blocked_reason = ?,
				criteria_auto_confirmed = ?, criteria_mode = ?, tests_auto_confirmed = ?, tests_mode = ?,
				security_confirmed = ?, security_mode = ?, perf_confirmed = ?, perf_mode = ?,
				docs_confirmed = ?, docs_mode = ?, revision = ?, updated_at_ms = ?
			WHERE workspace = ? AND task_id = ? AND step_id = ?
		`, snap.Title, snap.Completed, snap.CompletedAtMs, snap.Blocked, snap.BlockedReason,
			snap.CriteriaAutoConfirmed, snap.CriteriaMode, snap.TestsAutoConfirmed, snap.TestsMode,
			snap.SecurityConfirmed, snap.SecurityMode, snap.PerfConfirmed, snap.PerfMode,
			snap.DocsConfirmed, snap.DocsMode, step.Revision+1, now, workspace, taskID, snap.StepID); err != nil {
			return types.Store("apply step snapshot", err)
		}
	case "task_node":
		var snap taskNodeSnapshot
		if err := json.Unmarshal([]byte(snapshotJSON), &snap); err != nil {
			return types.Store("decode task node snapshot", err)
		}
		node, err := s.taskNodeGetTx(ctx, tx, workspace, taskID, snap.NodeID)
		if err != nil {
			return err
		}
		if err := s.writeTaskNode(ctx, tx, workspace, taskID, snap, node.Revision+1, now); err != nil {
			return err
		}
	default:
		return types.Store("apply ops history", fmt.Errorf("unknown snapshot entity %q", disc.Entity))
	}
	// Step and task-node snapshots also bump the owning task's revision
	// once, as a task snapshot does.
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET revision = revision + 1, updated_at_ms = ? WHERE workspace = ? AND id = ?
	`, now, workspace, taskID); err != nil {
		return types.Store("bump task revision", err)
	}
	return nil
}

func undoOrRedoLabel(undo bool) string {
	if undo {
		return "undo"
	}
	return "redo"
}
