package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/branchmind/reasonstore/internal/idgen"
	"github.com/branchmind/reasonstore/internal/types"
)

// TaskCreateRequest parameterizes task/plan_create. Kind selects
// whether the row is a task or a plan; plans ignore Parent.
type TaskCreateRequest struct {
	Kind   types.TaskKind
	ID     string // minted if empty
	Parent string
	Title  string
}

// TaskCreate inserts a new task or plan row, minting an id via
// idgen.GenerateEntityID when the caller doesn't supply one, and
// ensures its reasoning ref exists in the same transaction (spec
// §4.7, §4.10).
func (s *Store) TaskCreate(ctx context.Context, workspace string, req TaskCreateRequest) (*types.Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, types.InvalidInput("title", "must not be empty")
	}
	kind := req.Kind
	if kind == "" {
		kind = types.KindTask
	}
	parent := req.Parent
	if kind == types.KindPlan {
		parent = ""
	}

	var task types.Task
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureWorkspace(ctx, tx, workspace); err != nil {
			return err
		}
		id := req.ID
		if id == "" {
			prefix := "TASK"
			if kind == types.KindPlan {
				prefix = "PLAN"
			}
			for nonce := 0; ; nonce++ {
				candidate := idgen.GenerateEntityID(prefix, req.Title, parent, "", time.UnixMilli(s.nowMs()), 6, nonce)
				var exists bool
				if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM tasks WHERE workspace = ? AND id = ?`, workspace, candidate).Scan(&exists); err != nil {
					return types.Store("check task id", err)
				}
				if !exists {
					id = candidate
					break
				}
			}
		} else {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM tasks WHERE workspace = ? AND id = ?`, workspace, id).Scan(&exists); err != nil {
				return types.Store("check task id", err)
			}
			if exists {
				return types.InvalidInput("id", "task or plan %q already exists", id)
			}
		}

		now := s.nowMs()
		task = types.Task{
			Workspace: workspace, ID: id, Parent: parent, Kind: kind, Title: req.Title,
			Status: "open", Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (workspace, id, parent, kind, title, status, revision, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, workspace, id, parent, string(kind), req.Title, task.Status, task.Revision, now, now); err != nil {
			return types.Store("create task", err)
		}
		if _, err := s.ensureReasoningRefTx(ctx, tx, workspace, id, kind); err != nil {
			return err
		}
		if _, err := s.emitTaskEvent(ctx, tx, workspace, kind, id, nil, "task_created", taskCreatedPayload(task)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func taskCreatedPayload(t types.Task) string {
	b, _ := json.Marshal(struct {
		ID    string `json:"id"`
		Kind  string `json:"kind"`
		Title string `json:"title"`
	}{t.ID, string(t.Kind), t.Title})
	return string(b)
}

func (s *Store) taskGetTx(ctx context.Context, tx *sql.Tx, workspace, id string) (*types.Task, error) {
	var t types.Task
	var kind string
	row := tx.QueryRowContext(ctx, `
		SELECT workspace, id, parent, kind, title, status, revision, created_at_ms, updated_at_ms
		FROM tasks WHERE workspace = ? AND id = ?
	`, workspace, id)
	if err := row.Scan(&t.Workspace, &t.ID, &t.Parent, &kind, &t.Title, &t.Status, &t.Revision, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.UnknownID("task or plan %q not found", id)
		}
		return nil, types.Store("get task", err)
	}
	t.Kind = types.TaskKind(kind)
	return &t, nil
}

// TaskGet fetches a task or plan row by id.
func (s *Store) TaskGet(ctx context.Context, workspace, id string) (*types.Task, error) {
	var t *types.Task
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		got, err := s.taskGetTx(ctx, tx, workspace, id)
		t = got
		return err
	})
	return t, err
}

// TaskDetailPatch mutates title and/or status on a task or plan,
// enforcing optimistic concurrency via expectedRevision when it's
// non-nil (spec §4.7). Returns the updated row.
func (s *Store) TaskDetailPatch(ctx context.Context, workspace, id string, title, status *string, expectedRevision *int64) (*types.Task, error) {
	var updated types.Task
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		before, err := s.taskGetTx(ctx, tx, workspace, id)
		if err != nil {
			return err
		}
		if expectedRevision != nil && *expectedRevision != before.Revision {
			return types.RevisionMismatch(*expectedRevision, before.Revision)
		}

		newTitle := before.Title
		if title != nil {
			newTitle = *title
		}
		newStatus := before.Status
		if status != nil {
			newStatus = *status
		}
		now := s.nowMs()
		newRevision := before.Revision + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, status = ?, revision = ?, updated_at_ms = ?
			WHERE workspace = ? AND id = ?
		`, newTitle, newStatus, newRevision, now, workspace, id); err != nil {
			return types.Store("patch task", err)
		}

		if err := s.recordOpsHistory(ctx, tx, workspace, "task_detail_patch", &id, nil,
			snapshotJSON(taskSnapshot{Entity: "task", Title: before.Title, Status: before.Status, Revision: before.Revision}),
			snapshotJSON(taskSnapshot{Entity: "task", Title: newTitle, Status: newStatus, Revision: newRevision})); err != nil {
			return err
		}

		if _, err := s.emitTaskEvent(ctx, tx, workspace, before.Kind, id, nil, "task_detail_patched",
			taskDetailJSON(newTitle, newStatus, newRevision)); err != nil {
			return err
		}

		updated = *before
		updated.Title, updated.Status, updated.Revision, updated.UpdatedAtMs = newTitle, newStatus, newRevision, now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func taskDetailJSON(title, status string, revision int64) string {
	b, _ := json.Marshal(struct {
		Title    string `json:"title"`
		Status   string `json:"status"`
		Revision int64  `json:"revision"`
	}{title, status, revision})
	return string(b)
}
