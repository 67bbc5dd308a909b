package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/branchmind/reasonstore/internal/ids"
	"github.com/branchmind/reasonstore/internal/types"
)

func deriveStepID(taskID, path string) string { return taskID + "#" + path }

func checkpointFromRow(autoConfirmed bool, mode int) types.Checkpoint {
	return types.Checkpoint{AutoConfirmed: autoConfirmed, Mode: types.CheckpointMode(mode)}
}

func (s *Store) stepGetByIDTx(ctx context.Context, tx *sql.Tx, workspace, stepID string) (*types.Step, error) {
	return s.scanStepRow(ctx, tx, `
		SELECT workspace, task_id, step_id, path, title, completed, completed_at_ms, blocked, blocked_reason,
			criteria_auto_confirmed, criteria_mode, tests_auto_confirmed, tests_mode,
			security_confirmed, security_mode, perf_confirmed, perf_mode, docs_confirmed, docs_mode,
			revision, created_at_ms, updated_at_ms
		FROM steps WHERE workspace = ? AND step_id = ?
	`, workspace, stepID)
}

func (s *Store) stepGetByPathTx(ctx context.Context, tx *sql.Tx, workspace, taskID, path string) (*types.Step, error) {
	return s.scanStepRow(ctx, tx, `
		SELECT workspace, task_id, step_id, path, title, completed, completed_at_ms, blocked, blocked_reason,
			criteria_auto_confirmed, criteria_mode, tests_auto_confirmed, tests_mode,
			security_confirmed, security_mode, perf_confirmed, perf_mode, docs_confirmed, docs_mode,
			revision, created_at_ms, updated_at_ms
		FROM steps WHERE workspace = ? AND task_id = ? AND path = ?
	`, workspace, taskID, path)
}

func (s *Store) scanStepRow(ctx context.Context, tx *sql.Tx, query string, args ...any) (*types.Step, error) {
	var st types.Step
	var criteriaAuto, testsAuto, securityConfirmed, perfConfirmed, docsConfirmed bool
	var criteriaMode, testsMode, securityMode, perfMode, docsMode int
	row := tx.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&st.Workspace, &st.TaskID, &st.StepID, &st.Path, &st.Title, &st.Completed, &st.CompletedAtMs,
		&st.Blocked, &st.BlockedReason,
		&criteriaAuto, &criteriaMode, &testsAuto, &testsMode,
		&securityConfirmed, &securityMode, &perfConfirmed, &perfMode, &docsConfirmed, &docsMode,
		&st.Revision, &st.CreatedAtMs, &st.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.StepNotFound("step not found")
		}
		return nil, types.Store("get step", err)
	}
	st.Criteria = checkpointFromRow(criteriaAuto, criteriaMode)
	st.Tests = checkpointFromRow(testsAuto, testsMode)
	st.Security = checkpointFromRow(securityConfirmed, securityMode)
	st.Perf = checkpointFromRow(perfConfirmed, perfMode)
	st.Docs = checkpointFromRow(docsConfirmed, docsMode)
	return &st, nil
}

// resolveStepTx resolves a step by id (preferred) or (taskID, path).
func (s *Store) resolveStepTx(ctx context.Context, tx *sql.Tx, workspace string, stepID, path *string, taskID string) (*types.Step, error) {
	if stepID != nil && *stepID != "" {
		return s.stepGetByIDTx(ctx, tx, workspace, *stepID)
	}
	if path != nil && *path != "" {
		return s.stepGetByPathTx(ctx, tx, workspace, taskID, *path)
	}
	return nil, types.InvalidInput("step", "must supply step_id or path")
}

func toStepSnapshot(st *types.Step) stepSnapshot {
	return stepSnapshot{
		Entity: "step", StepID: st.StepID, Title: st.Title, Completed: st.Completed, CompletedAtMs: st.CompletedAtMs,
		Blocked: st.Blocked, BlockedReason: st.BlockedReason,
		CriteriaAutoConfirmed: st.Criteria.AutoConfirmed, CriteriaMode: int(st.Criteria.Mode),
		TestsAutoConfirmed: st.Tests.AutoConfirmed, TestsMode: int(st.Tests.Mode),
		SecurityConfirmed: st.Security.AutoConfirmed, SecurityMode: int(st.Security.Mode),
		PerfConfirmed: st.Perf.AutoConfirmed, PerfMode: int(st.Perf.Mode),
		DocsConfirmed: st.Docs.AutoConfirmed, DocsMode: int(st.Docs.Mode),
		Revision: st.Revision,
	}
}

func snapshotJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// StepDefine creates a step at path under taskID, minting a step id
// deterministic in (taskID, path) (spec §4.7).
func (s *Store) StepDefine(ctx context.Context, workspace, taskID, path, title string) (*types.Step, error) {
	if _, err := ids.ParseStepPath(path); err != nil {
		return nil, err
	}
	stepID := deriveStepID(taskID, path)

	var step types.Step
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		task, err := s.taskGetTx(ctx, tx, workspace, taskID)
		if err != nil {
			return err
		}
		now := s.nowMs()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO steps (workspace, task_id, step_id, path, title, revision, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		`, workspace, taskID, stepID, path, title, now, now); err != nil {
			return types.Store("define step", err)
		}
		step = types.Step{Workspace: workspace, TaskID: taskID, StepID: stepID, Path: path, Title: title, Revision: 1, CreatedAtMs: now, UpdatedAtMs: now}

		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, taskID, &path, "step_defined", snapshotJSON(toStepSnapshot(&step))); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// StepPatchRequest carries optional field updates for step_patch; nil
// fields are left unchanged.
type StepPatchRequest struct {
	StepID *string
	Path   *string
	TaskID string

	Title         *string
	BlockedReason *string

	CriteriaAutoConfirmed *bool
	CriteriaMode          *types.CheckpointMode
	TestsAutoConfirmed    *bool
	TestsMode             *types.CheckpointMode
	SecurityConfirmed     *bool
	SecurityMode          *types.CheckpointMode
	PerfConfirmed         *bool
	PerfMode              *types.CheckpointMode
	DocsConfirmed         *bool
	DocsMode              *types.CheckpointMode

	ExpectedRevision *int64
}

// StepPatch mutates a step's title, blocked reason, and/or checkpoint
// fields with optimistic concurrency, recording an undoable ops_history
// row (spec §4.7, §4.9).
func (s *Store) StepPatch(ctx context.Context, workspace string, req StepPatchRequest) (*types.Step, error) {
	var updated types.Step
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		before, err := s.resolveStepTx(ctx, tx, workspace, req.StepID, req.Path, req.TaskID)
		if err != nil {
			return err
		}
		if req.ExpectedRevision != nil && *req.ExpectedRevision != before.Revision {
			return types.RevisionMismatch(*req.ExpectedRevision, before.Revision)
		}
		task, err := s.taskGetTx(ctx, tx, workspace, before.TaskID)
		if err != nil {
			return err
		}

		after := *before
		if req.Title != nil {
			after.Title = *req.Title
		}
		if req.BlockedReason != nil {
			after.BlockedReason = *req.BlockedReason
		}
		applyCheckpoint(&after.Criteria, req.CriteriaAutoConfirmed, req.CriteriaMode)
		applyCheckpoint(&after.Tests, req.TestsAutoConfirmed, req.TestsMode)
		applyCheckpoint(&after.Security, req.SecurityConfirmed, req.SecurityMode)
		applyCheckpoint(&after.Perf, req.PerfConfirmed, req.PerfMode)
		applyCheckpoint(&after.Docs, req.DocsConfirmed, req.DocsMode)
		after.Revision = before.Revision + 1
		after.UpdatedAtMs = s.nowMs()

		if err := s.writeStepRow(ctx, tx, &after); err != nil {
			return err
		}
		if err := s.recordOpsHistory(ctx, tx, workspace, "step_patch", &before.TaskID, &before.Path,
			snapshotJSON(toStepSnapshot(before)), snapshotJSON(toStepSnapshot(&after))); err != nil {
			return err
		}
		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, before.TaskID, &before.Path, "step_patched", snapshotJSON(toStepSnapshot(&after))); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func applyCheckpoint(cp *types.Checkpoint, autoConfirmed *bool, mode *types.CheckpointMode) {
	if autoConfirmed != nil {
		cp.AutoConfirmed = *autoConfirmed
	}
	if mode != nil {
		cp.Mode = *mode
	}
}

func (s *Store) writeStepRow(ctx context.Context, tx *sql.Tx, st *types.Step) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE steps SET title = ?, completed = ?, completed_at_ms = ?, blocked = ?, blocked_reason = ?,
			criteria_auto_confirmed = ?, criteria_mode = ?, tests_auto_confirmed = ?, tests_mode = ?,
			security_confirmed = ?, security_mode = ?, perf_confirmed = ?, perf_mode = ?,
			docs_confirmed = ?, docs_mode = ?, revision = ?, updated_at_ms = ?
		WHERE workspace = ? AND task_id = ? AND step_id = ?
	`, st.Title, st.Completed, st.CompletedAtMs, st.Blocked, st.BlockedReason,
		st.Criteria.AutoConfirmed, int(st.Criteria.Mode), st.Tests.AutoConfirmed, int(st.Tests.Mode),
		st.Security.AutoConfirmed, int(st.Security.Mode), st.Perf.AutoConfirmed, int(st.Perf.Mode),
		st.Docs.AutoConfirmed, int(st.Docs.Mode), st.Revision, st.UpdatedAtMs,
		st.Workspace, st.TaskID, st.StepID)
	if err != nil {
		return types.Store("write step row", err)
	}
	return nil
}

// unmetCheckpoint returns the name of the first proof-required
// checkpoint that isn't confirmed, or "" if all are satisfied.
func unmetCheckpoint(st *types.Step) string {
	gates := []struct {
		name string
		cp   types.Checkpoint
	}{
		{"criteria", st.Criteria}, {"tests", st.Tests}, {"security", st.Security}, {"perf", st.Perf}, {"docs", st.Docs},
	}
	for _, g := range gates {
		if g.cp.Mode == types.CheckpointProofRequired && !g.cp.AutoConfirmed {
			return g.name
		}
	}
	return ""
}

// StepProgress completes or reopens a step. In normal mode, completion
// requires every proof-required checkpoint to be confirmed; force=true
// bypasses the gate but is recorded in the emitted event (spec §4.7).
func (s *Store) StepProgress(ctx context.Context, workspace string, stepID, path *string, taskID string, complete, force bool) (*types.Step, error) {
	var updated types.Step
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		before, err := s.resolveStepTx(ctx, tx, workspace, stepID, path, taskID)
		if err != nil {
			return err
		}
		task, err := s.taskGetTx(ctx, tx, workspace, before.TaskID)
		if err != nil {
			return err
		}

		after := *before
		if complete {
			if !force {
				if gate := unmetCheckpoint(before); gate != "" {
					return types.InvalidInput("checkpoint", "checkpoint %q requires confirmation before completion", gate)
				}
			}
			now := s.nowMs()
			after.Completed = true
			after.CompletedAtMs = &now
		} else {
			after.Completed = false
			after.CompletedAtMs = nil
		}
		after.Revision = before.Revision + 1
		after.UpdatedAtMs = s.nowMs()

		if err := s.writeStepRow(ctx, tx, &after); err != nil {
			return err
		}
		if err := s.recordOpsHistory(ctx, tx, workspace, "step_progress", &before.TaskID, &before.Path,
			snapshotJSON(toStepSnapshot(before)), snapshotJSON(toStepSnapshot(&after))); err != nil {
			return err
		}

		payload, _ := json.Marshal(struct {
			StepID    string `json:"step_id"`
			Completed bool   `json:"completed"`
			Force     bool   `json:"force"`
		}{after.StepID, after.Completed, force})
		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, before.TaskID, &before.Path, "step_progress", string(payload)); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// StepBlockSet sets or clears a step's blocked flag/reason.
func (s *Store) StepBlockSet(ctx context.Context, workspace string, stepID, path *string, taskID string, blocked bool, reason string) (*types.Step, error) {
	var updated types.Step
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		before, err := s.resolveStepTx(ctx, tx, workspace, stepID, path, taskID)
		if err != nil {
			return err
		}
		task, err := s.taskGetTx(ctx, tx, workspace, before.TaskID)
		if err != nil {
			return err
		}

		after := *before
		after.Blocked = blocked
		after.BlockedReason = reason
		after.Revision = before.Revision + 1
		after.UpdatedAtMs = s.nowMs()

		if err := s.writeStepRow(ctx, tx, &after); err != nil {
			return err
		}
		if err := s.recordOpsHistory(ctx, tx, workspace, "step_block_set", &before.TaskID, &before.Path,
			snapshotJSON(toStepSnapshot(before)), snapshotJSON(toStepSnapshot(&after))); err != nil {
			return err
		}
		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, before.TaskID, &before.Path, "step_block_set", snapshotJSON(toStepSnapshot(&after))); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// StepResolve resolves a step by either id or path and returns the
// full row, which always carries both (spec §4.7).
func (s *Store) StepResolve(ctx context.Context, workspace, taskID string, stepID, path *string) (*types.Step, error) {
	var st *types.Step
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		got, err := s.resolveStepTx(ctx, tx, workspace, stepID, path, taskID)
		st = got
		return err
	})
	return st, err
}

// StepLocate reverse-looks-up the owning task_id for a step id.
func (s *Store) StepLocate(ctx context.Context, workspace, stepID string) (string, error) {
	var taskID string
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT task_id FROM steps WHERE workspace = ? AND step_id = ?`, workspace, stepID)
		if err := row.Scan(&taskID); err != nil {
			if err == sql.ErrNoRows {
				return types.StepNotFound("step %q not found", stepID)
			}
			return types.Store("locate step", err)
		}
		return nil
	})
	return taskID, err
}

// StepLeaseAcquire grants holder a lease on (taskID, stepID) expiring
// at now+ttlMs, failing if another holder's lease hasn't expired yet
// (spec §4.7). Expiry is inclusive: a lease with lease_expires_at_ms <=
// now_ms is free.
func (s *Store) StepLeaseAcquire(ctx context.Context, workspace, taskID, stepID, holder string, ttlMs int64) (*types.StepLease, error) {
	var lease types.StepLease
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		now := s.nowMs()
		var existingHolder string
		var existingExpiry int64
		row := tx.QueryRowContext(ctx, `
			SELECT holder, lease_expires_at_ms FROM step_leases WHERE workspace = ? AND task_id = ? AND step_id = ?
		`, workspace, taskID, stepID)
		scanErr := row.Scan(&existingHolder, &existingExpiry)
		if scanErr != nil && scanErr != sql.ErrNoRows {
			return types.Store("read step lease", scanErr)
		}
		if scanErr == nil && existingHolder != holder && existingExpiry > now {
			return types.InvalidInput("holder", "step %q is leased by %q until %d", stepID, existingHolder, existingExpiry)
		}
		token := uuid.NewString()
		expiry := now + ttlMs
		_, err := tx.ExecContext(ctx, `
			INSERT INTO step_leases (workspace, task_id, step_id, holder, token, lease_expires_at_ms)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (workspace, task_id, step_id) DO UPDATE SET holder = excluded.holder, token = excluded.token, lease_expires_at_ms = excluded.lease_expires_at_ms
		`, workspace, taskID, stepID, holder, token, expiry)
		if err != nil {
			return types.Store("acquire step lease", err)
		}
		lease = types.StepLease{Workspace: workspace, TaskID: taskID, StepID: stepID, Holder: holder, Token: token, LeaseExpiresAtMs: expiry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

// StepLeaseRelease releases holder's lease, validating token. It is a
// no-op if no lease is held.
func (s *Store) StepLeaseRelease(ctx context.Context, workspace, taskID, stepID, holder, token string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var existingHolder, existingToken string
		row := tx.QueryRowContext(ctx, `
			SELECT holder, token FROM step_leases WHERE workspace = ? AND task_id = ? AND step_id = ?
		`, workspace, taskID, stepID)
		err := row.Scan(&existingHolder, &existingToken)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return types.Store("read step lease", err)
		}
		if existingHolder != holder || existingToken != token {
			return types.InvalidInput("token", "lease token mismatch for step %q", stepID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM step_leases WHERE workspace = ? AND task_id = ? AND step_id = ?`, workspace, taskID, stepID); err != nil {
			return types.Store("release step lease", err)
		}
		return nil
	})
}
