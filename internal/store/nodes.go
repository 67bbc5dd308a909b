package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/branchmind/reasonstore/internal/ids"
	"github.com/branchmind/reasonstore/internal/types"
)

func deriveNodeID(taskID, path string) string { return taskID + "#" + path }

func encodeStringList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeStringList(encoded string) []string {
	var out []string
	_ = json.Unmarshal([]byte(encoded), &out)
	return out
}

func (s *Store) taskNodeGetTx(ctx context.Context, tx *sql.Tx, workspace, taskID, nodeID string) (*types.TaskNode, error) {
	var n types.TaskNode
	var blockers, deps, nextSteps, problems, risks, successCriteria string
	row := tx.QueryRowContext(ctx, `
		SELECT workspace, task_id, node_id, path, ordinal, title, status, priority,
			blockers, dependencies, next_steps, problems, risks, success_criteria,
			revision, created_at_ms, updated_at_ms
		FROM task_nodes WHERE workspace = ? AND task_id = ? AND node_id = ?
	`, workspace, taskID, nodeID)
	if err := row.Scan(&n.Workspace, &n.TaskID, &n.NodeID, &n.Path, &n.Ordinal, &n.Title, &n.Status, &n.Priority,
		&blockers, &deps, &nextSteps, &problems, &risks, &successCriteria,
		&n.Revision, &n.CreatedAtMs, &n.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.UnknownID("task node %q not found", nodeID)
		}
		return nil, types.Store("get task node", err)
	}
	n.Blockers = decodeStringList(blockers)
	n.Dependencies = decodeStringList(deps)
	n.NextSteps = decodeStringList(nextSteps)
	n.Problems = decodeStringList(problems)
	n.Risks = decodeStringList(risks)
	n.SuccessCriteria = decodeStringList(successCriteria)
	return &n, nil
}

func (s *Store) taskNodeGetByPathTx(ctx context.Context, tx *sql.Tx, workspace, taskID, path string) (*types.TaskNode, error) {
	return s.taskNodeGetTx(ctx, tx, workspace, taskID, deriveNodeID(taskID, path))
}

// writeTaskNode persists snap's fields onto the existing (taskID,
// snap.NodeID) row at the given revision; used both by TaskNodePatch and
// by ops-history undo/redo replaying a taskNodeSnapshot.
func (s *Store) writeTaskNode(ctx context.Context, tx *sql.Tx, workspace, taskID string, snap taskNodeSnapshot, revision, now int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE task_nodes SET title = ?, status = ?, priority = ?,
			blockers = ?, dependencies = ?, next_steps = ?, problems = ?, risks = ?, success_criteria = ?,
			revision = ?, updated_at_ms = ?
		WHERE workspace = ? AND task_id = ? AND node_id = ?
	`, snap.Title, snap.Status, snap.Priority,
		encodeStringList(snap.Blockers), encodeStringList(snap.Dependencies), encodeStringList(snap.NextSteps),
		encodeStringList(snap.Problems), encodeStringList(snap.Risks), encodeStringList(snap.SuccessCriteria),
		revision, now, workspace, taskID, snap.NodeID)
	if err != nil {
		return types.Store("write task node", err)
	}
	return nil
}

func toTaskNodeSnapshot(n *types.TaskNode) taskNodeSnapshot {
	return taskNodeSnapshot{
		Entity: "task_node", NodeID: n.NodeID, Title: n.Title, Status: n.Status, Priority: n.Priority,
		Blockers: n.Blockers, Dependencies: n.Dependencies, NextSteps: n.NextSteps,
		Problems: n.Problems, Risks: n.Risks, SuccessCriteria: n.SuccessCriteria,
		Revision: n.Revision,
	}
}

// TaskNodeDefine creates a node at path under taskID, minting a node id
// deterministic in (taskID, path) the same way StepDefine mints step ids
// (spec §4.7).
func (s *Store) TaskNodeDefine(ctx context.Context, workspace, taskID, path, title string) (*types.TaskNode, error) {
	ordinal, err := ids.NextOrdinal(path)
	if err != nil {
		return nil, err
	}
	nodeID := deriveNodeID(taskID, path)

	var node types.TaskNode
	werr := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		task, err := s.taskGetTx(ctx, tx, workspace, taskID)
		if err != nil {
			return err
		}
		now := s.nowMs()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_nodes (workspace, task_id, node_id, path, ordinal, title, revision, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, workspace, taskID, nodeID, path, ordinal, title, now, now); err != nil {
			return types.Store("define task node", err)
		}
		node = types.TaskNode{
			Workspace: workspace, TaskID: taskID, NodeID: nodeID, Path: path, Ordinal: ordinal,
			Title: title, Revision: 1, CreatedAtMs: now, UpdatedAtMs: now,
		}
		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, taskID, &path, "task_node_defined", snapshotJSON(toTaskNodeSnapshot(&node))); err != nil {
			return err
		}
		return nil
	})
	if werr != nil {
		return nil, werr
	}
	return &node, nil
}

// ListOp names how TaskNodePatch mutates one of the six list fields.
type ListOp string

const (
	ListOpAppend ListOp = "append"
	ListOpRemove ListOp = "remove"
	ListOpSet    ListOp = "set"
)

// TaskNodePatchRequest parameterizes task_node_patch. Scalar fields
// (Title/Status/Priority) are replaced wholesale when non-nil. List
// fields are named by key ("blockers", "dependencies", "next_steps",
// "problems", "risks", "success_criteria") and mutated by Op against
// Values (spec §4.7).
type TaskNodePatchRequest struct {
	NodeID *string
	Path   *string
	TaskID string

	Title    *string
	Status   *string
	Priority *string

	ListField string
	Op        ListOp
	Values    []string

	ExpectedRevision *int64
}

var taskNodeListFields = map[string]bool{
	"blockers": true, "dependencies": true, "next_steps": true,
	"problems": true, "risks": true, "success_criteria": true,
}

func applyListOp(current []string, op ListOp, values []string) ([]string, error) {
	switch op {
	case ListOpSet:
		return append([]string{}, values...), nil
	case ListOpAppend:
		seen := make(map[string]bool, len(current))
		out := append([]string{}, current...)
		for _, v := range current {
			seen[v] = true
		}
		for _, v := range values {
			if !seen[v] {
				out = append(out, v)
				seen[v] = true
			}
		}
		return out, nil
	case ListOpRemove:
		drop := make(map[string]bool, len(values))
		for _, v := range values {
			drop[v] = true
		}
		out := make([]string, 0, len(current))
		for _, v := range current {
			if !drop[v] {
				out = append(out, v)
			}
		}
		return out, nil
	default:
		return nil, types.InvalidInput("op", "unknown list op %q", op)
	}
}

// TaskNodePatch mutates a task node's scalar fields and/or one of its
// six list fields, recording an undoable ops_history row and a
// task_node_patched event listing the fields that changed (spec §4.7,
// §4.9).
func (s *Store) TaskNodePatch(ctx context.Context, workspace string, req TaskNodePatchRequest) (*types.TaskNode, error) {
	var updated types.TaskNode
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var before *types.TaskNode
		var err error
		switch {
		case req.NodeID != nil && *req.NodeID != "":
			before, err = s.taskNodeGetTx(ctx, tx, workspace, req.TaskID, *req.NodeID)
		case req.Path != nil && *req.Path != "":
			before, err = s.taskNodeGetByPathTx(ctx, tx, workspace, req.TaskID, *req.Path)
		default:
			err = types.InvalidInput("node", "must supply node_id or path")
		}
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
		var changedFields []string
		if req.Title != nil {
			after.Title = *req.Title
			changedFields = append(changedFields, "title")
		}
		if req.Status != nil {
			after.Status = *req.Status
			changedFields = append(changedFields, "status")
		}
		if req.Priority != nil {
			after.Priority = *req.Priority
			changedFields = append(changedFields, "priority")
		}
		if req.ListField != "" {
			if !taskNodeListFields[req.ListField] {
				return types.InvalidInput("field", "unknown list field %q", req.ListField)
			}
			if err := patchListField(&after, req.ListField, req.Op, req.Values); err != nil {
				return err
			}
			changedFields = append(changedFields, req.ListField)
		}
		after.Revision = before.Revision + 1
		after.UpdatedAtMs = s.nowMs()

		if err := s.writeTaskNode(ctx, tx, workspace, before.TaskID, toTaskNodeSnapshot(&after), after.Revision, after.UpdatedAtMs); err != nil {
			return err
		}
		if err := s.recordOpsHistory(ctx, tx, workspace, "task_node_patch", &before.TaskID, &before.Path,
			snapshotJSON(toTaskNodeSnapshot(before)), snapshotJSON(toTaskNodeSnapshot(&after))); err != nil {
			return err
		}

		payload, _ := json.Marshal(struct {
			NodeID  string   `json:"node_id"`
			Fields  []string `json:"fields"`
		}{after.NodeID, changedFields})
		if _, err := s.emitTaskEvent(ctx, tx, workspace, task.Kind, before.TaskID, &before.Path, "task_node_patched", string(payload)); err != nil {
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

func patchListField(n *types.TaskNode, field string, op ListOp, values []string) error {
	current := listFieldValue(n, field)
	next, err := applyListOp(current, op, values)
	if err != nil {
		return err
	}
	setListFieldValue(n, field, next)
	return nil
}

func listFieldValue(n *types.TaskNode, field string) []string {
	switch field {
	case "blockers":
		return n.Blockers
	case "dependencies":
		return n.Dependencies
	case "next_steps":
		return n.NextSteps
	case "problems":
		return n.Problems
	case "risks":
		return n.Risks
	case "success_criteria":
		return n.SuccessCriteria
	default:
		return nil
	}
}

func setListFieldValue(n *types.TaskNode, field string, values []string) {
	switch field {
	case "blockers":
		n.Blockers = values
	case "dependencies":
		n.Dependencies = values
	case "next_steps":
		n.NextSteps = values
	case "problems":
		n.Problems = values
	case "risks":
		n.Risks = values
	case "success_criteria":
		n.SuccessCriteria = values
	}
}

// TaskNodeGet resolves a task node by id or path.
func (s *Store) TaskNodeGet(ctx context.Context, workspace, taskID string, nodeID, path *string) (*types.TaskNode, error) {
	var n *types.TaskNode
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		switch {
		case nodeID != nil && *nodeID != "":
			n, err = s.taskNodeGetTx(ctx, tx, workspace, taskID, *nodeID)
		case path != nil && *path != "":
			n, err = s.taskNodeGetByPathTx(ctx, tx, workspace, taskID, *path)
		default:
			err = types.InvalidInput("node", "must supply node_id or path")
		}
		return err
	})
	return n, err
}
