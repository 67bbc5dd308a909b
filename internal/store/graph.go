package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/branchmind/reasonstore/internal/ids"
	"github.com/branchmind/reasonstore/internal/types"
)

// GraphOpKind enumerates the four graph mutation shapes graph_apply
// accepts in one batch (spec §4.5).
type GraphOpKind string

const (
	OpUpsertNode GraphOpKind = "upsert_node"
	OpUpsertEdge GraphOpKind = "upsert_edge"
	OpDeleteNode GraphOpKind = "delete_node"
	OpDeleteEdge GraphOpKind = "delete_edge"
)

// GraphOp is one operation in a graph_apply batch.
type GraphOp struct {
	Kind GraphOpKind

	NodeID       string
	Type         string
	Title        string
	Tags         []string
	MetadataJSON string

	EdgeFrom string
	EdgeRel  string
	EdgeTo   string

	// ExpectedVersion, if set, must match the entity's current version
	// or the whole batch aborts with REVISION_MISMATCH.
	ExpectedVersion *int64
}

// GraphApplyResult reports the outcome of one op in a graph_apply batch,
// in the same order as the input ops.
type GraphApplyResult struct {
	Kind     GraphOpKind
	NodeID   string
	EdgeFrom string
	EdgeRel  string
	EdgeTo   string
	Version  int64
	LastSeq  int64
	Deleted  bool
}

// GraphApply applies a batch of node/edge mutations transactionally.
// Each write stamps version += 1 and last_seq to the seq of the doc
// entry minted to describe the op (spec §4.5); a stale ExpectedVersion
// on any op aborts the whole batch.
func (s *Store) GraphApply(ctx context.Context, workspace, branch, doc string, ops []GraphOp) ([]GraphApplyResult, error) {
	results := make([]GraphApplyResult, 0, len(ops))
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var blockingConflict string
		row := tx.QueryRowContext(ctx, `
			SELECT conflict_id FROM conflicts
			WHERE workspace = ? AND into_branch = ? AND doc = ? AND status = 'open'
			ORDER BY conflict_id LIMIT 1
		`, workspace, branch, doc)
		switch err := row.Scan(&blockingConflict); err {
		case nil:
			return types.ConflictOpen(blockingConflict)
		case sql.ErrNoRows:
		default:
			return types.Store("check open conflicts", err)
		}
		if err := s.ensureDocument(ctx, tx, workspace, branch, doc, types.DocKindGraph); err != nil {
			return err
		}
		for _, op := range ops {
			res, err := s.applyGraphOp(ctx, tx, workspace, branch, doc, op)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) applyGraphOp(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, op GraphOp) (GraphApplyResult, error) {
	switch op.Kind {
	case OpUpsertNode:
		return s.upsertNode(ctx, tx, workspace, branch, doc, op)
	case OpUpsertEdge:
		return s.upsertEdge(ctx, tx, workspace, branch, doc, op)
	case OpDeleteNode:
		return s.deleteNode(ctx, tx, workspace, branch, doc, op)
	case OpDeleteEdge:
		return s.deleteEdge(ctx, tx, workspace, branch, doc, op)
	default:
		return GraphApplyResult{}, types.InvalidInput("kind", "unknown graph op %q", op.Kind)
	}
}

func (s *Store) upsertNode(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, op GraphOp) (GraphApplyResult, error) {
	if err := ids.ValidateGraphNodeID(op.NodeID); err != nil {
		return GraphApplyResult{}, err
	}
	tags, err := ids.NormalizeTags(op.Tags)
	if err != nil {
		return GraphApplyResult{}, err
	}
	var curVersion int64
	row := tx.QueryRowContext(ctx, `
		SELECT version FROM graph_nodes WHERE workspace = ? AND branch = ? AND doc = ? AND id = ?
	`, workspace, branch, doc, op.NodeID)
	scanErr := row.Scan(&curVersion)
	exists := scanErr == nil
	if scanErr != nil && scanErr != sql.ErrNoRows {
		return GraphApplyResult{}, types.Store("read node version", scanErr)
	}
	if op.ExpectedVersion != nil {
		actual := int64(0)
		if exists {
			actual = curVersion
		}
		if *op.ExpectedVersion != actual {
			return GraphApplyResult{}, types.RevisionMismatch(*op.ExpectedVersion, actual)
		}
	}

	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return GraphApplyResult{}, err
	}
	newVersion := curVersion + 1
	now := s.nowMs()
	metaJSON := op.MetadataJSON
	if metaJSON == "" {
		metaJSON = "{}"
	}
	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE graph_nodes SET type = ?, title = ?, tags = ?, metadata_json = ?, version = ?, last_seq = ?, updated_at_ms = ?
			WHERE workspace = ? AND branch = ? AND doc = ? AND id = ?
		`, op.Type, op.Title, ids.EncodeTags(tags), metaJSON, newVersion, seq, now, workspace, branch, doc, op.NodeID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (workspace, branch, doc, id, type, title, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, workspace, branch, doc, op.NodeID, op.Type, op.Title, ids.EncodeTags(tags), metaJSON, newVersion, seq, now, now)
	}
	if err != nil {
		return GraphApplyResult{}, types.Store("upsert node", err)
	}
	if err := s.describeGraphOp(ctx, tx, workspace, branch, doc, seq, "upsert_node", op.NodeID); err != nil {
		return GraphApplyResult{}, err
	}
	return GraphApplyResult{Kind: OpUpsertNode, NodeID: op.NodeID, Version: newVersion, LastSeq: seq}, nil
}

func (s *Store) upsertEdge(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, op GraphOp) (GraphApplyResult, error) {
	if err := ids.ValidateGraphNodeID(op.EdgeFrom); err != nil {
		return GraphApplyResult{}, err
	}
	if err := ids.ValidateGraphNodeID(op.EdgeTo); err != nil {
		return GraphApplyResult{}, err
	}
	if err := ids.ValidateGraphRel(op.EdgeRel); err != nil {
		return GraphApplyResult{}, err
	}
	tags, err := ids.NormalizeTags(op.Tags)
	if err != nil {
		return GraphApplyResult{}, err
	}
	var curVersion int64
	row := tx.QueryRowContext(ctx, `
		SELECT version FROM graph_edges WHERE workspace = ? AND branch = ? AND doc = ? AND from_id = ? AND rel = ? AND to_id = ?
	`, workspace, branch, doc, op.EdgeFrom, op.EdgeRel, op.EdgeTo)
	scanErr := row.Scan(&curVersion)
	exists := scanErr == nil
	if scanErr != nil && scanErr != sql.ErrNoRows {
		return GraphApplyResult{}, types.Store("read edge version", scanErr)
	}
	if op.ExpectedVersion != nil {
		actual := int64(0)
		if exists {
			actual = curVersion
		}
		if *op.ExpectedVersion != actual {
			return GraphApplyResult{}, types.RevisionMismatch(*op.ExpectedVersion, actual)
		}
	}

	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return GraphApplyResult{}, err
	}
	newVersion := curVersion + 1
	now := s.nowMs()
	metaJSON := op.MetadataJSON
	if metaJSON == "" {
		metaJSON = "{}"
	}
	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE graph_edges SET tags = ?, metadata_json = ?, version = ?, last_seq = ?, updated_at_ms = ?
			WHERE workspace = ? AND branch = ? AND doc = ? AND from_id = ? AND rel = ? AND to_id = ?
		`, ids.EncodeTags(tags), metaJSON, newVersion, seq, now, workspace, branch, doc, op.EdgeFrom, op.EdgeRel, op.EdgeTo)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_edges (workspace, branch, doc, from_id, rel, to_id, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, workspace, branch, doc, op.EdgeFrom, op.EdgeRel, op.EdgeTo, ids.EncodeTags(tags), metaJSON, newVersion, seq, now, now)
	}
	if err != nil {
		return GraphApplyResult{}, types.Store("upsert edge", err)
	}
	key := op.EdgeFrom + "|" + op.EdgeRel + "|" + op.EdgeTo
	if err := s.describeGraphOp(ctx, tx, workspace, branch, doc, seq, "upsert_edge", key); err != nil {
		return GraphApplyResult{}, err
	}
	return GraphApplyResult{Kind: OpUpsertEdge, EdgeFrom: op.EdgeFrom, EdgeRel: op.EdgeRel, EdgeTo: op.EdgeTo, Version: newVersion, LastSeq: seq}, nil
}

func (s *Store) deleteNode(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, op GraphOp) (GraphApplyResult, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE workspace = ? AND branch = ? AND doc = ? AND id = ?`, workspace, branch, doc, op.NodeID)
	if err != nil {
		return GraphApplyResult{}, types.Store("delete node", err)
	}
	n, _ := res.RowsAffected()
	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return GraphApplyResult{}, err
	}
	if err := s.describeGraphOp(ctx, tx, workspace, branch, doc, seq, "delete_node", op.NodeID); err != nil {
		return GraphApplyResult{}, err
	}
	return GraphApplyResult{Kind: OpDeleteNode, NodeID: op.NodeID, LastSeq: seq, Deleted: n > 0}, nil
}

func (s *Store) deleteEdge(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, op GraphOp) (GraphApplyResult, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM graph_edges WHERE workspace = ? AND branch = ? AND doc = ? AND from_id = ? AND rel = ? AND to_id = ?
	`, workspace, branch, doc, op.EdgeFrom, op.EdgeRel, op.EdgeTo)
	if err != nil {
		return GraphApplyResult{}, types.Store("delete edge", err)
	}
	n, _ := res.RowsAffected()
	seq, err := s.nextSeq(ctx, tx, workspace)
	if err != nil {
		return GraphApplyResult{}, err
	}
	key := op.EdgeFrom + "|" + op.EdgeRel + "|" + op.EdgeTo
	if err := s.describeGraphOp(ctx, tx, workspace, branch, doc, seq, "delete_edge", key); err != nil {
		return GraphApplyResult{}, err
	}
	return GraphApplyResult{Kind: OpDeleteEdge, EdgeFrom: op.EdgeFrom, EdgeRel: op.EdgeRel, EdgeTo: op.EdgeTo, LastSeq: seq, Deleted: n > 0}, nil
}

// describeGraphOp writes the doc entry describing a single graph op at
// the given pre-minted seq, so last_seq on the mutated entity matches
// the entry that explains it.
func (s *Store) describeGraphOp(ctx context.Context, tx *sql.Tx, workspace, branch, doc string, seq int64, opKind, key string) error {
	payload := fmt.Sprintf(`{"op":%q,"key":%q}`, opKind, key)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO doc_entries (seq, workspace, branch, doc, kind, ts_ms, note_kind, payload_json)
		VALUES (?, ?, ?, ?, 'note', ?, 'graph_op', ?)
	`, seq, workspace, branch, doc, s.nowMs(), payload)
	if err != nil {
		return types.Store("describe graph op", err)
	}
	return nil
}

// GraphQuery selects nodes visible on branch per the filters in req,
// ordered by (last_seq DESC, id ASC), cursor-paginated with limit
// clamped to [1, 200] (spec §4.5).
func (s *Store) GraphQuery(ctx context.Context, workspace string, req types.GraphQueryRequest) (*types.GraphQueryResult, error) {
	limit := req.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	edgesLimit := req.EdgesLimit
	if edgesLimit < 0 {
		edgesLimit = 0
	}
	if edgesLimit > 1000 {
		edgesLimit = 1000
	}

	sources, err := s.Sources(ctx, workspace, req.Branch)
	if err != nil {
		return nil, err
	}
	visClause, visArgs := visibilityClause(sources)

	where := []string{visClause}
	args := append([]any{workspace, req.Doc}, visArgs...)

	if req.Type != "" {
		where = append(where, "type = ?")
		args = append(args, req.Type)
	}
	if req.Text != "" {
		where = append(where, "(title LIKE ? OR id LIKE ?)")
		needle := "%" + req.Text + "%"
		args = append(args, needle, needle)
	}
	if len(req.IDs) > 0 {
		placeholders := make([]string, len(req.IDs))
		for i, id := range req.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	for _, tag := range req.TagsAll {
		where = append(where, "tags LIKE ?")
		args = append(args, "%\n"+tag+"\n%")
	}
	if len(req.TagsAny) > 0 {
		anyParts := make([]string, len(req.TagsAny))
		for i, tag := range req.TagsAny {
			anyParts[i] = "tags LIKE ?"
			args = append(args, "%\n"+tag+"\n%")
		}
		where = append(where, "("+strings.Join(anyParts, " OR ")+")")
	}
	if req.Cursor != nil {
		where = append(where, "last_seq < ?")
		args = append(args, *req.Cursor)
	}

	query := fmt.Sprintf(`
		SELECT workspace, branch, doc, id, type, title, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms
		FROM graph_nodes
		WHERE workspace = ? AND doc = ? AND %s
		ORDER BY last_seq DESC, id ASC
		LIMIT ?
	`, strings.Join(where, " AND "))
	args = append(args, limit+1)

	result := &types.GraphQueryResult{}
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return types.Store("graph query", err)
		}
		defer func() { _ = rows.Close() }()
		var nodes []*types.GraphNode
		for rows.Next() {
			n := &types.GraphNode{}
			var tags string
			if err := rows.Scan(&n.Workspace, &n.Branch, &n.Doc, &n.ID, &n.Type, &n.Title, &tags, &n.MetadataJSON, &n.Version, &n.LastSeq, &n.CreatedAtMs, &n.UpdatedAtMs); err != nil {
				return types.Store("scan graph node", err)
			}
			n.Tags = ids.DecodeTags(tags)
			nodes = append(nodes, n)
		}
		if err := rows.Err(); err != nil {
			return types.Store("graph query rows", err)
		}

		if len(nodes) > limit {
			result.HasMore = true
			nodes = nodes[:limit]
		}
		result.Nodes = nodes
		if result.HasMore && len(nodes) > 0 {
			cursor := nodes[len(nodes)-1].LastSeq
			result.NextCursor = &cursor
		}

		if req.IncludeEdges && edgesLimit > 0 && len(nodes) > 0 {
			nodeIDs := make([]string, len(nodes))
			placeholders := make([]string, len(nodes))
			for i, n := range nodes {
				nodeIDs[i] = n.ID
				placeholders[i] = "?"
			}
			inClause := strings.Join(placeholders, ",")
			edgeQuery := fmt.Sprintf(`
				SELECT workspace, branch, doc, from_id, rel, to_id, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms
				FROM graph_edges
				WHERE workspace = ? AND doc = ? AND (from_id IN (%s) OR to_id IN (%s))
				ORDER BY last_seq DESC
				LIMIT ?
			`, inClause, inClause)
			edgeArgs := []any{workspace, req.Doc}
			for _, id := range nodeIDs {
				edgeArgs = append(edgeArgs, id)
			}
			for _, id := range nodeIDs {
				edgeArgs = append(edgeArgs, id)
			}
			edgeArgs = append(edgeArgs, edgesLimit)

			edgeRows, err := tx.QueryContext(ctx, edgeQuery, edgeArgs...)
			if err != nil {
				return types.Store("graph query edges", err)
			}
			defer func() { _ = edgeRows.Close() }()
			for edgeRows.Next() {
				e := &types.GraphEdge{}
				var tags string
				if err := edgeRows.Scan(&e.Workspace, &e.Branch, &e.Doc, &e.FromID, &e.Rel, &e.ToID, &tags, &e.MetadataJSON, &e.Version, &e.LastSeq, &e.CreatedAtMs, &e.UpdatedAtMs); err != nil {
					return types.Store("scan graph edge", err)
				}
				e.Tags = ids.DecodeTags(tags)
				result.Edges = append(result.Edges, e)
			}
			if err := edgeRows.Err(); err != nil {
				return types.Store("graph query edge rows", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GraphValidationReport lists structural problems found by
// GraphValidate.
type GraphValidationReport struct {
	DanglingEdges  []types.GraphEdge
	EmptyRelations []types.GraphEdge
	TagViolations  []string
}

// GraphValidate reports dangling edges (endpoint not visible), empty
// relation names, and tag-encoding violations on (branch, doc) (spec
// §4.5).
func (s *Store) GraphValidate(ctx context.Context, workspace, branch, doc string) (*GraphValidationReport, error) {
	sources, err := s.Sources(ctx, workspace, branch)
	if err != nil {
		return nil, err
	}
	visClause, visArgs := visibilityClause(sources)

	report := &GraphValidationReport{}
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
			SELECT workspace, branch, doc, from_id, rel, to_id, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms
			FROM graph_edges WHERE workspace = ? AND doc = ? AND %s
		`, visClause)
		args := append([]any{workspace, doc}, visArgs...)
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return types.Store("graph validate", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			e := types.GraphEdge{}
			var tags string
			if err := rows.Scan(&e.Workspace, &e.Branch, &e.Doc, &e.FromID, &e.Rel, &e.ToID, &tags, &e.MetadataJSON, &e.Version, &e.LastSeq, &e.CreatedAtMs, &e.UpdatedAtMs); err != nil {
				return types.Store("scan validate edge", err)
			}
			e.Tags = ids.DecodeTags(tags)
			if strings.TrimSpace(e.Rel) == "" {
				report.EmptyRelations = append(report.EmptyRelations, e)
			}
			if !strings.HasPrefix(tags, "\n") && tags != "" {
				report.TagViolations = append(report.TagViolations, fmt.Sprintf("%s|%s|%s", e.FromID, e.Rel, e.ToID))
			}

			var fromExists, toExists bool
			nodeQuery := fmt.Sprintf(`SELECT COUNT(*) > 0 FROM graph_nodes WHERE workspace = ? AND doc = ? AND id = ? AND %s`, visClause)
			if err := tx.QueryRowContext(ctx, nodeQuery, append([]any{workspace, doc, e.FromID}, visArgs...)...).Scan(&fromExists); err != nil {
				return types.Store("validate from endpoint", err)
			}
			if err := tx.QueryRowContext(ctx, nodeQuery, append([]any{workspace, doc, e.ToID}, visArgs...)...).Scan(&toExists); err != nil {
				return types.Store("validate to endpoint", err)
			}
			if !fromExists || !toExists {
				report.DanglingEdges = append(report.DanglingEdges, e)
			}
		}
		return rows.Err()
	})
	return report, err
}
