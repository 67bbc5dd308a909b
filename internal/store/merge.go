package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/branchmind/reasonstore/internal/idgen"
	"github.com/branchmind/reasonstore/internal/ids"
	"github.com/branchmind/reasonstore/internal/types"
)

// DiffEntity is one node or edge whose state differs between two
// branches on a doc (spec §4.6).
type DiffEntity struct {
	Kind      string // "node" | "edge"
	Key       string
	TheirsSeq int64 // 0 when absent on from
	OursSeq   int64 // 0 when absent on into

	TheirsNode *types.GraphNode
	OursNode   *types.GraphNode
	TheirsEdge *types.GraphEdge
	OursEdge   *types.GraphEdge

	ConflictID string // set only for both-changed entities
	DiffText   string // human-readable diff, set only for both-changed entities
}

// GraphDiff is the full partition graph_diff computes between from and
// into over doc.
type GraphDiff struct {
	BaseCutoffSeq *int64
	TheirsOnly    []DiffEntity
	OursOnly      []DiffEntity
	BothChanged   []DiffEntity
}

// resolveBaseCutoffSeq finds the cutoff at which from and into share
// ancestry: if from was branched off into directly, that's from's
// recorded base_seq; if into was branched off from, it's into's. When
// neither relation is registered the two branches have no known common
// point and the whole history of each is compared (spec §9 open
// question — the distilled spec doesn't define this precisely for
// unrelated branches).
func (s *Store) resolveBaseCutoffSeq(ctx context.Context, workspace, from, into string) (*int64, error) {
	fromBase, fromSeq, err := s.BranchBaseInfo(ctx, workspace, from)
	if err != nil {
		return nil, err
	}
	if fromBase != nil && *fromBase == into {
		return fromSeq, nil
	}
	intoBase, intoSeq, err := s.BranchBaseInfo(ctx, workspace, into)
	if err != nil {
		return nil, err
	}
	if intoBase != nil && *intoBase == from {
		return intoSeq, nil
	}
	return nil, nil
}

func (s *Store) loadVisibleNodes(ctx context.Context, tx *sql.Tx, workspace, branch, doc string) (map[string]*types.GraphNode, error) {
	sources, err := s.Sources(ctx, workspace, branch)
	if err != nil {
		return nil, err
	}
	clause, args := visibilityClause(sources)
	query := fmt.Sprintf(`
		SELECT workspace, branch, doc, id, type, title, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms
		FROM graph_nodes WHERE workspace = ? AND doc = ? AND %s
	`, clause)
	rows, err := tx.QueryContext(ctx, query, append([]any{workspace, doc}, args...)...)
	if err != nil {
		return nil, types.Store("load visible nodes", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]*types.GraphNode{}
	for rows.Next() {
		n := &types.GraphNode{}
		var tags string
		if err := rows.Scan(&n.Workspace, &n.Branch, &n.Doc, &n.ID, &n.Type, &n.Title, &tags, &n.MetadataJSON, &n.Version, &n.LastSeq, &n.CreatedAtMs, &n.UpdatedAtMs); err != nil {
			return nil, types.Store("scan visible node", err)
		}
		n.Tags = ids.DecodeTags(tags)
		out[n.ID] = n
	}
	return out, rows.Err()
}

func (s *Store) loadVisibleEdges(ctx context.Context, tx *sql.Tx, workspace, branch, doc string) (map[string]*types.GraphEdge, error) {
	sources, err := s.Sources(ctx, workspace, branch)
	if err != nil {
		return nil, err
	}
	clause, args := visibilityClause(sources)
	query := fmt.Sprintf(`
		SELECT workspace, branch, doc, from_id, rel, to_id, tags, metadata_json, version, last_seq, created_at_ms, updated_at_ms
		FROM graph_edges WHERE workspace = ? AND doc = ? AND %s
	`, clause)
	rows, err := tx.QueryContext(ctx, query, append([]any{workspace, doc}, args...)...)
	if err != nil {
		return nil, types.Store("load visible edges", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]*types.GraphEdge{}
	for rows.Next() {
		e := &types.GraphEdge{}
		var tags string
		if err := rows.Scan(&e.Workspace, &e.Branch, &e.Doc, &e.FromID, &e.Rel, &e.ToID, &tags, &e.MetadataJSON, &e.Version, &e.LastSeq, &e.CreatedAtMs, &e.UpdatedAtMs); err != nil {
			return nil, types.Store("scan visible edge", err)
		}
		e.Tags = ids.DecodeTags(tags)
		key := e.FromID + "|" + e.Rel + "|" + e.ToID
		out[key] = e
	}
	return out, rows.Err()
}

func nodeSnapshot(n *types.GraphNode) string {
	b, _ := json.Marshal(struct {
		Type     string   `json:"type"`
		Title    string   `json:"title"`
		Tags     []string `json:"tags"`
		Metadata string   `json:"metadata_json"`
	}{n.Type, n.Title, n.Tags, n.MetadataJSON})
	return string(b)
}

func edgeSnapshot(e *types.GraphEdge) string {
	b, _ := json.Marshal(struct {
		Tags     []string `json:"tags"`
		Metadata string   `json:"metadata_json"`
	}{e.Tags, e.MetadataJSON})
	return string(b)
}

// diffText renders a human-readable inline diff (diffmatchpatch's
// ANSI-colored pretty text) between two entity
// snapshots, for dry-run reporting (spec §4.6's merge-back planning
// output).
func diffText(theirs, ours string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(ours, theirs, false)
	return dmp.DiffPrettyText(diffs)
}

// GraphDiff computes the theirs-only / ours-only / both-changed
// partition of doc's entities between from and into (spec §4.6).
func (s *Store) GraphDiff(ctx context.Context, workspace, from, into, doc string) (*GraphDiff, error) {
	baseCutoff, err := s.resolveBaseCutoffSeq(ctx, workspace, from, into)
	if err != nil {
		return nil, err
	}
	baseCutoffVal := int64(-1)
	if baseCutoff != nil {
		baseCutoffVal = *baseCutoff
	}

	diff := &GraphDiff{BaseCutoffSeq: baseCutoff}
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		theirsNodes, err := s.loadVisibleNodes(ctx, tx, workspace, from, doc)
		if err != nil {
			return err
		}
		oursNodes, err := s.loadVisibleNodes(ctx, tx, workspace, into, doc)
		if err != nil {
			return err
		}
		theirsEdges, err := s.loadVisibleEdges(ctx, tx, workspace, from, doc)
		if err != nil {
			return err
		}
		oursEdges, err := s.loadVisibleEdges(ctx, tx, workspace, into, doc)
		if err != nil {
			return err
		}

		for id, tn := range theirsNodes {
			on, ok := oursNodes[id]
			if !ok {
				diff.TheirsOnly = append(diff.TheirsOnly, DiffEntity{Kind: "node", Key: id, TheirsSeq: tn.LastSeq, TheirsNode: tn})
				continue
			}
			if nodeSnapshot(tn) == nodeSnapshot(on) {
				continue
			}
			e := DiffEntity{Kind: "node", Key: id, TheirsSeq: tn.LastSeq, OursSeq: on.LastSeq, TheirsNode: tn, OursNode: on}
			e.ConflictID = idgen.ConflictID(idgen.ConflictFields{
				Workspace: workspace, FromBranch: from, IntoBranch: into, Doc: doc,
				Kind: e.Kind, Key: e.Key, BaseCutoffSeq: baseCutoffVal, TheirsSeq: e.TheirsSeq, OursSeq: e.OursSeq,
			})
			e.DiffText = diffText(nodeSnapshot(tn), nodeSnapshot(on))
			diff.BothChanged = append(diff.BothChanged, e)
		}
		for id, on := range oursNodes {
			if _, ok := theirsNodes[id]; !ok {
				diff.OursOnly = append(diff.OursOnly, DiffEntity{Kind: "node", Key: id, OursSeq: on.LastSeq, OursNode: on})
			}
		}

		for key, te := range theirsEdges {
			oe, ok := oursEdges[key]
			if !ok {
				diff.TheirsOnly = append(diff.TheirsOnly, DiffEntity{Kind: "edge", Key: key, TheirsSeq: te.LastSeq, TheirsEdge: te})
				continue
			}
			if edgeSnapshot(te) == edgeSnapshot(oe) {
				continue
			}
			e := DiffEntity{Kind: "edge", Key: key, TheirsSeq: te.LastSeq, OursSeq: oe.LastSeq, TheirsEdge: te, OursEdge: oe}
			e.ConflictID = idgen.ConflictID(idgen.ConflictFields{
				Workspace: workspace, FromBranch: from, IntoBranch: into, Doc: doc,
				Kind: e.Kind, Key: e.Key, BaseCutoffSeq: baseCutoffVal, TheirsSeq: e.TheirsSeq, OursSeq: e.OursSeq,
			})
			e.DiffText = diffText(edgeSnapshot(te), edgeSnapshot(oe))
			diff.BothChanged = append(diff.BothChanged, e)
		}
		for key, oe := range oursEdges {
			if _, ok := theirsEdges[key]; !ok {
				diff.OursOnly = append(diff.OursOnly, DiffEntity{Kind: "edge", Key: key, OursSeq: oe.LastSeq, OursEdge: oe})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortEntities := func(entities []DiffEntity) {
		sort.Slice(entities, func(i, j int) bool {
			if entities[i].Kind != entities[j].Kind {
				return entities[i].Kind < entities[j].Kind
			}
			return entities[i].Key < entities[j].Key
		})
	}
	sortEntities(diff.TheirsOnly)
	sortEntities(diff.OursOnly)
	sortEntities(diff.BothChanged)
	return diff, nil
}

// MergeBackRequest parameterizes graph_merge_back's batch walk.
type MergeBackRequest struct {
	From   string
	Into   string
	Doc    string
	Cursor string // "<kind>|<key>" of the last processed entity, "" for the start
	Limit  int
	DryRun bool
}

// MergeBackResult reports what graph_merge_back did (or, for a dry
// run, would do).
type MergeBackResult struct {
	AppliedNodes []string
	AppliedEdges []string
	Conflicts    []types.ConflictRow
	HasMore      bool
	NextCursor   string
}

func entityCursor(e DiffEntity) string { return e.Kind + "|" + e.Key }

// GraphMergeBack walks the theirs-only/both-changed entities of
// GraphDiff(from, into, doc) in cursor-paginated batches, projecting
// theirs-only entities onto into and recording deduplicated conflict
// rows for both-changed ones (spec §4.6).
func (s *Store) GraphMergeBack(ctx context.Context, workspace string, req MergeBackRequest) (*MergeBackResult, error) {
	limit := req.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	diff, err := s.GraphDiff(ctx, workspace, req.From, req.Into, req.Doc)
	if err != nil {
		return nil, err
	}

	actionable := append([]DiffEntity{}, diff.TheirsOnly...)
	actionable = append(actionable, diff.BothChanged...)
	sort.Slice(actionable, func(i, j int) bool {
		if actionable[i].Kind != actionable[j].Kind {
			return actionable[i].Kind < actionable[j].Kind
		}
		return actionable[i].Key < actionable[j].Key
	})

	start := 0
	if req.Cursor != "" {
		for i, e := range actionable {
			if entityCursor(e) == req.Cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	hasMore := false
	if end < len(actionable) {
		hasMore = true
	} else {
		end = len(actionable)
	}
	page := actionable[start:end]

	result := &MergeBackResult{HasMore: hasMore}
	if hasMore && len(page) > 0 {
		result.NextCursor = entityCursor(page[len(page)-1])
	}

	baseCutoffVal := int64(-1)
	if diff.BaseCutoffSeq != nil {
		baseCutoffVal = *diff.BaseCutoffSeq
	}

	apply := func(tx *sql.Tx) error {
		for _, e := range page {
			switch {
			case e.ConflictID != "":
				row, err := s.upsertConflictRow(ctx, tx, workspace, req.From, req.Into, req.Doc, e, baseCutoffVal)
				if err != nil {
					return err
				}
				result.Conflicts = append(result.Conflicts, *row)
			case e.Kind == "node":
				op, err := theirsOnlyNodeOp(e, req.From)
				if err != nil {
					return err
				}
				if _, err := s.applyGraphOp(ctx, tx, workspace, req.Into, req.Doc, op); err != nil {
					return err
				}
				result.AppliedNodes = append(result.AppliedNodes, e.Key)
			case e.Kind == "edge":
				op, err := theirsOnlyEdgeOp(e, req.From)
				if err != nil {
					return err
				}
				if _, err := s.applyGraphOp(ctx, tx, workspace, req.Into, req.Doc, op); err != nil {
					return err
				}
				result.AppliedEdges = append(result.AppliedEdges, e.Key)
			}
		}
		return nil
	}

	if req.DryRun {
		// Still surface conflict rows that would be recorded, without
		// persisting them or applying any theirs-only upsert.
		for _, e := range page {
			if e.ConflictID == "" {
				continue
			}
			result.Conflicts = append(result.Conflicts, types.ConflictRow{
				Workspace: workspace, ConflictID: e.ConflictID, FromBranch: req.From, IntoBranch: req.Into,
				Doc: req.Doc, Kind: e.Kind, Key: e.Key, BaseCutoffSeq: diff.BaseCutoffSeq,
				TheirsSeq: e.TheirsSeq, OursSeq: e.OursSeq, Status: types.ConflictOpenStatus,
			})
		}
		return result, nil
	}

	if err := s.withWriteTx(ctx, apply); err != nil {
		return nil, err
	}
	return result, nil
}

func theirsOnlyNodeOp(e DiffEntity, from string) (GraphOp, error) {
	meta, err := mergeProvenanceMeta(e.TheirsNode.MetadataJSON, from, e.TheirsSeq, e.TheirsNode.UpdatedAtMs)
	if err != nil {
		return GraphOp{}, err
	}
	return GraphOp{
		Kind: OpUpsertNode, NodeID: e.TheirsNode.ID, Type: e.TheirsNode.Type, Title: e.TheirsNode.Title,
		Tags: e.TheirsNode.Tags, MetadataJSON: meta,
	}, nil
}

func theirsOnlyEdgeOp(e DiffEntity, from string) (GraphOp, error) {
	meta, err := mergeProvenanceMeta(e.TheirsEdge.MetadataJSON, from, e.TheirsSeq, e.TheirsEdge.UpdatedAtMs)
	if err != nil {
		return GraphOp{}, err
	}
	return GraphOp{
		Kind: OpUpsertEdge, EdgeFrom: e.TheirsEdge.FromID, EdgeRel: e.TheirsEdge.Rel, EdgeTo: e.TheirsEdge.ToID,
		Tags: e.TheirsEdge.Tags, MetadataJSON: meta,
	}, nil
}

// mergeProvenanceMeta nests existing structural metadata under "_meta"
// (or, when it isn't valid JSON, under "_meta_raw") and stamps "_merge"
// with the provenance the projected upsert carries (spec §4.6).
func mergeProvenanceMeta(existingJSON, from string, fromSeq, fromTsMs int64) (string, error) {
	if existingJSON == "" {
		existingJSON = "{}"
	}
	out := "{}"
	var err error
	switch {
	case gjson.Valid(existingJSON) && strings.TrimSpace(existingJSON) != "{}":
		out, err = sjson.SetRaw(out, "_meta", existingJSON)
		if err != nil {
			return "", types.Store("nest merge metadata", err)
		}
	case strings.TrimSpace(existingJSON) != "" && strings.TrimSpace(existingJSON) != "{}":
		// Pre-existing metadata that isn't valid JSON is preserved as a
		// raw string under "_meta_raw" rather than silently dropped
		// (spec §6).
		out, err = sjson.Set(out, "_meta_raw", existingJSON)
		if err != nil {
			return "", types.Store("nest raw merge metadata", err)
		}
	}
	out, err = sjson.Set(out, "_merge.from", from)
	if err != nil {
		return "", types.Store("stamp merge from", err)
	}
	out, err = sjson.Set(out, "_merge.from_seq", fromSeq)
	if err != nil {
		return "", types.Store("stamp merge from_seq", err)
	}
	out, err = sjson.Set(out, "_merge.from_ts_ms", fromTsMs)
	if err != nil {
		return "", types.Store("stamp merge from_ts_ms", err)
	}
	return out, nil
}

// upsertConflictRow inserts a new open conflict row for e's signature,
// or returns the existing row unmodified if one with the same
// conflict_id is already recorded, whatever its status (spec §4.6's
// dedup rule).
func (s *Store) upsertConflictRow(ctx context.Context, tx *sql.Tx, workspace, from, into, doc string, e DiffEntity, baseCutoffVal int64) (*types.ConflictRow, error) {
	var existing types.ConflictRow
	var status string
	row := tx.QueryRowContext(ctx, `
		SELECT workspace, conflict_id, from_branch, into_branch, doc, kind, key, base_cutoff_seq, theirs_seq, ours_seq, status, resolution, created_at_ms, resolved_at_ms
		FROM conflicts WHERE workspace = ? AND conflict_id = ?
	`, workspace, e.ConflictID)
	scanErr := row.Scan(&existing.Workspace, &existing.ConflictID, &existing.FromBranch, &existing.IntoBranch, &existing.Doc,
		&existing.Kind, &existing.Key, &existing.BaseCutoffSeq, &existing.TheirsSeq, &existing.OursSeq, &status, &existing.Resolution,
		&existing.CreatedAtMs, &existing.ResolvedAtMs)
	if scanErr == nil {
		existing.Status = types.ConflictStatus(status)
		return &existing, nil
	}
	if scanErr != sql.ErrNoRows {
		return nil, types.Store("read conflict row", scanErr)
	}

	var baseCutoff *int64
	if baseCutoffVal >= 0 {
		v := baseCutoffVal
		baseCutoff = &v
	}
	now := s.nowMs()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conflicts (workspace, conflict_id, from_branch, into_branch, doc, kind, key, base_cutoff_seq, theirs_seq, ours_seq, status, resolution, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', '', ?)
	`, workspace, e.ConflictID, from, into, doc, e.Kind, e.Key, baseCutoff, e.TheirsSeq, e.OursSeq, now)
	if err != nil {
		return nil, types.Store("insert conflict row", err)
	}
	return &types.ConflictRow{
		Workspace: workspace, ConflictID: e.ConflictID, FromBranch: from, IntoBranch: into, Doc: doc,
		Kind: e.Kind, Key: e.Key, BaseCutoffSeq: baseCutoff, TheirsSeq: e.TheirsSeq, OursSeq: e.OursSeq,
		Status: types.ConflictOpenStatus, CreatedAtMs: now,
	}, nil
}

// ConflictResolution describes how graph_conflict_resolve should settle
// an open conflict.
type ConflictResolution struct {
	Mode string // "theirs" | "ours" | "custom"

	CustomType         string
	CustomTitle        string
	CustomTags         []string
	CustomMetadataJSON string
}

// GraphConflictResolve applies res to the conflict's destination
// branch as a fresh upsert, marks the row resolved, and emits a
// conflict_resolved event (spec §4.6).
func (s *Store) GraphConflictResolve(ctx context.Context, workspace, conflictID string, res ConflictResolution) error {
	if err := ids.ValidateConflictID(conflictID); err != nil {
		return err
	}
	if res.Mode != "theirs" && res.Mode != "ours" && res.Mode != "custom" {
		return types.InvalidInput("resolution", "must be theirs, ours, or custom, got %q", res.Mode)
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var c types.ConflictRow
		var status string
		row := tx.QueryRowContext(ctx, `
			SELECT workspace, conflict_id, from_branch, into_branch, doc, kind, key, base_cutoff_seq, theirs_seq, ours_seq, status, resolution, created_at_ms, resolved_at_ms
			FROM conflicts WHERE workspace = ? AND conflict_id = ?
		`, workspace, conflictID)
		if err := row.Scan(&c.Workspace, &c.ConflictID, &c.FromBranch, &c.IntoBranch, &c.Doc, &c.Kind, &c.Key,
			&c.BaseCutoffSeq, &c.TheirsSeq, &c.OursSeq, &status, &c.Resolution, &c.CreatedAtMs, &c.ResolvedAtMs); err != nil {
			if err == sql.ErrNoRows {
				return types.UnknownID("conflict %s not found", conflictID)
			}
			return types.Store("read conflict", err)
		}

		op, err := s.resolutionToOp(ctx, tx, workspace, c, res)
		if err != nil {
			return err
		}
		if _, err := s.applyGraphOp(ctx, tx, workspace, c.IntoBranch, c.Doc, op); err != nil {
			return err
		}

		now := s.nowMs()
		if _, err := tx.ExecContext(ctx, `
			UPDATE conflicts SET status = 'resolved', resolution = ?, resolved_at_ms = ?
			WHERE workspace = ? AND conflict_id = ?
		`, res.Mode, now, workspace, conflictID); err != nil {
			return types.Store("resolve conflict", err)
		}

		seq, err := s.nextSeq(ctx, tx, workspace)
		if err != nil {
			return err
		}
		payload := fmt.Sprintf(`{"conflict_id":%q,"resolution":%q}`, conflictID, res.Mode)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (seq, workspace, ts_ms, task_id, path, event_type, payload_json)
			VALUES (?, ?, ?, NULL, NULL, 'conflict_resolved', ?)
		`, seq, workspace, now, payload); err != nil {
			return types.Store("record conflict_resolved event", err)
		}
		return nil
	})
}

func (s *Store) resolutionToOp(ctx context.Context, tx *sql.Tx, workspace string, c types.ConflictRow, res ConflictResolution) (GraphOp, error) {
	switch res.Mode {
	case "custom":
		if c.Kind == "node" {
			return GraphOp{Kind: OpUpsertNode, NodeID: c.Key, Type: res.CustomType, Title: res.CustomTitle, Tags: res.CustomTags, MetadataJSON: res.CustomMetadataJSON}, nil
		}
		parts := strings.SplitN(c.Key, "|", 3)
		if len(parts) != 3 {
			return GraphOp{}, types.Store("parse edge key", fmt.Errorf("malformed edge key %q", c.Key))
		}
		return GraphOp{Kind: OpUpsertEdge, EdgeFrom: parts[0], EdgeRel: parts[1], EdgeTo: parts[2], Tags: res.CustomTags, MetadataJSON: res.CustomMetadataJSON}, nil
	case "theirs":
		branch := c.FromBranch
		return s.snapshotToOp(ctx, tx, workspace, branch, c)
	default: // "ours"
		branch := c.IntoBranch
		return s.snapshotToOp(ctx, tx, workspace, branch, c)
	}
}

func (s *Store) snapshotToOp(ctx context.Context, tx *sql.Tx, workspace, branch string, c types.ConflictRow) (GraphOp, error) {
	if c.Kind == "node" {
		nodes, err := s.loadVisibleNodes(ctx, tx, workspace, branch, c.Doc)
		if err != nil {
			return GraphOp{}, err
		}
		n, ok := nodes[c.Key]
		if !ok {
			return GraphOp{}, types.UnknownID("node %s not visible on %s", c.Key, branch)
		}
		return GraphOp{Kind: OpUpsertNode, NodeID: n.ID, Type: n.Type, Title: n.Title, Tags: n.Tags, MetadataJSON: n.MetadataJSON}, nil
	}
	edges, err := s.loadVisibleEdges(ctx, tx, workspace, branch, c.Doc)
	if err != nil {
		return GraphOp{}, err
	}
	e, ok := edges[c.Key]
	if !ok {
		return GraphOp{}, types.UnknownID("edge %s not visible on %s", c.Key, branch)
	}
	return GraphOp{Kind: OpUpsertEdge, EdgeFrom: e.FromID, EdgeRel: e.Rel, EdgeTo: e.ToID, Tags: e.Tags, MetadataJSON: e.MetadataJSON}, nil
}

// ConflictList returns conflict rows for (into, doc) filtered by
// status ("open", "resolved", or "" for all).
func (s *Store) ConflictList(ctx context.Context, workspace, into, doc, status string) ([]types.ConflictRow, error) {
	var out []types.ConflictRow
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT workspace, conflict_id, from_branch, into_branch, doc, kind, key, base_cutoff_seq, theirs_seq, ours_seq, status, resolution, created_at_ms, resolved_at_ms
			FROM conflicts WHERE workspace = ? AND into_branch = ? AND doc = ?
		`
		args := []any{workspace, into, doc}
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
		query += " ORDER BY created_at_ms ASC"
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return types.Store("list conflicts", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var c types.ConflictRow
			var st string
			if err := rows.Scan(&c.Workspace, &c.ConflictID, &c.FromBranch, &c.IntoBranch, &c.Doc, &c.Kind, &c.Key,
				&c.BaseCutoffSeq, &c.TheirsSeq, &c.OursSeq, &st, &c.Resolution, &c.CreatedAtMs, &c.ResolvedAtMs); err != nil {
				return types.Store("scan conflict", err)
			}
			c.Status = types.ConflictStatus(st)
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}
