package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the full DDL, applied idempotently on every Open. It mirrors
// the teacher's single `const schema` string approach
// (internal/storage/ephemeral/schema.go) rather than a migration-only
// bootstrap, so a brand-new store and a long-lived one converge on the
// same tables.
const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
    id            TEXT PRIMARY KEY,
    created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
    workspace     TEXT NOT NULL,
    name          TEXT NOT NULL,
    base_branch   TEXT,
    base_seq      INTEGER,
    created_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, name)
);

CREATE TABLE IF NOT EXISTS checkouts (
    workspace TEXT PRIMARY KEY,
    branch    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
    workspace TEXT NOT NULL,
    name      TEXT NOT NULL,
    value     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (workspace, name)
);

CREATE TABLE IF NOT EXISTS documents (
    workspace     TEXT NOT NULL,
    branch        TEXT NOT NULL,
    doc           TEXT NOT NULL,
    kind          TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, branch, doc)
);

CREATE TABLE IF NOT EXISTS doc_entries (
    seq             INTEGER NOT NULL,
    workspace       TEXT NOT NULL,
    branch          TEXT NOT NULL,
    doc             TEXT NOT NULL,
    kind            TEXT NOT NULL,
    ts_ms           INTEGER NOT NULL,
    source_event_id TEXT,
    note_kind       TEXT,
    payload_json    TEXT NOT NULL,
    PRIMARY KEY (workspace, seq)
);

CREATE INDEX IF NOT EXISTS idx_doc_entries_branch_doc ON doc_entries(workspace, branch, doc, seq);
CREATE UNIQUE INDEX IF NOT EXISTS idx_doc_entries_source_event ON doc_entries(workspace, source_event_id)
    WHERE source_event_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS events (
    seq          INTEGER NOT NULL,
    workspace    TEXT NOT NULL,
    ts_ms        INTEGER NOT NULL,
    task_id      TEXT,
    path         TEXT,
    event_type   TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    PRIMARY KEY (workspace, seq)
);

CREATE INDEX IF NOT EXISTS idx_events_task ON events(workspace, task_id, seq);

CREATE TABLE IF NOT EXISTS tasks (
    workspace     TEXT NOT NULL,
    id            TEXT NOT NULL,
    parent        TEXT NOT NULL DEFAULT '',
    kind          TEXT NOT NULL,
    title         TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'open',
    revision      INTEGER NOT NULL DEFAULT 1,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS steps (
    workspace               TEXT NOT NULL,
    task_id                 TEXT NOT NULL,
    step_id                 TEXT NOT NULL,
    path                     TEXT NOT NULL,
    title                    TEXT NOT NULL DEFAULT '',
    completed                INTEGER NOT NULL DEFAULT 0,
    completed_at_ms          INTEGER,
    blocked                  INTEGER NOT NULL DEFAULT 0,
    blocked_reason           TEXT NOT NULL DEFAULT '',
    criteria_auto_confirmed  INTEGER NOT NULL DEFAULT 0,
    criteria_mode            INTEGER NOT NULL DEFAULT 0,
    tests_auto_confirmed     INTEGER NOT NULL DEFAULT 0,
    tests_mode               INTEGER NOT NULL DEFAULT 0,
    security_confirmed       INTEGER NOT NULL DEFAULT 0,
    security_mode            INTEGER NOT NULL DEFAULT 0,
    perf_confirmed           INTEGER NOT NULL DEFAULT 0,
    perf_mode                INTEGER NOT NULL DEFAULT 0,
    docs_confirmed           INTEGER NOT NULL DEFAULT 0,
    docs_mode                INTEGER NOT NULL DEFAULT 0,
    revision                 INTEGER NOT NULL DEFAULT 1,
    created_at_ms            INTEGER NOT NULL,
    updated_at_ms            INTEGER NOT NULL,
    PRIMARY KEY (workspace, task_id, step_id)
);

CREATE INDEX IF NOT EXISTS idx_steps_path ON steps(workspace, task_id, path);
CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_step_id ON steps(workspace, step_id);

CREATE TABLE IF NOT EXISTS step_leases (
    workspace           TEXT NOT NULL,
    task_id             TEXT NOT NULL,
    step_id             TEXT NOT NULL,
    holder              TEXT NOT NULL,
    token               TEXT NOT NULL,
    lease_expires_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, task_id, step_id)
);

CREATE TABLE IF NOT EXISTS task_nodes (
    workspace     TEXT NOT NULL,
    task_id       TEXT NOT NULL,
    node_id       TEXT NOT NULL,
    path          TEXT NOT NULL,
    ordinal       INTEGER NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT '',
    priority      TEXT NOT NULL DEFAULT '',
    blockers      TEXT NOT NULL DEFAULT '[]',
    dependencies  TEXT NOT NULL DEFAULT '[]',
    next_steps    TEXT NOT NULL DEFAULT '[]',
    problems      TEXT NOT NULL DEFAULT '[]',
    risks         TEXT NOT NULL DEFAULT '[]',
    success_criteria TEXT NOT NULL DEFAULT '[]',
    revision      INTEGER NOT NULL DEFAULT 1,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, task_id, node_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_task_nodes_ordinal
    ON task_nodes(workspace, task_id, path, ordinal);

CREATE TABLE IF NOT EXISTS graph_nodes (
    workspace     TEXT NOT NULL,
    branch        TEXT NOT NULL,
    doc           TEXT NOT NULL,
    id            TEXT NOT NULL,
    type          TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    tags          TEXT,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    version       INTEGER NOT NULL DEFAULT 0,
    last_seq      INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, branch, doc, id)
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_order ON graph_nodes(workspace, branch, doc, last_seq DESC, id ASC);

CREATE TABLE IF NOT EXISTS graph_edges (
    workspace     TEXT NOT NULL,
    branch        TEXT NOT NULL,
    doc           TEXT NOT NULL,
    from_id       TEXT NOT NULL,
    rel           TEXT NOT NULL,
    to_id         TEXT NOT NULL,
    tags          TEXT,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    version       INTEGER NOT NULL DEFAULT 0,
    last_seq      INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, branch, doc, from_id, rel, to_id)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges(workspace, branch, doc, from_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(workspace, branch, doc, to_id);

CREATE TABLE IF NOT EXISTS conflicts (
    workspace       TEXT NOT NULL,
    conflict_id     TEXT NOT NULL,
    from_branch     TEXT NOT NULL,
    into_branch     TEXT NOT NULL,
    doc             TEXT NOT NULL,
    kind            TEXT NOT NULL,
    key             TEXT NOT NULL,
    base_cutoff_seq INTEGER,
    theirs_seq      INTEGER NOT NULL,
    ours_seq        INTEGER NOT NULL,
    status          TEXT NOT NULL DEFAULT 'open',
    resolution      TEXT NOT NULL DEFAULT '',
    created_at_ms   INTEGER NOT NULL,
    resolved_at_ms  INTEGER,
    PRIMARY KEY (workspace, conflict_id)
);

CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(workspace, into_branch, doc, status);

CREATE TABLE IF NOT EXISTS reasoning_refs (
    workspace TEXT NOT NULL,
    id        TEXT NOT NULL,
    kind      TEXT NOT NULL,
    branch    TEXT NOT NULL,
    notes_doc TEXT NOT NULL,
    graph_doc TEXT NOT NULL,
    trace_doc TEXT NOT NULL,
    PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS ops_history (
    seq          INTEGER NOT NULL,
    workspace    TEXT NOT NULL,
    ts_ms        INTEGER NOT NULL,
    task_id      TEXT,
    path         TEXT,
    intent       TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    before_json  TEXT NOT NULL DEFAULT '{}',
    after_json   TEXT NOT NULL DEFAULT '{}',
    undoable     INTEGER NOT NULL DEFAULT 0,
    undone       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (workspace, seq)
);

CREATE INDEX IF NOT EXISTS idx_ops_history_task ON ops_history(workspace, task_id, seq DESC);

CREATE TABLE IF NOT EXISTS focus (
    workspace TEXT NOT NULL,
    key       TEXT NOT NULL,
    value     TEXT NOT NULL,
    set_at_ms INTEGER NOT NULL,
    PRIMARY KEY (workspace, key)
);
`

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM meta WHERE key = 'schema_version'`).Scan(&exists); err != nil {
		return fmt.Errorf("checking schema_version: %w", err)
	}
	if !exists {
		if _, err := db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('schema_version', 'v0')`); err != nil {
			return fmt.Errorf("seeding schema_version: %w", err)
		}
	}
	return nil
}
