// Package types holds the plain data shapes the reasoning store operates
// on. Nothing in this package touches storage or validation; it is pure
// data so every other package can share one vocabulary.
package types

// Workspace is the top-level isolation boundary. It is created lazily on
// first write and never joins across other workspaces.
type Workspace struct {
	ID           string
	ProjectGuard *string // nil on stores migrated from a schema without the column
	CreatedAtMs  int64
}

// Branch is a named, optionally-parented view of a workspace.
type Branch struct {
	Workspace  string
	Name       string
	BaseBranch *string
	BaseSeq    *int64
	CreatedAtMs int64
}

// BranchSource is one resolved node of a branch's ancestry chain, used to
// filter doc-entry/graph visibility. CutoffSeq is nil for the querying
// branch's own tip.
type BranchSource struct {
	Branch    string
	CutoffSeq *int64
}

// DocKind enumerates the three kinds of per-branch document.
type DocKind string

const (
	DocKindNotes DocKind = "notes"
	DocKindTrace DocKind = "trace"
	DocKindGraph DocKind = "graph"
)

// Document is a lazily-created (workspace, branch, doc) container.
type Document struct {
	Workspace   string
	Branch      string
	Doc         string
	Kind        DocKind
	CreatedAtMs int64
	UpdatedAtMs int64
}

// EntryKind distinguishes a free-form note from a mirrored event.
type EntryKind string

const (
	EntryKindNote  EntryKind = "note"
	EntryKindEvent EntryKind = "event"
)

// DocEntry is one append-only row in a per-branch document, identified by
// a global (per-workspace) Seq.
type DocEntry struct {
	Seq           int64
	Workspace     string
	Branch        string
	Doc           string
	Kind          EntryKind
	TsMs          int64
	SourceEventID *string // set (and unique per workspace) only for EntryKindEvent
	NoteKind      string  // free-form for EntryKindNote, e.g. "note", "evidence"
	PayloadJSON   string
}

// EventRow is the canonical audit record for a C8 mutation.
type EventRow struct {
	Seq         int64
	Workspace   string
	TsMs        int64
	TaskID      *string
	Path        *string
	EventType   string
	PayloadJSON string
}

// TaskKind distinguishes tasks from plans, which share the same table.
type TaskKind string

const (
	KindTask TaskKind = "task"
	KindPlan TaskKind = "plan"
)

// Task is a revision-carrying unit of work; a Plan is the same shape with
// Kind == KindPlan and Parent == "".
type Task struct {
	Workspace   string
	ID          string
	Parent      string
	Kind        TaskKind
	Title       string
	Status      string
	Revision    int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// CheckpointMode indicates whether a checkpoint requires explicit proof
// before it can be considered satisfied.
type CheckpointMode int

const (
	CheckpointDefault      CheckpointMode = 0
	CheckpointProofRequired CheckpointMode = 1
)

// Checkpoint is one named gate (criteria/tests/security/perf/docs) on a
// step.
type Checkpoint struct {
	AutoConfirmed bool
	Mode          CheckpointMode
}

// Step is a node in a task's step tree, addressed by a dotted path
// ("s:0", "s:0.s:1", ...).
type Step struct {
	Workspace     string
	TaskID        string
	StepID        string
	Path          string
	Title         string
	Completed     bool
	CompletedAtMs *int64
	Blocked       bool
	BlockedReason string

	Criteria Checkpoint
	Tests    Checkpoint
	Security Checkpoint
	Perf     Checkpoint
	Docs     Checkpoint

	Revision    int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// TaskNode is a sub-item of a step, addressed by "<step_path>.t:<ordinal>".
type TaskNode struct {
	Workspace string
	TaskID    string
	NodeID    string
	Path      string
	Ordinal   int

	Title    string
	Status   string
	Priority string

	Blockers        []string
	Dependencies    []string
	NextSteps       []string
	Problems        []string
	Risks           []string
	SuccessCriteria []string

	Revision    int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// FocusEntry is a workspace-scoped key/value pointer (e.g. "current
// task", "active branch") that callers set to remember where attention
// is without re-deriving it from the task/step tree each time.
type FocusEntry struct {
	Workspace string
	Key       string
	Value     string
	SetAtMs   int64
}

// StepLease is a (task, step) hold by a caller-named holder, expiring at
// LeaseExpiresAtMs inclusive.
type StepLease struct {
	Workspace        string
	TaskID           string
	StepID           string
	Holder           string
	Token            string
	LeaseExpiresAtMs int64
}

// GraphNode is a typed, tagged entity in a graph document.
type GraphNode struct {
	Workspace    string
	Branch       string
	Doc          string
	ID           string
	Type         string
	Title        string
	Tags         []string
	MetadataJSON string
	Version      int64
	LastSeq      int64
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

// GraphEdge is a typed, tagged relation between two graph nodes.
type GraphEdge struct {
	Workspace    string
	Branch       string
	Doc          string
	FromID       string
	Rel          string
	ToID         string
	Tags         []string
	MetadataJSON string
	Version      int64
	LastSeq      int64
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

// ConflictStatus is the lifecycle state of a merge-back conflict row.
type ConflictStatus string

const (
	ConflictOpenStatus     ConflictStatus = "open"
	ConflictResolvedStatus ConflictStatus = "resolved"
)

// ConflictRow is a materialized, deduplicated merge-back conflict.
type ConflictRow struct {
	Workspace     string
	ConflictID    string
	FromBranch    string
	IntoBranch    string
	Doc           string
	Kind          string // "node" | "edge"
	Key           string
	BaseCutoffSeq *int64
	TheirsSeq     int64
	OursSeq       int64
	Status        ConflictStatus
	Resolution    string // "theirs" | "ours" | "custom" once resolved
	CreatedAtMs   int64
	ResolvedAtMs  *int64
}

// ReasoningRef is the derived (branch, notes_doc, graph_doc, trace_doc)
// tuple for a task or plan.
type ReasoningRef struct {
	Workspace string
	ID        string
	Kind      TaskKind
	Branch    string
	NotesDoc  string
	GraphDoc  string
	TraceDoc  string
	Persisted bool // false when returned by a read-only resolution
}

// OpsHistoryRow is one entry in the undo/redo journal.
type OpsHistoryRow struct {
	Seq         int64
	Workspace   string
	TsMs        int64
	TaskID      *string
	Path        *string
	Intent      string
	PayloadJSON string
	BeforeJSON  string
	AfterJSON   string
	Undoable    bool
	Undone      bool
}

// GraphQueryRequest filters and paginates graph_query.
type GraphQueryRequest struct {
	Branch       string
	Doc          string
	Type         string
	TagsAll      []string
	TagsAny      []string
	Text         string
	IDs          []string
	Cursor       *int64
	Limit        int
	IncludeEdges bool
	EdgesLimit   int
}

// GraphQueryResult is the paginated result of graph_query.
type GraphQueryResult struct {
	Nodes      []*GraphNode
	Edges      []*GraphEdge
	HasMore    bool
	NextCursor *int64
}
