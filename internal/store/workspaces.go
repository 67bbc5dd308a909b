package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/branchmind/reasonstore/internal/ids"
	"github.com/branchmind/reasonstore/internal/types"
)

// WorkspaceInit creates the workspace row if it does not already exist.
// Workspaces are otherwise created lazily on first write (spec §3), so
// this is the explicit, idempotent entry point hosts call up front.
func (s *Store) WorkspaceInit(ctx context.Context, workspace string) error {
	if err := ids.ValidateWorkspaceID(workspace); err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return s.ensureWorkspace(ctx, tx, workspace)
	})
}

func (s *Store) ensureWorkspace(ctx context.Context, tx *sql.Tx, workspace string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, created_at_ms) VALUES (?, ?)
		ON CONFLICT (id) DO NOTHING
	`, workspace, s.nowMs())
	if err != nil {
		return types.Store("ensure workspace", err)
	}
	return nil
}

// ListWorkspaces returns up to limit workspace ids starting at offset,
// ordered by id.
func (s *Store) ListWorkspaces(ctx context.Context, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []string
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM workspaces ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return types.Store("list workspaces", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return types.Store("scan workspace", err)
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}

// WorkspaceProjectGuardGet returns the workspace's project_guard, or nil
// if unset, the workspace doesn't exist, or the store's schema predates
// the column (read-only compatibility, spec §4.2/§8 property 9).
func (s *Store) WorkspaceProjectGuardGet(ctx context.Context, workspace string) (*string, error) {
	var guard *string
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT project_guard FROM workspaces WHERE id = ?`, workspace)
		scanErr := row.Scan(&guard)
		if scanErr == sql.ErrNoRows {
			guard = nil
			return nil
		}
		if scanErr != nil {
			if isMissingColumn(scanErr) {
				guard = nil
				return nil
			}
			return types.Store("get project guard", scanErr)
		}
		return nil
	})
	return guard, err
}

func isMissingColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such column")
}

// BranchCreate registers a branch, optionally parented on baseBranch at
// baseSeq. Fails with BRANCH_ALREADY_EXISTS if the name is taken.
func (s *Store) BranchCreate(ctx context.Context, workspace, branch string, baseBranch *string, baseSeq *int64) error {
	if err := ids.ValidateWorkspaceID(workspace); err != nil {
		return err
	}
	if err := ids.ValidateBranchName(branch); err != nil {
		return err
	}
	if baseBranch != nil {
		if err := ids.ValidateBranchName(*baseBranch); err != nil {
			return err
		}
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureWorkspace(ctx, tx, workspace); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM branches WHERE workspace = ? AND name = ?`, workspace, branch).Scan(&exists); err != nil {
			return types.Store("check branch exists", err)
		}
		if exists {
			return types.BranchAlreadyExists(branch)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO branches (workspace, name, base_branch, base_seq, created_at_ms)
			VALUES (?, ?, ?, ?, ?)
		`, workspace, branch, baseBranch, baseSeq, s.nowMs())
		if err != nil {
			return types.Store("create branch", err)
		}
		return nil
	})
}

// BranchRename renames a branch, failing with UNKNOWN_BRANCH if from
// doesn't exist or BRANCH_ALREADY_EXISTS if to is taken.
func (s *Store) BranchRename(ctx context.Context, workspace, from, to string) error {
	if err := ids.ValidateBranchName(to); err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM branches WHERE workspace = ? AND name = ?`, workspace, from).Scan(&exists); err != nil {
			return types.Store("check branch", err)
		}
		if !exists {
			return types.UnknownBranch(from)
		}
		var toExists bool
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM branches WHERE workspace = ? AND name = ?`, workspace, to).Scan(&toExists); err != nil {
			return types.Store("check target branch", err)
		}
		if toExists {
			return types.BranchAlreadyExists(to)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE branches SET name = ? WHERE workspace = ? AND name = ?`, to, workspace, from); err != nil {
			return types.Store("rename branch", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE branches SET base_branch = ? WHERE workspace = ? AND base_branch = ?`, to, workspace, from); err != nil {
			return types.Store("repoint children", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET branch = ? WHERE workspace = ? AND branch = ?`, to, workspace, from); err != nil {
			return types.Store("rename documents", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE doc_entries SET branch = ? WHERE workspace = ? AND branch = ?`, to, workspace, from); err != nil {
			return types.Store("rename doc entries", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE checkouts SET branch = ? WHERE workspace = ? AND branch = ?`, to, workspace, from); err != nil {
			return types.Store("rename checkout", err)
		}
		return nil
	})
}

// BranchCheckoutGet returns the workspace's current checkout branch, or
// "" if none has been set.
func (s *Store) BranchCheckoutGet(ctx context.Context, workspace string) (string, error) {
	var branch string
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT branch FROM checkouts WHERE workspace = ?`, workspace)
		err := row.Scan(&branch)
		if err == sql.ErrNoRows {
			branch = ""
			return nil
		}
		if err != nil {
			return types.Store("get checkout", err)
		}
		return nil
	})
	return branch, err
}

// BranchCheckoutSet records the workspace's current checkout branch.
func (s *Store) BranchCheckoutSet(ctx context.Context, workspace, branch string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkouts (workspace, branch) VALUES (?, ?)
			ON CONFLICT (workspace) DO UPDATE SET branch = excluded.branch
		`, workspace, branch)
		if err != nil {
			return types.Store("set checkout", err)
		}
		return nil
	})
}

// BranchExists reports whether branch is reachable: registered in
// branches, referenced by a reasoning ref, or the branch of any doc
// entry (spec §4.3's permissive, inclusive definition; legacy stores
// with only doc_entries rows still count). The read path never
// back-fills `branches` for such implicit branches (spec §9 open
// question).
func (s *Store) BranchExists(ctx context.Context, workspace, branch string) (bool, error) {
	var exists bool
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT
				EXISTS(SELECT 1 FROM branches WHERE workspace = ? AND name = ?)
				OR EXISTS(SELECT 1 FROM reasoning_refs WHERE workspace = ? AND branch = ?)
				OR EXISTS(SELECT 1 FROM doc_entries WHERE workspace = ? AND branch = ?)
		`, workspace, branch, workspace, branch, workspace, branch)
		if err := row.Scan(&exists); err != nil {
			return types.Store("check branch exists", err)
		}
		return nil
	})
	return exists, err
}

// BranchBaseInfo returns the registered (base_branch, base_seq) for
// branch, or (nil, nil) if branch has no base (or isn't registered).
func (s *Store) BranchBaseInfo(ctx context.Context, workspace, branch string) (*string, *int64, error) {
	var base *string
	var seq *int64
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT base_branch, base_seq FROM branches WHERE workspace = ? AND name = ?`, workspace, branch)
		err := row.Scan(&base, &seq)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return types.Store("get base info", err)
		}
		return nil
	})
	return base, seq, err
}

// Sources resolves branch's ancestry into an ordered list of
// BranchSource, starting from branch itself (no cutoff, meaning its
// tip) and walking each base_branch link, stamping every ancestor with
// the base_seq recorded at the point of descent (spec §3, §4.3). A
// cycle is a fatal invariant violation, surfaced as STORE_ERROR rather
// than looping forever.
func (s *Store) Sources(ctx context.Context, workspace, branch string) ([]types.BranchSource, error) {
	var out []types.BranchSource
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		visited := map[string]bool{}
		current := branch
		var cutoff *int64 // nil for the leaf's own tip

		for {
			if visited[current] {
				return types.Store("resolve sources", fmt.Errorf("cycle detected in branch ancestry at %q", current))
			}
			visited[current] = true
			out = append(out, types.BranchSource{Branch: current, CutoffSeq: cutoff})

			var base *string
			var baseSeq *int64
			row := tx.QueryRowContext(ctx, `SELECT base_branch, base_seq FROM branches WHERE workspace = ? AND name = ?`, workspace, current)
			err := row.Scan(&base, &baseSeq)
			if err == sql.ErrNoRows || base == nil {
				return nil
			}
			if err != nil {
				return types.Store("resolve sources", err)
			}
			current = *base
			cutoff = baseSeq
		}
	})
	return out, err
}
