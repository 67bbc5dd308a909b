package store

import (
	"context"
	"database/sql"

	"github.com/branchmind/reasonstore/internal/types"
)

// FocusSet upserts a workspace-scoped key/value pair, stamping the
// current time as set_at_ms (spec §4.11 "focus pointers").
func (s *Store) FocusSet(ctx context.Context, workspace, key, value string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureWorkspace(ctx, tx, workspace); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO focus (workspace, key, value, set_at_ms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (workspace, key) DO UPDATE SET value = excluded.value, set_at_ms = excluded.set_at_ms
		`, workspace, key, value, s.nowMs())
		if err != nil {
			return types.Store("set focus", err)
		}
		return nil
	})
}

// FocusGet returns the value set_at_ms pair for key, or
// (nil, nil) if key has never been set.
func (s *Store) FocusGet(ctx context.Context, workspace, key string) (*types.FocusEntry, error) {
	var entry *types.FocusEntry
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var e types.FocusEntry
		row := tx.QueryRowContext(ctx, `SELECT workspace, key, value, set_at_ms FROM focus WHERE workspace = ? AND key = ?`, workspace, key)
		if err := row.Scan(&e.Workspace, &e.Key, &e.Value, &e.SetAtMs); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return types.Store("get focus", err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// FocusClear deletes key if it exists; clearing an unset key is a no-op.
func (s *Store) FocusClear(ctx context.Context, workspace, key string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM focus WHERE workspace = ? AND key = ?`, workspace, key); err != nil {
			return types.Store("clear focus", err)
		}
		return nil
	})
}

// FocusList returns every focus entry in a workspace, ordered by key.
func (s *Store) FocusList(ctx context.Context, workspace string) ([]types.FocusEntry, error) {
	var out []types.FocusEntry
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT workspace, key, value, set_at_ms FROM focus WHERE workspace = ? ORDER BY key ASC`, workspace)
		if err != nil {
			return types.Store("list focus", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var e types.FocusEntry
			if err := rows.Scan(&e.Workspace, &e.Key, &e.Value, &e.SetAtMs); err != nil {
				return types.Store("scan focus", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}
