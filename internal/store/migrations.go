package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migration is one ordered, idempotent schema change. Migrations only add
// columns; they never rewrite existing tables, so a store opened
// read-only on an older schema never fails just because an optional
// column like workspaces.project_guard is missing (spec §4.2, §5, §8
// testable property 9).
type migration struct {
	name string
	fn   func(ctx context.Context, db *sql.DB) error
}

var migrationList = []migration{
	{"project_guard_column", migrateProjectGuardColumn},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrationList {
		if err := m.fn(ctx, db); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

// columnExists detects a column by querying SQLite's table-info pragma,
// the primary detection method. addColumnIfMissing additionally tolerates
// a concurrent migration winning the race by treating a driver error
// whose message contains "duplicate column" as success, per spec §4.2's
// fallback detection method.
func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumnIfMissing(ctx context.Context, db *sql.DB, table, column, ddl string) error {
	exists, err := columnExists(ctx, db, table, column)
	if err != nil {
		return fmt.Errorf("checking %s.%s: %w", table, column, err)
	}
	if exists {
		return nil
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, table, ddl))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return nil
		}
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// migrateProjectGuardColumn adds workspaces.project_guard, an optional
// string used by hosts that want to pin a workspace to a project path.
// The store itself never requires it; workspace_project_guard_get simply
// returns nil when the column (or the row) carries no value.
func migrateProjectGuardColumn(ctx context.Context, db *sql.DB) error {
	return addColumnIfMissing(ctx, db, "workspaces", "project_guard", "project_guard TEXT")
}
