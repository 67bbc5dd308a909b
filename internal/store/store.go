// Package store implements the reasoning store: the multi-branch
// document + graph store (C4-C7, C10-C11) and the task/step/node state
// machine with its undo journal (C8-C9) built on top of it.
//
// Every mutating public method runs inside a single write transaction per
// the store's concurrency model (see spec §5): there is exactly one writer
// lock per Store handle. Reads run in read-only transactions on the same
// handle rather than on a separate read pool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/branchmind/reasonstore/internal/clock"

	_ "modernc.org/sqlite"
)

// isBusyErr reports whether err looks like a transient SQLITE_BUSY /
// "database is locked" condition worth retrying, the same substring
// check the teacher's sqlite layer uses around its own writer lock.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Store is the façade every operation in C4-C11 hangs off. It wraps a
// single *sql.DB and centralizes transactions the way the teacher's
// SQLiteStorage does: no caller ever sees a raw connection.
type Store struct {
	db    *sql.DB
	clock clock.Clock
	log   *slog.Logger

	// writeMu serializes write transactions, modeling the single
	// exclusive writer lock described in spec §5. modernc.org/sqlite
	// itself should already serialize via the connection pool + SQLite's
	// file lock, but we make the invariant explicit and independent of
	// driver behavior.
	writeMu sync.Mutex
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithClock overrides the default system clock (used by tests to get
// deterministic, strictly-increasing timestamps).
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if necessary) the SQLite database at path,
// applies the DDL and any pending migrations, and returns a ready Store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if !strings.Contains(path, "mode=memory") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// A single writer: cap the pool so SQLite's own file lock and our
	// writeMu never disagree about how many writers exist at once.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, clock: clock.System{}, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens a store for read-only access. It applies neither
// the DDL nor migrations (so a store written under an older schema opens
// for reading even when an optional column is missing). Unlike Open, it
// opens the file with mode=ro and does not cap the connection pool.
func OpenReadOnly(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening read-only store: %w", err)
	}
	s := &Store{db: db, clock: clock.System{}, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteTx runs fn inside a single write transaction, serialized by
// writeMu, committing on success and rolling back on any error or panic.
// Every C4-C11 mutation goes through this so validation, event
// append, doc projection, ops-history snapshot, and revision bump happen
// atomically, as spec §3 "Entity lifecycle" requires.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return clock.BusyRetry(ctx, isBusyErr, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		committed = true
		return nil
	})
}

// withReadTx runs fn inside a read-only transaction. Readers share the
// same handle as writers and therefore serialize behind in-flight writes
// (spec §5). They do not take writeMu, but Open caps the pool at one
// connection, so reads on a Store opened with Open also run one at a
// time.
func (s *Store) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

func (s *Store) nowMs() int64 { return s.clock.NowMs() }
