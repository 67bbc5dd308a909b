package store

import (
	"context"
	"testing"

	"github.com/branchmind/reasonstore/internal/clock"
)

// newTestStore opens a file-backed store under t.TempDir() with a
// deterministic Fixed clock, mirroring the teacher's own
// temp-file-per-test isolation pattern.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := t.TempDir() + "/test.db"
	s, err := Open(ctx, path, WithClock(clock.NewFixed(1_700_000_000_000)))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("closing test store: %v", err)
		}
	})
	return s
}
