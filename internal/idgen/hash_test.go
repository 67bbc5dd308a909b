package idgen

import (
	"testing"
	"time"
)

func TestEncodeBase36RoundTripsLength(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		length int
	}{
		{"zero bytes", []byte{0, 0}, 3},
		{"small value", []byte{1}, 3},
		{"needs padding", []byte{0, 1}, 6},
		{"needs truncation", []byte{0xff, 0xff, 0xff, 0xff, 0xff}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeBase36(tt.data, tt.length)
			if len(got) != tt.length {
				t.Fatalf("EncodeBase36(%v, %d) = %q, want length %d", tt.data, tt.length, got, tt.length)
			}
		})
	}
}

func TestGenerateEntityIDDeterministic(t *testing.T) {
	ts := time.Unix(0, 123456789)
	id1 := GenerateEntityID("TASK", "title", "detail", "alice", ts, 6, 0)
	id2 := GenerateEntityID("TASK", "title", "detail", "alice", ts, 6, 0)
	if id1 != id2 {
		t.Fatalf("GenerateEntityID not deterministic: %q != %q", id1, id2)
	}
	if id1[:5] != "TASK-" {
		t.Fatalf("expected TASK- prefix, got %q", id1)
	}

	id3 := GenerateEntityID("TASK", "title", "detail", "alice", ts, 6, 1)
	if id1 == id3 {
		t.Fatalf("nonce should change id: %q == %q", id1, id3)
	}
}

func TestConflictIDStableAndFormatted(t *testing.T) {
	f := ConflictFields{
		Workspace:     "ws1",
		FromBranch:    "feat",
		IntoBranch:    "main",
		Doc:           "graph",
		Kind:          "node",
		Key:           "A",
		BaseCutoffSeq: 1,
		TheirsSeq:     2,
		OursSeq:       3,
	}
	id1 := ConflictID(f)
	id2 := ConflictID(f)
	if id1 != id2 {
		t.Fatalf("ConflictID not stable: %q != %q", id1, id2)
	}
	if len(id1) != len("CONFLICT-")+32 {
		t.Fatalf("unexpected ConflictID length: %q", id1)
	}

	f.TheirsSeq = 4
	id3 := ConflictID(f)
	if id3 == id1 {
		t.Fatalf("changing a field should change the id")
	}
}
