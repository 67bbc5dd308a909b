package store

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestLiftLegacyStepMetaLiftsNestedShape(t *testing.T) {
	legacy := `{"meta":{"meta":{"step":{"task_id":"TASK-1","path":"s:0"}}}}`
	lifted := LiftLegacyStepMeta(legacy)
	if lifted == legacy {
		t.Fatalf("expected legacy payload to be rewritten")
	}
	if got := gjson.Get(lifted, "meta.step.task_id").String(); got != "TASK-1" {
		t.Fatalf("expected lifted meta.step.task_id to be TASK-1, got %q", got)
	}
}

func TestLiftLegacyStepMetaLeavesCanonicalUnchanged(t *testing.T) {
	canonical := `{"meta":{"step":{"task_id":"TASK-1","path":"s:0"}}}`
	if got := LiftLegacyStepMeta(canonical); got != canonical {
		t.Fatalf("expected canonical payload to pass through unchanged, got %q", got)
	}
}

func TestLiftLegacyStepMetaHandlesInvalidJSON(t *testing.T) {
	if got := LiftLegacyStepMeta("not json"); got != "not json" {
		t.Fatalf("expected invalid JSON to pass through unchanged, got %q", got)
	}
}
