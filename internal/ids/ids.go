// Package ids validates and normalizes the identifier and tag primitives
// the reasoning store builds everything else on: graph node/relation ids,
// conflict ids, tag sets, and step paths.
package ids

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/branchmind/reasonstore/internal/types"
)

// conflictIDPattern matches the literal "CONFLICT-" prefix followed by
// exactly 32 lowercase hex digits.
var conflictIDPattern = regexp.MustCompile(`^CONFLICT-[0-9a-f]{32}$`)

// hasInvalidRune reports whether s contains '|' or any Unicode control
// character, the two classes graph ids/relations/tags may never contain.
func hasInvalidRune(s string) bool {
	for _, r := range s {
		if r == '|' || unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// ValidateGraphNodeID validates a graph node id. It fails with
// INVALID_INPUT if the trimmed id is empty or contains '|'/control chars.
func ValidateGraphNodeID(id string) error {
	return validateBareID("node_id", id)
}

// ValidateGraphRel validates a relation name with the same rules as a
// node id.
func ValidateGraphRel(rel string) error {
	return validateBareID("rel", rel)
}

func validateBareID(field, s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return types.InvalidInput(field, "must not be empty")
	}
	if hasInvalidRune(s) {
		return types.InvalidInput(field, "must not contain '|' or control characters")
	}
	return nil
}

// ValidateConflictID validates the literal "CONFLICT-" + 32 lowercase hex
// digit shape.
func ValidateConflictID(id string) error {
	if !conflictIDPattern.MatchString(id) {
		return types.InvalidInput("conflict_id", "must match CONFLICT- followed by 32 lowercase hex digits")
	}
	return nil
}

// ValidateWorkspaceID validates a workspace id using the same bareword
// rules as a graph node id.
func ValidateWorkspaceID(id string) error {
	return validateBareID("workspace", id)
}

// ValidateBranchName validates a branch name using the same bareword
// rules as a graph node id.
func ValidateBranchName(name string) error {
	return validateBareID("branch", name)
}

// NormalizeTags trims, drops empties, rejects pipe/control characters,
// lowercases, deduplicates, and returns the tags sorted ascending. It is
// idempotent: NormalizeTags(NormalizeTags(ts)) == NormalizeTags(ts).
func NormalizeTags(tags []string) ([]string, error) {
	set := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		if hasInvalidRune(t) {
			return nil, types.InvalidInput("tags", "tag %q must not contain '|' or control characters", raw)
		}
		set[strings.ToLower(t)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// EncodeTags serializes a normalized tag list into the persisted
// "\n<tag>\n<tag>\n" form. An empty list encodes to "".
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "\n" + strings.Join(tags, "\n") + "\n"
}

// DecodeTags parses the persisted tag encoding back into a slice.
func DecodeTags(encoded string) []string {
	trimmed := strings.Trim(encoded, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// stepSegmentPattern matches one dotted segment: "s:<n>" or "t:<n>" with
// n >= 0 and no leading zeros other than "0" itself (so "s:01" is
// rejected, keeping prefix matching segment-safe).
var stepSegmentPattern = regexp.MustCompile(`^(s|t):(0|[1-9][0-9]*)$`)

// ParseStepPath splits a dotted step path into its segments, validating
// each one. Returns an error if any segment doesn't match "s:<n>" or
// "t:<n>".
func ParseStepPath(path string) ([]string, error) {
	if path == "" {
		return nil, types.InvalidInput("path", "must not be empty")
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if !stepSegmentPattern.MatchString(seg) {
			return nil, types.InvalidInput("path", "invalid segment %q", seg)
		}
	}
	return segments, nil
}

// IsStepPrefix reports whether prefix is a segment-safe ancestor of path:
// every segment of prefix must equal the corresponding segment of path
// exactly (so "s:0" matches "s:0.s:1" but never "s:01").
func IsStepPrefix(prefix, path string) bool {
	if prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+".")
}

// ParentPath returns the path of the parent segment, or "" if path is a
// root ("s:0").
func ParentPath(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// NextOrdinal parses the trailing "s:<n>" or "t:<n>" segment's integer,
// returning an error if the path has no valid trailing segment.
func NextOrdinal(path string) (int, error) {
	segments, err := ParseStepPath(path)
	if err != nil {
		return 0, err
	}
	last := segments[len(segments)-1]
	parts := strings.SplitN(last, ":", 2)
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, types.InvalidInput("path", "invalid ordinal in segment %q", last)
	}
	return n, nil
}
