package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Record is a flat mapping from source field name to scalar value, as
// decoded from one JSON object in a source page. Records are never
// mutated after fetch.
type Record map[string]any

// Row is one positional grid row: one cell per schema column.
type Row []any

// Schema is the ordered, fixed column layout of the destination grid.
// Order is load-bearing: it defines both projection order and column
// indices in the destination, and must not change between runs.
type Schema struct {
	Columns  []string `json:"columns"`
	Identity string   `json:"identity"`
}

// IdentityIndex returns the position of the identity column, or -1 if the
// identity column is not part of the schema.
func (s Schema) IdentityIndex() int {
	for i, c := range s.Columns {
		if c == s.Identity {
			return i
		}
	}
	return -1
}

// Header renders the schema as a header row.
func (s Schema) Header() Row {
	row := make(Row, len(s.Columns))
	for i, c := range s.Columns {
		row[i] = c
	}
	return row
}

// IdentityOf extracts and canonicalizes the record's identity key.
// Empty string means the record has no usable identity and is always
// treated as new during a merge.
func (s Schema) IdentityOf(rec Record) string {
	return CanonicalKey(rec[s.Identity])
}

// CanonicalKey renders an identity cell value as a comparable string.
// JSON numbers arrive as float64; integral values render without a
// decimal point so 42 and "42" correlate across runs.
func CanonicalKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%v", x)
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// SyncMode selects the reconciliation strategy for a run.
type SyncMode string

const (
	// ModeOverwrite makes the destination an exact positional mirror of
	// the batch, truncating stale trailing rows.
	ModeOverwrite SyncMode = "overwrite"
	// ModeMerge updates identity-matched rows in place and appends the
	// rest; it never deletes.
	ModeMerge SyncMode = "merge"
)

// RunSummary is the persisted outcome of one sync invocation.
type RunSummary struct {
	ID          string        `json:"id"`
	Mode        SyncMode      `json:"mode"`
	Trigger     string        `json:"trigger"` // "cli" | "schedule" | "api"
	WindowStart *time.Time    `json:"window_start,omitempty"`
	WindowEnd   *time.Time    `json:"window_end,omitempty"`
	Fetched     int           `json:"fetched"`
	Updated     int           `json:"updated"`
	Appended    int           `json:"appended"`
	Deleted     int           `json:"deleted"`
	Duplicates  int           `json:"duplicates"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}
