// Package reconcile implements the reconciliation engine: projecting
// source records into grid rows and applying them to the destination in
// full-overwrite or incremental merge mode.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/uzulabs/gridsync/internal/types"
)

// timeLayout is the fixed human-readable rendering for time-typed cells.
const timeLayout = "2006-01-02 15:04:05"

// sourceLayouts are the timestamp shapes the source is known to emit.
// Layouts without a zone are interpreted in the projector's zone.
var sourceLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Projector maps a source record into an ordered row of destination cell
// values. Projection is total: formatting failures fall back to the raw
// value and never propagate.
type Projector struct {
	loc *time.Location
}

// NewProjector builds a projector rendering time cells in the given zone.
func NewProjector(timezone string) (*Projector, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Projector{loc: loc}, nil
}

// Project renders one record as a destination row, one cell per schema
// column, applying the per-column formatting rules in order of
// specificity: null→empty, time columns localized, numbers passed
// through, everything else stringified.
func (p *Projector) Project(rec types.Record, schema types.Schema) types.Row {
	row := make(types.Row, len(schema.Columns))
	for i, col := range schema.Columns {
		row[i] = p.cell(col, rec[col])
	}
	return row
}

// ProjectAll projects a batch, preserving the source's own ordering.
func (p *Projector) ProjectAll(batch []types.Record, schema types.Schema) []types.Row {
	rows := make([]types.Row, len(batch))
	for i, rec := range batch {
		rows[i] = p.Project(rec, schema)
	}
	return rows
}

func (p *Projector) cell(col string, v any) any {
	if v == nil {
		return ""
	}

	if isTimeColumn(col) {
		if formatted, ok := p.formatTime(v); ok {
			return formatted
		}
		// Unparseable timestamps pass through unchanged.
		return v
	}

	switch x := v.(type) {
	case float64, int, int64:
		// Numbers stay numbers so downstream arithmetic keeps working.
		return x
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}

// isTimeColumn reports whether a column holds timestamps, by naming
// convention: a "time" token anywhere or an "_at" suffix.
func isTimeColumn(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "time") || strings.HasSuffix(lower, "_at")
}

func (p *Projector) formatTime(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", true
		}
		for _, layout := range sourceLayouts {
			if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
				return t.In(p.loc).Format(timeLayout), true
			}
		}
		return "", false
	case float64:
		// Numeric timestamps are unix seconds; non-positive means unset.
		if x <= 0 {
			return "", true
		}
		return time.Unix(int64(x), 0).In(p.loc).Format(timeLayout), true
	case int:
		if x <= 0 {
			return "", true
		}
		return time.Unix(int64(x), 0).In(p.loc).Format(timeLayout), true
	case int64:
		if x <= 0 {
			return "", true
		}
		return time.Unix(x, 0).In(p.loc).Format(timeLayout), true
	case time.Time:
		return x.In(p.loc).Format(timeLayout), true
	default:
		return "", false
	}
}
