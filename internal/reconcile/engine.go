package reconcile

import (
	"fmt"
	"log/slog"

	"github.com/uzulabs/gridsync/internal/grid"
	"github.com/uzulabs/gridsync/internal/types"
)

// Result reports what one reconciliation pass did to the destination.
type Result struct {
	Mode types.SyncMode `json:"mode"`

	// Overwrite counters.
	Written int `json:"written"`
	Deleted int `json:"deleted"`

	// Merge counters.
	Updated  int `json:"updated"`
	Appended int `json:"appended"`

	// Duplicates lists identity keys that occurred more than once, either
	// across existing destination rows or within the incoming batch.
	// Application order stays last-write-wins; the keys are reported so a
	// producer bug is visible instead of silently masked.
	Duplicates []string `json:"duplicates,omitempty"`

	// HeaderWritten is set when the header row was absent and created.
	// HeaderMismatch is set when a populated header differs from the
	// schema; the header is deliberately left untouched in that case.
	HeaderWritten  bool `json:"header_written,omitempty"`
	HeaderMismatch bool `json:"header_mismatch,omitempty"`
}

// Engine applies projected batches to a destination grid. It must not be
// invoked concurrently against the same destination: the identity index
// is read, decided upon and acted on without transactional isolation, so
// mutual exclusion is the caller's responsibility.
type Engine struct {
	projector *Projector
	schema    types.Schema
	logger    *slog.Logger
}

// NewEngine builds an engine for the given schema.
func NewEngine(projector *Projector, schema types.Schema, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{projector: projector, schema: schema, logger: logger}
}

// Overwrite makes the destination an exact positional mirror of batch:
// header ensured, every projected row written from row 2 in one bulk
// write, stale trailing rows deleted. It never consults the identity
// index. An empty batch is a reported no-op, not an error.
func (e *Engine) Overwrite(g grid.Grid, batch []types.Record) (Result, error) {
	res := Result{Mode: types.ModeOverwrite}
	if len(batch) == 0 {
		e.logger.Info("overwrite skipped", "reason", "empty batch")
		return res, nil
	}

	if err := e.ensureHeader(g, &res); err != nil {
		return res, err
	}

	rows := e.projector.ProjectAll(batch, e.schema)

	last, err := g.LastRow()
	if err != nil {
		return res, fmt.Errorf("read extents: %w", err)
	}

	// Stale rows beyond the new dataset must not survive a full sync.
	newLast := len(rows) + 1
	if last > newLast {
		if err := g.DeleteRowsFrom(newLast + 1); err != nil {
			return res, fmt.Errorf("truncate stale rows: %w", err)
		}
		res.Deleted = last - newLast
	}

	if err := g.WriteRows(2, rows); err != nil {
		return res, fmt.Errorf("write rows: %w", err)
	}
	res.Written = len(rows)

	e.logger.Info("overwrite applied",
		"rows_written", res.Written,
		"rows_deleted", res.Deleted,
	)
	return res, nil
}

// Merge updates identity-matched destination rows in place and appends
// the rest contiguously after the last occupied row. It never deletes.
// Against an empty destination (header only or nothing) it degrades to
// Overwrite, since merging needs an identity-indexed base.
func (e *Engine) Merge(g grid.Grid, batch []types.Record) (Result, error) {
	res := Result{Mode: types.ModeMerge}
	if len(batch) == 0 {
		e.logger.Info("merge skipped", "reason", "empty batch")
		return res, nil
	}

	last, err := g.LastRow()
	if err != nil {
		return res, fmt.Errorf("read extents: %w", err)
	}
	if last <= 1 {
		e.logger.Info("merge degraded to overwrite", "reason", "no data rows")
		return e.Overwrite(g, batch)
	}

	idx, err := buildIdentityIndex(g, e.schema, last)
	if err != nil {
		return res, err
	}
	res.Duplicates = append(res.Duplicates, idx.dupes...)

	rows := e.projector.ProjectAll(batch, e.schema)
	cursor := last + 1
	seen := make(map[string]bool, len(batch))

	for i, row := range rows {
		key := e.schema.IdentityOf(batch[i])

		// A repeated key within one batch is a producer anomaly: the
		// later occurrence still wins (it lands on the same row), but it
		// is reported instead of being silently absorbed.
		dupInBatch := key != "" && seen[key]
		if key != "" {
			seen[key] = true
		}

		if key != "" {
			if target, ok := idx.lookup(key); ok {
				if err := g.WriteRows(target, []types.Row{row}); err != nil {
					return res, fmt.Errorf("update row %d: %w", target, err)
				}
				if dupInBatch {
					res.Duplicates = append(res.Duplicates, key)
				} else {
					res.Updated++
				}
				continue
			}
		}

		if err := g.WriteRows(cursor, []types.Row{row}); err != nil {
			return res, fmt.Errorf("append row %d: %w", cursor, err)
		}
		if key != "" {
			idx.set(key, cursor)
		}
		res.Appended++
		cursor++
	}

	if len(res.Duplicates) > 0 {
		e.logger.Warn("duplicate identity keys observed",
			"keys", res.Duplicates,
		)
	}
	e.logger.Info("merge applied",
		"updated", res.Updated,
		"appended", res.Appended,
	)
	return res, nil
}

// ensureHeader writes the schema header only into an absent or empty row
// 1. A populated, differing header is reported but never overwritten:
// repairing it would silently re-map every stored column.
func (e *Engine) ensureHeader(g grid.Grid, res *Result) error {
	row, err := grid.ReadRow(g, 1)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	if headerEmpty(row) {
		if err := g.WriteRows(1, []types.Row{e.schema.Header()}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		res.HeaderWritten = true
		return nil
	}

	if !headerMatches(row, e.schema) {
		res.HeaderMismatch = true
		e.logger.Warn("destination header differs from schema; leaving it untouched")
	}
	return nil
}

func headerEmpty(row types.Row) bool {
	for _, cell := range row {
		if types.CanonicalKey(cell) != "" {
			return false
		}
	}
	return true
}

func headerMatches(row types.Row, schema types.Schema) bool {
	if len(row) != len(schema.Columns) {
		return false
	}
	for i, col := range schema.Columns {
		if types.CanonicalKey(row[i]) != col {
			return false
		}
	}
	return true
}
