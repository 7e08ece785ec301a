// Package grid provides the destination sink: a single named
// two-dimensional grid addressed by 1-based row index, with row 1 reserved
// for the header. Backends implement a small bulk-range surface so one
// sync run issues a handful of range operations, never per-cell I/O.
package grid

import (
	"errors"

	"github.com/uzulabs/gridsync/internal/types"
)

var (
	// ErrSheetNotFound is returned when the named grid does not exist and
	// cannot be created.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrBadRange is returned for reads or writes addressed before row 1.
	ErrBadRange = errors.New("invalid row range")
)

// Grid is the destination sink surface the reconciliation engine writes
// through. Implementations must apply each WriteRows call atomically at
// row-range granularity: a crash between calls leaves prior writes applied
// and later ones absent, never a torn row.
type Grid interface {
	// LastRow returns the index of the last occupied row, 0 when empty.
	LastRow() (int, error)
	// ReadRows returns rows from..to inclusive. Rows inside the range that
	// were never written are returned as nil entries.
	ReadRows(from, to int) ([]types.Row, error)
	// WriteRows writes a contiguous run of rows starting at row index
	// start, extending the grid as needed.
	WriteRows(start int, rows []types.Row) error
	// DeleteRowsFrom removes all rows at index start and beyond.
	DeleteRowsFrom(start int) error
}

// ReadRow reads a single row through any Grid.
func ReadRow(g Grid, idx int) (types.Row, error) {
	rows, err := g.ReadRows(idx, idx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
