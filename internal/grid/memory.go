package grid

import (
	"sync"

	"github.com/uzulabs/gridsync/internal/types"
)

// MemoryGrid is an in-memory Grid, used in tests and as the reference
// implementation of the Grid contract.
type MemoryGrid struct {
	mu   sync.RWMutex
	rows map[int]types.Row
	last int
}

// NewMemoryGrid returns an empty in-memory grid.
func NewMemoryGrid() *MemoryGrid {
	return &MemoryGrid{rows: make(map[int]types.Row)}
}

// LastRow returns the index of the last occupied row.
func (g *MemoryGrid) LastRow() (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last, nil
}

// ReadRows returns rows from..to inclusive.
func (g *MemoryGrid) ReadRows(from, to int) ([]types.Row, error) {
	if from < 1 || to < from {
		return nil, ErrBadRange
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.Row, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, g.rows[i])
	}
	return out, nil
}

// WriteRows writes a contiguous run of rows starting at start.
func (g *MemoryGrid) WriteRows(start int, rows []types.Row) error {
	if start < 1 {
		return ErrBadRange
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, row := range rows {
		idx := start + i
		cp := make(types.Row, len(row))
		copy(cp, row)
		g.rows[idx] = cp
		if idx > g.last {
			g.last = idx
		}
	}
	return nil
}

// DeleteRowsFrom removes all rows at start and beyond.
func (g *MemoryGrid) DeleteRowsFrom(start int) error {
	if start < 1 {
		return ErrBadRange
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := start; i <= g.last; i++ {
		delete(g.rows, i)
	}
	if g.last >= start {
		g.last = start - 1
	}
	return nil
}
