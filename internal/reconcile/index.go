package reconcile

import (
	"fmt"

	"github.com/uzulabs/gridsync/internal/grid"
	"github.com/uzulabs/gridsync/internal/types"
)

// identityIndex maps canonical identity keys to destination row indices.
// It is rebuilt at the start of every merge and discarded afterwards.
type identityIndex struct {
	rows map[string]int
	// dupes holds identity keys that appeared on more than one existing
	// destination row. Index construction is last-write-wins; the keys
	// are surfaced so the anomaly is never silent.
	dupes []string
}

// buildIdentityIndex scans all existing data rows (2..lastRow) top to
// bottom. Rows with an empty identity cell never participate in matching.
func buildIdentityIndex(g grid.Grid, schema types.Schema, lastRow int) (*identityIndex, error) {
	idx := &identityIndex{rows: make(map[string]int)}
	if lastRow < 2 {
		return idx, nil
	}

	idCol := schema.IdentityIndex()
	if idCol < 0 {
		return nil, fmt.Errorf("identity column %q not in schema", schema.Identity)
	}

	rows, err := g.ReadRows(2, lastRow)
	if err != nil {
		return nil, fmt.Errorf("read data rows: %w", err)
	}

	for i, row := range rows {
		if idCol >= len(row) {
			continue
		}
		key := types.CanonicalKey(row[idCol])
		if key == "" {
			continue
		}
		if _, seen := idx.rows[key]; seen {
			idx.dupes = append(idx.dupes, key)
		}
		idx.rows[key] = 2 + i
	}
	return idx, nil
}

func (idx *identityIndex) lookup(key string) (int, bool) {
	row, ok := idx.rows[key]
	return row, ok
}

func (idx *identityIndex) set(key string, row int) {
	idx.rows[key] = row
}
