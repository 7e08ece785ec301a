package grid

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/uzulabs/gridsync/internal/types"
)

// CSVGrid is a Grid backed by a single CSV file. Line N of the file is
// grid row N; row 1 is the header. Every mutation rewrites the file via a
// temp file + rename so a crash never leaves a torn sheet; the previously
// flushed state survives intact.
//
// CSV has no cell types: all values read back as strings. That is fine for
// reconciliation because identity comparison goes through canonical keys.
type CSVGrid struct {
	path string
}

// NewCSVGrid opens (or prepares to create) the CSV sheet at path.
func NewCSVGrid(path string) (*CSVGrid, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sheet directory: %w", err)
		}
	}
	return &CSVGrid{path: path}, nil
}

func (g *CSVGrid) load() ([][]string, error) {
	f, err := os.Open(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return records, nil
}

func (g *CSVGrid) flush(records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(g.path), ".gridsync-*.csv")
	if err != nil {
		return fmt.Errorf("create temp sheet: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("write sheet: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp sheet: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.path); err != nil {
		return fmt.Errorf("replace sheet: %w", err)
	}
	return nil
}

// LastRow returns the number of lines in the file.
func (g *CSVGrid) LastRow() (int, error) {
	records, err := g.load()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// ReadRows returns rows from..to inclusive.
func (g *CSVGrid) ReadRows(from, to int) ([]types.Row, error) {
	if from < 1 || to < from {
		return nil, ErrBadRange
	}
	records, err := g.load()
	if err != nil {
		return nil, err
	}

	out := make([]types.Row, 0, to-from+1)
	for i := from; i <= to; i++ {
		if i > len(records) {
			out = append(out, nil)
			continue
		}
		line := records[i-1]
		row := make(types.Row, len(line))
		for j, cell := range line {
			row[j] = cell
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteRows writes a contiguous run of rows starting at start.
func (g *CSVGrid) WriteRows(start int, rows []types.Row) error {
	if start < 1 {
		return ErrBadRange
	}
	records, err := g.load()
	if err != nil {
		return err
	}

	// Pad with empty lines if writing past the current end.
	for len(records) < start-1+len(rows) {
		records = append(records, nil)
	}
	for i, row := range rows {
		line := make([]string, len(row))
		for j, cell := range row {
			line[j] = renderCell(cell)
		}
		records[start-1+i] = line
	}
	return g.flush(records)
}

// DeleteRowsFrom removes all rows at start and beyond.
func (g *CSVGrid) DeleteRowsFrom(start int) error {
	if start < 1 {
		return ErrBadRange
	}
	records, err := g.load()
	if err != nil {
		return err
	}
	if start > len(records) {
		return nil
	}
	return g.flush(records[:start-1])
}

// renderCell converts a cell value to its CSV text form. Integral floats
// render without a decimal point so numeric IDs round-trip cleanly.
func renderCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
