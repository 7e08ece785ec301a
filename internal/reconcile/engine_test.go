package reconcile

import (
	"io"
	"log/slog"
	"testing"

	"github.com/uzulabs/gridsync/internal/grid"
	"github.com/uzulabs/gridsync/internal/types"
)

var testSchema = types.Schema{Columns: []string{"id", "val"}, Identity: "id"}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(newProjector(t), testSchema, logger)
}

func dataRows(t *testing.T, g grid.Grid) []types.Row {
	t.Helper()
	last, err := g.LastRow()
	if err != nil {
		t.Fatal(err)
	}
	if last < 2 {
		return nil
	}
	rows, err := g.ReadRows(2, last)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func seed(t *testing.T, g grid.Grid, rows ...types.Row) {
	t.Helper()
	all := append([]types.Row{{"id", "val"}}, rows...)
	if err := g.WriteRows(1, all); err != nil {
		t.Fatal(err)
	}
}

func TestOverwrite_ExactMirror(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()

	batch := []types.Record{
		{"id": float64(1), "val": "A"},
		{"id": float64(2), "val": "B"},
		{"id": float64(3), "val": "C"},
	}

	res, err := e.Overwrite(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 3 || res.Deleted != 0 {
		t.Errorf("result = %+v, want 3 written, 0 deleted", res)
	}
	if !res.HeaderWritten {
		t.Error("header was not written into the empty grid")
	}

	rows := dataRows(t, g)
	if len(rows) != 3 {
		t.Fatalf("destination has %d data rows, want 3", len(rows))
	}
	for i, want := range []string{"A", "B", "C"} {
		if rows[i][1] != want {
			t.Errorf("row %d val = %v, want %q", i+2, rows[i][1], want)
		}
	}
}

func TestOverwrite_TruncatesStaleRows(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g,
		types.Row{float64(1), "A"},
		types.Row{float64(2), "B"},
		types.Row{float64(3), "C"},
		types.Row{float64(4), "D"},
		types.Row{float64(5), "E"},
	)

	batch := []types.Record{
		{"id": float64(1), "val": "A"},
		{"id": float64(2), "val": "B"},
		{"id": float64(3), "val": "C"},
	}

	res, err := e.Overwrite(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", res.Deleted)
	}

	if rows := dataRows(t, g); len(rows) != 3 {
		t.Errorf("destination has %d data rows, want exactly 3", len(rows))
	}
}

func TestOverwrite_EmptyBatchIsNoOp(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g, types.Row{float64(1), "A"})

	res, err := e.Overwrite(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 0 || res.Deleted != 0 {
		t.Errorf("result = %+v, want all-zero", res)
	}
	if rows := dataRows(t, g); len(rows) != 1 {
		t.Errorf("destination changed by empty batch: %v", rows)
	}
}

func TestOverwrite_PopulatedHeaderNeverRepaired(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	if err := g.WriteRows(1, []types.Row{{"legacy_id", "legacy_val"}}); err != nil {
		t.Fatal(err)
	}

	res, err := e.Overwrite(g, []types.Record{{"id": float64(1), "val": "A"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.HeaderMismatch {
		t.Error("mismatched header was not reported")
	}
	if res.HeaderWritten {
		t.Error("populated header was overwritten")
	}

	header, err := grid.ReadRow(g, 1)
	if err != nil {
		t.Fatal(err)
	}
	if header[0] != "legacy_id" {
		t.Errorf("header = %v, want untouched legacy header", header)
	}
}

func TestMerge_UpdateAndAppend(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g,
		types.Row{float64(1), "A"},
		types.Row{float64(2), "B"},
	)

	batch := []types.Record{
		{"id": float64(2), "val": "B2"},
		{"id": float64(3), "val": "C"},
	}

	res, err := e.Merge(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Appended != 1 {
		t.Errorf("result = %+v, want 1 updated, 1 appended", res)
	}

	rows := dataRows(t, g)
	if len(rows) != 3 {
		t.Fatalf("destination has %d data rows, want 3", len(rows))
	}
	if rows[0][1] != "A" {
		t.Errorf("row for id=1 changed: %v", rows[0])
	}
	if rows[1][1] != "B2" {
		t.Errorf("row for id=2 = %v, want updated to B2", rows[1])
	}
	if types.CanonicalKey(rows[2][0]) != "3" || rows[2][1] != "C" {
		t.Errorf("appended row = %v, want id=3 val=C", rows[2])
	}
}

func TestMerge_AppendsAreContiguous(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g, types.Row{float64(1), "A"})

	batch := []types.Record{
		{"id": float64(10), "val": "X"},
		{"id": float64(11), "val": "Y"},
		{"id": float64(12), "val": "Z"},
	}

	res, err := e.Merge(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Appended != 3 {
		t.Errorf("Appended = %d, want 3", res.Appended)
	}

	rows := dataRows(t, g)
	if len(rows) != 4 {
		t.Fatalf("destination has %d data rows, want 4", len(rows))
	}
	for i, want := range []string{"A", "X", "Y", "Z"} {
		if rows[i][1] != want {
			t.Errorf("row %d = %v, want val %q", i+2, rows[i], want)
		}
	}
}

func TestMerge_EmptyDestinationDegradesToOverwrite(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()

	batch := []types.Record{
		{"id": float64(1), "val": "A"},
		{"id": float64(2), "val": "B"},
	}

	res, err := e.Merge(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != types.ModeOverwrite {
		t.Errorf("Mode = %v, want degrade to overwrite", res.Mode)
	}
	if res.Written != 2 {
		t.Errorf("Written = %d, want 2", res.Written)
	}
	if rows := dataRows(t, g); len(rows) != 2 {
		t.Errorf("destination has %d data rows, want 2", len(rows))
	}
}

func TestMerge_HeaderOnlyDestinationDegradesToOverwrite(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	if err := g.WriteRows(1, []types.Row{{"id", "val"}}); err != nil {
		t.Fatal(err)
	}

	res, err := e.Merge(g, []types.Record{{"id": float64(1), "val": "A"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != types.ModeOverwrite {
		t.Errorf("Mode = %v, want overwrite", res.Mode)
	}
}

func TestMerge_EmptyBatchIsNoOp(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g, types.Row{float64(1), "A"})

	res, err := e.Merge(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 0 || res.Appended != 0 {
		t.Errorf("result = %+v, want all-zero", res)
	}
}

func TestMerge_EmptyIdentityAlwaysAppends(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g, types.Row{"", "existing"})

	// Two records without identity: both must append, never match the
	// existing identity-less row or each other.
	batch := []types.Record{
		{"val": "first"},
		{"val": "second"},
	}

	res, err := e.Merge(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Appended != 2 || res.Updated != 0 {
		t.Errorf("result = %+v, want 2 appended", res)
	}
	if rows := dataRows(t, g); len(rows) != 3 {
		t.Errorf("destination has %d data rows, want 3", len(rows))
	}
}

func TestMerge_DuplicateKeyInBatchSurfaced(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g, types.Row{float64(1), "A"})

	batch := []types.Record{
		{"id": float64(2), "val": "first"},
		{"id": float64(2), "val": "second"},
	}

	res, err := e.Merge(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0] != "2" {
		t.Errorf("Duplicates = %v, want [2]", res.Duplicates)
	}
	// Last write wins on the same row; no double append.
	rows := dataRows(t, g)
	if len(rows) != 2 {
		t.Fatalf("destination has %d data rows, want 2", len(rows))
	}
	if rows[1][1] != "second" {
		t.Errorf("row for id=2 = %v, want last occurrence", rows[1])
	}
}

func TestMerge_DuplicateKeyInDestinationSurfaced(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g,
		types.Row{float64(7), "old-a"},
		types.Row{float64(7), "old-b"},
	)

	res, err := e.Merge(g, []types.Record{{"id": float64(7), "val": "new"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0] != "7" {
		t.Errorf("Duplicates = %v, want [7]", res.Duplicates)
	}

	// Last index entry wins: the later destination row is the one updated.
	rows := dataRows(t, g)
	if rows[1][1] != "new" {
		t.Errorf("later duplicate row = %v, want updated", rows[1])
	}
	if rows[0][1] != "old-a" {
		t.Errorf("earlier duplicate row = %v, want untouched", rows[0])
	}
}

func TestMerge_Idempotent(t *testing.T) {
	e := newEngine(t)
	g := grid.NewMemoryGrid()
	seed(t, g, types.Row{float64(1), "A"})

	batch := []types.Record{
		{"id": float64(1), "val": "A2"},
		{"id": float64(2), "val": "B"},
	}

	if _, err := e.Merge(g, batch); err != nil {
		t.Fatal(err)
	}
	first := dataRows(t, g)

	res, err := e.Merge(g, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Appended != 0 {
		t.Errorf("second merge appended %d rows, want 0", res.Appended)
	}

	second := dataRows(t, g)
	if len(first) != len(second) {
		t.Fatalf("row count changed across identical merges: %d → %d", len(first), len(second))
	}
	for i := range first {
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Errorf("row %d cell %d changed: %v → %v", i+2, j, first[i][j], second[i][j])
			}
		}
	}
}
