package grid

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/uzulabs/gridsync/internal/types"
)

// SQLiteStore is the sqlite-backed destination database. It holds the
// mirrored sheet rows and the sync run history.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath, enabling WAL mode and
// applying all pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Sheet returns the Grid view of one named sheet within this store.
func (s *SQLiteStore) Sheet(name string) *SheetGrid {
	return &SheetGrid{db: s.db, sheet: name}
}

// SheetGrid implements Grid over one named sheet in the sqlite store.
// Each WriteRows call runs in its own transaction, which gives the
// required row-range write atomicity.
type SheetGrid struct {
	db    *sql.DB
	sheet string
}

// LastRow returns the index of the last occupied row, 0 when empty.
func (g *SheetGrid) LastRow() (int, error) {
	var last sql.NullInt64
	err := g.db.QueryRow(
		`SELECT MAX(row_idx) FROM sheet_rows WHERE sheet = ?`, g.sheet,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("query extents: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return int(last.Int64), nil
}

// ReadRows returns rows from..to inclusive; unoccupied indices are nil.
func (g *SheetGrid) ReadRows(from, to int) ([]types.Row, error) {
	if from < 1 || to < from {
		return nil, ErrBadRange
	}

	rows, err := g.db.Query(
		`SELECT row_idx, cells FROM sheet_rows
		 WHERE sheet = ? AND row_idx BETWEEN ? AND ?
		 ORDER BY row_idx`, g.sheet, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	defer rows.Close()

	out := make([]types.Row, to-from+1)
	for rows.Next() {
		var idx int
		var cells string
		if err := rows.Scan(&idx, &cells); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var row types.Row
		if err := json.Unmarshal([]byte(cells), &row); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", idx, err)
		}
		out[idx-from] = row
	}
	return out, rows.Err()
}

// WriteRows writes a contiguous run of rows starting at start, atomically.
func (g *SheetGrid) WriteRows(start int, rows []types.Row) error {
	if start < 1 {
		return ErrBadRange
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO sheet_rows (sheet, row_idx, cells) VALUES (?, ?, ?)
		 ON CONFLICT (sheet, row_idx) DO UPDATE SET cells = excluded.cells`,
	)
	if err != nil {
		return fmt.Errorf("prepare write: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		cells, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", start+i, err)
		}
		if _, err := stmt.Exec(g.sheet, start+i, string(cells)); err != nil {
			return fmt.Errorf("write row %d: %w", start+i, err)
		}
	}

	return tx.Commit()
}

// DeleteRowsFrom removes all rows at start and beyond.
func (g *SheetGrid) DeleteRowsFrom(start int) error {
	if start < 1 {
		return ErrBadRange
	}
	_, err := g.db.Exec(
		`DELETE FROM sheet_rows WHERE sheet = ? AND row_idx >= ?`, g.sheet, start,
	)
	if err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	return nil
}

// RecordRun persists one sync run summary, assigning its ID.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *types.RunSummary) error {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}

	var wstart, wend any
	if run.WindowStart != nil {
		wstart = run.WindowStart.Format(time.RFC3339)
	}
	if run.WindowEnd != nil {
		wend = run.WindowEnd.Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, mode, run_trigger, window_start, window_end,
			 fetched, updated, appended, deleted, duplicates,
			 started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Mode), run.Trigger, wstart, wend,
		run.Fetched, run.Updated, run.Appended, run.Deleted, run.Duplicates,
		run.StartedAt.UTC().Format(time.RFC3339), run.Duration.Milliseconds(), run.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]types.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, run_trigger, window_start, window_end,
		       fetched, updated, appended, deleted, duplicates,
		       started_at, duration_ms, error
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []types.RunSummary
	for rows.Next() {
		var run types.RunSummary
		var mode, started string
		var wstart, wend sql.NullString
		var durMs int64
		if err := rows.Scan(&run.ID, &mode, &run.Trigger, &wstart, &wend,
			&run.Fetched, &run.Updated, &run.Appended, &run.Deleted, &run.Duplicates,
			&started, &durMs, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Mode = types.SyncMode(mode)
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			run.StartedAt = t
		}
		if wstart.Valid {
			if t, err := time.Parse(time.RFC3339, wstart.String); err == nil {
				run.WindowStart = &t
			}
		}
		if wend.Valid {
			if t, err := time.Parse(time.RFC3339, wend.String); err == nil {
				run.WindowEnd = &t
			}
		}
		run.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run, or nil when no run has happened.
func (s *SQLiteStore) LastRun(ctx context.Context) (*types.RunSummary, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
