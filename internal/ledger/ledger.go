// Package ledger keeps a SQLite history of pipeline runs and their
// per-section results.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/sectiongen/internal/doctree"
)

// Run is one pipeline execution.
type Run struct {
	ID         string    `json:"run_id"`
	Document   string    `json:"document"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Phase      string    `json:"phase"`
	Success    bool      `json:"success"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// Ledger is a SQLite-backed run history.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database. Use ":memory:" in tests.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Section workers record concurrently; one connection serializes them.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		kind TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		phase TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		section_index INTEGER NOT NULL,
		title TEXT NOT NULL,
		hierarchy_path TEXT NOT NULL,
		success INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		chars INTEGER NOT NULL DEFAULT 0,
		artifact TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// StartRun inserts a run row.
func (l *Ledger) StartRun(ctx context.Context, r Run) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, document, kind, started_at, phase) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Document, r.Kind, r.StartedAt.UnixMilli(), r.Phase)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordResult appends one section result to a run.
func (l *Ledger) RecordResult(ctx context.Context, runID string, res doctree.GenerationResult) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO results (run_id, section_index, title, hierarchy_path, success, attempts, error, chars, artifact, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.SectionIndex, res.Title, res.HierarchyPath, boolInt(res.Success), res.Attempts,
		res.ErrorMessage, res.Chars(), res.Path, res.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// FinishRun stores a run's final phase and counts.
func (l *Ledger) FinishRun(ctx context.Context, r Run) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, phase = ?, success = ?, total = ?, succeeded = ?, failed = ?, skipped = ?, error = ?
		 WHERE run_id = ?`,
		r.FinishedAt.UnixMilli(), r.Phase, boolInt(r.Success), r.Total, r.Succeeded, r.Failed, r.Skipped, r.Error, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, document, kind, started_at, COALESCE(finished_at, 0), phase, success, total, succeeded, failed, skipped, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
			success           int
		)
		if err := rows.Scan(&r.ID, &r.Document, &r.Kind, &started, &finished, &r.Phase, &success,
			&r.Total, &r.Succeeded, &r.Failed, &r.Skipped, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		r.Success = success != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Results returns a run's section results ordered by section index.
func (l *Ledger) Results(ctx context.Context, runID string) ([]doctree.GenerationResult, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT section_index, title, hierarchy_path, success, attempts, error, artifact, created_at
		 FROM results WHERE run_id = ? ORDER BY section_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []doctree.GenerationResult
	for rows.Next() {
		var (
			res     doctree.GenerationResult
			success int
			created int64
		)
		if err := rows.Scan(&res.SectionIndex, &res.Title, &res.HierarchyPath, &success, &res.Attempts,
			&res.ErrorMessage, &res.Path, &created); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Success = success != 0
		res.Timestamp = time.UnixMilli(created).UTC()
		out = append(out, res)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
