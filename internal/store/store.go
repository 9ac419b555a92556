package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/qticsv/internal/model"

	_ "modernc.org/sqlite"
)

// schemaVersion is recorded in store_metadata after migration.
const schemaVersion = 1

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversion_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		direction TEXT NOT NULL,
		source TEXT NOT NULL,
		source_hash TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		output_size INTEGER NOT NULL DEFAULT 0,
		questions INTEGER NOT NULL DEFAULT 0,
		total_points REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversion_runs_hash
		ON conversion_runs (direction, source_hash);

	CREATE TABLE IF NOT EXISTS skipped_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		ident TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES conversion_runs(id)
	);

	CREATE TABLE IF NOT EXISTS store_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.recordVersions()
}

// RecordRun stores a finished conversion with its skipped items.
func (s *Store) RecordRun(run model.ConversionRun) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := tx.Exec(
		`INSERT INTO conversion_runs (direction, source, source_hash, output, output_size, questions, total_points, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Direction, run.Source, run.SourceHash, run.Output, run.OutputSize, run.Questions, run.TotalPoints, createdAt,
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, sk := range run.Skipped {
		_, err := tx.Exec(
			`INSERT INTO skipped_items (run_id, position, ident, title, reason) VALUES (?, ?, ?, ?, ?)`,
			runID, sk.Position, sk.Ident, sk.Title, sk.Reason,
		)
		if err != nil {
			return 0, err
		}
	}

	return runID, tx.Commit()
}

const runColumns = `id, direction, source, source_hash, output, output_size, questions, total_points, created_at`

func scanRun(sc interface{ Scan(...any) error }) (model.ConversionRun, error) {
	var r model.ConversionRun
	err := sc.Scan(&r.ID, &r.Direction, &r.Source, &r.SourceHash, &r.Output, &r.OutputSize, &r.Questions, &r.TotalPoints, &r.CreatedAt)
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 means all runs.
// Skipped items are not loaded; use GetRun for them.
func (s *Store) ListRuns(limit int) ([]model.ConversionRun, error) {
	query := `SELECT ` + runColumns + ` FROM conversion_runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.ConversionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its skipped items.
func (s *Store) GetRun(id int64) (model.ConversionRun, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM conversion_runs WHERE id = ?`, id))
	if err != nil {
		return r, err
	}
	r.Skipped, err = s.skippedItems(id)
	return r, err
}

func (s *Store) skippedItems(runID int64) ([]model.SkippedItem, error) {
	rows, err := s.db.Query(
		`SELECT position, ident, title, reason FROM skipped_items WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.SkippedItem
	for rows.Next() {
		var it model.SkippedItem
		if err := rows.Scan(&it.Position, &it.Ident, &it.Title, &it.Reason); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LastRunForSource returns the latest run of the given direction whose input
// had the given SHA-256, or nil if the input was never converted.
func (s *Store) LastRunForSource(direction model.Direction, sourceHash string) (*model.ConversionRun, error) {
	r, err := scanRun(s.db.QueryRow(
		`SELECT `+runColumns+` FROM conversion_runs WHERE direction = ? AND source_hash = ? ORDER BY id DESC LIMIT 1`,
		direction, sourceHash,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunCount returns the number of recorded runs.
func (s *Store) RunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversion_runs`).Scan(&count)
	return count, err
}
