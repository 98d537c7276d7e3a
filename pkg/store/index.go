// Package store keeps an SQLite index of processing runs and the plots
// each run produced.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/inspirehep/plotextractor/pkg/plots"
)

// DefaultPath is the default database file.
const DefaultPath = "plotextractor.db"

// DefaultBusyTimeout is how long a writer waits for a locked database.
const DefaultBusyTimeout = 5 * time.Second

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run ID is not in the index.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	source           TEXT NOT NULL,
	output_directory TEXT NOT NULL,
	plot_count       INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plots (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	url          TEXT NOT NULL,
	original_url TEXT NOT NULL,
	name         TEXT NOT NULL,
	label        TEXT NOT NULL,
	captions     TEXT NOT NULL,
	contexts     TEXT,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS plots_label ON plots(label);
`

// Config holds the store settings.
type Config struct {
	// Path is the SQLite database file. Empty disables the index.
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns the default store settings.
func DefaultConfig() Config {
	return Config{Path: DefaultPath}
}

// Run is one processed archive.
type Run struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	OutputDirectory string    `json:"output_directory"`
	PlotCount       int       `json:"plot_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Record is a stored plot with the run it belongs to.
type Record struct {
	RunID    string              `json:"run_id"`
	Position int                 `json:"position"`
	Plot     plots.ExtractedPlot `json:"plot"`
}

// Store is the run index.
type Store struct {
	db *sql.DB
}

// Open opens or creates the index at path.
func Open(path string) (*Store, error) {
	if directory := filepath.Dir(path); directory != "." {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", DefaultBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (store *Store) Close() error {
	return store.db.Close()
}

// SaveRun records a processed archive and its plots in one transaction.
func (store *Store) SaveRun(ctx context.Context, source, outputDirectory string, extracted []plots.ExtractedPlot) (Run, error) {
	run := Run{
		ID:              uuid.NewString(),
		Source:          source,
		OutputDirectory: outputDirectory,
		PlotCount:       len(extracted),
		CreatedAt:       time.Now().UTC(),
	}

	transaction, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer transaction.Rollback()

	if _, err := transaction.ExecContext(ctx,
		`INSERT INTO runs (id, source, output_directory, plot_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.OutputDirectory, run.PlotCount, run.CreatedAt.Format(timeLayout)); err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}

	statement, err := transaction.PrepareContext(ctx,
		`INSERT INTO plots (run_id, position, url, original_url, name, label, captions, contexts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("failed to prepare plot insert: %w", err)
	}
	defer statement.Close()

	for position, plot := range extracted {
		captions, err := json.Marshal(nonNil(plot.Captions))
		if err != nil {
			return Run{}, fmt.Errorf("failed to encode captions: %w", err)
		}
		var contexts sql.NullString
		if plot.Contexts != nil {
			encoded, err := json.Marshal(plot.Contexts)
			if err != nil {
				return Run{}, fmt.Errorf("failed to encode contexts: %w", err)
			}
			contexts = sql.NullString{String: string(encoded), Valid: true}
		}
		if _, err := statement.ExecContext(ctx, run.ID, position, plot.URL, plot.OriginalURL,
			plot.Name, plot.Label, string(captions), contexts); err != nil {
			return Run{}, fmt.Errorf("failed to insert plot %s: %w", plot.Name, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return Run{}, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// Runs returns the most recent runs first. A limit of zero or less returns
// every run.
func (store *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, source, output_directory, plot_count, created_at FROM runs
		ORDER BY created_at DESC, rowid DESC`
	var arguments []any
	if limit > 0 {
		query += ` LIMIT ?`
		arguments = append(arguments, limit)
	}

	rows, err := store.db.QueryContext(ctx, query, arguments...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// Run returns the run with id.
func (store *Store) Run(ctx context.Context, id string) (Run, error) {
	row := store.db.QueryRowContext(ctx,
		`SELECT id, source, output_directory, plot_count, created_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Plots returns the plots of a run in extraction order.
func (store *Store) Plots(ctx context.Context, runID string) ([]Record, error) {
	return store.queryRecords(ctx, `WHERE run_id = ? ORDER BY position`, runID)
}

// PlotsByLabel returns every stored plot carrying label, oldest run first.
func (store *Store) PlotsByLabel(ctx context.Context, label string) ([]Record, error) {
	return store.queryRecords(ctx,
		`JOIN runs ON runs.id = plots.run_id WHERE plots.label = ? ORDER BY runs.created_at, runs.rowid, plots.position`,
		label)
}

func (store *Store) queryRecords(ctx context.Context, clause string, arguments ...any) ([]Record, error) {
	rows, err := store.db.QueryContext(ctx,
		`SELECT plots.run_id, plots.position, plots.url, plots.original_url, plots.name,
		        plots.label, plots.captions, plots.contexts
		 FROM plots `+clause, arguments...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plots: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		var captions string
		var contexts sql.NullString
		if err := rows.Scan(&record.RunID, &record.Position, &record.Plot.URL, &record.Plot.OriginalURL,
			&record.Plot.Name, &record.Plot.Label, &captions, &contexts); err != nil {
			return nil, fmt.Errorf("failed to scan plot: %w", err)
		}
		if err := json.Unmarshal([]byte(captions), &record.Plot.Captions); err != nil {
			return nil, fmt.Errorf("failed to decode captions: %w", err)
		}
		if contexts.Valid {
			record.Plot.Contexts = []string{}
			if err := json.Unmarshal([]byte(contexts.String), &record.Plot.Contexts); err != nil {
				return nil, fmt.Errorf("failed to decode contexts: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plots: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(destination ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var createdAt string
	if err := row.Scan(&run.ID, &run.Source, &run.OutputDirectory, &run.PlotCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	parsed, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("failed to parse run time: %w", err)
	}
	run.CreatedAt = parsed
	return run, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
