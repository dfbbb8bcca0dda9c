// Package ledger records imaging runs and their verified products in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/aurora.cubes/internal/fitsprod"
	"github.com/banshee-data/aurora.cubes/internal/timeutil"
)

// DefaultPath is the ledger file used when none is given.
const DefaultPath = "aurora.db"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// DB wraps the ledger database.
type DB struct {
	*sql.DB
	Path  string
	Clock timeutil.Clock
	NewID func() string
}

// Open opens the ledger at path and applies pending migrations.
func Open(path string) (*DB, error) {
	db, err := OpenNoMigrate(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenNoMigrate opens the ledger without touching the schema.
func OpenNoMigrate(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return &DB{DB: sqlDB, Path: path, Clock: timeutil.System, NewID: uuid.NewString}, nil
}

// NewRun holds what is known about a run when it starts.
type NewRun struct {
	Stem       string
	Threshold  string
	NChan      int
	Target     string
	DryRun     bool
	ConfigJSON []byte
}

// Run is a recorded run.
type Run struct {
	ID         string     `json:"id"`
	Stem       string     `json:"stem"`
	Threshold  string     `json:"threshold"`
	NChan      int        `json:"nchan"`
	Target     string     `json:"target"`
	DryRun     bool       `json:"dry_run"`
	ConfigJSON string     `json:"config,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration is the run's wall time, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Product is a recorded FITS product of a run.
type Product struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	Axes       string    `json:"axes"`
	Bitpix     int       `json:"bitpix"`
	BUnit      string    `json:"bunit"`
	Count      int       `json:"pixel_count"`
	NaN        int       `json:"nan_count"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Mean       float64   `json:"mean"`
	StdDev     float64   `json:"stddev"`
	Problems   string    `json:"problems,omitempty"`
	Verified   bool      `json:"verified"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProductFromResult converts a verification result into a ledger row.
func ProductFromResult(res fitsprod.Result) Product {
	p := Product{
		Kind:     res.Expectation.Kind,
		Path:     res.Expectation.Path,
		Axes:     res.Header.AxesString(),
		Bitpix:   res.Header.Bitpix,
		BUnit:    res.Header.BUnit,
		Count:    res.Stats.Count,
		NaN:      res.Stats.NaN,
		Min:      res.Stats.Min,
		Max:      res.Stats.Max,
		Mean:     res.Stats.Mean,
		StdDev:   res.Stats.StdDev,
		Problems: strings.Join(res.Problems, "; "),
		Verified: res.OK(),
	}
	if res.Err != nil {
		p.Problems = res.Err.Error()
	}
	return p
}

// StartRun inserts a running run and returns its id.
func (db *DB) StartRun(ctx context.Context, r NewRun) (string, error) {
	id := db.NewID()
	target := r.Target
	if target == "" {
		target = "localhost"
	}
	cfg := string(r.ConfigJSON)
	if cfg == "" {
		cfg = "{}"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (run_id, stem, threshold, nchan, target, dry_run, config_json, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Stem, r.Threshold, r.NChan, target, r.DryRun, cfg, StatusRunning, timeutil.Stamp(db.Clock.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// FinishRun marks a run succeeded, or failed with runErr's message.
func (db *DB) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, msg, timeutil.Stamp(db.Clock.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// RecordProduct stores a product for a run, replacing an earlier row of the
// same kind.
func (db *DB) RecordProduct(ctx context.Context, runID string, p Product) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO products (
			run_id, kind, path, axes, bitpix, bunit, pixel_count, nan_count,
			min_value, max_value, mean_value, stddev_value, problems, verified, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.Kind, p.Path, p.Axes, p.Bitpix, p.BUnit, p.Count, p.NaN,
		p.Min, p.Max, p.Mean, p.StdDev, p.Problems, p.Verified, timeutil.Stamp(db.Clock.Now()))
	if err != nil {
		return fmt.Errorf("failed to record %s product: %w", p.Kind, err)
	}
	return nil
}

const runColumns = `run_id, stem, threshold, nchan, target, dry_run, config_json, status, error, started_at, finished_at`

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (db *DB) Run(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Stem, &r.Threshold, &r.NChan, &r.Target, &r.DryRun,
		&r.ConfigJSON, &r.Status, &r.Error, &started, &finished); err != nil {
		return Run{}, err
	}
	r.StartedAt = timeutil.FromStamp(started)
	if finished.Valid {
		t := timeutil.FromStamp(finished.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}

// Products returns the products of a run in the order they were exported.
func (db *DB) Products(ctx context.Context, runID string) ([]Product, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, kind, path, axes, bitpix, bunit, pixel_count, nan_count,
		       min_value, max_value, mean_value, stddev_value, problems, verified, recorded_at
		FROM products WHERE run_id = ?
		ORDER BY CASE kind
			WHEN 'cube' THEN 0 WHEN 'intensity' THEN 1 WHEN 'velocity' THEN 2 WHEN 'dispersion' THEN 3 ELSE 4
		END, kind`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var (
			p                      Product
			minV, maxV, meanV, stdV sql.NullFloat64
			recorded               int64
		)
		if err := rows.Scan(&p.RunID, &p.Kind, &p.Path, &p.Axes, &p.Bitpix, &p.BUnit, &p.Count, &p.NaN,
			&minV, &maxV, &meanV, &stdV, &p.Problems, &p.Verified, &recorded); err != nil {
			return nil, err
		}
		p.Min, p.Max, p.Mean, p.StdDev = minV.Float64, maxV.Float64, meanV.Float64, stdV.Float64
		p.RecordedAt = timeutil.FromStamp(recorded)
		products = append(products, p)
	}
	return products, rows.Err()
}
