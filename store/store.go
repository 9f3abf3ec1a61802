// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists analysis runs in DuckDB.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poi295/camellones/audit"
	"github.com/poi295/camellones/pipeline"
	"github.com/poi295/camellones/spatial"
)

// ErrNoRuns is returned when no run has been stored yet.
var ErrNoRuns = errors.New("no stored runs")

// H3 resolutions stored for each result.
const (
	H3ResCoarse = 8
	H3ResFine   = 9
)

// Run summarizes a stored run.
type Run struct {
	ID         int64         `json:"id"`
	DataDir    string        `json:"data_dir"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Pairs      int           `json:"pairs"`
	Unpairable int           `json:"unpairable"`
	OnMedian   int           `json:"on_median"`
	Config     string        `json:"config"`
	Stats      string        `json:"stats"`
}

// Result is a stored POI record.
type Result struct {
	RunID  int64          `json:"run_id"`
	Key    string         `json:"poi_id"`
	Name   string         `json:"poi_name"`
	LinkID int64          `json:"link_id"`
	Side   string         `json:"side"`
	Label  string         `json:"label"`
	Error  string         `json:"error,omitempty"`
	Score  *float64       `json:"score,omitempty"`
	Valid  bool           `json:"valid"`
	Point  *spatial.Point `json:"point,omitempty"`
	H3Res8 int64          `json:"-"`
	H3Res9 int64          `json:"-"`
}

// CellCount is the number of results with a label in an h3 cell.
type CellCount struct {
	Cell  int64  `json:"cell"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Repository handles persistence of runs.
type Repository interface {
	// CreateSchema creates the tables
	CreateSchema() error

	// SaveReport stores a run and returns its id
	SaveReport(report *pipeline.Report) (int64, error)

	// LatestRun returns the most recent run
	LatestRun() (*Run, error)

	// ListResults returns the results of a run, optionally of a label only
	ListResults(runID int64, label string) ([]*Result, error)

	// Results rebuilds the results map of a run
	Results(runID int64) (audit.Results, error)

	// CellSummary counts the results of a run per h3 cell and label
	CellSummary(runID int64, res int) ([]*CellCount, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlRepository struct {
	db *sql.DB
}

// NewRepository creates a new run repository.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

// Open opens the DuckDB database at path, in memory when empty, and creates
// the schema.
func Open(path string) (Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	repo := NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return repo, nil
}

func (r *sqlRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRepository) CreateSchema() error {
	// DuckDB needs to load the spatial extension
	_, err := r.db.Exec(`INSTALL spatial; LOAD spatial;`)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS runs_seq START 1;

		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY DEFAULT nextval('runs_seq'),
			data_dir VARCHAR NOT NULL,
			started_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL,
			pairs INTEGER NOT NULL,
			unpairable INTEGER NOT NULL,
			on_median INTEGER NOT NULL,
			config VARCHAR NOT NULL,
			stats VARCHAR NOT NULL
		);

		CREATE TABLE IF NOT EXISTS links (
			run_id INTEGER NOT NULL,
			link_id BIGINT NOT NULL,
			pareja VARCHAR NOT NULL,
			partner BIGINT,
			camellon VARCHAR,
			reason VARCHAR,
			reference POINT_2D,
			PRIMARY KEY (run_id, link_id)
		);

		CREATE TABLE IF NOT EXISTS results (
			run_id INTEGER NOT NULL,
			poi_key VARCHAR NOT NULL,
			poi_name VARCHAR NOT NULL,
			link_id BIGINT NOT NULL,
			side VARCHAR NOT NULL,
			label VARCHAR NOT NULL,
			error VARCHAR,
			score DOUBLE,
			valid BOOLEAN NOT NULL,
			point POINT_2D,
			h3_res8 UBIGINT,
			h3_res9 UBIGINT,
			PRIMARY KEY (run_id, poi_key)
		);

		CREATE TABLE IF NOT EXISTS discarded (
			run_id INTEGER NOT NULL,
			poi_id VARCHAR NOT NULL,
			link_id BIGINT NOT NULL,
			poi_name VARCHAR NOT NULL,
			reason VARCHAR NOT NULL
		);
	`)

	return err
}

func rollback(tx *sql.Tx, err error) error {
	if rErr := tx.Rollback(); rErr != nil {
		return errors.Join(err, rErr)
	}

	return err
}

func (r *sqlRepository) SaveReport(report *pipeline.Report) (int64, error) {
	config, err := json.Marshal(report.Config)
	if err != nil {
		return 0, fmt.Errorf("encoding config: %w", err)
	}

	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return 0, fmt.Errorf("encoding stats: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}

	var runID int64

	err = tx.QueryRow(`
		INSERT INTO runs(data_dir, started_at, duration_ms, pairs, unpairable, on_median, config, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		report.Inputs.Dir,
		report.StartedAt,
		report.Duration.Milliseconds(),
		report.Pairs,
		report.Unpairable,
		report.OnMedian,
		string(config),
		string(stats),
	).Scan(&runID)
	if err != nil {
		return 0, rollback(tx, fmt.Errorf("inserting run: %w", err))
	}

	if err := insertLinks(tx, runID, report.Links); err != nil {
		return 0, rollback(tx, err)
	}

	if err := insertResults(tx, runID, report.Results); err != nil {
		return 0, rollback(tx, err)
	}

	if err := insertDiscarded(tx, runID, report.Discarded); err != nil {
		return 0, rollback(tx, err)
	}

	return runID, tx.Commit()
}

func insertLinks(tx *sql.Tx, runID int64, links []pipeline.Link) error {
	stmt, err := tx.Prepare(`
		INSERT INTO links(run_id, link_id, pareja, partner, camellon, reason, reference)
		VALUES (?, ?, ?, ?, ?, ?, ST_Point(?, ?))
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range links {
		partner := sql.NullInt64{Int64: l.Partner, Valid: l.Partner != 0}

		if _, err := stmt.Exec(runID, l.LinkID, l.Pareja, partner, nullString(l.Side), nullString(l.Reason), l.Ref.Lng, l.Ref.Lat); err != nil {
			return fmt.Errorf("inserting link %d: %w", l.LinkID, err)
		}
	}

	return nil
}

func insertResults(tx *sql.Tx, runID int64, results audit.Results) error {
	stmt, err := tx.Prepare(`
		INSERT INTO results(run_id, poi_key, poi_name, link_id, side, label, error, score, valid, point, h3_res8, h3_res9)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ST_Point(?, ?), ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, rec := range results {
		p := spatial.Point{Lat: rec.Y, Lng: rec.X}

		coarse, err := p.H3(H3ResCoarse)
		if err != nil {
			return err
		}

		fine, err := p.H3(H3ResFine)
		if err != nil {
			return err
		}

		_, err = stmt.Exec(
			runID,
			key,
			rec.Name,
			rec.LinkID,
			rec.Side,
			rec.Label,
			nullString(rec.Error),
			nullFloat(rec.Score),
			rec.Valid,
			p.Lng,
			p.Lat,
			coarse,
			fine,
		)
		if err != nil {
			return fmt.Errorf("inserting result %s: %w", key, err)
		}
	}

	return nil
}

func insertDiscarded(tx *sql.Tx, runID int64, discarded []pipeline.Discarded) error {
	stmt, err := tx.Prepare(`INSERT INTO discarded(run_id, poi_id, link_id, poi_name, reason) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range discarded {
		if _, err := stmt.Exec(runID, d.ID, d.LinkID, d.Name, d.Reason); err != nil {
			return fmt.Errorf("inserting discarded %s: %w", d.ID, err)
		}
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *f, Valid: true}
}

func (r *sqlRepository) LatestRun() (*Run, error) {
	run := &Run{}

	var durationMs int64

	err := r.db.QueryRow(`
		SELECT id, data_dir, started_at, duration_ms, pairs, unpairable, on_median, config, stats
		FROM runs
		ORDER BY id DESC
		LIMIT 1
	`).Scan(
		&run.ID, &run.DataDir, &run.StartedAt, &durationMs,
		&run.Pairs, &run.Unpairable, &run.OnMedian, &run.Config, &run.Stats,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}

	if err != nil {
		return nil, err
	}

	run.Duration = time.Duration(durationMs) * time.Millisecond

	return run, nil
}

func (r *sqlRepository) ListResults(runID int64, label string) ([]*Result, error) {
	query := `
		SELECT run_id, poi_key, poi_name, link_id, side, label, error, score, valid, point, h3_res8, h3_res9
		FROM results
		WHERE run_id = ?`

	args := []any{runID}

	if label != "" {
		query += " AND label = ?"

		args = append(args, label)
	}

	query += " ORDER BY poi_key"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result

	for rows.Next() {
		res := &Result{Point: &spatial.Point{}}

		var (
			errMsg         sql.NullString
			score          sql.NullFloat64
			h3Res8, h3Res9 sql.NullInt64
		)

		err := rows.Scan(
			&res.RunID, &res.Key, &res.Name, &res.LinkID, &res.Side, &res.Label,
			&errMsg, &score, &res.Valid, res.Point, &h3Res8, &h3Res9,
		)
		if err != nil {
			return nil, err
		}

		res.Error = errMsg.String

		if score.Valid {
			res.Score = &score.Float64
		}

		res.H3Res8 = h3Res8.Int64
		res.H3Res9 = h3Res9.Int64

		results = append(results, res)
	}

	return results, rows.Err()
}

func (r *sqlRepository) Results(runID int64) (audit.Results, error) {
	rows, err := r.ListResults(runID, "")
	if err != nil {
		return nil, err
	}

	results := make(audit.Results, len(rows))

	for _, res := range rows {
		rec := audit.Record{
			Name:   res.Name,
			Label:  res.Label,
			Error:  res.Error,
			LinkID: res.LinkID,
			Side:   res.Side,
			Score:  res.Score,
			Valid:  res.Valid,
		}

		if res.Point != nil {
			rec.X, rec.Y = res.Point.Lng, res.Point.Lat
		}

		results[res.Key] = rec
	}

	return results, nil
}

func (r *sqlRepository) CellSummary(runID int64, res int) ([]*CellCount, error) {
	var column string

	switch res {
	case H3ResCoarse:
		column = "h3_res8"
	case H3ResFine:
		column = "h3_res9"
	default:
		return nil, fmt.Errorf("unsupported h3 resolution %d, want %d or %d", res, H3ResCoarse, H3ResFine)
	}

	rows, err := r.db.Query(`
		SELECT `+column+`, label, COUNT(*)
		FROM results
		WHERE run_id = ? AND error IS NULL
		GROUP BY ALL
		ORDER BY 3 DESC, 1, 2
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*CellCount

	for rows.Next() {
		c := &CellCount{}
		if err := rows.Scan(&c.Cell, &c.Label, &c.Count); err != nil {
			return nil, err
		}

		counts = append(counts, c)
	}

	return counts, rows.Err()
}
