// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/poi295/camellones/audit"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/pairing"
	"github.com/poi295/camellones/pipeline"
	"github.com/poi295/camellones/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, Repository) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	repo := NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return db, repo
}

func score(p float64) *float64 {
	return &p
}

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		Inputs:     pipeline.Inputs{Dir: "/tmp/data"},
		Config:     pairing.DefaultConfig(),
		Stats:      network.Stats{Rows: 4, Kept: 3, Segments: 3},
		Pairs:      1,
		Unpairable: 1,
		OnMedian:   2,
		StartedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration:   1500 * time.Millisecond,
		Results: audit.Results{
			"p1": {X: -99.1332, Y: 19.4326, Name: "Tacos", Label: string(audit.LegitimateException), LinkID: 1, Side: "L", Score: score(0.9), Valid: true},
			"p3": {X: -99.1330, Y: 19.4330, Name: "Farmacia", Label: string(audit.NoPOI), LinkID: 2, Side: "R", Score: score(0.1)},
			"p4": {X: -99.1000, Y: 19.5000, Name: "Banco", Label: string(audit.IncorrectMultiDigit), LinkID: 3, Side: "L"},
			"p5": {X: -99.1331, Y: 19.4327, Name: "Oxxo", Label: "tile fetch failed", Error: "tile fetch failed", LinkID: 1, Side: "L"},
		},
		Discarded: []pipeline.Discarded{
			{ID: "p2", LinkID: 9, Name: "Cafe", Reason: "not_multidigit"},
		},
		Links: []pipeline.Link{
			{LinkID: 1, Pareja: "2", Partner: 2, Side: "L", Ref: spatial.Point{Lat: 19.4, Lng: -99.1}},
			{LinkID: 2, Pareja: "1", Partner: 1, Side: "R", Ref: spatial.Point{Lat: 19.4, Lng: -99.1002}},
			{LinkID: 3, Pareja: pairing.UnpairableMarker, Reason: "no aligned candidate", Ref: spatial.Point{Lat: 19.5, Lng: -99.1}},
		},
	}
}

func TestCreateSchema(t *testing.T) {
	db, repo := setupTestDB(t)
	defer db.Close()

	for _, table := range []string{"runs", "links", "results", "discarded"} {
		var name string

		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// idempotent
	require.NoError(t, repo.CreateSchema())
}

func TestLatestRunEmpty(t *testing.T) {
	db, repo := setupTestDB(t)
	defer db.Close()

	_, err := repo.LatestRun()
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestSaveReport(t *testing.T) {
	db, repo := setupTestDB(t)
	defer db.Close()

	first, err := repo.SaveReport(sampleReport())
	require.NoError(t, err)

	second, err := repo.SaveReport(sampleReport())
	require.NoError(t, err)
	assert.Greater(t, second, first)

	run, err := repo.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, second, run.ID)
	assert.Equal(t, "/tmp/data", run.DataDir)
	assert.Equal(t, 1500*time.Millisecond, run.Duration)
	assert.Equal(t, 1, run.Pairs)
	assert.Equal(t, 1, run.Unpairable)
	assert.Equal(t, 2, run.OnMedian)
	assert.Contains(t, run.Config, `"dot_threshold"`)
	assert.Contains(t, run.Stats, `"rows":4`)

	var links, discarded int

	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM links WHERE run_id = ?", second).Scan(&links))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM discarded WHERE run_id = ?", second).Scan(&discarded))
	assert.Equal(t, 3, links)
	assert.Equal(t, 1, discarded)

	var partner sql.NullInt64

	require.NoError(t, db.QueryRow("SELECT partner FROM links WHERE run_id = ? AND link_id = 3", second).Scan(&partner))
	assert.False(t, partner.Valid)
}

func TestListResults(t *testing.T) {
	db, repo := setupTestDB(t)
	defer db.Close()

	runID, err := repo.SaveReport(sampleReport())
	require.NoError(t, err)

	all, err := repo.ListResults(runID, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "p1", all[0].Key)
	assert.Equal(t, "p5", all[3].Key)

	p1 := all[0]
	assert.Equal(t, "Tacos", p1.Name)
	assert.True(t, p1.Valid)
	require.NotNil(t, p1.Score)
	assert.InDelta(t, 0.9, *p1.Score, 1e-12)
	require.NotNil(t, p1.Point)
	assert.InDelta(t, -99.1332, p1.Point.Lng, 1e-9)
	assert.InDelta(t, 19.4326, p1.Point.Lat, 1e-9)

	cell, err := spatial.Point{Lat: 19.4326, Lng: -99.1332}.H3(H3ResFine)
	require.NoError(t, err)
	assert.Equal(t, cell, p1.H3Res9)

	assert.Nil(t, all[2].Score)
	assert.Equal(t, "tile fetch failed", all[3].Error)

	noPOI, err := repo.ListResults(runID, string(audit.NoPOI))
	require.NoError(t, err)
	require.Len(t, noPOI, 1)
	assert.Equal(t, "p3", noPOI[0].Key)
}

func TestResultsRoundTrip(t *testing.T) {
	db, repo := setupTestDB(t)
	defer db.Close()

	report := sampleReport()

	runID, err := repo.SaveReport(report)
	require.NoError(t, err)

	results, err := repo.Results(runID)
	require.NoError(t, err)
	require.Len(t, results, len(report.Results))

	for key, want := range report.Results {
		got := results[key]
		assert.Equal(t, want.Label, got.Label, key)
		assert.Equal(t, want.LinkID, got.LinkID, key)
		assert.Equal(t, want.Side, got.Side, key)
		assert.Equal(t, want.Valid, got.Valid, key)
		assert.InDelta(t, want.X, got.X, 1e-9, key)
		assert.InDelta(t, want.Y, got.Y, 1e-9, key)
	}

	assert.Equal(t, report.Results.Counts(), results.Counts())
}

func TestCellSummary(t *testing.T) {
	db, repo := setupTestDB(t)
	defer db.Close()

	runID, err := repo.SaveReport(sampleReport())
	require.NoError(t, err)

	counts, err := repo.CellSummary(runID, H3ResCoarse)
	require.NoError(t, err)

	total := 0
	for _, c := range counts {
		assert.NotZero(t, c.Cell)
		assert.NotEqual(t, "tile fetch failed", c.Label)

		total += c.Count
	}

	// failed checks are left out
	assert.Equal(t, 3, total)

	_, err = repo.CellSummary(runID, 5)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	repo, err := Open("")
	require.NoError(t, err)
	defer repo.DB().Close()

	_, err = repo.LatestRun()
	assert.ErrorIs(t, err, ErrNoRuns)
}
