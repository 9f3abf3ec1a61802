// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/paulmach/orb"
	"github.com/poi295/camellones/imagery"
	"github.com/poi295/camellones/spatial"
	"github.com/poi295/camellones/utils/textutils"
	"github.com/schollz/progressbar/v3"
)

// DefaultSideOffset is how far, in degrees, the sides tiles are taken from
// the POI location.
const DefaultSideOffset = 0.0003

// Runner checks POIs concurrently.
type Runner struct {
	Tiles   imagery.TileProvider
	Oracles Oracles
	// Workers bounds the concurrent checks, runtime.NumCPU() when zero.
	Workers int
	// SideOffset defaults to DefaultSideOffset.
	SideOffset float64
	// Quiet disables both the progress bar and the per POI log lines.
	Quiet bool
}

// predict fetches the image at p and scores it with the classifier of kind.
func (r *Runner) predict(ctx context.Context, kind OracleKind, p spatial.Point) (float64, error) {
	classifier := r.Oracles.Get(kind)
	if classifier == nil {
		return 0, fmt.Errorf("%w: %s", imagery.ErrClassifierUnavailable, kind)
	}

	data, err := r.Tiles.Fetch(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("fetching satellite image: %w", err)
	}

	img, err := imagery.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("reading satellite image: %w", err)
	}

	score, err := classifier.Predict(ctx, img)
	if err != nil {
		return 0, fmt.Errorf("%s classifier: %w", kind, err)
	}

	return score, nil
}

func fail(rec Record, err error) Record {
	rec.Label = err.Error()
	rec.Error = err.Error()

	return rec
}

// Audit checks a single POI. Failures are reported in the record.
func (r *Runner) Audit(ctx context.Context, item Item) Record {
	poi := item.POI
	rec := Record{Name: poi.Name, LinkID: poi.LinkID, Side: poi.Side}

	if err := ctx.Err(); err != nil {
		return fail(rec, err)
	}

	loc, err := spatial.LocatePointOnRoute(item.Segment.Route, poi.Percent, spatial.Side(poi.Side))
	if err != nil {
		return fail(rec, fmt.Errorf("locating POI: %w", err))
	}

	p := spatial.PointFromOrb(loc.Point)
	rec.X, rec.Y = p.Lng, p.Lat

	score, err := r.predict(ctx, PrimaryOracle, p)
	if err != nil {
		return fail(rec, err)
	}

	rec.Score = &score

	if imagery.Positive(score) {
		rec.Label = string(LegitimateException)
		rec.Valid = true

		return rec
	}

	if r.Oracles.Sides == nil {
		rec.Label = string(NoPOI)

		return rec
	}

	offset := r.SideOffset
	if offset == 0 {
		offset = DefaultSideOffset
	}

	rec.Label = string(NoPOI)

	for _, dir := range []orb.Point{loc.Perpendicular, {-loc.Perpendicular[0], -loc.Perpendicular[1]}} {
		side := spatial.PointFromOrb(spatial.Offset(loc.Point, dir, offset))

		s, err := r.predict(ctx, SidesOracle, side)
		if err != nil {
			return fail(rec, err)
		}

		rec.SideScores = append(rec.SideScores, s)

		if imagery.Positive(s) {
			rec.Label = string(IncorrectLocation)
		}
	}

	return rec
}

type keyedRecord struct {
	key string
	rec Record
}

// Run checks every item on a bounded worker pool and returns one record per
// item. Records are keyed by POI id; a POI id repeated on another link is
// keyed "id@link".
func (r *Runner) Run(ctx context.Context, items []Item) Results {
	n := len(items)

	maxProcs := r.Workers
	if maxProcs <= 0 {
		maxProcs = runtime.NumCPU()
	}

	keys := make([]string, n)
	seen := make(map[string]bool, n)

	for i, item := range items {
		key := item.POI.ID
		if seen[key] {
			key = fmt.Sprintf("%s@%d", item.POI.ID, item.POI.LinkID)
		}

		seen[key] = true
		keys[i] = key
	}

	var bar *progressbar.ProgressBar
	if !r.Quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetDescription("Checking POIs"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var wg sync.WaitGroup

	semaphore := make(chan struct{}, maxProcs)
	recordsChan := make(chan keyedRecord, n)

	for i, item := range items {
		wg.Add(1)

		go func(key string, item Item) {
			defer wg.Done()
			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			rec := r.Audit(ctx, item)
			recordsChan <- keyedRecord{key: key, rec: rec}

			switch {
			case bar != nil:
				if err := bar.Add(1); err != nil {
					log.Printf("Updating progress bar for %s: %v", key, err)
				}
			case !r.Quiet:
				log.Printf("Checked %s - %s", key, rec.Label)
			}
		}(keys[i], item)
	}

	wg.Wait()
	close(recordsChan)

	results := make(Results, n)
	for kr := range recordsChan {
		results[kr.key] = kr.rec
	}

	counts := results.Counts()
	log.Printf(
		"Audit complete - %s POIs: %s legitimate exceptions, %s incorrect locations, %s without POI, %s errors.",
		textutils.FormatInt(int64(n)),
		textutils.FormatInt(int64(counts[string(LegitimateException)])),
		textutils.FormatInt(int64(counts[string(IncorrectLocation)])),
		textutils.FormatInt(int64(counts[string(NoPOI)])),
		textutils.FormatInt(int64(counts["error"])),
	)

	return results
}
