// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs the whole median analysis over a data directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/poi295/camellones/audit"
	"github.com/poi295/camellones/imagery"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/pairing"
	"github.com/poi295/camellones/utils/textutils"
)

// Standard input file names inside a data directory.
const (
	NavFile = "NAV.geojson"
	POIFile = "POI.csv"
)

// ErrMissingInput is returned when the input files can't be found.
var ErrMissingInput = errors.New("missing input files")

// Options configure a run.
type Options struct {
	// DataDir holds NAV.geojson and POI.csv. A few well known locations
	// are tried after it.
	DataDir string
	// TempDir is where the scratch tile directory is created, the system
	// temp dir when empty.
	TempDir string
	// KeepTiles leaves the downloaded tiles in place after the run.
	KeepTiles bool

	Pairing    pairing.Config
	Dataset    network.Options
	Workers    int
	SideOffset float64
	Quiet      bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DataDir:    "data",
		Pairing:    pairing.DefaultConfig(),
		SideOffset: audit.DefaultSideOffset,
	}
}

// Inputs are the located input files.
type Inputs struct {
	Dir string `json:"dir"`
	Nav string `json:"nav"`
	POI string `json:"poi"`
}

// CandidateDirs returns the directories searched for the inputs, in order.
func CandidateDirs(dataDir string) []string {
	dirs := []string{}
	if dataDir != "" {
		dirs = append(dirs, dataDir)
	}

	dirs = append(dirs, "data", filepath.Join("..", "data"), filepath.Join("..", "..", "data"))

	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "data"))
	}

	return dirs
}

// FindInputs returns the first directory holding both input files.
func FindInputs(dirs []string) (Inputs, error) {
	for _, dir := range dirs {
		in := Inputs{Dir: dir, Nav: filepath.Join(dir, NavFile), POI: filepath.Join(dir, POIFile)}
		if isFile(in.Nav) && isFile(in.POI) {
			return in, nil
		}
	}

	return Inputs{}, fmt.Errorf("%w: %s and %s not found in %v", ErrMissingInput, NavFile, POIFile, dirs)
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// Load reads the input files.
func Load(in Inputs) ([]*network.Segment, []*network.POI, error) {
	segments, err := network.LoadSegments(in.Nav)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s: %w", in.Nav, err)
	}

	pois, err := network.LoadPOIs(in.POI)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s: %w", in.POI, err)
	}

	return segments, pois, nil
}

// Analysis is the geometric part of a run: pairing, labels and the POIs
// declared on the median side.
type Analysis struct {
	Dataset *network.Dataset
	Pairing *pairing.Pairing
	Labels  pairing.Labels
	// OnMedian are the POIs that survive the final filter.
	OnMedian []*network.POI
	// Unpaired are the selected POIs whose link couldn't be paired.
	Unpaired []*network.POI
}

// Analyze selects the dataset, pairs the links and keeps the POIs on the
// median side.
func Analyze(segments []*network.Segment, pois []*network.POI, cfg pairing.Config, opts network.Options) (*Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pairing config: %w", err)
	}

	d := network.Build(segments, pois, opts)
	log.Printf(
		"Dataset - %s rows: %s kept, %s duplicates, %s not multiply digitized, %s without geometry, %s with invalid side; %s links.",
		count(d.Stats.Rows), count(d.Stats.Kept), count(d.Stats.Duplicates), count(d.Stats.NotMultiDigit),
		count(d.Stats.MissingGeometry), count(d.Stats.InvalidSide), count(d.Stats.Segments),
	)

	p := pairing.NewEngine(cfg).PairAll(d.Segments)
	a := &Analysis{
		Dataset: d,
		Pairing: p,
		Labels:  p.Label(),
	}
	a.OnMedian = audit.FinalFilter(d.POIs, a.Labels)

	for _, poi := range d.POIs {
		if as, ok := p.Assignment(poi.LinkID); ok && as.Unpairable {
			a.Unpaired = append(a.Unpaired, poi)
		}
	}

	log.Printf(
		"Pairing - %s pairs, %s unpairable links; %s POIs on the median side, %s on unpairable links.",
		count(len(p.Pairs())), count(len(p.Unpairable())), count(len(a.OnMedian)), count(len(a.Unpaired)),
	)

	return a, nil
}

func count(n int) string {
	return textutils.FormatInt(int64(n))
}

// Discarded is a POI left out of the imagery check.
type Discarded struct {
	ID     string `json:"POI_ID"`
	LinkID int64  `json:"LINK_ID"`
	Name   string `json:"POI_NAME"`
	Reason string `json:"reason"`
}

// Report is the outcome of a run.
type Report struct {
	Inputs     Inputs         `json:"inputs"`
	Config     pairing.Config `json:"config"`
	Stats      network.Stats  `json:"stats"`
	Pairs      int            `json:"pairs"`
	Unpairable int            `json:"unpairable"`
	OnMedian   int            `json:"on_median"`
	Counts     map[string]int `json:"counts"`
	Results    audit.Results  `json:"results"`
	Discarded  []Discarded    `json:"discarded"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	// Links holds the pairing outcome per link, for persistence.
	Links []Link `json:"-"`
}

// Pipeline runs the analysis followed by the imagery check.
type Pipeline struct {
	opts    Options
	tiles   imagery.TileProvider
	oracles audit.Oracles
}

// New creates a pipeline.
func New(opts Options, tiles imagery.TileProvider, oracles audit.Oracles) *Pipeline {
	return &Pipeline{opts: opts, tiles: tiles, oracles: oracles}
}

// Run locates the inputs under the configured data directory and processes
// them.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	in, err := FindInputs(CandidateDirs(p.opts.DataDir))
	if err != nil {
		return nil, err
	}

	log.Printf("Using %s and %s", in.Nav, in.POI)

	return p.RunInputs(ctx, in)
}

// RunInputs processes the given input files. The classifiers are checked
// before anything is read.
func (p *Pipeline) RunInputs(ctx context.Context, in Inputs) (*Report, error) {
	started := time.Now()

	if err := p.oracles.Check(ctx); err != nil {
		return nil, err
	}

	segments, pois, err := Load(in)
	if err != nil {
		return nil, err
	}

	a, err := Analyze(segments, pois, p.opts.Pairing, p.opts.Dataset)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(p.opts.TempDir, "camellones-tiles-")
	if err != nil {
		return nil, fmt.Errorf("creating tile directory: %w", err)
	}

	if p.opts.KeepTiles {
		log.Printf("Keeping tiles in %s", scratch)
	} else {
		defer os.RemoveAll(scratch)
	}

	runner := &audit.Runner{
		Tiles:      &imagery.DiskCache{Provider: p.tiles, Dir: scratch},
		Oracles:    p.oracles,
		Workers:    p.opts.Workers,
		SideOffset: p.opts.SideOffset,
		Quiet:      p.opts.Quiet,
	}
	results := runner.Run(ctx, audit.Items(a.Dataset, a.OnMedian))

	report := &Report{
		Inputs:     in,
		Config:     p.opts.Pairing,
		Stats:      a.Dataset.Stats,
		Pairs:      len(a.Pairing.Pairs()),
		Unpairable: len(a.Pairing.Unpairable()),
		OnMedian:   len(a.OnMedian),
		Counts:     results.Counts(),
		Results:    results,
		Discarded:  discarded(a),
		Links:      a.Links(),
		StartedAt:  started,
		Duration:   time.Since(started),
	}

	return report, ctx.Err()
}

func discarded(a *Analysis) []Discarded {
	ret := make([]Discarded, 0, len(a.Dataset.Discarded)+len(a.Unpaired))

	for _, d := range a.Dataset.Discarded {
		ret = append(ret, Discarded{ID: d.POI.ID, LinkID: d.POI.LinkID, Name: d.POI.Name, Reason: d.Reason})
	}

	for _, poi := range a.Unpaired {
		ret = append(ret, Discarded{ID: poi.ID, LinkID: poi.LinkID, Name: poi.Name, Reason: string(audit.IncorrectMultiDigit)})
	}

	return ret
}
