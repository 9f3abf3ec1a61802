// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing matches the two carriageways of divided roads and derives
// on which side of each one the median lies.
//
// Matching is greedy and single pass: segments are visited in input order
// and, once paired or found unpairable, never reconsidered. The result
// depends on the visiting order and isn't a global optimum.
package pairing

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb/planar"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/spatial"
)

var (
	// ErrNotFound is returned for segments absent from the index, either
	// unknown or already consumed.
	ErrNotFound = errors.New("segment not found in index")
	// ErrNoAlignedCandidate is returned when no neighbour is both aligned
	// and close enough.
	ErrNoAlignedCandidate = errors.New("no sufficiently aligned and close segment")
)

// UnpairableMarker is the pair value written for segments without a pair.
const UnpairableMarker = "Error 3: road is not Multiply Digitised"

// Config holds the matching thresholds. The defaults were tuned on the
// Mexico City network, where coordinates are degrees.
type Config struct {
	// DotThreshold is the minimum dot product between unit headings.
	DotThreshold float64 `json:"dot_threshold"`
	// MaxDist is the maximum distance between reference nodes.
	MaxDist float64 `json:"max_dist"`
	// Neighbors is how many predecessors and successors are examined in
	// each ordering.
	Neighbors int `json:"neighbors"`
	// TieTolerance is the dot product margin within which candidates are
	// considered equally aligned and the closest one wins.
	TieTolerance float64 `json:"tie_tolerance"`
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		DotThreshold: 0.90,
		MaxDist:      0.00035,
		Neighbors:    10,
		TieTolerance: 1e-3,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.DotThreshold < -1 || c.DotThreshold > 1 {
		return fmt.Errorf("dot threshold must be within [-1, 1], got %v", c.DotThreshold)
	}

	if c.MaxDist < 0 {
		return fmt.Errorf("max distance can't be negative, got %v", c.MaxDist)
	}

	if c.Neighbors < 1 {
		return fmt.Errorf("neighbors must be at least 1, got %d", c.Neighbors)
	}

	if c.TieTolerance < 0 {
		return fmt.Errorf("tie tolerance can't be negative, got %v", c.TieTolerance)
	}

	return nil
}

// Candidate is a possible partner of a segment.
type Candidate struct {
	LinkID   int64   `json:"link_id"`
	Dot      float64 `json:"dot"`
	Distance float64 `json:"distance"`
}

// Engine runs the matching.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Candidates returns the neighbours of linkID that pass both the alignment
// and the distance thresholds, in neighbourhood order.
func (e *Engine) Candidates(idx *Index, linkID int64) ([]Candidate, error) {
	neighbors, err := idx.Neighbors(linkID, e.cfg.Neighbors)
	if err != nil {
		return nil, err
	}

	base := idx.entry(linkID)
	if !base.hasHeading {
		return nil, fmt.Errorf("%w: segment %d has no heading", ErrNoAlignedCandidate, linkID)
	}

	var candidates []Candidate

	for _, id := range neighbors {
		other := idx.entry(id)
		if !other.hasHeading {
			continue
		}

		dot := spatial.Dot(base.heading, other.heading)
		if dot < e.cfg.DotThreshold {
			continue
		}

		dist := planar.Distance(base.reference(), other.reference())
		if dist > e.cfg.MaxDist {
			continue
		}

		candidates = append(candidates, Candidate{LinkID: id, Dot: dot, Distance: dist})
	}

	return candidates, nil
}

// best picks the most aligned candidate. Candidates within the tie tolerance
// of the best dot product are decided by distance, then by lower link id.
func (e *Engine) best(candidates []Candidate) Candidate {
	maxDot := math.Inf(-1)
	for _, c := range candidates {
		maxDot = math.Max(maxDot, c.Dot)
	}

	var (
		chosen Candidate
		found  bool
	)

	for _, c := range candidates {
		if maxDot-c.Dot > e.cfg.TieTolerance {
			continue
		}

		if !found ||
			c.Distance < chosen.Distance ||
			(c.Distance == chosen.Distance && c.LinkID < chosen.LinkID) {
			chosen, found = c, true
		}
	}

	return chosen
}

// FindAlignedPair finds the partner of linkID among its neighbours in idx.
// On success both segments are consumed from idx.
func (e *Engine) FindAlignedPair(idx *Index, linkID int64) (Candidate, error) {
	candidates, err := e.Candidates(idx, linkID)
	if err != nil {
		return Candidate{}, err
	}

	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("%w: segment %d", ErrNoAlignedCandidate, linkID)
	}

	partner := e.best(candidates)
	idx.Consume(linkID, partner.LinkID)

	return partner, nil
}

// Assignment is the terminal state of a segment after the matching.
type Assignment struct {
	LinkID int64 `json:"link_id"`
	// Unpairable is the terminal state of segments without a partner.
	Unpairable bool    `json:"unpairable,omitempty"`
	Partner    int64   `json:"partner,omitempty"`
	Dot        float64 `json:"dot,omitempty"`
	Distance   float64 `json:"distance,omitempty"`
	// Reason holds why the segment couldn't be paired.
	Reason string `json:"reason,omitempty"`
}

// PairValue returns the pair column value: the partner id, or the
// unpairable marker.
func (a Assignment) PairValue() string {
	if a.Unpairable {
		return UnpairableMarker
	}

	return fmt.Sprintf("%d", a.Partner)
}

// Pairing is the outcome of PairAll.
type Pairing struct {
	// Order lists the segments in the order they were visited.
	Order       []int64
	assignments map[int64]*Assignment
	segments    map[int64]*network.Segment
	pairs       [][2]int64
}

// Assignment returns the state of a segment.
func (p *Pairing) Assignment(linkID int64) (Assignment, bool) {
	a, ok := p.assignments[linkID]
	if !ok {
		return Assignment{}, false
	}

	return *a, true
}

// Pairs returns each pair once, in the order they were formed. The first
// element is the segment whose search found the second.
func (p *Pairing) Pairs() [][2]int64 {
	return p.pairs
}

// Unpairable returns the segments left without a pair, in visiting order.
func (p *Pairing) Unpairable() []Assignment {
	var ret []Assignment

	for _, id := range p.Order {
		if a := p.assignments[id]; a.Unpairable {
			ret = append(ret, *a)
		}
	}

	return ret
}

// Segment returns a segment that took part in the matching.
func (p *Pairing) Segment(linkID int64) (*network.Segment, bool) {
	s, ok := p.segments[linkID]

	return s, ok
}

// PairAll matches every distinct segment once, in the order first seen.
// Failures are recorded per segment and never stop the batch; a segment
// that fails is consumed as well, so it won't be chosen later as a partner.
func (e *Engine) PairAll(segments []*network.Segment) *Pairing {
	idx := NewIndex(segments)
	p := &Pairing{
		assignments: make(map[int64]*Assignment, len(segments)),
		segments:    make(map[int64]*network.Segment, len(segments)),
	}

	for _, s := range segments {
		if _, ok := p.segments[s.LinkID]; ok {
			continue
		}

		p.segments[s.LinkID] = s
		p.Order = append(p.Order, s.LinkID)
	}

	for _, id := range p.Order {
		if _, done := p.assignments[id]; done {
			continue
		}

		partner, err := e.FindAlignedPair(idx, id)
		if err != nil {
			idx.Consume(id)
			p.assignments[id] = &Assignment{LinkID: id, Unpairable: true, Reason: err.Error()}

			continue
		}

		p.assignments[id] = &Assignment{
			LinkID:   id,
			Partner:  partner.LinkID,
			Dot:      partner.Dot,
			Distance: partner.Distance,
		}
		p.assignments[partner.LinkID] = &Assignment{
			LinkID:   partner.LinkID,
			Partner:  id,
			Dot:      partner.Dot,
			Distance: partner.Distance,
		}
		p.pairs = append(p.pairs, [2]int64{id, partner.LinkID})
	}

	return p
}
