// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"github.com/poi295/camellones/spatial"
)

// Discard reasons.
const (
	ReasonDuplicate     = "duplicate"
	ReasonNotMultiDigit = "not_multidigit"
	ReasonNoGeometry    = "no_geometry"
	ReasonInvalidSide   = "invalid_side"
)

// Stats summarizes how the input rows were selected.
type Stats struct {
	Rows            int `json:"rows"`
	Duplicates      int `json:"duplicates"`
	NotMultiDigit   int `json:"not_multidigit"`
	MissingGeometry int `json:"missing_geometry"`
	InvalidSide     int `json:"invalid_side"`
	Kept            int `json:"kept"`
	Segments        int `json:"segments"`
}

// Discard records a POI left out of the analysis and why.
type Discard struct {
	POI    *POI   `json:"poi"`
	Reason string `json:"reason"`
}

// Options tune the dataset selection.
type Options struct {
	// POILinksOnly restricts the pairing candidates to links that carry at
	// least one selected POI. Otherwise every multiply digitized link is a
	// candidate.
	POILinksOnly bool
}

// Dataset holds the records taking part in a run.
type Dataset struct {
	// Segments are the multiply digitized links with a usable route, in
	// pairing order: first the links as they appear in the POI table, then
	// the remaining ones in file order.
	Segments []*Segment
	// POIs are the selected POIs in input order.
	POIs      []*POI
	Discarded []Discard
	Stats     Stats

	byID map[int64]*Segment
}

// Build joins the POI table with the navigation links. A POI is selected when
// it's the first row for its (LINK_ID, POI_ID), its link is multiply
// digitized with a route of at least two nodes, and its declared side is L
// or R.
func Build(segments []*Segment, pois []*POI, opts Options) *Dataset {
	byID := make(map[int64]*Segment, len(segments))
	for _, s := range segments {
		if _, ok := byID[s.LinkID]; !ok {
			byID[s.LinkID] = s
		}
	}

	type key struct {
		link int64
		poi  string
	}

	d := &Dataset{byID: make(map[int64]*Segment)}
	seen := make(map[key]bool, len(pois))

	var order []*Segment

	for _, poi := range pois {
		d.Stats.Rows++

		k := key{poi.LinkID, poi.ID}
		if seen[k] {
			d.discard(poi, ReasonDuplicate)

			continue
		}

		seen[k] = true

		segment, ok := byID[poi.LinkID]
		if !ok || !segment.MultiDigit {
			d.discard(poi, ReasonNotMultiDigit)

			continue
		}

		if len(segment.Route) < 2 {
			d.discard(poi, ReasonNoGeometry)

			continue
		}

		if _, err := spatial.ParseSide(poi.Side); err != nil {
			d.discard(poi, ReasonInvalidSide)

			continue
		}

		d.POIs = append(d.POIs, poi)
		d.Stats.Kept++

		if _, ok := d.byID[segment.LinkID]; !ok {
			d.byID[segment.LinkID] = segment
			order = append(order, segment)
		}
	}

	if !opts.POILinksOnly {
		for _, s := range segments {
			if _, ok := d.byID[s.LinkID]; ok || !s.MultiDigit || len(s.Route) < 2 || byID[s.LinkID] != s {
				continue
			}

			d.byID[s.LinkID] = s
			order = append(order, s)
		}
	}

	d.Segments = order
	d.Stats.Segments = len(order)

	return d
}

func (d *Dataset) discard(poi *POI, reason string) {
	d.Discarded = append(d.Discarded, Discard{POI: poi, Reason: reason})

	switch reason {
	case ReasonDuplicate:
		d.Stats.Duplicates++
	case ReasonNotMultiDigit:
		d.Stats.NotMultiDigit++
	case ReasonNoGeometry:
		d.Stats.MissingGeometry++
	case ReasonInvalidSide:
		d.Stats.InvalidSide++
	}
}

// Segment returns a selected link by id.
func (d *Dataset) Segment(linkID int64) (*Segment, bool) {
	s, ok := d.byID[linkID]

	return s, ok
}
