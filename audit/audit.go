// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit checks the POIs sitting on the median side of divided roads
// against satellite imagery.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/poi295/camellones/imagery"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/pairing"
)

// OracleKind selects which classifier answers a question.
type OracleKind int

const (
	// PrimaryOracle tells whether there is a POI on the median.
	PrimaryOracle OracleKind = iota
	// SidesOracle tells whether there is a POI next to the median.
	SidesOracle
)

func (k OracleKind) String() string {
	switch k {
	case PrimaryOracle:
		return "primary"
	case SidesOracle:
		return "sides"
	default:
		return fmt.Sprintf("OracleKind(%d)", int(k))
	}
}

// Oracles holds one classifier per kind. Sides is optional.
type Oracles struct {
	Primary imagery.Classifier
	Sides   imagery.Classifier
}

// Get returns the classifier of a kind, nil when not configured.
func (o Oracles) Get(kind OracleKind) imagery.Classifier {
	switch kind {
	case PrimaryOracle:
		return o.Primary
	case SidesOracle:
		return o.Sides
	default:
		return nil
	}
}

// Check verifies the configured classifiers answer. The primary one is
// mandatory.
func (o Oracles) Check(ctx context.Context) error {
	errs := []error{imagery.Check(ctx, PrimaryOracle.String(), o.Primary)}
	if o.Sides != nil {
		errs = append(errs, imagery.Check(ctx, SidesOracle.String(), o.Sides))
	}

	return errors.Join(errs...)
}

// Label is the outcome of checking a POI.
type Label string

const (
	// LegitimateException is a POI actually standing on the median.
	LegitimateException Label = "legitimate_exception"
	// IncorrectLocation is a POI that exists but next to the median.
	IncorrectLocation Label = "incorrect_location"
	// NoPOI is a POI not found in the imagery.
	NoPOI Label = "no_poi"
	// IncorrectMultiDigit is a POI whose link is flagged as multiply
	// digitized but has no parallel carriageway.
	IncorrectMultiDigit Label = "incorrect_multidigit"
)

// Record is the result of checking one POI. Label is one of the Label
// values or, when the check failed, the error message.
type Record struct {
	X      float64 `json:"x_cord"`
	Y      float64 `json:"y_cord"`
	Name   string  `json:"POI_NAME"`
	Label  string  `json:"label"`
	Error  string  `json:"error,omitempty"`
	LinkID int64   `json:"LINK_ID"`
	Side   string  `json:"POI_ST_SD"`
	// Score is the primary classifier probability.
	Score *float64 `json:"score,omitempty"`
	// SideScores are the sides classifier probabilities, when consulted.
	SideScores []float64 `json:"side_scores,omitempty"`
	// Valid is set for POIs confirmed on the median.
	Valid bool `json:"valid"`
}

// Failed tells whether the check couldn't complete.
func (r Record) Failed() bool {
	return r.Error != ""
}

// Results maps POI ids to their record.
type Results map[string]Record

// Counts returns how many records got each label. Failures are counted
// under "error".
func (r Results) Counts() map[string]int {
	counts := make(map[string]int)

	for _, rec := range r {
		if rec.Failed() {
			counts["error"]++
		} else {
			counts[rec.Label]++
		}
	}

	return counts
}

// FinalFilter keeps the POIs declared on the side where their link has the
// median. POIs on unpaired links are dropped.
func FinalFilter(pois []*network.POI, labels pairing.Labels) []*network.POI {
	var kept []*network.POI

	for _, poi := range pois {
		side, ok := labels.Side(poi.LinkID)
		if ok && string(side) == poi.Side {
			kept = append(kept, poi)
		}
	}

	return kept
}

// Item is a POI to check with the link it lies on.
type Item struct {
	POI     *network.POI
	Segment *network.Segment
}

// Items joins the POIs with their links in d. POIs whose link isn't in d
// are skipped.
func Items(d *network.Dataset, pois []*network.POI) []Item {
	items := make([]Item, 0, len(pois))

	for _, poi := range pois {
		if s, ok := d.Segment(poi.LinkID); ok {
			items = append(items, Item{POI: poi, Segment: s})
		}
	}

	return items
}
