// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package network loads the road links and the points of interest attached
// to them, and selects the records taking part in the median analysis.
package network

import (
	"github.com/paulmach/orb"
	"github.com/poi295/camellones/spatial"
)

// Segment is one directed digitization of a road (a link).
type Segment struct {
	LinkID int64 `json:"link_id"`
	// Route is the link polyline, x being the longitude.
	Route orb.LineString `json:"route"`
	// MultiDigit tells whether the source network marks the link as part of
	// a multiply digitized (divided) road.
	MultiDigit bool `json:"multidigit"`
}

// Reference returns the first node of the route.
func (s *Segment) Reference() orb.Point {
	return s.Route[0]
}

// Heading returns the vector from the reference node to the next node. It
// reports false when the route has less than two nodes.
func (s *Segment) Heading() (orb.Point, bool) {
	if len(s.Route) < 2 {
		return orb.Point{}, false
	}

	return spatial.Direction(s.Route[0], s.Route[1]), true
}

// POI is a point of interest attached to a link.
type POI struct {
	ID     string `json:"poi_id"`
	LinkID int64  `json:"link_id"`
	// Percent is the position along the link route as read, either over 1
	// or over 100.
	Percent float64 `json:"percent"`
	// Side is the declared side of the link the POI is on.
	Side string `json:"side"`
	Name string `json:"name"`
}
