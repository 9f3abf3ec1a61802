// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"github.com/paulmach/orb"
	"github.com/poi295/camellones/spatial"
)

// MedianSides returns on which side of each carriageway the median lies,
// given the headings of two paired segments.
//
// The y components are compared first; when they're equal the segment with
// the smaller x component gets the right side.
func MedianSides(v1, v2 orb.Point) (spatial.Side, spatial.Side) {
	switch {
	case v1[1] == v2[1]:
		if v1[0] < v2[0] {
			return spatial.Right, spatial.Left
		}

		return spatial.Left, spatial.Right
	case v1[1] < v2[1]:
		return spatial.Left, spatial.Right
	default:
		return spatial.Right, spatial.Left
	}
}

// Label is the median attribution of a paired segment.
type Label struct {
	LinkID  int64        `json:"link_id"`
	Partner int64        `json:"partner"`
	Side    spatial.Side `json:"side"`
	// PartnerRoute holds the coordinates of the partner segment.
	PartnerRoute orb.LineString `json:"partner_route"`
}

// Labels maps link ids to their median attribution. Unpaired segments have
// no entry.
type Labels map[int64]Label

// Side returns the median side of a segment, if it was paired.
func (l Labels) Side(linkID int64) (spatial.Side, bool) {
	label, ok := l[linkID]

	return label.Side, ok
}

// Label derives the median side of every pair. The segment whose search
// found the pair is the first of the two.
func (p *Pairing) Label() Labels {
	labels := make(Labels, 2*len(p.pairs))

	for _, pair := range p.pairs {
		a, b := p.segments[pair[0]], p.segments[pair[1]]
		va, _ := a.Heading()
		vb, _ := b.Heading()
		sa, sb := MedianSides(va, vb)

		labels[a.LinkID] = Label{LinkID: a.LinkID, Partner: b.LinkID, Side: sa, PartnerRoute: b.Route}
		labels[b.LinkID] = Label{LinkID: b.LinkID, Partner: a.LinkID, Side: sb, PartnerRoute: a.Route}
	}

	return labels
}
