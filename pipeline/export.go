// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/paulmach/orb/geojson"
	"github.com/poi295/camellones/spatial"
)

// FeatureCollection exports the paired links, one feature per link with
// the pairing columns as properties: pareja (partner id or the unpairable
// marker), pareja_coord and camellon.
func (a *Analysis) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, id := range a.Pairing.Order {
		s, _ := a.Pairing.Segment(id)
		as, _ := a.Pairing.Assignment(id)

		f := geojson.NewFeature(s.Route)
		f.Properties["link_id"] = id
		f.Properties["MULTIDIGIT"] = "Y"
		f.Properties["pareja"] = as.PairValue()

		if label, ok := a.Labels[id]; ok {
			f.Properties["pareja_coord"] = label.PartnerRoute
			f.Properties["camellon"] = string(label.Side)
			f.Properties["dot"] = as.Dot
			f.Properties["distance"] = as.Distance
		} else {
			f.Properties["reason"] = as.Reason
		}

		fc.Append(f)
	}

	return fc
}

// Link is the pairing outcome of a link.
type Link struct {
	LinkID int64 `json:"link_id"`
	// Pareja is the partner id or the unpairable marker.
	Pareja  string        `json:"pareja"`
	Partner int64         `json:"partner,omitempty"`
	Side    string        `json:"camellon,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Ref     spatial.Point `json:"reference"`
}

// Links returns the pairing outcome of every link, in visiting order.
func (a *Analysis) Links() []Link {
	links := make([]Link, 0, len(a.Pairing.Order))

	for _, id := range a.Pairing.Order {
		s, _ := a.Pairing.Segment(id)
		as, _ := a.Pairing.Assignment(id)

		link := Link{LinkID: id, Pareja: as.PairValue(), Partner: as.Partner, Reason: as.Reason}
		if len(s.Route) > 0 {
			link.Ref = spatial.PointFromOrb(s.Reference())
		}

		if side, ok := a.Labels.Side(id); ok {
			link.Side = string(side)
		}

		links = append(links, link)
	}

	return links
}
