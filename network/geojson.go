// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/poi295/camellones/utils/textutils"
)

// GeoJSON property names of the navigation layer.
const (
	linkIDProperty     = "link_id"
	multiDigitProperty = "MULTIDIGIT"
)

// LoadSegments reads the navigation GeoJSON file.
func LoadSegments(path string) ([]*Segment, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("opening navigation file: %w", err)
	}
	defer f.Close()

	return ReadSegments(f)
}

// ReadSegments decodes a FeatureCollection of links. Features whose geometry
// isn't a LineString are kept with an empty route.
func ReadSegments(r io.Reader) ([]*Segment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading navigation data: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing navigation GeoJSON: %w", err)
	}

	segments := make([]*Segment, 0, len(fc.Features))

	for i, feature := range fc.Features {
		raw, ok := property(feature.Properties, linkIDProperty)
		if !ok {
			return nil, fmt.Errorf("feature %d: missing %s", i, linkIDProperty)
		}

		id, ok := textutils.AnyToInt64(raw)
		if !ok {
			return nil, fmt.Errorf("feature %d: invalid %s %v", i, linkIDProperty, raw)
		}

		flag, _ := property(feature.Properties, multiDigitProperty)
		s, _ := flag.(string)

		segment := &Segment{
			LinkID:     id,
			MultiDigit: strings.EqualFold(strings.TrimSpace(s), "Y"),
		}

		if ls, ok := feature.Geometry.(orb.LineString); ok {
			segment.Route = ls
		}

		segments = append(segments, segment)
	}

	return segments, nil
}

// property looks a key up exactly first and then ignoring case and accents.
func property(props geojson.Properties, key string) (any, bool) {
	if v, ok := props[key]; ok {
		return v, true
	}

	folded := textutils.LowerASCIIFolding(key)
	for k, v := range props {
		if textutils.LowerASCIIFolding(k) == folded {
			return v, true
		}
	}

	return nil, false
}
