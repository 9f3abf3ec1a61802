// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routes = map[string]orb.LineString{
	"straight": {{-99.1332, 19.4326}, {-99.1330, 19.4330}},
	"polyline": {{-99.1332, 19.4326}, {-99.1330, 19.4330}, {-99.1325, 19.4331}, {-99.1320, 19.4340}},
	"repeated": {{-99.1332, 19.4326}, {-99.1332, 19.4326}, {-99.1330, 19.4330}, {-99.1330, 19.4330}},
}

func TestLocatePointOnRouteEnds(t *testing.T) {
	for name, route := range routes {
		for _, side := range []Side{Left, Right} {
			t.Run(name+"/"+string(side), func(t *testing.T) {
				start, err := LocatePointOnRoute(route, 0, side)
				require.NoError(t, err)
				assert.Equal(t, route[0], start.Point)
				assert.Equal(t, route[0], start.Reference)

				end, err := LocatePointOnRoute(route, 1, side)
				require.NoError(t, err)
				assert.InDelta(t, route[len(route)-1][0], end.Point[0], 1e-12)
				assert.InDelta(t, route[len(route)-1][1], end.Point[1], 1e-12)
			})
		}
	}
}

func TestLocatePointOnRoutePerpendicular(t *testing.T) {
	for name, route := range routes {
		for _, percent := range []float64{0, 0.1, 0.33, 0.5, 0.75, 1} {
			for _, side := range []Side{Left, Right} {
				loc, err := LocatePointOnRoute(route, percent, side)
				require.NoError(t, err, name)

				assert.InDelta(t, 1, math.Hypot(loc.Perpendicular[0], loc.Perpendicular[1]), 1e-9, name)

				// orthogonal to the sub-segment the point falls on
				var dir orb.Point
				for i := 0; i < len(route)-1; i++ {
					if u, ok := Unit(Direction(route[i], route[i+1])); ok {
						dir = u
						if onSegment(loc.Point, route[i], route[i+1]) {
							break
						}
					}
				}

				assert.InDelta(t, 0, Dot(dir, loc.Perpendicular), 1e-9, name)
			}
		}
	}
}

func onSegment(p, a, b orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	inX := p[0] >= math.Min(a[0], b[0])-1e-12 && p[0] <= math.Max(a[0], b[0])+1e-12
	inY := p[1] >= math.Min(a[1], b[1])-1e-12 && p[1] <= math.Max(a[1], b[1])+1e-12

	return math.Abs(cross) < 1e-15 && inX && inY
}

func TestLocatePointOnRouteSides(t *testing.T) {
	// heading north: right is east, left is west
	route := orb.LineString{{0, 0}, {0, 2}}

	right, err := LocatePointOnRoute(route, 0.5, Right)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{0, 1}, right.Point)
	assert.Equal(t, orb.Point{1, 0}, right.Perpendicular)

	left, err := LocatePointOnRoute(route, 50, Left)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{0, 1}, left.Point)
	assert.Equal(t, orb.Point{-1, 0}, left.Perpendicular)
}

func TestLocatePointOnRouteInvalid(t *testing.T) {
	tests := []struct {
		name    string
		route   orb.LineString
		percent float64
		side    Side
	}{
		{name: "single coordinate", route: orb.LineString{{0, 0}}, percent: 0.5, side: Left},
		{name: "empty", route: nil, percent: 0.5, side: Left},
		{name: "negative percent", route: routes["straight"], percent: -0.1, side: Left},
		{name: "percent above 100", route: routes["straight"], percent: 150, side: Left},
		{name: "bad side", route: routes["straight"], percent: 0.5, side: "X"},
		{name: "zero length", route: orb.LineString{{1, 1}, {1, 1}}, percent: 0.5, side: Right},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LocatePointOnRoute(tt.route, tt.percent, tt.side)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestNormalizePercent(t *testing.T) {
	assert.InDelta(t, 0.25, NormalizePercent(25), 1e-12)
	assert.InDelta(t, 0.25, NormalizePercent(0.25), 1e-12)
	assert.InDelta(t, 1, NormalizePercent(1), 1e-12)
	assert.InDelta(t, 1, NormalizePercent(100), 1e-12)
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("L")
	require.NoError(t, err)
	assert.Equal(t, Left, s)
	assert.Equal(t, Right, s.Opposite())

	_, err = ParseSide("B")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
