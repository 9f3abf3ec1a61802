// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidInput is returned for routes, percentages or sides that can't be
// located.
var ErrInvalidInput = errors.New("invalid input")

// Side is the lateral side of a route, relative to its digitized direction.
type Side string

const (
	Left  Side = "L"
	Right Side = "R"
)

// ParseSide validates a side label.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Left, Right:
		return Side(s), nil
	default:
		return "", fmt.Errorf("%w: side must be 'L' or 'R', got %q", ErrInvalidInput, s)
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Left {
		return Right
	}

	return Left
}

// Location is a point placed along a route.
type Location struct {
	// Point is the interpolated position.
	Point orb.Point
	// Perpendicular is the unit vector pointing to the requested side.
	Perpendicular orb.Point
	// Reference is the first node of the route.
	Reference orb.Point
}

// NormalizePercent maps a percent-along-route to [0,1]. Values above 1 are
// taken to be expressed over 100 and are silently divided.
func NormalizePercent(percent float64) float64 {
	if percent > 1 {
		return percent / 100
	}

	return percent
}

// LocatePointOnRoute finds the point at percent of the route length and the
// unit vector perpendicular to the route at that point, towards side.
//
// percent is normalized with NormalizePercent. When the target distance is
// only reached at the end of the route the last node is returned, with the
// perpendicular of the final segment.
func LocatePointOnRoute(route orb.LineString, percent float64, side Side) (Location, error) {
	percent = NormalizePercent(percent)

	if len(route) < 2 {
		return Location{}, fmt.Errorf("%w: at least two coordinates are needed to define a route", ErrInvalidInput)
	}

	if math.IsNaN(percent) || percent < 0 || percent > 1 {
		return Location{}, fmt.Errorf("%w: percent must be between 0 and 1, got %v", ErrInvalidInput, percent)
	}

	if _, err := ParseSide(string(side)); err != nil {
		return Location{}, err
	}

	distances := make([]float64, len(route)-1)

	var total float64

	for i := range distances {
		distances[i] = planar.Distance(route[i], route[i+1])
		total += distances[i]
	}

	if total == 0 {
		return Location{}, fmt.Errorf("%w: route has zero length", ErrInvalidInput)
	}

	target := percent * total

	var acc float64

	for i, d := range distances {
		// repeated nodes carry no direction
		if d == 0 {
			continue
		}

		if acc+d >= target {
			t := (target - acc) / d
			a, b := route[i], route[i+1]

			return Location{
				Point:         orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])},
				Perpendicular: Perpendicular(mustUnit(Direction(a, b)), side),
				Reference:     route[0],
			}, nil
		}

		acc += d
	}

	last := len(distances) - 1
	for distances[last] == 0 {
		last--
	}

	return Location{
		Point:         route[len(route)-1],
		Perpendicular: Perpendicular(mustUnit(Direction(route[last], route[last+1])), side),
		Reference:     route[0],
	}, nil
}

// Direction returns the vector going from a to b.
func Direction(a, b orb.Point) orb.Point {
	return orb.Point{b[0] - a[0], b[1] - a[1]}
}

// Unit scales v to length one. It reports false for the zero vector.
func Unit(v orb.Point) (orb.Point, bool) {
	n := math.Hypot(v[0], v[1])
	if n == 0 || math.IsNaN(n) {
		return orb.Point{}, false
	}

	return orb.Point{v[0] / n, v[1] / n}, true
}

func mustUnit(v orb.Point) orb.Point {
	u, _ := Unit(v)

	return u
}

// Dot returns the dot product of two vectors.
func Dot(a, b orb.Point) float64 {
	return a[0]*b[0] + a[1]*b[1]
}

// Perpendicular rotates the unit vector u by 90 degrees: clockwise for the
// right side, counterclockwise for the left one.
func Perpendicular(u orb.Point, side Side) orb.Point {
	if side == Right {
		return orb.Point{u[1], -u[0]}
	}

	return orb.Point{-u[1], u[0]}
}

// Offset moves p along the direction dir by dist.
func Offset(p, dir orb.Point, dist float64) orb.Point {
	return orb.Point{p[0] + dir[0]*dist, p[1] + dir[1]*dist}
}
