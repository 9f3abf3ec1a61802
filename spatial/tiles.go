// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Tile is a web-mercator (slippy map) tile.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TileOf returns the tile containing p at the given zoom level.
func TileOf(p Point, zoom int) Tile {
	latRad := p.Lat * math.Pi / 180
	lngRad := p.Lng * math.Pi / 180
	n := math.Exp2(float64(zoom))

	return Tile{
		X: int((lngRad + math.Pi) / (2 * math.Pi) * n),
		Y: int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n),
		Z: zoom,
	}
}

// Corner returns the north-west corner of tile (x, y) at zoom z. Passing
// x+1 or y+1 yields the other corners.
func Corner(x, y, z int) Point {
	n := math.Exp2(float64(z))
	lng := float64(x)/n*360.0 - 180.0
	lat := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))

	return Point{Lat: lat * 180 / math.Pi, Lng: lng}
}

// Bounds returns the tile corners clockwise from the north-west one.
func (t Tile) Bounds() [4]Point {
	return [4]Point{
		Corner(t.X, t.Y, t.Z),
		Corner(t.X+1, t.Y, t.Z),
		Corner(t.X+1, t.Y+1, t.Z),
		Corner(t.X, t.Y+1, t.Z),
	}
}

// Polygon returns the closed tile outline.
func (t Tile) Polygon() orb.Polygon {
	b := t.Bounds()
	ring := orb.Ring{b[0].Orb(), b[1].Orb(), b[2].Orb(), b[3].Orb(), b[0].Orb()}

	return orb.Polygon{ring}
}

// WKT returns the tile outline as a WKT polygon.
func (t Tile) WKT() string {
	return wkt.MarshalString(t.Polygon())
}
