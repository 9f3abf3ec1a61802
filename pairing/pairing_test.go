// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seg builds a two node segment starting at (x, y) with heading (dx, dy).
func seg(id int64, x, y, dx, dy float64) *network.Segment {
	return &network.Segment{
		LinkID:     id,
		Route:      orb.LineString{{x, y}, {x + dx, y + dy}},
		MultiDigit: true,
	}
}

// headingAt returns a heading whose dot product with east is dot.
func headingAt(dot float64) (float64, float64) {
	return dot * 0.001, math.Sqrt(1-dot*dot) * 0.001
}

func TestFindAlignedPair(t *testing.T) {
	dx99, dy99 := headingAt(0.99)
	dx50, dy50 := headingAt(0.5)

	tests := []struct {
		name    string
		other   *network.Segment
		wantErr error
	}{
		{name: "parallel and close", other: seg(2, 0, 0.0002, dx99, dy99)},
		{name: "close but misaligned", other: seg(2, 0, 0.0002, dx50, dy50), wantErr: ErrNoAlignedCandidate},
		{name: "aligned but far", other: seg(2, 0, 0.0005, 0.001, 0), wantErr: ErrNoAlignedCandidate},
		{name: "opposite direction", other: seg(2, 0.001, 0.0002, -0.001, 0), wantErr: ErrNoAlignedCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewIndex([]*network.Segment{seg(1, 0, 0, 0.001, 0), tt.other})
			e := NewEngine(DefaultConfig())

			got, err := e.FindAlignedPair(idx, 1)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, idx.Contains(1), "a failed search doesn't consume")
				assert.True(t, idx.Contains(2))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(2), got.LinkID)
			assert.InDelta(t, 0.99, got.Dot, 1e-9)
			assert.InDelta(t, 0.0002, got.Distance, 1e-12)
			assert.False(t, idx.Contains(1))
			assert.False(t, idx.Contains(2))
			assert.Zero(t, idx.Len())
		})
	}
}

func TestFindAlignedPairNotFound(t *testing.T) {
	idx := NewIndex([]*network.Segment{seg(1, 0, 0, 0.001, 0), seg(2, 0, 0.0002, 0.001, 0)})
	e := NewEngine(DefaultConfig())

	_, err := e.FindAlignedPair(idx, 99)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.FindAlignedPair(idx, 1)
	require.NoError(t, err)

	_, err = e.FindAlignedPair(idx, 2)
	assert.ErrorIs(t, err, ErrNotFound, "consumed partner")
}

func TestFindAlignedPairWithoutHeading(t *testing.T) {
	flat := &network.Segment{LinkID: 1, Route: orb.LineString{{0, 0}, {0, 0}, {0.001, 0}}, MultiDigit: true}
	idx := NewIndex([]*network.Segment{flat, seg(2, 0, 0.0002, 0.001, 0), seg(3, 0, 0.0001, 0.001, 0)})
	e := NewEngine(DefaultConfig())

	_, err := e.FindAlignedPair(idx, 1)
	require.ErrorIs(t, err, ErrNoAlignedCandidate)

	// and it's never offered as a candidate
	got, err := e.FindAlignedPair(idx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.LinkID)
}

func TestFindAlignedPairTieBreak(t *testing.T) {
	dxTie, dyTie := headingAt(0.9995)
	dxOff, dyOff := headingAt(0.99)

	tests := []struct {
		name     string
		segments []*network.Segment
		want     int64
	}{
		{
			name: "closest within tolerance",
			segments: []*network.Segment{
				seg(1, 0, 0, 0.001, 0),
				seg(2, 0, 0.0003, 0.001, 0),
				seg(3, 0, 0.0001, dxTie, dyTie),
				seg(4, 0, 0.00005, dxOff, dyOff),
			},
			want: 3,
		},
		{
			name: "exact tie goes to lower id",
			segments: []*network.Segment{
				seg(1, 0, 0, 0.001, 0),
				seg(7, 0, 0.0002, 0.001, 0),
				seg(5, 0, -0.0002, 0.001, 0),
			},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEngine(DefaultConfig()).FindAlignedPair(NewIndex(tt.segments), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.LinkID)
		})
	}
}

func TestFindAlignedPairNeighborWindow(t *testing.T) {
	segments := []*network.Segment{seg(1, 0, 0, 0.001, 0)}
	// crossing streets sitting between the base and its partner in both
	// orderings
	for i := int64(1); i <= 3; i++ {
		segments = append(segments, seg(10+i, float64(i)*1e-5, float64(i)*1e-5, 0, 0.001))
	}

	segments = append(segments, seg(2, 5e-5, 5e-5, 0.001, 0))

	narrow := DefaultConfig()
	narrow.Neighbors = 1

	_, err := NewEngine(narrow).FindAlignedPair(NewIndex(segments), 1)
	require.ErrorIs(t, err, ErrNoAlignedCandidate)

	got, err := NewEngine(DefaultConfig()).FindAlignedPair(NewIndex(segments), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.LinkID)
}

// boulevards returns n divided roads 0.01 degrees apart, plus a lone link.
func boulevards(n int) []*network.Segment {
	var segments []*network.Segment

	for i := 0; i < n; i++ {
		x := float64(i) * 0.01
		segments = append(segments,
			seg(int64(2*i+1), x, 0, 0.001, 0.00001*float64(i%3)),
			seg(int64(2*i+2), x+0.00001, 0.00025, 0.001, 0),
		)
	}

	return append(segments, seg(999, 5, 5, 0.001, 0))
}

func TestPairAll(t *testing.T) {
	segments := boulevards(20)
	p := NewEngine(DefaultConfig()).PairAll(segments)

	require.Len(t, p.Order, len(segments))
	assert.Len(t, p.Pairs(), 20)

	for _, id := range p.Order {
		a, ok := p.Assignment(id)
		require.True(t, ok, "every segment reaches a terminal state: %d", id)

		if a.Unpairable {
			assert.Equal(t, UnpairableMarker, a.PairValue())
			assert.NotEmpty(t, a.Reason)

			continue
		}

		partner, ok := p.Assignment(a.Partner)
		require.True(t, ok)
		assert.Equal(t, id, partner.Partner, "pairing is symmetric")
		assert.False(t, partner.Unpairable)
	}

	lone, ok := p.Assignment(999)
	require.True(t, ok)
	assert.True(t, lone.Unpairable)
	assert.Contains(t, lone.Reason, ErrNoAlignedCandidate.Error())

	if diff := cmp.Diff([]Assignment{lone}, p.Unpairable()); diff != "" {
		t.Errorf("Unpairable() mismatch (-want +got):\n%s", diff)
	}
}

func TestPairAllSegmentsPairedOnce(t *testing.T) {
	// three aligned links close together: only two can pair
	segments := []*network.Segment{
		seg(1, 0, 0, 0.001, 0),
		seg(2, 0, 0.0001, 0.001, 0),
		seg(3, 0, 0.0002, 0.001, 0),
		seg(1, 0, 0, 0.001, 0),
	}

	p := NewEngine(DefaultConfig()).PairAll(segments)

	assert.Equal(t, []int64{1, 2, 3}, p.Order)
	assert.Equal(t, [][2]int64{{1, 2}}, p.Pairs())

	third, _ := p.Assignment(3)
	assert.True(t, third.Unpairable)
	assert.Contains(t, third.Reason, ErrNoAlignedCandidate.Error())

	first, _ := p.Assignment(1)
	assert.Equal(t, "2", first.PairValue())
}

func TestPairAllDeterministic(t *testing.T) {
	first := NewEngine(DefaultConfig()).PairAll(boulevards(15))
	second := NewEngine(DefaultConfig()).PairAll(boulevards(15))

	if diff := cmp.Diff(first.Pairs(), second.Pairs()); diff != "" {
		t.Errorf("pairs differ between runs (-first +second):\n%s", diff)
	}

	if diff := cmp.Diff(first.Label(), second.Label()); diff != "" {
		t.Errorf("labels differ between runs (-first +second):\n%s", diff)
	}
}

func TestMedianSides(t *testing.T) {
	tests := []struct {
		name   string
		v1, v2 orb.Point
		a, b   spatial.Side
	}{
		{name: "same y, smaller x first", v1: orb.Point{0.5, 0}, v2: orb.Point{1, 0}, a: spatial.Right, b: spatial.Left},
		{name: "same y, smaller x second", v1: orb.Point{1, 0}, v2: orb.Point{0.5, 0}, a: spatial.Left, b: spatial.Right},
		{name: "identical", v1: orb.Point{1, 0}, v2: orb.Point{1, 0}, a: spatial.Left, b: spatial.Right},
		{name: "first lower", v1: orb.Point{1, 0.1}, v2: orb.Point{1, 0.2}, a: spatial.Left, b: spatial.Right},
		{name: "first higher", v1: orb.Point{1, 0.2}, v2: orb.Point{1, 0.1}, a: spatial.Right, b: spatial.Left},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := MedianSides(tt.v1, tt.v2)
			assert.Equal(t, tt.a, a)
			assert.Equal(t, tt.b, b)
		})
	}
}

func TestLabel(t *testing.T) {
	a := seg(1, 0, 0, 0.001, 0)
	b := seg(2, 0, 0.0002, 0.001, 0.00001)
	lone := seg(3, 1, 1, 0.001, 0)

	p := NewEngine(DefaultConfig()).PairAll([]*network.Segment{a, b, lone})
	labels := p.Label()

	want := Labels{
		1: {LinkID: 1, Partner: 2, Side: spatial.Left, PartnerRoute: b.Route},
		2: {LinkID: 2, Partner: 1, Side: spatial.Right, PartnerRoute: a.Route},
	}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("Label() mismatch (-want +got):\n%s", diff)
	}

	_, ok := labels.Side(3)
	assert.False(t, ok, "unpaired segments get no label")
}

func TestIndex(t *testing.T) {
	segments := []*network.Segment{
		seg(1, 0.3, 0.1, 0.001, 0),
		seg(2, 0.1, 0.3, 0.001, 0),
		seg(3, 0.2, 0.2, 0.001, 0),
		seg(2, 9, 9, 0.001, 0),
		{LinkID: 4},
	}

	idx := NewIndex(segments)
	assert.Equal(t, 3, idx.Len())
	assert.False(t, idx.Contains(4))

	ref, err := idx.Reference(2)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{0.1, 0.3}, ref, "first segment wins on repeated ids")

	x, y, err := idx.Rank(1)
	require.NoError(t, err)
	assert.Equal(t, 2, x)
	assert.Equal(t, 0, y)

	n, err := idx.Neighbors(3, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, n)

	idx.Consume(3, 3, 42)
	assert.Equal(t, 2, idx.Len())

	_, _, err = idx.Rank(3)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = idx.Neighbors(3, 1)
	require.ErrorIs(t, err, ErrNotFound)

	// 3 sat between 1 and 2 in both orderings
	n, err = idx.Neighbors(2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, n)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.DotThreshold = 1.5 },
		func(c *Config) { c.MaxDist = -1 },
		func(c *Config) { c.Neighbors = 0 },
		func(c *Config) { c.TieTolerance = -0.1 },
	}

	for _, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate())
	}
}
