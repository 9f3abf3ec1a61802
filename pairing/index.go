// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/spatial"
)

// ordering is a fixed rank order over the arena with a doubly linked list of
// the entries still active, so consumed entries are skipped in O(1).
type ordering struct {
	order []int // arena position by rank
	rank  []int // rank by arena position
	prev  []int // previous active rank, -1 if none
	next  []int // next active rank, -1 if none
}

func newOrdering(n int, less func(a, b int) bool) *ordering {
	o := &ordering{
		order: make([]int, n),
		rank:  make([]int, n),
		prev:  make([]int, n),
		next:  make([]int, n),
	}

	for i := range o.order {
		o.order[i] = i
	}

	sort.SliceStable(o.order, func(i, j int) bool { return less(o.order[i], o.order[j]) })

	for r, pos := range o.order {
		o.rank[pos] = r
		o.prev[r] = r - 1
		o.next[r] = r + 1
	}

	if n > 0 {
		o.next[n-1] = -1
	}

	return o
}

func (o *ordering) remove(pos int) {
	r := o.rank[pos]
	p, n := o.prev[r], o.next[r]

	if p >= 0 {
		o.next[p] = n
	}

	if n >= 0 {
		o.prev[n] = p
	}

	o.prev[r], o.next[r] = -1, -1
}

// around visits up to k active predecessors and k active successors of pos,
// nearest first.
func (o *ordering) around(pos, k int, visit func(pos int)) {
	r := o.rank[pos]

	for i, p := 0, o.prev[r]; i < k && p >= 0; i, p = i+1, o.prev[p] {
		visit(o.order[p])
	}

	for i, n := 0, o.next[r]; i < k && n >= 0; i, n = i+1, o.next[n] {
		visit(o.order[n])
	}
}

type entry struct {
	segment *network.Segment
	// unit heading, valid when hasHeading
	heading    orb.Point
	hasHeading bool
}

func (e *entry) reference() orb.Point {
	return e.segment.Reference()
}

// Index is the candidate set of the pairing: segments ordered by the x and
// by the y of their reference node, plus the link id lookup. Consuming a
// segment removes it from the three structures at once.
type Index struct {
	entries  []entry
	byX, byY *ordering
	pos      map[int64]int
	consumed []bool
	active   int
}

// NewIndex builds the index over segments. Segments without nodes can't be
// placed and are left out; repeated link ids keep the first segment.
func NewIndex(segments []*network.Segment) *Index {
	idx := &Index{pos: make(map[int64]int, len(segments))}

	for _, s := range segments {
		if len(s.Route) == 0 {
			continue
		}

		if _, ok := idx.pos[s.LinkID]; ok {
			continue
		}

		e := entry{segment: s}
		if v, ok := s.Heading(); ok {
			e.heading, e.hasHeading = spatial.Unit(v)
		}

		idx.pos[s.LinkID] = len(idx.entries)
		idx.entries = append(idx.entries, e)
	}

	n := len(idx.entries)
	idx.byX = newOrdering(n, func(a, b int) bool {
		return idx.entries[a].reference()[0] < idx.entries[b].reference()[0]
	})
	idx.byY = newOrdering(n, func(a, b int) bool {
		return idx.entries[a].reference()[1] < idx.entries[b].reference()[1]
	})
	idx.consumed = make([]bool, n)
	idx.active = n

	return idx
}

// Len returns the number of active segments.
func (idx *Index) Len() int {
	return idx.active
}

func (idx *Index) lookup(linkID int64) (int, error) {
	pos, ok := idx.pos[linkID]
	if !ok || idx.consumed[pos] {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, linkID)
	}

	return pos, nil
}

// Contains tells whether linkID is active in the index.
func (idx *Index) Contains(linkID int64) bool {
	_, err := idx.lookup(linkID)

	return err == nil
}

// Reference returns the reference node of an active segment.
func (idx *Index) Reference(linkID int64) (orb.Point, error) {
	pos, err := idx.lookup(linkID)
	if err != nil {
		return orb.Point{}, err
	}

	return idx.entries[pos].reference(), nil
}

// Rank returns the positions of an active segment in the x and y orderings.
func (idx *Index) Rank(linkID int64) (int, int, error) {
	pos, err := idx.lookup(linkID)
	if err != nil {
		return 0, 0, err
	}

	return idx.byX.rank[pos], idx.byY.rank[pos], nil
}

// Neighbors returns the k nearest active predecessors and successors of
// linkID in both orderings, without repetitions.
func (idx *Index) Neighbors(linkID int64, k int) ([]int64, error) {
	pos, err := idx.lookup(linkID)
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{pos: true}

	var ids []int64

	visit := func(p int) {
		if !seen[p] {
			seen[p] = true
			ids = append(ids, idx.entries[p].segment.LinkID)
		}
	}

	idx.byX.around(pos, k, visit)
	idx.byY.around(pos, k, visit)

	return ids, nil
}

// Consume removes the given segments from the index. Unknown or already
// consumed ids are ignored.
func (idx *Index) Consume(linkIDs ...int64) {
	for _, id := range linkIDs {
		pos, err := idx.lookup(id)
		if err != nil {
			continue
		}

		idx.byX.remove(pos)
		idx.byY.remove(pos)
		idx.consumed[pos] = true
		idx.active--
	}
}

func (idx *Index) entry(linkID int64) *entry {
	return &idx.entries[idx.pos[linkID]]
}
