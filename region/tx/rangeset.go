package tx

import "github.com/tidwall/btree"

// rangeSet is a set of disjoint half-open intervals keyed by start.
// Adjacent and overlapping inserts are merged.
type rangeSet struct {
	m *btree.Map[uint64, uint64] // start -> end
}

func newRangeSet() *rangeSet {
	return &rangeSet{m: btree.NewMap[uint64, uint64](0)}
}

func (s *rangeSet) reset() {
	if s.m.Len() > 0 {
		s.m = btree.NewMap[uint64, uint64](0)
	}
}

func (s *rangeSet) len() int { return s.m.Len() }

// add inserts [start, end).
func (s *rangeSet) add(start, end uint64) {
	if start >= end {
		return
	}
	if ps, pe, ok := s.floor(start); ok && pe >= start {
		s.m.Delete(ps)
		start = ps
		end = max(end, pe)
	}
	for {
		ns, ne, ok := s.ceil(start)
		if !ok || ns > end {
			break
		}
		s.m.Delete(ns)
		end = max(end, ne)
	}
	s.m.Set(start, end)
}

// gaps calls fn for every maximal sub-interval of [start, end) not covered
// by the set, in ascending order. It stops at the first error.
func (s *rangeSet) gaps(start, end uint64, fn func(a, b uint64) error) error {
	pos := start
	if _, pe, ok := s.floor(pos); ok && pe > pos {
		pos = pe
	}
	for pos < end {
		ns, ne, ok := s.ceil(pos)
		if !ok || ns >= end {
			return fn(pos, end)
		}
		if ns > pos {
			if err := fn(pos, ns); err != nil {
				return err
			}
		}
		pos = ne
	}
	return nil
}

// covers reports whether [start, end) is fully inside the set.
func (s *rangeSet) covers(start, end uint64) bool {
	ps, pe, ok := s.floor(start)
	return ok && ps <= start && pe >= end
}

// floor returns the interval with the greatest start <= k.
func (s *rangeSet) floor(k uint64) (start, end uint64, ok bool) {
	s.m.Descend(k, func(ks, ke uint64) bool {
		start, end, ok = ks, ke, true
		return false
	})
	return start, end, ok
}

// ceil returns the interval with the smallest start >= k.
func (s *rangeSet) ceil(k uint64) (start, end uint64, ok bool) {
	s.m.Ascend(k, func(ks, ke uint64) bool {
		start, end, ok = ks, ke, true
		return false
	})
	return start, end, ok
}
