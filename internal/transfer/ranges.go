package transfer

import "sort"

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// RangeSet is a sorted set of disjoint, non-adjacent byte ranges. Adding
// ranges is commutative and idempotent.
type RangeSet struct {
	ranges []Range
}

// Add merges [start, end) into the set. Empty ranges are ignored.
func (s *RangeSet) Add(start, end uint64) {
	if end <= start {
		return
	}
	// First range whose end reaches start (touching ranges merge).
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= start })
	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= end {
		start = min(start, s.ranges[j].Start)
		end = max(end, s.ranges[j].End)
		j++
	}
	merged := Range{Start: start, End: end}
	if i == j {
		s.ranges = append(s.ranges, Range{})
		copy(s.ranges[i+1:], s.ranges[i:])
		s.ranges[i] = merged
		return
	}
	s.ranges[i] = merged
	s.ranges = append(s.ranges[:i+1], s.ranges[j:]...)
}

// Covers reports whether every byte of [start, end) is in the set.
func (s *RangeSet) Covers(start, end uint64) bool {
	if end <= start {
		return true
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End > start })
	return i < len(s.ranges) && s.ranges[i].Start <= start && s.ranges[i].End >= end
}

// Missing lists the gaps of [start, end) not covered by the set, in order.
func (s *RangeSet) Missing(start, end uint64) []Range {
	var out []Range
	cur := start
	for _, r := range s.ranges {
		if r.End <= cur {
			continue
		}
		if r.Start >= end {
			break
		}
		if r.Start > cur {
			out = append(out, Range{Start: cur, End: r.Start})
		}
		cur = r.End
		if cur >= end {
			return out
		}
	}
	if cur < end {
		out = append(out, Range{Start: cur, End: end})
	}
	return out
}

// Total is the number of bytes in the set.
func (s *RangeSet) Total() uint64 {
	var n uint64
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// End is one past the highest byte in the set, or zero when empty.
func (s *RangeSet) End() uint64 {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].End
}

// Ranges returns a copy of the merged ranges.
func (s *RangeSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}
