package transfer

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/danmuck/cfdp/internal/testutil/testlog"
)

func TestRangeSetMergesOverlapAndAdjacency(t *testing.T) {
	testlog.Start(t)
	var s RangeSet
	s.Add(5, 8)
	s.Add(0, 3)
	s.Add(10, 12)
	s.Add(3, 5)
	want := []Range{{0, 8}, {10, 12}}
	if got := s.Ranges(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges=%v want=%v", got, want)
	}
	s.Add(7, 11)
	if got := s.Ranges(); !reflect.DeepEqual(got, []Range{{0, 12}}) {
		t.Fatalf("ranges after bridge=%v", got)
	}
	if s.Total() != 12 {
		t.Fatalf("total=%d want=12", s.Total())
	}
}

func TestRangeSetMissing(t *testing.T) {
	testlog.Start(t)
	var s RangeSet
	s.Add(0, 3)
	s.Add(5, 8)
	if got := s.Missing(0, 8); !reflect.DeepEqual(got, []Range{{3, 5}}) {
		t.Fatalf("missing=%v want=[{3 5}]", got)
	}
	if got := s.Missing(0, 10); !reflect.DeepEqual(got, []Range{{3, 5}, {8, 10}}) {
		t.Fatalf("missing to 10=%v", got)
	}
	var empty RangeSet
	if got := empty.Missing(0, 4); !reflect.DeepEqual(got, []Range{{0, 4}}) {
		t.Fatalf("missing on empty set=%v", got)
	}
	if got := s.Missing(0, 3); got != nil {
		t.Fatalf("expected no gaps in covered prefix, got %v", got)
	}
}

func TestRangeSetCovers(t *testing.T) {
	testlog.Start(t)
	var s RangeSet
	if !s.Covers(0, 0) {
		t.Fatalf("empty interval must be covered")
	}
	s.Add(0, 3)
	s.Add(5, 8)
	if s.Covers(0, 8) {
		t.Fatalf("set with a gap must not cover [0,8)")
	}
	s.Add(3, 5)
	if !s.Covers(0, 8) || !s.Covers(2, 6) {
		t.Fatalf("filled set must cover [0,8)")
	}
}

func TestRangeSetOrderAndDuplicatesDoNotMatter(t *testing.T) {
	testlog.Start(t)
	segments := []Range{{0, 4}, {4, 9}, {9, 10}, {12, 20}, {2, 6}, {15, 16}}
	var ref RangeSet
	for _, r := range segments {
		ref.Add(r.Start, r.End)
	}
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		shuffled := append([]Range(nil), segments...)
		shuffled = append(shuffled, segments[rng.Intn(len(segments))])
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		var s RangeSet
		for _, r := range shuffled {
			s.Add(r.Start, r.End)
		}
		if !reflect.DeepEqual(s.Ranges(), ref.Ranges()) {
			t.Fatalf("round %d: ranges=%v want=%v", round, s.Ranges(), ref.Ranges())
		}
		if s.Covers(0, 20) != ref.Covers(0, 20) {
			t.Fatalf("round %d: completeness differs", round)
		}
	}
}
