// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package window

import (
	"math"
	"testing"

	"github.com/sneller-labs/vnodeql/agg"
)

func TestTumblingAlignment(t *testing.T) {
	w := Tumbling(1530, 0, 1000)
	if w.SKey != 1000 || w.EKey != 1999 {
		t.Fatalf("unexpected tumbling window: %+v", w)
	}
	w2 := Tumbling(999, 0, 1000)
	if w2.SKey != 0 || w2.EKey != 999 {
		t.Fatalf("unexpected tumbling window for boundary value: %+v", w2)
	}
}

func TestTumblingNegativeEpochOffset(t *testing.T) {
	// t before epoch must still floor toward negative infinity, not zero
	w := Tumbling(-1500, 0, 1000)
	if w.SKey != -2000 || w.EKey != -1001 {
		t.Fatalf("unexpected negative-range window: %+v", w)
	}
}

func TestAlignEndClampsAtMax(t *testing.T) {
	e := AlignEnd(math.MaxInt64-10, 1000)
	if e != math.MaxInt64 {
		t.Fatalf("expected clamp to MaxInt64, got %v", e)
	}
}

func TestSlidingOverlap(t *testing.T) {
	// interval 1000, slide 500: a point at 1200 should belong to the
	// windows starting at 1000 and 500.
	ws := Sliding(1200, 0, 1000, 500)
	if len(ws) != 2 {
		t.Fatalf("expected 2 overlapping windows, got %d: %+v", len(ws), ws)
	}
	starts := map[int64]bool{}
	for _, w := range ws {
		starts[w.SKey] = true
	}
	if !starts[1000] || !starts[500] {
		t.Fatalf("expected windows starting at 500 and 1000, got %+v", ws)
	}
}

func newCountAggs() []agg.Aggregator {
	a := agg.New(agg.Count, agg.Args{})
	a.Init()
	return []agg.Aggregator{a}
}

func TestSetGetOrCreateAndGrow(t *testing.T) {
	s := NewSet()
	for g := 0; g < DefaultCapacity*3; g++ {
		s.GetOrCreate(uint64(g), int64(g)*1000, int64(g)*1000+999, newCountAggs)
	}
	if s.Len() != DefaultCapacity*3 {
		t.Fatalf("expected %d live slots, got %d", DefaultCapacity*3, s.Len())
	}
	// every previously created slot must still be reachable after
	// however many grow() calls occurred along the way
	for g := 0; g < DefaultCapacity*3; g++ {
		if _, ok := s.Get(uint64(g), int64(g)*1000); !ok {
			t.Fatalf("slot for group %d missing after growth", g)
		}
	}
}

func TestSetCloseAndEvict(t *testing.T) {
	s := NewSet()
	s.GetOrCreate(0, 0, 999, newCountAggs)
	s.GetOrCreate(0, 1000, 1999, newCountAggs)

	closed := s.Close(1000, true) // ascending scan has passed key 1000
	if len(closed) != 1 || closed[0].Window.SKey != 0 {
		t.Fatalf("expected window [0,999] to close, got %+v", closed)
	}
	s.Evict()
	if s.Len() != 1 {
		t.Fatalf("expected 1 slot remaining after evict, got %d", s.Len())
	}
	if _, ok := s.Get(0, 0); ok {
		t.Fatal("closed window should no longer be gettable after evict")
	}
	if _, ok := s.Get(0, 1000); !ok {
		t.Fatal("open window should survive evict")
	}
}
