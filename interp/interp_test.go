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

package interp

import (
	"testing"

	"github.com/sneller-labs/vnodeql/order"
)

func samplePoints() []Point {
	return []Point{{Ts: 100, V: 10}, {Ts: 200, V: 20}, {Ts: 400, V: 40}}
}

func TestAtExactMatch(t *testing.T) {
	p, ok := At(ModeLinear, samplePoints(), 200, 0)
	if !ok || p.V != 20 {
		t.Fatalf("expected exact match 20, got %+v ok=%v", p, ok)
	}
}

func TestAtLinear(t *testing.T) {
	p, ok := At(ModeLinear, samplePoints(), 300, 0)
	if !ok || p.V != 30 {
		t.Fatalf("expected linear interpolation 30, got %+v ok=%v", p, ok)
	}
}

func TestAtPrevNext(t *testing.T) {
	p, ok := At(ModePrev, samplePoints(), 300, 0)
	if !ok || p.V != 20 {
		t.Fatalf("expected prev value 20, got %+v ok=%v", p, ok)
	}
	p2, ok2 := At(ModeNext, samplePoints(), 300, 0)
	if !ok2 || p2.V != 40 {
		t.Fatalf("expected next value 40, got %+v ok=%v", p2, ok2)
	}
}

func TestAtModeNoneNeverFills(t *testing.T) {
	_, ok := At(ModeNone, samplePoints(), 300, 0)
	if ok {
		t.Fatal("expected ModeNone to never produce a value")
	}
}

func TestAtSetValue(t *testing.T) {
	p, ok := At(ModeValue, samplePoints(), 300, 99)
	if !ok || p.V != 99 {
		t.Fatalf("expected fill value 99, got %+v ok=%v", p, ok)
	}
}

func TestAtOutOfRangeMissingSide(t *testing.T) {
	// linear interpolation before the first known point has no "before"
	_, ok := At(ModeLinear, samplePoints(), 50, 0)
	if ok {
		t.Fatal("expected linear to fail with no preceding neighbor")
	}
	// but prev-mode similarly has no prior value
	_, ok2 := At(ModePrev, samplePoints(), 50, 0)
	if ok2 {
		t.Fatal("expected prev-mode to fail with no preceding neighbor")
	}
}

func TestFillWindowGapsAscending(t *testing.T) {
	windows := []WindowPoint{
		{SKey: 0, EKey: 99, V: 10},
		{SKey: 100, EKey: 199, Empty: true},
		{SKey: 200, EKey: 299, V: 30},
	}
	out := FillWindowGaps(ModeLinear, windows, order.Ascending)
	if out[1].Empty {
		t.Fatal("expected gap window to be filled")
	}
	if out[1].V != 20 {
		t.Fatalf("expected interpolated value 20, got %v", out[1].V)
	}
}

func TestFillWindowGapsDescendingUsesEKeyAnchor(t *testing.T) {
	// descending scan order: windows listed from highest to lowest key
	windows := []WindowPoint{
		{SKey: 200, EKey: 299, V: 30},
		{SKey: 100, EKey: 199, Empty: true},
		{SKey: 0, EKey: 99, V: 10},
	}
	out := FillWindowGaps(ModeLinear, windows, order.Descending)
	if out[1].Empty || out[1].V != 20 {
		t.Fatalf("expected descending gap fill to 20, got %+v", out[1])
	}
}
