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

package load

import (
	"testing"

	"github.com/sneller-labs/vnodeql/header"
)

func block1() header.CompBlock {
	return header.CompBlock{
		KeyFirst: 1000, KeyLast: 2000,
		Cols: []header.ColAgg{
			{Min: 1, Max: 3},  // col 0: ts, unused by filters here
			{Min: 10, Max: 20}, // col 1
		},
	}
}

func TestDiscardOutsideKeyRange(t *testing.T) {
	var tr Tracker
	cb := block1()
	need := Need{SKey: 5000, EKey: 6000, Columns: []uint16{1}}
	d := tr.Decide(Key{FileID: 1, Slot: 0}, cb, need)
	if d.State != Discard {
		t.Fatalf("expected Discard, got %v", d.State)
	}
}

func TestDiscardVacuousFilter(t *testing.T) {
	var tr Tracker
	cb := block1()
	need := Need{
		SKey: 1000, EKey: 2000,
		Filters: []Filter{{ColID: 1, Lo: 100, Hi: 200}},
		Columns: []uint16{1},
	}
	d := tr.Decide(Key{FileID: 1, Slot: 0}, cb, need)
	if d.State != Discard {
		t.Fatalf("expected Discard for vacuous filter, got %v", d.State)
	}
}

func TestLoadColumnsThenIdempotent(t *testing.T) {
	var tr Tracker
	cb := block1()
	key := Key{FileID: 1, Slot: 0}
	need := Need{SKey: 1000, EKey: 2000, Columns: []uint16{1}, NeedTS: true}

	first := tr.Decide(key, cb, need)
	if first.State != LoadColumns || !first.NeedTS || len(first.Cols) != 1 {
		t.Fatalf("unexpected first decision: %+v", first)
	}

	// repeated probe of the identical block must require no further I/O
	second := tr.Decide(key, cb, need)
	if !second.Empty() {
		t.Fatalf("expected empty decision on repeat probe, got %+v", second)
	}

	// and a third time, for good measure (demandLoad idempotency)
	third := tr.Decide(key, cb, need)
	if !third.Empty() {
		t.Fatalf("expected empty decision on third probe, got %+v", third)
	}
}

func TestLoadTSAfterColumnsAlreadyLoaded(t *testing.T) {
	var tr Tracker
	cb := block1()
	key := Key{FileID: 1, Slot: 0}

	withoutTS := Need{SKey: 1000, EKey: 2000, Columns: []uint16{1}}
	d1 := tr.Decide(key, cb, withoutTS)
	if d1.State != LoadColumns || d1.NeedTS {
		t.Fatalf("unexpected decision: %+v", d1)
	}

	withTS := Need{SKey: 1000, EKey: 2000, Columns: []uint16{1}, NeedTS: true}
	d2 := tr.Decide(key, cb, withTS)
	if d2.State != LoadTS || !d2.NeedTS || len(d2.Cols) != 0 {
		t.Fatalf("expected LoadTS-only decision, got %+v", d2)
	}
}

func TestTrackerResetsOnNewKey(t *testing.T) {
	var tr Tracker
	cb := block1()
	need := Need{SKey: 1000, EKey: 2000, Columns: []uint16{1}, NeedTS: true}

	tr.Decide(Key{FileID: 1, Slot: 0}, cb, need)
	d := tr.Decide(Key{FileID: 1, Slot: 1}, cb, need)
	if d.Empty() {
		t.Fatal("expected a fresh block to require loading")
	}
}

type alwaysImprove struct{}

func (alwaysImprove) CouldImprove(colID uint16, min, max float64) bool { return true }

type neverImprove struct{}

func (neverImprove) CouldImprove(colID uint16, min, max float64) bool { return false }

func TestTopBottomExtremePrunesBlock(t *testing.T) {
	var tr Tracker
	cb := block1()
	need := Need{
		SKey: 1000, EKey: 2000,
		TopBottom: map[uint16]Extreme{1: neverImprove{}},
		Columns:   []uint16{1},
	}
	d := tr.Decide(Key{FileID: 1, Slot: 0}, cb, need)
	if d.State != Discard {
		t.Fatalf("expected Discard when extreme can't improve, got %v", d.State)
	}

	need.TopBottom[1] = alwaysImprove{}
	d2 := tr.Decide(Key{FileID: 1, Slot: 0}, cb, need)
	if d2.State != LoadColumns {
		t.Fatalf("expected LoadColumns when extreme could improve, got %v", d2.State)
	}
}
