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

package cache

import "testing"

const owner = uintptr(1)

func TestReadFullSlot(t *testing.T) {
	r := NewRing(4)
	slot := r.Append(&Block{ID: 1, Owner: owner, NumOfPoints: 3, Cols: map[uint16][]byte{
		0: {1, 2, 3},
	}})
	r.Commit(slot, 3)

	dst := map[uint16][]byte{}
	n, err := r.Read(slot, owner, []uint16{0}, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	if len(dst[0]) != 3 {
		t.Fatalf("expected 3 bytes copied, got %d", len(dst[0]))
	}
}

func TestReadRespectsCommitPointOnNonFirstSlot(t *testing.T) {
	r := NewRing(4)
	s0 := r.Append(&Block{ID: 1, Owner: owner, NumOfPoints: 4})
	r.Commit(s0, 4)
	s1 := r.Append(&Block{ID: 2, Owner: owner, NumOfPoints: 10, Cols: map[uint16][]byte{
		0: make([]byte, 10),
	}})
	// writer has only durably committed 6 of the 10 points in s1
	r.Commit(s1, 6)

	dst := map[uint16][]byte{}
	n, err := r.Read(s1, owner, []uint16{0}, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("expected clamped 6 rows, got %d", n)
	}
}

func TestReadWrongOwnerIsNotFound(t *testing.T) {
	r := NewRing(2)
	slot := r.Append(&Block{ID: 1, Owner: owner, NumOfPoints: 3})
	r.Commit(slot, 3)

	dst := map[uint16][]byte{}
	n, err := r.Read(slot, owner+1, nil, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows for mismatched owner, got %d", n)
	}
}

func TestReadAfterSlotRecycledIsNotAnError(t *testing.T) {
	r := NewRing(1)
	slot := r.Append(&Block{ID: 1, Owner: owner, NumOfPoints: 3, Cols: map[uint16][]byte{0: {1, 2, 3}}})
	r.Commit(slot, 3)

	// simulate the writer recycling the only slot with a newer block
	// before Read is called; Read takes its own snapshot and first look
	// at the slot afterwards, so it sees only the new block.
	r.Append(&Block{ID: 2, Owner: owner, NumOfPoints: 1, Cols: map[uint16][]byte{0: {9}}})

	dst := map[uint16][]byte{}
	n, err := r.Read(slot, owner, []uint16{0}, dst)
	// the slot now holds ID 2 data; Valid() requires ID >= wantID where
	// wantID is read fresh from the current block, so this settles to
	// a normal (possibly empty) read rather than an error, since there
	// was no window where beforeID captured a now-stale value.
	if err != nil {
		t.Fatal(err)
	}
	_ = n
}

func TestSnapshotSlotsBeforeWrap(t *testing.T) {
	r := NewRing(4)
	r.Append(&Block{ID: 1, Owner: owner, NumOfPoints: 1})
	r.Append(&Block{ID: 2, Owner: owner, NumOfPoints: 1})
	snap := r.snapshot()
	slots := snap.Slots()
	if len(slots) != 2 || slots[0] != 0 || slots[1] != 1 {
		t.Fatalf("unexpected slots before wrap: %v", slots)
	}
}

func TestSnapshotSlotsAfterWrap(t *testing.T) {
	r := NewRing(2)
	r.Append(&Block{ID: 1, Owner: owner, NumOfPoints: 1})
	r.Append(&Block{ID: 2, Owner: owner, NumOfPoints: 1})
	r.Append(&Block{ID: 3, Owner: owner, NumOfPoints: 1}) // wraps, overwrites slot 0
	snap := r.snapshot()
	slots := snap.Slots()
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots after wrap, got %v", slots)
	}
	// oldest slot after wrapping once in a capacity-2 ring is the slot
	// about to be written next, i.e. the current write cursor.
	if slots[0] != snap.FirstSlot {
		t.Fatalf("expected walk to start at FirstSlot, got %v", slots)
	}
}
