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

package locate

import (
	"testing"

	"github.com/sneller-labs/vnodeql/order"
)

// s1Blocks mirrors spec.md scenario S1: three blocks A{1000,1500,2000}
// B{2500,3000} C{3500,4000,4500}.
func s1Blocks() Blocks {
	return Blocks{
		{KeyFirst: 1000, KeyLast: 2000},
		{KeyFirst: 2500, KeyLast: 3000},
		{KeyFirst: 3500, KeyLast: 4500},
	}
}

func TestFindWithinBlock(t *testing.T) {
	b := s1Blocks()
	for _, dir := range []order.Direction{order.Ascending, order.Descending} {
		if s, ok := Find(b, 1500, dir); !ok || s != 0 {
			t.Fatalf("dir=%v: expected slot 0, got %d ok=%v", dir, s, ok)
		}
		if s, ok := Find(b, 3000, dir); !ok || s != 1 {
			t.Fatalf("dir=%v: expected slot 1, got %d ok=%v", dir, s, ok)
		}
	}
}

func TestFindGapTieBreak(t *testing.T) {
	b := s1Blocks()
	// 2200 falls in the gap between block 0 (ends 2000) and block 1 (starts 2500)
	if s, ok := Find(b, 2200, order.Ascending); !ok || s != 1 {
		t.Fatalf("ascending gap: expected slot 1, got %d ok=%v", s, ok)
	}
	if s, ok := Find(b, 2200, order.Descending); !ok || s != 0 {
		t.Fatalf("descending gap: expected slot 0, got %d ok=%v", s, ok)
	}
}

func TestFindBeyondRange(t *testing.T) {
	b := s1Blocks()
	if _, ok := Find(b, 5000, order.Ascending); ok {
		t.Fatal("ascending past last block should report not-found (advance file)")
	}
	if s, ok := Find(b, 5000, order.Descending); !ok || s != 2 {
		t.Fatalf("descending past last block should settle on last slot, got %d ok=%v", s, ok)
	}
	if _, ok := Find(b, 500, order.Descending); ok {
		t.Fatal("descending before first block should report not-found (advance file)")
	}
	if s, ok := Find(b, 500, order.Ascending); !ok || s != 0 {
		t.Fatalf("ascending before first block should settle on first slot, got %d ok=%v", s, ok)
	}
}

func TestFindEmpty(t *testing.T) {
	if _, ok := Find(nil, 100, order.Ascending); ok {
		t.Fatal("expected not-found for empty block list")
	}
}

type fakeFileSet struct {
	present map[int32]bool
	min, max int32
}

func (f fakeFileSet) Exists(id int32) bool { return f.present[id] }
func (f fakeFileSet) Min() int32           { return f.min }
func (f fakeFileSet) Max() int32           { return f.max }

func TestNextFileSkipsGaps(t *testing.T) {
	fs := fakeFileSet{
		present: map[int32]bool{0: true, 3: true, 4: true},
		min:     0, max: 4,
	}
	id, ok := NextFile(fs, 0, order.Ascending)
	if !ok || id != 3 {
		t.Fatalf("expected to skip gap to file 3, got %d ok=%v", id, ok)
	}
	id, ok = NextFile(fs, 4, order.Ascending)
	if ok {
		t.Fatalf("expected end of set, got %d", id)
	}
	id, ok = NextFile(fs, 4, order.Descending)
	if !ok || id != 3 {
		t.Fatalf("expected descending to file 3, got %d ok=%v", id, ok)
	}
}
