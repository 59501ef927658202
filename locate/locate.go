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

// Package locate implements the block locator (component C): binary
// search over a sorted block list by timestamp, and file enumeration
// in scan order.
package locate

import (
	"github.com/sneller-labs/vnodeql/header"
	"github.com/sneller-labs/vnodeql/order"
)

// KeyRange is a minimal view of one block's key range.
// header.CompBlock does not implement it, and Find takes Blocks
// instead.
type KeyRange interface {
	First() int64
	Last() int64
}

// Blocks exposes a []header.CompBlock's key ranges by index for
// Find, without making a copy.
type Blocks []header.CompBlock

func (b Blocks) Len() int         { return len(b) }
func (b Blocks) First(i int) int64 { return b[i].KeyFirst }
func (b Blocks) Last(i int) int64  { return b[i].KeyLast }

// Find locates the slot s such that the target key lies in
// [blocks[s].First, blocks[s].Last], or is strictly between
// blocks[s] and blocks[s+1], per spec.md §4.C's tie-break rule:
// ascending scans resolve a key that falls in the gap to s+1,
// descending scans resolve it to s.
//
// Find assumes blocks is sorted ascending by First and that blocks do
// not overlap (spec.md §8 invariant 2). It returns found=false only
// when blocks is empty or the key falls entirely outside the
// covered range in the direction away from any data (i.e. there is
// no slot that could ever satisfy the tie-break).
func Find(blocks Blocks, key int64, dir order.Direction) (slot int, found bool) {
	n := blocks.Len()
	if n == 0 {
		return 0, false
	}
	// binary search for the first block whose Last >= key
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if blocks.Last(mid) >= key {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == n {
		// key is past every block's range in this file: ascending
		// scans must look in a newer file/cache; descending scans
		// settle for the last (highest) block available here.
		if dir == order.Descending {
			return n - 1, true
		}
		return 0, false
	}
	if blocks.First(lo) <= key {
		return lo, true // key falls inside blocks[lo]'s own range
	}
	// key is in the gap before blocks[lo]
	if lo == 0 {
		// key precedes every block in this file: descending scans
		// must look in an older file; ascending scans start here.
		if dir == order.Ascending {
			return 0, true
		}
		return 0, false
	}
	if dir == order.Ascending {
		return lo, true
	}
	return lo - 1, true
}

// FileSet is the collaborator that reports which day-file ids exist
// for a vnode; it is satisfied by the runtime's file-list manager
// (out of scope: write path owns file creation/rollover).
type FileSet interface {
	Exists(fileId int32) bool
	Min() int32
	Max() int32
}

// NextFile advances fileId by one position in direction dir until it
// lands on an existing file id, or reports ok=false when the scan has
// run off the end of the file set. Gaps (missing or corrupt files,
// which the header reader already reports as "no data") are skipped
// transparently.
func NextFile(fs FileSet, fileId int32, dir order.Direction) (next int32, ok bool) {
	step := int32(dir)
	id := fileId + step
	min, max := fs.Min(), fs.Max()
	for id >= min && id <= max {
		if fs.Exists(id) {
			return id, true
		}
		id += step
	}
	return 0, false
}
