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

package vnodeql

import (
	"math"
	"os"

	"github.com/sneller-labs/vnodeql/block"
	"github.com/sneller-labs/vnodeql/cursor"
	"github.com/sneller-labs/vnodeql/header"
	"github.com/sneller-labs/vnodeql/ints"
	"github.com/sneller-labs/vnodeql/load"
	"github.com/sneller-labs/vnodeql/locate"
	"github.com/sneller-labs/vnodeql/order"
)

// rawColumnAlignment is the byte alignment a decoded column's scratch
// buffer is rounded up to, matching the arena padding rule spec.md §5
// requires for per-block working storage.
const rawColumnAlignment = 64

// tableSource walks one table's day-files on behalf of the scanner
// (scan.BlockSource / scan.RowSource), opening at most one (head,
// data, last) triple at a time and closing the previous one when the
// scan rolls over to a new file, per spec.md §5's resource policy.
//
// A Position's FileID/Slot address a block the same way the
// in-memory fakes in scan_test.go do: Slot is an index into the
// currently open file's block-index segment, sorted ascending by
// KeyFirst (invariant 2); FileID selects which day-file that segment
// belongs to.
type tableSource struct {
	fs       *FileSet
	headers  *header.Cache
	fields   []block.Field
	maxSess  int
	tableSid int
	uid      uint64

	openFileID int32
	head, data, last *os.File
	segment          header.Segment

	err error // sticky: set when a corruption/I-O error aborts the scan
}

func newTableSource(fs *FileSet, headers *header.Cache, fields []block.Field, maxSessions, tableSid int, uid uint64) *tableSource {
	return &tableSource{
		fs: fs, headers: headers, fields: fields,
		maxSess: maxSessions, tableSid: tableSid, uid: uid,
		openFileID: math.MinInt32,
	}
}

// Err returns the sticky error that caused the source to report no
// more blocks, if any; nil means the scan reached the natural end of
// the file set.
func (s *tableSource) Err() error { return s.err }

// Start returns the "before the first block" sentinel for dir: a
// file id one step outside the file set's range, so the first Next
// call's file-rollover search begins at the set's actual boundary.
func (s *tableSource) Start(dir order.Direction) cursor.Position {
	if dir == order.Ascending {
		return cursor.Position{FileID: s.fs.Min() - 1, Slot: -1}
	}
	return cursor.Position{FileID: s.fs.Max() + 1, Slot: math.MaxInt32}
}

func (s *tableSource) closeOpen() {
	for _, f := range []*os.File{s.head, s.data, s.last} {
		if f != nil {
			f.Close()
		}
	}
	s.head, s.data, s.last = nil, nil, nil
}

// switchTo opens fileID's triple (any member may be absent: a
// missing file is treated as an empty day-file, not an error) and
// loads its block-index segment for this table.
func (s *tableSource) switchTo(fileID int32) bool {
	s.closeOpen()
	s.openFileID = fileID
	t := s.fs.Triple(fileID)

	head, err := os.Open(t.HeadPath())
	if err != nil {
		// missing head file: this day-file contributes nothing.
		s.segment = header.Segment{}
		return true
	}
	s.head = head

	if data, err := os.Open(t.DataPath()); err == nil {
		s.data = data
	}
	if last, err := os.Open(t.LastPath()); err == nil {
		s.last = last
	}

	key := header.Key{FileListIndex: int(fileID), TableSid: s.tableSid}
	seg, found, err := s.headers.Load(key, t.HeadPath(), s.head, s.maxSess, s.tableSid, s.uid)
	if err != nil {
		s.err = err
		return false
	}
	if !found {
		s.segment = header.Segment{}
		return true
	}
	s.segment = seg
	return true
}

func startSlot(dir order.Direction, n int) int {
	if dir == order.Ascending {
		return -1
	}
	return n
}

// Next implements scan.BlockSource.
func (s *tableSource) Next(cur cursor.Position, dir order.Direction) (cursor.Position, header.CompBlock, bool) {
	if s.err != nil {
		return cursor.Position{}, header.CompBlock{}, false
	}
	if cur.FileID != s.openFileID {
		if !s.switchTo(cur.FileID) {
			return cursor.Position{}, header.CompBlock{}, false
		}
	}
	slot := cur.Slot
	for {
		candidate := slot + int(dir)
		if candidate >= 0 && candidate < len(s.segment.Blocks) {
			return cursor.Position{FileID: s.openFileID, Slot: candidate}, s.segment.Blocks[candidate], true
		}
		nextFileID, ok := locate.NextFile(s.fs, s.openFileID, dir)
		if !ok {
			return cursor.Position{}, header.CompBlock{}, false
		}
		if !s.switchTo(nextFileID) {
			return cursor.Position{}, header.CompBlock{}, false
		}
		slot = startSlot(dir, len(s.segment.Blocks))
	}
}

// Rows implements scan.RowSource: decode the requested columns of the
// block at pos (which must belong to the currently open file) into
// parallel slices.
//
// This engine's on-disk column codec (package block) has no validity
// bitmap of its own — only the aggregate NumNull count per block — so
// every returned value is reported non-null; a nullable fixed-width
// column type is a natural follow-up but is out of scope here (see
// DESIGN.md).
func (s *tableSource) Rows(pos cursor.Position, need load.Need) (ts []int64, cols map[uint16][]float64, nulls map[uint16][]bool, err error) {
	if pos.FileID != s.openFileID {
		if !s.switchTo(pos.FileID) {
			return nil, nil, nil, s.err
		}
	}
	cb := s.segment.Blocks[pos.Slot]
	fd := s.data
	if cb.Last {
		fd = s.last
	}
	if fd == nil {
		return nil, nil, nil, nil
	}

	runs, err := block.Layout(cb.Offset, int(cb.NumOfPoints), s.fields, cb.Algorithm, fd)
	if err != nil {
		s.err = err
		return nil, nil, nil, err
	}

	n := int(cb.NumOfPoints)
	wantCols := make(map[uint16]bool, len(need.Columns))
	for _, c := range need.Columns {
		wantCols[c] = true
	}

	cols = make(map[uint16][]float64)
	nulls = make(map[uint16][]bool)
	for i, f := range s.fields {
		if f.ColID == 0 {
			if !need.NeedTS {
				continue
			}
			tsBuf := make([]int64, n)
			if err := block.DecodeTimestamps(fd, runs[i], n, tsBuf); err != nil {
				s.err = err
				return nil, nil, nil, err
			}
			ts = tsBuf
			continue
		}
		if !wantCols[f.ColID] {
			continue
		}
		want := n * fieldWidth(f)
		arena := make([]byte, ints.AlignUp(uint(want), rawColumnAlignment))
		raw := arena[:want]
		if err := block.DecodeColumn(fd, runs[i], f, n, raw, nil); err != nil {
			s.err = err
			return nil, nil, nil, err
		}
		vals := decodeFloats(f, raw, n)
		cols[f.ColID] = vals
		nulls[f.ColID] = make([]bool, n)
	}
	return ts, cols, nulls, nil
}

func fieldWidth(f block.Field) int {
	if f.Width != 0 {
		return f.Width
	}
	return f.Type.Width()
}
