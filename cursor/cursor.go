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

// Package cursor implements the scanner's position model (component
// F): a single (fileId, slot, pos) tuple that denotes "the next row
// to read", plus the save/restore pair the two-pass scanner (component
// I) uses to return to the master pass's position after a reverse
// supplementary pass.
package cursor

import "github.com/sneller-labs/vnodeql/order"

// CacheFileID is the sentinel FileID value meaning "this position
// refers to a cache-ring slot, not a day-file block".
const CacheFileID = int32(-1)

// Position names one candidate row: the block at (FileID, Slot), and
// the row offset Pos within that block.
type Position struct {
	FileID int32
	Slot   int
	Pos    int
}

// InCache reports whether this position refers to the cache ring
// rather than an on-disk block.
func (p Position) InCache() bool { return p.FileID == CacheFileID }

// StartPos returns the row offset a scan begins at within a
// numOfPoints-row block, for the given scan direction.
func StartPos(dir order.Direction, numOfPoints int) int {
	if dir == order.Ascending {
		return 0
	}
	return numOfPoints - 1
}

// EndPos returns the sentinel row offset that means "this block is
// exhausted" for dir: one past the last row when scanning ascending,
// one before the first row when scanning descending.
func EndPos(dir order.Direction, numOfPoints int) int {
	if dir == order.Ascending {
		return numOfPoints
	}
	return -1
}

// NextPos returns the row offset following pos when scanning in dir.
func NextPos(pos int, dir order.Direction) int {
	return pos + int(dir)
}

// Cursor is the scanner's live position, with save/restore so the
// two-pass scanner can return to the master pass's exact position
// after running a reverse supplementary pass over the same data.
type Cursor struct {
	Position
}

// Reset points the cursor at the start of a freshly entered block.
func (c *Cursor) Reset(fileID int32, slot int, dir order.Direction, numOfPoints int) {
	c.Position = Position{FileID: fileID, Slot: slot, Pos: StartPos(dir, numOfPoints)}
}

// Advance moves the cursor's row offset by one step in dir, and
// reports whether the block still has rows left to visit
// (numOfPoints is the current block's row count).
func (c *Cursor) Advance(dir order.Direction, numOfPoints int) (more bool) {
	c.Pos = NextPos(c.Pos, dir)
	return c.Pos != EndPos(dir, numOfPoints)
}

// Saved is an opaque snapshot of a Cursor's Position, for the
// two-pass scanner's save-before-supplementary / restore-after
// protocol.
type Saved struct {
	pos Position
}

// Save captures the cursor's current position.
func (c *Cursor) Save() Saved { return Saved{pos: c.Position} }

// Restore returns the cursor to a previously saved position.
func (c *Cursor) Restore(s Saved) { c.Position = s.pos }
