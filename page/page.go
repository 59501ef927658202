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

package page

import (
	"encoding/binary"
	"math"

	"github.com/sneller-labs/vnodeql/ints"
)

// ColumnPage is one fixed-capacity, spill-backed column of float64
// values. Output is built one page at a time rather than as one
// unbounded buffer so that a query producing more rows than fit
// comfortably in memory degrades to anonymous-mapped pages instead of
// growing a single Go slice without bound.
type ColumnPage struct {
	spill Spill
	buf   []byte
	n     int
	cap   int
}

const float64Width = 8

// NewColumnPage allocates a page able to hold capacity float64 values.
func NewColumnPage(spill Spill, capacity int) (*ColumnPage, error) {
	buf, err := spill.Alloc(capacity * float64Width)
	if err != nil {
		return nil, err
	}
	return &ColumnPage{spill: spill, buf: buf, cap: capacity}, nil
}

// Full reports whether the page has no remaining capacity.
func (p *ColumnPage) Full() bool { return p.n >= p.cap }

// Len returns the number of values currently stored.
func (p *ColumnPage) Len() int { return p.n }

// Append stores v, returning false if the page is already full.
func (p *ColumnPage) Append(v float64) bool {
	if p.Full() {
		return false
	}
	binary.LittleEndian.PutUint64(p.buf[p.n*float64Width:], math.Float64bits(v))
	p.n++
	return true
}

// At returns the value stored at row i.
func (p *ColumnPage) At(i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(p.buf[i*float64Width:]))
}

// Release returns the page's backing storage to its Spill.
func (p *ColumnPage) Release() error {
	return p.spill.Free(p.buf)
}

// Row is one output row: its key and the column values the query
// projected, keyed by column id.
type Row struct {
	Ts     int64
	Values map[uint16]float64
}

// RowGroup is one window's (or one ungrouped scan's) contiguous
// output rows. A RowGroup with no rows is valid and must be skipped
// transparently by Fetch rather than surfaced to the caller.
type RowGroup struct {
	Rows []Row
}

// Pager walks a sequence of RowGroups, handing back up to max rows
// per Fetch call while remembering its (group, offset) position
// across calls, and applying the query's LIMIT after interpolation
// has already run (interpolated rows are ordinary Rows by the time
// they reach the pager).
type Pager struct {
	groups   []RowGroup
	groupIdx int
	rowIdx   int
	limit    int // <=0 means unbounded
	emitted  int
}

// NewPager creates a Pager over groups, stopping after limit total
// rows (limit <= 0 means unbounded).
func NewPager(groups []RowGroup, limit int) *Pager {
	return &Pager{groups: groups, limit: limit}
}

// Fetch returns up to max rows starting from the pager's current
// position, skipping any empty row groups along the way, and reports
// done when there is nothing left to fetch (either the groups are
// exhausted or the limit has been reached).
func (p *Pager) Fetch(max int) (rows []Row, done bool) {
	if p.limit > 0 {
		remaining := p.limit - p.emitted
		if remaining <= 0 {
			return nil, true
		}
		max = ints.Min(max, remaining)
	}
	for len(rows) < max {
		if p.groupIdx >= len(p.groups) {
			return rows, true
		}
		g := p.groups[p.groupIdx]
		if p.rowIdx >= len(g.Rows) {
			p.groupIdx++
			p.rowIdx = 0
			continue
		}
		rows = append(rows, g.Rows[p.rowIdx])
		p.rowIdx++
		p.emitted++
	}
	// step past groups this call used up, so a caller that has taken the
	// last row is told so now rather than on a further, empty Fetch
	for p.groupIdx < len(p.groups) && p.rowIdx >= len(p.groups[p.groupIdx].Rows) {
		p.groupIdx++
		p.rowIdx = 0
	}
	done = p.groupIdx >= len(p.groups) || (p.limit > 0 && p.emitted >= p.limit)
	return rows, done
}

// Position returns the pager's current (group index, row index)
// for diagnostics or checkpointing across a prepare/fetch protocol
// boundary.
func (p *Pager) Position() (groupIdx, rowIdx int) { return p.groupIdx, p.rowIdx }
