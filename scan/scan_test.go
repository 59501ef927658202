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

package scan

import (
	"testing"

	"github.com/sneller-labs/vnodeql/agg"
	"github.com/sneller-labs/vnodeql/cursor"
	"github.com/sneller-labs/vnodeql/header"
	"github.com/sneller-labs/vnodeql/load"
	"github.com/sneller-labs/vnodeql/order"
)

// fakeBlock is one block's worth of in-memory rows for the fake
// sources below, keyed by its slot index.
type fakeBlock struct {
	cb  header.CompBlock
	ts  []int64
	col []float64
}

type fakeSource struct {
	blocks []fakeBlock
}

// Next advances by one slot in dir; callers start from Start(dir).
func (f *fakeSource) Next(cur cursor.Position, dir order.Direction) (cursor.Position, header.CompBlock, bool) {
	nextSlot := cur.Slot + int(dir)
	if nextSlot < 0 || nextSlot >= len(f.blocks) {
		return cursor.Position{}, header.CompBlock{}, false
	}
	return cursor.Position{FileID: 1, Slot: nextSlot}, f.blocks[nextSlot].cb, true
}

// Start returns the "before the first block" sentinel for dir: -1
// (so ascending's first Next lands on slot 0) or len(f.blocks) (so
// descending's first Next lands on the last slot).
func (f *fakeSource) Start(dir order.Direction) cursor.Position {
	if dir == order.Ascending {
		return cursor.Position{FileID: 1, Slot: -1}
	}
	return cursor.Position{FileID: 1, Slot: len(f.blocks)}
}

func (f *fakeSource) Rows(pos cursor.Position, need load.Need) ([]int64, map[uint16][]float64, map[uint16][]bool, error) {
	b := f.blocks[pos.Slot]
	return b.ts, map[uint16][]float64{1: b.col}, map[uint16][]bool{1: make([]bool, len(b.ts))}, nil
}

type collectSink struct {
	ts     []int64
	col    []float64
	phases []Phase
}

func (s *collectSink) Step(phase Phase, ts int64, cols map[uint16]float64, nulls map[uint16]bool) {
	s.ts = append(s.ts, ts)
	s.col = append(s.col, cols[1])
	s.phases = append(s.phases, phase)
}

func makeSource() *fakeSource {
	return &fakeSource{blocks: []fakeBlock{
		{cb: header.CompBlock{KeyFirst: 0, KeyLast: 2}, ts: []int64{0, 1, 2}, col: []float64{10, 20, 30}},
		{cb: header.CompBlock{KeyFirst: 3, KeyLast: 5}, ts: []int64{3, 4, 5}, col: []float64{40, 50, 60}},
		{cb: header.CompBlock{KeyFirst: 6, KeyLast: 8}, ts: []int64{6, 7, 8}, col: []float64{70, 80, 90}},
	}}
}

func TestRunVisitsAllRowsAscending(t *testing.T) {
	src := makeSource()
	var ctx Context
	ctx.Dir = order.Ascending
	ctx.Cur.Position = src.Start(ctx.Dir)
	var tr load.Tracker
	need := load.Need{SKey: 0, EKey: 8, Columns: []uint16{1}}
	sink := &collectSink{}

	n, err := Run(&ctx, src, src, &tr, need, sink, nil, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 9 {
		t.Fatalf("expected 9 rows, got %d", n)
	}
	if !ctx.Done() {
		t.Fatal("expected context done after exhausting source")
	}
}

func TestRunRespectsLimit(t *testing.T) {
	src := makeSource()
	var ctx Context
	ctx.Dir = order.Ascending
	ctx.Cur.Position = src.Start(ctx.Dir)
	var tr load.Tracker
	need := load.Need{SKey: 0, EKey: 8, Columns: []uint16{1}}
	sink := &collectSink{}

	n, err := Run(&ctx, src, src, &tr, need, sink, nil, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected 4 rows under limit, got %d", n)
	}
	if ctx.Done() {
		t.Fatal("expected context NOT done when limit cut the scan short")
	}
}

type alwaysAlive struct{}

func (alwaysAlive) Killed() bool { return false }

type diesAfter struct{ n, seen int }

func (d *diesAfter) Killed() bool {
	d.seen++
	return d.seen > d.n
}

func TestRunHonorsKiller(t *testing.T) {
	src := makeSource()
	var ctx Context
	ctx.Dir = order.Ascending
	ctx.Cur.Position = src.Start(ctx.Dir)
	var tr load.Tracker
	need := load.Need{SKey: 0, EKey: 8, Columns: []uint16{1}}
	sink := &collectSink{}
	killer := &diesAfter{n: 1}

	_, err := Run(&ctx, src, src, &tr, need, sink, killer, 0, nil)
	if err != ErrKilled {
		t.Fatalf("expected ErrKilled, got %v", err)
	}
}

func TestNeedsSupplementary(t *testing.T) {
	if !NeedsSupplementary([]agg.Kind{agg.Sum, agg.First}) {
		t.Fatal("expected First to require a supplementary pass")
	}
	if NeedsSupplementary([]agg.Kind{agg.Sum, agg.Count, agg.Max}) {
		t.Fatal("expected no supplementary pass for sum/count/max")
	}
}

func TestRunTwoPassRestoresCursorAfterSupplementary(t *testing.T) {
	src := makeSource()
	var master Context
	master.Dir = order.Ascending
	master.Cur.Position = src.Start(master.Dir)
	var tr load.Tracker
	need := load.Need{SKey: 0, EKey: 8, Columns: []uint16{1}}
	sink := &collectSink{}

	n, err := RunTwoPass(&master, src, src, &tr, need, sink, alwaysAlive{}, 2, []agg.Kind{agg.First}, src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected master pass to report 2 rows emitted, got %d", n)
	}
	if master.Cur.Slot != 0 {
		t.Fatalf("expected cursor restored to master's own stopping point (slot 0), got slot %d", master.Cur.Slot)
	}
	// The master pass only fully consumed 2 of block 0's 3 rows (ts 0,
	// 1), so the supplementary pass walks backward from the table's far
	// end and stops once it has reprocessed block 0 (the block the
	// master pass's LIMIT landed in, possibly only partially); here that
	// bound is the first block, so it visits blocks 2, 1, 0 in full, 9 rows.
	if len(sink.ts) != 2+9 {
		t.Fatalf("expected master(2)+supplementary(9)=11 rows total, got %d: %v", len(sink.ts), sink.ts)
	}
	var supCount int
	for _, p := range sink.phases {
		if p == Supplementary {
			supCount++
		}
	}
	if supCount != 9 {
		t.Fatalf("expected 9 rows tagged Supplementary, got %d", supCount)
	}
}
