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

// Package scan implements the two-pass scanner (component I): a
// master pass that walks blocks in the query's requested direction,
// stopping early once a row limit is reached, and an optional reverse
// supplementary pass that revisits data the master pass's early exit
// skipped, for aggregates (first/last and their relatives) that must
// see the true full-range extreme regardless of pagination.
package scan

import (
	"errors"

	"github.com/sneller-labs/vnodeql/agg"
	"github.com/sneller-labs/vnodeql/cursor"
	"github.com/sneller-labs/vnodeql/header"
	"github.com/sneller-labs/vnodeql/load"
	"github.com/sneller-labs/vnodeql/order"
)

// ErrKilled is returned when a Killer reports the query was cancelled
// mid-scan.
var ErrKilled = errors.New("scan: query killed")

// Phase names which of the two passes a Context is currently running,
// per REDESIGN FLAGS §9's call for an explicit scan-phase variable in
// place of TDengine's implicit flag-bit encoding.
type Phase int

const (
	Master Phase = iota
	Supplementary
)

// Killer is the cooperative-cancellation collaborator the scanner
// polls at block boundaries; the root package backs it with an
// atomic.Bool set from the query's deadline/cancel path.
type Killer interface {
	Killed() bool
}

// BlockSource advances a cursor.Position to the next candidate block
// in dir order, returning the block's descriptor. ok is false once the
// scan has exhausted every file and the cache ring for this table.
type BlockSource interface {
	Next(cur cursor.Position, dir order.Direction) (next cursor.Position, cb header.CompBlock, ok bool)
	// Start returns the "before the first block" sentinel position for
	// a scan in the given direction, suitable as a Context's initial
	// Cur.Position before the first Next call.
	Start(dir order.Direction) cursor.Position
}

// RowSource decodes the rows a block at pos can supply for need's
// required columns.
type RowSource interface {
	Rows(pos cursor.Position, need load.Need) (ts []int64, cols map[uint16][]float64, nulls map[uint16][]bool, err error)
}

// Sink receives one decoded row at a time, tagged with the pass that
// produced it; the root package's query context implements this by
// stepping the active window's aggregators, consulting phase to
// decide which aggregates may be stepped (agg.SupplementaryEnabled).
type Sink interface {
	Step(phase Phase, ts int64, cols map[uint16]float64, nulls map[uint16]bool)
}

// Context is one pass's live state: its phase, direction, cursor, and
// the done flag that records whether this specific context reached
// the end of its data by natural exhaustion rather than a row limit.
type Context struct {
	Phase Phase
	Dir   order.Direction
	Cur   cursor.Cursor
	done  bool
}

// Done reports whether this context's pass has run out of blocks.
func (c *Context) Done() bool { return c.done }

// needsSupplementary is the closed set of aggregate kinds whose
// correctness depends on seeing the full key range regardless of
// where the master pass's LIMIT/OFFSET caused it to stop early. This
// mirrors agg.SupplementaryEnabled: a kind only needs the pass run at
// all if it is also one of the kinds allowed to be stepped during it.
func needsSupplementary(k agg.Kind) bool {
	return agg.SupplementaryEnabled(k)
}

// NeedsSupplementary reports whether any aggregate in kinds requires a
// reverse supplementary pass.
func NeedsSupplementary(kinds []agg.Kind) bool {
	for _, k := range kinds {
		if needsSupplementary(k) {
			return true
		}
	}
	return false
}

// Run drives ctx's pass to completion (or until limit rows have been
// emitted, or the source is exhausted, or killer reports cancellation):
// for every candidate block, ask tr to decide whether it can be
// skipped, loaded for timestamps only, or fully loaded, and feed
// whatever rows result to sink.
//
// stopAt, when non-nil, bounds the pass to the positional range up to
// (and including) the block at *stopAt: once ctx.Cur.Position reaches
// *stopAt, Run returns without visiting any further block. RunTwoPass
// uses this so the supplementary pass only revisits the portion of the
// table the master pass's LIMIT left unvisited, per spec.md §4.I,
// rather than rescanning the whole table from its far end.
//
// limit <= 0 means unbounded; Run returns the number of rows emitted.
func Run(ctx *Context, src BlockSource, rows RowSource, tr *load.Tracker, need load.Need, sink Sink, killer Killer, limit int, stopAt *cursor.Position) (emitted int, err error) {
	for limit <= 0 || emitted < limit {
		if killer != nil && killer.Killed() {
			return emitted, ErrKilled
		}
		if stopAt != nil && ctx.Cur.Position == *stopAt {
			return emitted, nil
		}
		next, cb, ok := src.Next(ctx.Cur.Position, ctx.Dir)
		if !ok {
			ctx.done = true
			return emitted, nil
		}
		key := load.Key{FileID: next.FileID, Slot: next.Slot}
		decision := tr.Decide(key, cb, need)
		if decision.State != load.Discard && !decision.Empty() {
			ts, cols, nulls, rerr := rows.Rows(next, need)
			if rerr != nil {
				return emitted, rerr
			}
			for i, t := range ts {
				rowCols := make(map[uint16]float64, len(cols))
				rowNulls := make(map[uint16]bool, len(nulls))
				for c, vals := range cols {
					rowCols[c] = vals[i]
				}
				for c, ns := range nulls {
					rowNulls[c] = ns[i]
				}
				sink.Step(ctx.Phase, t, rowCols, rowNulls)
				emitted++
				if limit > 0 && emitted >= limit {
					break
				}
			}
		}
		ctx.Cur.Position = next
	}
	return emitted, nil
}

// RunTwoPass runs the master pass via masterSrc, then, only if kinds
// requires full-range visibility and the master pass stopped early
// (it did not reach Done on its own — i.e. LIMIT cut it short), runs a
// reverse supplementary pass via supSrc over the positional range the
// master pass didn't cover: from the far end of the table back to (and
// including) the block the master pass stopped at, restoring the
// master context's cursor afterward so that page-level resumption
// (component K) continues from where the master pass actually left
// off. The block straddling the master pass's stopping point is
// revisited by the supplementary pass since the master may have only
// partially consumed it (Run tracks position at block granularity);
// this is safe because Sink implementations only step
// agg.SupplementaryEnabled kinds during Phase Supplementary, and every
// such kind is idempotent under out-of-order or repeated replay.
func RunTwoPass(
	master *Context, masterSrc BlockSource,
	rows RowSource, tr *load.Tracker, need load.Need,
	sink Sink, killer Killer, limit int, kinds []agg.Kind,
	supSrc BlockSource,
) (emitted int, err error) {
	master.Phase = Master
	emitted, err = Run(master, masterSrc, rows, tr, need, sink, killer, limit, nil)
	if err != nil {
		return emitted, err
	}
	if !NeedsSupplementary(kinds) || master.done {
		return emitted, nil
	}
	saved := master.Cur.Save()
	boundary := master.Cur.Position
	supDir := master.Dir.Flip()
	sup := &Context{Phase: Supplementary, Dir: supDir}
	sup.Cur.Position = supSrc.Start(supDir)
	// the tracker still remembers the boundary block as loaded by the
	// master pass; forget it so that block's rows are decoded and replayed
	tr.Drop()
	if _, err := Run(sup, supSrc, rows, tr, need, sink, killer, 0, &boundary); err != nil {
		return emitted, err
	}
	master.Cur.Restore(saved)
	return emitted, nil
}
