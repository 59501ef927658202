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

package agg

import (
	"sort"

	"github.com/sneller-labs/vnodeql/header"
	vheap "github.com/sneller-labs/vnodeql/heap"
)

// countAgg implements count(*): every non-null row increments the
// counter; it also accepts a block's pre-aggregate directly via
// NumNull/NumOfPoints, so count never forces a raw-data load.
type countAgg struct {
	n int64
}

func (a *countAgg) Init()            { a.n = 0 }
func (a *countAgg) DataReq() DataReq { return ReqPreAggOnly }
func (a *countAgg) StepRow(ts int64, v float64, isNull bool) {
	if !isNull {
		a.n++
	}
}
func (a *countAgg) StepPreAgg(agg header.ColAgg, numOfPoints int) {
	a.n += int64(numOfPoints - int(agg.NumNull))
}
func (a *countAgg) Finalize() Value { return Value{I64: a.n} }

// sumAgg implements sum() via Neumaier compensated summation.
type sumAgg struct {
	n neumaier
}

func (a *sumAgg) Init()            { a.n = neumaier{} }
func (a *sumAgg) DataReq() DataReq { return ReqPreAggOnly }
func (a *sumAgg) StepRow(ts int64, v float64, isNull bool) {
	if !isNull {
		a.n.add(v)
	}
}
func (a *sumAgg) StepBatch(ts []int64, v []float64, nulls []bool) {
	for i, x := range v {
		if nulls == nil || !nulls[i] {
			a.n.add(x)
		}
	}
}
func (a *sumAgg) StepPreAgg(agg header.ColAgg, numOfPoints int) { a.n.add(agg.Sum) }
func (a *sumAgg) Finalize() Value              { return Value{F: a.n.value()} }

// avgAgg implements avg() as sum/count, both Neumaier/exact.
type avgAgg struct {
	sum   neumaier
	count int64
}

func (a *avgAgg) Init()            { a.sum = neumaier{}; a.count = 0 }
func (a *avgAgg) DataReq() DataReq { return ReqRawData } // count needs per-row nullness, not just the pre-agg sum
func (a *avgAgg) StepRow(ts int64, v float64, isNull bool) {
	if !isNull {
		a.sum.add(v)
		a.count++
	}
}
func (a *avgAgg) Finalize() Value {
	if a.count == 0 {
		return Value{Null: true}
	}
	return Value{F: a.sum.value() / float64(a.count)}
}

// minMaxAgg implements min()/max() from either raw rows or a block's
// stored pre-aggregate.
type minMaxAgg struct {
	wantMax bool
	have    bool
	val     float64
}

func (a *minMaxAgg) Init()            { a.have = false }
func (a *minMaxAgg) DataReq() DataReq { return ReqPreAggOnly }
func (a *minMaxAgg) consider(v float64) {
	if !a.have || (a.wantMax && v > a.val) || (!a.wantMax && v < a.val) {
		a.val, a.have = v, true
	}
}
func (a *minMaxAgg) StepRow(ts int64, v float64, isNull bool) {
	if !isNull {
		a.consider(v)
	}
}
func (a *minMaxAgg) StepPreAgg(agg header.ColAgg, numOfPoints int) {
	if a.wantMax {
		a.consider(agg.Max)
	} else {
		a.consider(agg.Min)
	}
}
func (a *minMaxAgg) Finalize() Value {
	if !a.have {
		return Value{Null: true}
	}
	return Value{F: a.val}
}

// spreadAgg implements spread() = max - min.
type spreadAgg struct {
	min, max minMaxAgg
}

func (a *spreadAgg) Init() {
	a.min = minMaxAgg{wantMax: false}
	a.max = minMaxAgg{wantMax: true}
	a.min.Init()
	a.max.Init()
}
func (a *spreadAgg) DataReq() DataReq { return ReqPreAggOnly }
func (a *spreadAgg) StepRow(ts int64, v float64, isNull bool) {
	a.min.StepRow(ts, v, isNull)
	a.max.StepRow(ts, v, isNull)
}
func (a *spreadAgg) StepPreAgg(agg header.ColAgg, numOfPoints int) {
	a.min.StepPreAgg(agg, numOfPoints)
	a.max.StepPreAgg(agg, numOfPoints)
}
func (a *spreadAgg) Finalize() Value {
	if !a.min.have {
		return Value{Null: true}
	}
	return Value{F: a.max.val - a.min.val}
}

// stddevAgg implements population standard deviation via a two-moment
// Neumaier accumulation of sum(v) and sum(v^2); raw rows only, since a
// block's pre-aggregate doesn't carry sum-of-squares.
type stddevAgg struct {
	sum, sumSq neumaier
	count      int64
}

func (a *stddevAgg) Init()            { *a = stddevAgg{} }
func (a *stddevAgg) DataReq() DataReq { return ReqRawData }
func (a *stddevAgg) StepRow(ts int64, v float64, isNull bool) {
	if !isNull {
		a.sum.add(v)
		a.sumSq.add(v * v)
		a.count++
	}
}
func (a *stddevAgg) Finalize() Value {
	if a.count == 0 {
		return Value{Null: true}
	}
	mean := a.sum.value() / float64(a.count)
	variance := a.sumSq.value()/float64(a.count) - mean*mean
	if variance < 0 {
		variance = 0 // guard against floating point cancellation
	}
	return Value{F: sqrt(variance)}
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// firstLastAgg implements first()/last() and their _dst variants; every
// variant reports the source timestamp through Value.Ts so the caller
// can reconstruct the rest of that row. Because a later row in scan
// order does not necessarily have a later timestamp than an
// already-seen row once a reverse supplementary pass is involved,
// StepRow's candidate comparison is always by timestamp, never by
// arrival order.
type firstLastAgg struct {
	wantFirst bool
	carryRow  bool
	have      bool
	val       float64
	ts        int64
}

func (a *firstLastAgg) Init()            { a.have = false }
func (a *firstLastAgg) DataReq() DataReq { return ReqRawData }
func (a *firstLastAgg) StepRow(ts int64, v float64, isNull bool) {
	if isNull {
		return
	}
	if !a.have || (a.wantFirst && ts < a.ts) || (!a.wantFirst && ts > a.ts) {
		a.val, a.ts, a.have = v, ts, true
	}
}
func (a *firstLastAgg) Finalize() Value {
	if !a.have {
		return Value{Null: true}
	}
	return Value{F: a.val, Ts: a.ts}
}

// topBottomAgg implements top(k)/bottom(k) with a bounded min-heap (for
// top) or max-heap (for bottom, via inverted comparator), grounded on
// the heap package.
type topBottomAgg struct {
	k     int
	isTop bool
	items []item
}

type item struct {
	v  float64
	ts int64
}

func newTopBottom(k int, isTop bool) *topBottomAgg {
	if k <= 0 {
		k = 1
	}
	return &topBottomAgg{k: k, isTop: isTop}
}

func (a *topBottomAgg) Init()            { a.items = a.items[:0] }
func (a *topBottomAgg) DataReq() DataReq { return ReqRawData }

func (a *topBottomAgg) less(x, y item) bool {
	if a.isTop {
		return x.v < y.v // min-heap: evict the smallest when a bigger candidate arrives
	}
	return x.v > y.v // max-heap: evict the largest when a smaller candidate arrives
}

func (a *topBottomAgg) StepRow(ts int64, v float64, isNull bool) {
	if isNull {
		return
	}
	it := item{v: v, ts: ts}
	if len(a.items) < a.k {
		vheap.PushSlice(&a.items, it, a.less)
		return
	}
	if a.less(a.items[0], it) {
		vheap.PopSlice(&a.items, a.less)
		vheap.PushSlice(&a.items, it, a.less)
	}
}

// CouldImprove implements load.Extreme: a block whose [min,max] cannot
// possibly beat the current k-th best cannot contribute.
func (a *topBottomAgg) CouldImprove(colID uint16, min, max float64) bool {
	if len(a.items) < a.k {
		return true
	}
	worst := a.items[0].v
	if a.isTop {
		return max > worst
	}
	return min < worst
}

func (a *topBottomAgg) Finalize() Value {
	out := make([]item, len(a.items))
	copy(out, a.items)
	sort.Slice(out, func(i, j int) bool {
		if a.isTop {
			return out[i].v > out[j].v
		}
		return out[i].v < out[j].v
	})
	if len(out) == 0 {
		return Value{Null: true}
	}
	// Finalize reports the best-ranked candidate; callers wanting the
	// full top/bottom-k list use Items directly.
	return Value{F: out[0].v, Ts: out[0].ts}
}

// Items returns the current k-best candidates, best-ranked first.
func (a *topBottomAgg) Items() []item {
	out := make([]item, len(a.items))
	copy(out, a.items)
	sort.Slice(out, func(i, j int) bool {
		if a.isTop {
			return out[i].v > out[j].v
		}
		return out[i].v < out[j].v
	})
	return out
}

// percentileAgg collects every value seen and computes the requested
// percentile at Finalize by linear interpolation between the two
// nearest ranks; unlike the
// other aggregates this necessarily buffers the whole window's data.
type percentileAgg struct {
	p      float64
	values []float64
}

func (a *percentileAgg) Init()            { a.values = a.values[:0] }
func (a *percentileAgg) DataReq() DataReq { return ReqRawData }
func (a *percentileAgg) StepRow(ts int64, v float64, isNull bool) {
	if !isNull {
		a.values = append(a.values, v)
	}
}
func (a *percentileAgg) Finalize() Value {
	if len(a.values) == 0 {
		return Value{Null: true}
	}
	sort.Float64s(a.values)
	rank := (a.p / 100) * float64(len(a.values)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(a.values) {
		return Value{F: a.values[lo]}
	}
	frac := rank - float64(lo)
	return Value{F: a.values[lo] + frac*(a.values[hi]-a.values[lo])}
}

// twaAgg implements the time-weighted average: each consecutive pair
// of points contributes a trapezoid of width (t2-t1) and height the
// average of the two values, grounded on spec.md §4.G's stated twa
// definition.
type twaAgg struct {
	haveLast    bool
	lastTs      int64
	lastV       float64
	weightedSum neumaier
	span        int64
}

func (a *twaAgg) Init()            { *a = twaAgg{} }
func (a *twaAgg) DataReq() DataReq { return ReqRawData }
func (a *twaAgg) StepRow(ts int64, v float64, isNull bool) {
	if isNull {
		return
	}
	if a.haveLast {
		dt := ts - a.lastTs
		if dt > 0 {
			a.weightedSum.add(float64(dt) * (a.lastV + v) / 2)
			a.span += dt
		}
	}
	a.lastTs, a.lastV, a.haveLast = ts, v, true
}
func (a *twaAgg) Finalize() Value {
	if a.span == 0 {
		if a.haveLast {
			return Value{F: a.lastV}
		}
		return Value{Null: true}
	}
	return Value{F: a.weightedSum.value() / float64(a.span)}
}

// diffAgg implements diff(): the window's last value minus its first.
type diffAgg struct {
	haveFirst bool
	first, last float64
}

func (a *diffAgg) Init()            { *a = diffAgg{} }
func (a *diffAgg) DataReq() DataReq { return ReqRawData }
func (a *diffAgg) StepRow(ts int64, v float64, isNull bool) {
	if isNull {
		return
	}
	if !a.haveFirst {
		a.first, a.haveFirst = v, true
	}
	a.last = v
}
func (a *diffAgg) Finalize() Value {
	if !a.haveFirst {
		return Value{Null: true}
	}
	return Value{F: a.last - a.first}
}

// rateAgg implements rate(): (last-first)/(lastTs-firstTs) in seconds,
// per spec.md's stated per-second normalization.
type rateAgg struct {
	have               bool
	firstTs, lastTs    int64
	firstV, lastV      float64
}

func (a *rateAgg) Init()            { *a = rateAgg{} }
func (a *rateAgg) DataReq() DataReq { return ReqRawData }
func (a *rateAgg) StepRow(ts int64, v float64, isNull bool) {
	if isNull {
		return
	}
	if !a.have {
		a.firstTs, a.firstV, a.have = ts, v, true
	}
	a.lastTs, a.lastV = ts, v
}
func (a *rateAgg) Finalize() Value {
	dt := a.lastTs - a.firstTs
	if !a.have || dt == 0 {
		return Value{Null: true}
	}
	return Value{F: (a.lastV - a.firstV) / (float64(dt) / 1000)}
}

// irateAgg implements irate(): rate between only the two most recent
// points in the window.
type irateAgg struct {
	n                int
	prevTs, curTs    int64
	prevV, curV      float64
}

func (a *irateAgg) Init()            { *a = irateAgg{} }
func (a *irateAgg) DataReq() DataReq { return ReqRawData }
func (a *irateAgg) StepRow(ts int64, v float64, isNull bool) {
	if isNull {
		return
	}
	a.prevTs, a.prevV = a.curTs, a.curV
	a.curTs, a.curV = ts, v
	a.n++
}
func (a *irateAgg) Finalize() Value {
	if a.n < 2 {
		return Value{Null: true}
	}
	dt := a.curTs - a.prevTs
	if dt == 0 {
		return Value{Null: true}
	}
	return Value{F: (a.curV - a.prevV) / (float64(dt) / 1000)}
}

// tagAgg and tsDummyAgg implement the passthrough "aggregates" (Tag,
// TagPrj, TSDummy) that carry a constant group-by value or ordering
// column through the pipeline rather than computing anything.
type tagAgg struct {
	val float64
	set bool
}

func (a *tagAgg) Init()            { a.set = false }
func (a *tagAgg) DataReq() DataReq { return ReqRawData }
func (a *tagAgg) StepRow(ts int64, v float64, isNull bool) {
	if !a.set && !isNull {
		a.val, a.set = v, true
	}
}
func (a *tagAgg) Finalize() Value {
	if !a.set {
		return Value{Null: true}
	}
	return Value{F: a.val}
}

type tsDummyAgg struct {
	ts   int64
	have bool
}

func (a *tsDummyAgg) Init()            { a.have = false }
func (a *tsDummyAgg) DataReq() DataReq { return ReqRawData }
func (a *tsDummyAgg) StepRow(ts int64, v float64, isNull bool) {
	if !a.have {
		a.ts, a.have = ts, true
	}
}
func (a *tsDummyAgg) Finalize() Value {
	if !a.have {
		return Value{Null: true}
	}
	return Value{Ts: a.ts}
}

// arithmeticAgg implements the Arithmetic kind: it does not observe
// rows itself, but evaluates expr over the finalized Values of its
// input aggregates, which the window engine steps alongside it.
type arithmeticAgg struct {
	expr   func([]Value) Value
	inputs []Aggregator
}

func (a *arithmeticAgg) Init() {
	for _, in := range a.inputs {
		in.Init()
	}
}
func (a *arithmeticAgg) DataReq() DataReq { return ReqRawData }
func (a *arithmeticAgg) StepRow(ts int64, v float64, isNull bool) {
	// arithmeticAgg has no column of its own; its inputs are stepped
	// directly by the window engine.
}
func (a *arithmeticAgg) Finalize() Value {
	vals := make([]Value, len(a.inputs))
	for i, in := range a.inputs {
		vals[i] = in.Finalize()
	}
	if a.expr == nil {
		return Value{Null: true}
	}
	return a.expr(vals)
}
