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

// Package agg implements the aggregation context (component G): one
// running computation per requested aggregate, over a closed set of
// Kinds. Rather than sneller's function-pointer-table dispatch, each
// Kind's behavior is a concrete type implementing Aggregator plus
// whichever optional capability interfaces it supports (BatchStepper,
// PreAggStepper) — a sum-type/capability design, per REDESIGN FLAGS
// §9.
package agg

import "github.com/sneller-labs/vnodeql/header"

// Kind enumerates every aggregate function spec.md §4.G lists. Kind
// is closed: the switch in New is exhaustive and New panics on an
// unknown Kind rather than silently no-op'ing, since an unrecognized
// aggregate means the query descriptor itself is malformed.
type Kind int

const (
	Count Kind = iota
	Sum
	Avg
	Min
	Max
	Spread
	StdDev
	First
	Last
	FirstDst // first() carrying along the rest of the row ("first_dst")
	LastDst
	Top
	Bottom
	Percentile
	TWA        // time-weighted average
	Diff       // row-to-row delta
	Interp     // explicit interpolation marker aggregate
	Rate       // average rate of change per unit time
	IRate      // instantaneous rate (last two points only)
	Tag        // passthrough of a constant per-group tag value
	TagPrj     // tag projection (group-by column echoed into output)
	TSDummy    // placeholder timestamp column carried for ordering only
	TSComp     // composite timestamp used by window boundary bookkeeping
	Arithmetic // scalar expression over other aggregates' finalized values
)

// Value is the tagged result a Finalize call produces. Exactly one of
// F, I64, Str is meaningful, selected by the aggregate's declared
// output type; Ts accompanies order-sensitive aggregates (first/last
// and their _dst variants) so the caller can reconstruct the point
// the value came from.
type Value struct {
	F     float64
	I64   int64
	Str   string
	Ts    int64
	Null  bool
}

// DataReq describes what an aggregate needs from a candidate block:
// whether it can be advanced from the block's stored pre-aggregate
// alone, or whether raw row data must be loaded. The demand loader
// (package load) does not consult it: load.Tracker.Decide works from
// load.Need alone, and only the top/bottom case can prune blocks, via
// load.Extreme.
type DataReq int

const (
	// ReqPreAggOnly means StepPreAgg alone is sufficient; the loader
	// may choose NoLoad for this aggregate's sake (other aggregates or
	// filters in the same query may still force a load).
	ReqPreAggOnly DataReq = iota
	// ReqRawData means every row must be visited (StepRow/StepBatch).
	ReqRawData
)

// Aggregator is the minimal capability every Kind implements: seed
// state, consume one row at a time, and produce a result. Kinds that
// can consume a whole column at once also implement BatchStepper;
// kinds that can advance from a block's pre-aggregate alone also
// implement PreAggStepper.
type Aggregator interface {
	Init()
	StepRow(ts int64, v float64, isNull bool)
	Finalize() Value
	DataReq() DataReq
}

// BatchStepper lets an aggregator consume an entire decoded column in
// one call instead of row by row.
type BatchStepper interface {
	StepBatch(ts []int64, v []float64, nulls []bool)
}

// PreAggStepper lets an aggregator advance its running state directly
// from a block's stored ColAgg descriptor plus the block's row count,
// without any row data being loaded.
type PreAggStepper interface {
	StepPreAgg(agg header.ColAgg, numOfPoints int)
}

// SupplementaryEnabled reports whether kind may be stepped during the
// supplementary (backward) pass RunTwoPass issues to recover values a
// LIMIT-truncated master pass may have cut off before reaching the
// true edge of the key range (spec.md §4.I). Only kinds whose result
// depends solely on the most extreme timestamp seen — not on arrival
// order — are safe to re-step out of order; TWA/Diff/Rate/IRate track
// state in arrival order and would be corrupted by a reversed replay,
// so they are excluded.
func SupplementaryEnabled(k Kind) bool {
	switch k {
	case First, Last, FirstDst, LastDst, TSDummy, TSComp, Tag, TagPrj:
		return true
	default:
		return false
	}
}

// neumaier implements Neumaier (Kahan-Babushka-Neumaier) compensated
// summation, grounded on vm.neumaierSummation (read for grounding; vm
// itself was dropped — see DESIGN.md).
type neumaier struct {
	sum float64
	c   float64
}

func (n *neumaier) add(v float64) {
	t := n.sum + v
	if abs(n.sum) >= abs(v) {
		n.c += (n.sum - t) + v
	} else {
		n.c += (v - t) + n.sum
	}
	n.sum = t
}

func (n *neumaier) value() float64 { return n.sum + n.c }

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// New constructs the Aggregator for kind. args is kind-specific: Top
// and Bottom require a k, Percentile requires a percentile in [0,100].
func New(kind Kind, args Args) Aggregator {
	switch kind {
	case Count:
		return &countAgg{}
	case Sum:
		return &sumAgg{}
	case Avg:
		return &avgAgg{}
	case Min:
		return &minMaxAgg{wantMax: false}
	case Max:
		return &minMaxAgg{wantMax: true}
	case Spread:
		return &spreadAgg{}
	case StdDev:
		return &stddevAgg{}
	case First:
		return &firstLastAgg{wantFirst: true}
	case Last:
		return &firstLastAgg{wantFirst: false}
	case FirstDst:
		return &firstLastAgg{wantFirst: true, carryRow: true}
	case LastDst:
		return &firstLastAgg{wantFirst: false, carryRow: true}
	case Top:
		return newTopBottom(args.K, true)
	case Bottom:
		return newTopBottom(args.K, false)
	case Percentile:
		return &percentileAgg{p: args.Percentile}
	case TWA:
		return &twaAgg{}
	case Diff:
		return &diffAgg{}
	case Rate:
		return &rateAgg{}
	case IRate:
		return &irateAgg{}
	case Tag:
		return &tagAgg{}
	case TagPrj:
		return &tagAgg{}
	case TSDummy, TSComp:
		return &tsDummyAgg{}
	case Interp:
		// the interpolation layer (package interp) does the actual
		// filling-in; this context only needs to remember the last
		// raw value seen so interp has an anchor point to work from.
		return &firstLastAgg{wantFirst: false}
	case Arithmetic:
		return &arithmeticAgg{expr: args.Expr, inputs: args.Inputs}
	default:
		panic("agg: unsupported kind")
	}
}

// Args bundles the kind-specific construction parameters New needs.
type Args struct {
	K          int     // Top/Bottom
	Percentile float64 // Percentile, in [0,100]

	// Expr/Inputs configure an Arithmetic aggregate: expr is evaluated
	// over the finalized values of inputs once every input has been
	// fully stepped for the current window.
	Expr   func([]Value) Value
	Inputs []Aggregator
}
