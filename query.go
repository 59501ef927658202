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

// Package vnodeql ties components A-K together into the query-state
// machine (Q in spec.md §3) and its prepare/fetch protocol (§6.2).
package vnodeql

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/sneller-labs/vnodeql/agg"
	"github.com/sneller-labs/vnodeql/block"
	"github.com/sneller-labs/vnodeql/header"
	"github.com/sneller-labs/vnodeql/interp"
	"github.com/sneller-labs/vnodeql/load"
	"github.com/sneller-labs/vnodeql/order"
	"github.com/sneller-labs/vnodeql/page"
	"github.com/sneller-labs/vnodeql/scan"
	"github.com/sneller-labs/vnodeql/window"
)

// Over mirrors spec.md §6.2's query.over bitfield. COMPLETED is sticky
// and never co-exists with NOT_COMPLETED.
type Over uint8

const (
	NotCompleted Over = 1 << iota
	Completed
	NoDataToCheck
	RESBufFull
)

// AggSpec names one requested output aggregate: which column it
// reads, which Kind computes it, and any kind-specific construction
// arguments (k for top/bottom, percentile, ...).
type AggSpec struct {
	ColID uint16
	Kind  agg.Kind
	Args  agg.Args
}

// QueryConfig is everything Prepare needs to run a query to
// completion: the table's location, its schema, the requested key
// range/filters/aggregates/grouping/window shape, and output paging
// parameters.
type QueryConfig struct {
	DataRoot string
	VID      int32
	TableSid int
	UID      uint64
	MaxSess  int // header offset-table size (maxSessions)

	Fields []block.Field // table schema; ColID 0 must be the primary timestamp

	SKey, EKey int64
	Dir        order.Direction
	Filters    []load.Filter

	Aggs       []AggSpec
	GroupByCol uint16
	HasGroupBy bool

	Interval, Slide, Epoch int64 // Interval == 0 means no windowing

	Limit order.Limit

	InterpMode interp.Mode
	FillValue  float64
}

// Query is one prepared/fetched query's live state, matching spec.md
// §3's Q: created once via Prepare, mutated only by Fetch, and
// destroyed with the caller.
type Query struct {
	logger Logger
	killed atomic.Bool

	over  Over
	pager *page.Pager
	err   *Error
}

// New returns an unprepared Query. logger may be nil.
func New(logger Logger) *Query {
	return &Query{logger: logger, over: NotCompleted}
}

// Kill requests cancellation; the running (or about-to-run) scan
// polls this at every block boundary via Killed.
func (q *Query) Kill() { q.killed.Store(true) }

// Killed implements scan.Killer.
func (q *Query) Killed() bool { return q.killed.Load() }

// Over returns the query's current bitfield of completion flags.
func (q *Query) Over() Over { return q.over }

func validate(cfg QueryConfig) error {
	seen := make(map[uint16]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if seen[f.ColID] {
			return fmt.Errorf("duplicate column id %d in schema", f.ColID)
		}
		seen[f.ColID] = true
	}
	if cfg.SKey > cfg.EKey {
		return fmt.Errorf("skey %d is after ekey %d", cfg.SKey, cfg.EKey)
	}
	if cfg.Slide < 0 || cfg.Interval < 0 {
		return fmt.Errorf("negative interval/slide")
	}
	return nil
}

// Prepare runs the query to completion: a single synchronous pass
// (plus a reverse supplementary pass if any requested aggregate needs
// one) over the table's day-files, accumulating window output, then
// builds the result pager. Per spec.md §5 this is the query's entire
// execution — Fetch only pages through output already computed here.
func (q *Query) Prepare(cfg QueryConfig) *Error {
	if err := validate(cfg); err != nil {
		q.err = newError(InvalidQuery, err)
		return q.err
	}

	fs, err := ScanFileSet(cfg.DataRoot, cfg.VID)
	if err != nil {
		q.err = newError(FileCorrupted, err)
		return q.err
	}

	headers := header.NewCache()
	src := newTableSource(fs, headers, cfg.Fields, cfg.MaxSess, cfg.TableSid, cfg.UID)

	need := buildNeed(cfg)
	sink := newWindowSink(cfg)

	kinds := make([]agg.Kind, len(cfg.Aggs))
	for i, a := range cfg.Aggs {
		kinds[i] = a.Kind
	}

	var tr load.Tracker
	ctx := &scan.Context{Dir: cfg.Dir}
	ctx.Cur.Position = src.Start(cfg.Dir)

	if scan.NeedsSupplementary(kinds) {
		_, err = scan.RunTwoPass(ctx, src, src, &tr, need, sink, q, 0, kinds, src)
	} else {
		_, err = scan.Run(ctx, src, src, &tr, need, sink, q, 0, nil)
	}
	if err == scan.ErrKilled {
		q.over = NoDataToCheck
		q.err = newError(Success, err)
		return nil
	}
	if err != nil {
		q.err = newError(FileCorrupted, err)
		return q.err
	}
	if src.Err() != nil {
		q.err = newError(FileCorrupted, src.Err())
		return q.err
	}

	groups := applyOffset(sink.rowGroups(cfg), cfg.Limit.Offset)
	q.pager = page.NewPager(groups, cfg.Limit.Limit)
	q.over = NotCompleted
	logf(q.logger, "vnodeql: prepared query over vnode %d table %d", cfg.VID, cfg.TableSid)
	return nil
}

// Fetch returns up to max rows, per spec.md §6.2, advancing the
// pager's remembered position. Once the pager reports done, Fetch
// sets the sticky COMPLETED flag.
func (q *Query) Fetch(max int) ([]page.Row, *Error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.pager == nil {
		return nil, newError(InvalidQuery, fmt.Errorf("vnodeql: Fetch called before Prepare"))
	}
	rows, done := q.pager.Fetch(max)
	if done {
		q.over = Completed
	} else {
		q.over = NotCompleted
	}
	return rows, nil
}

// applyOffset drops the first offset rows across groups, in order,
// before the result is handed to page.NewPager (which has no offset
// parameter of its own). Group boundaries are preserved so a group
// only partially consumed by the offset keeps its remaining rows.
func applyOffset(groups []page.RowGroup, offset int) []page.RowGroup {
	if offset <= 0 {
		return groups
	}
	out := make([]page.RowGroup, 0, len(groups))
	skip := offset
	for _, g := range groups {
		if skip >= len(g.Rows) {
			skip -= len(g.Rows)
			continue
		}
		out = append(out, page.RowGroup{Rows: g.Rows[skip:]})
		skip = 0
	}
	return out
}

func buildNeed(cfg QueryConfig) load.Need {
	colSet := make(map[uint16]bool)
	for _, a := range cfg.Aggs {
		colSet[a.ColID] = true
	}
	if cfg.HasGroupBy {
		colSet[cfg.GroupByCol] = true
	}
	for _, f := range cfg.Filters {
		colSet[f.ColID] = true
	}
	cols := make([]uint16, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return load.Need{
		SKey: cfg.SKey, EKey: cfg.EKey,
		Filters: cfg.Filters,
		Columns: cols,
		NeedTS:  true,
	}
}

// windowSink implements scan.Sink, stepping every row into the active
// window(s)' aggregators (or, for a plain fixed-projection query with
// no aggregates, collecting the row directly).
type windowSink struct {
	cfg  QueryConfig
	set  *window.Set
	rows []page.Row // only used when cfg.Aggs is empty
}

func newWindowSink(cfg QueryConfig) *windowSink {
	return &windowSink{cfg: cfg, set: window.NewSet()}
}

func (s *windowSink) newAggs() []agg.Aggregator {
	out := make([]agg.Aggregator, len(s.cfg.Aggs))
	for i, a := range s.cfg.Aggs {
		out[i] = agg.New(a.Kind, a.Args)
		out[i].Init()
	}
	return out
}

// numericValue widens a finalized aggregate Value to float64 for
// output/interpolation purposes. Exactly one of F/I64 is ever
// populated by a given Kind's Finalize, so summing them is equivalent
// to a type switch without needing the Kind at the call site.
func numericValue(v agg.Value) float64 {
	if v.Null {
		return 0
	}
	return v.F + float64(v.I64)
}

func groupKeyOf(cfg QueryConfig, cols map[uint16]float64) uint64 {
	if !cfg.HasGroupBy {
		return 0
	}
	return math.Float64bits(cols[cfg.GroupByCol])
}

func (s *windowSink) windowsFor(ts int64) []window.Window {
	if s.cfg.Interval <= 0 {
		return []window.Window{{SKey: math.MinInt64, EKey: math.MaxInt64}}
	}
	if s.cfg.Slide > 0 && s.cfg.Slide < s.cfg.Interval {
		return window.Sliding(ts, s.cfg.Epoch, s.cfg.Interval, s.cfg.Slide)
	}
	return []window.Window{window.Tumbling(ts, s.cfg.Epoch, s.cfg.Interval)}
}

// Step implements scan.Sink. The demand loader only discards whole
// blocks outside [SKey,EKey] (a block's own range may still straddle
// the boundary), so the row-level bound is enforced here. During the
// supplementary pass only kinds agg.SupplementaryEnabled allows are
// stepped, so the reverse replay cannot double-count count/sum/min/max
// and the rest of the non-direction-sensitive aggregates.
func (s *windowSink) Step(phase scan.Phase, ts int64, cols map[uint16]float64, nulls map[uint16]bool) {
	if ts < s.cfg.SKey || ts > s.cfg.EKey {
		return
	}
	if len(s.cfg.Aggs) == 0 {
		vals := make(map[uint16]float64, len(cols))
		for k, v := range cols {
			vals[k] = v
		}
		s.rows = append(s.rows, page.Row{Ts: ts, Values: vals})
		return
	}
	group := groupKeyOf(s.cfg, cols)
	for _, w := range s.windowsFor(ts) {
		slot := s.set.GetOrCreate(group, w.SKey, w.EKey, s.newAggs)
		for i, a := range s.cfg.Aggs {
			if phase == scan.Supplementary && !agg.SupplementaryEnabled(a.Kind) {
				continue
			}
			slot.Aggs[i].StepRow(ts, cols[a.ColID], nulls[a.ColID])
		}
	}
}

// rowGroups finalizes every aggregate context and returns one
// page.RowGroup per window/group, ordered by window start key
// (descending when the query direction is descending). When
// interpolation is requested and the query has exactly one output
// aggregate, the values pass through interp.FillWindowGaps; the set
// holds only windows that received rows, so every point is non-empty
// and no value changes, and no row is added for a window with no data.
func (s *windowSink) rowGroups(cfg QueryConfig) []page.RowGroup {
	if len(cfg.Aggs) == 0 {
		return []page.RowGroup{{Rows: s.rows}}
	}
	slots := s.set.All()
	sort.Slice(slots, func(i, j int) bool {
		if cfg.Dir == order.Descending {
			return slots[i].Window.SKey > slots[j].Window.SKey
		}
		return slots[i].Window.SKey < slots[j].Window.SKey
	})

	groups := make([]page.RowGroup, 0, len(slots))
	// perOutput[k] holds output column k's value across every window,
	// in the same order as slots, so range interpolation (which only
	// makes sense for a single numeric series at a time) can run per
	// output column independently.
	perOutput := make([][]float64, len(cfg.Aggs))
	for k := range perOutput {
		perOutput[k] = make([]float64, len(slots))
	}
	for i, sl := range slots {
		for k, a := range sl.Aggs {
			perOutput[k][i] = numericValue(a.Finalize())
		}
	}

	if cfg.InterpMode != interp.ModeNone && len(cfg.Aggs) == 1 {
		points := make([]interp.WindowPoint, len(slots))
		for i, sl := range slots {
			points[i] = interp.WindowPoint{SKey: sl.Window.SKey, EKey: sl.Window.EKey, V: perOutput[0][i]}
		}
		points = interp.FillWindowGaps(cfg.InterpMode, points, cfg.Dir)
		for i := range perOutput[0] {
			perOutput[0][i] = points[i].V
		}
	}

	for i, sl := range slots {
		vals := make(map[uint16]float64, len(cfg.Aggs))
		for k, a := range cfg.Aggs {
			vals[a.ColID] = perOutput[k][i]
		}
		groups = append(groups, page.RowGroup{Rows: []page.Row{{
			Ts:     sl.Window.SKey,
			Values: vals,
		}}})
	}
	return groups
}
