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

// Package interp implements the interpolation layer (component J):
// point interpolation at a single requested timestamp, and range
// interpolation that fills gaps between window-engine outputs (empty
// windows) using their neighboring non-empty windows.
package interp

import (
	"sort"

	"github.com/sneller-labs/vnodeql/order"
)

// Mode selects how a missing value is filled.
type Mode int

const (
	ModeNone Mode = iota
	ModePrev
	ModeNext
	ModeLinear
	ModeValue
)

// Point is one (timestamp, value) sample.
type Point struct {
	Ts int64
	V  float64
}

// NeighborPoints finds the points immediately before and after target
// within points, which must be sorted ascending by Ts. If points
// contains an exact match for target, both return values point at it.
func NeighborPoints(points []Point, target int64) (before, after *Point) {
	lo, hi := 0, len(points)
	for lo < hi {
		mid := (lo + hi) / 2
		if points[mid].Ts < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(points) && points[lo].Ts == target {
		return &points[lo], &points[lo]
	}
	if lo > 0 {
		before = &points[lo-1]
	}
	if lo < len(points) {
		after = &points[lo]
	}
	return
}

// Fill computes the interpolated value at target given its known
// neighbors (either may be nil, meaning no such sample exists). ok is
// false when mode cannot produce a value from the neighbors given
// (e.g. ModeLinear with a missing side, or ModeNone always).
func Fill(mode Mode, target int64, before, after *Point, fillValue float64) (Point, bool) {
	switch mode {
	case ModePrev:
		if before == nil {
			return Point{}, false
		}
		return Point{Ts: target, V: before.V}, true
	case ModeNext:
		if after == nil {
			return Point{}, false
		}
		return Point{Ts: target, V: after.V}, true
	case ModeValue:
		return Point{Ts: target, V: fillValue}, true
	case ModeLinear:
		if before == nil || after == nil {
			return Point{}, false
		}
		if after.Ts == before.Ts {
			return Point{Ts: target, V: before.V}, true
		}
		frac := float64(target-before.Ts) / float64(after.Ts-before.Ts)
		return Point{Ts: target, V: before.V + frac*(after.V-before.V)}, true
	default:
		return Point{}, false
	}
}

// At is the point-interpolation entry point (spec.md §4.J): given the
// full ordered sample set and a single requested timestamp, find the
// neighbors and fill.
func At(mode Mode, points []Point, target int64, fillValue float64) (Point, bool) {
	before, after := NeighborPoints(points, target)
	if before == after && before != nil {
		return *before, true // exact match, no interpolation needed
	}
	return Fill(mode, target, before, after, fillValue)
}

// WindowPoint is one window-engine output: a window's boundary keys
// and its aggregate value, or Empty if the window produced no rows
// (e.g. a tumbling window with no data in its span).
type WindowPoint struct {
	SKey, EKey int64
	V          float64
	Empty      bool
}

// anchor returns the timestamp a window's output is considered to
// occupy for interpolation purposes: its start key when scanning
// ascending, its end key when scanning descending — "ekey corrected
// for order", so that neighboring-window interpolation always walks
// from the side the scan is approaching from.
func (w WindowPoint) anchor(dir order.Direction) int64 {
	if dir == order.Ascending {
		return w.SKey
	}
	return w.EKey
}

// FillWindowGaps replaces every Empty window's value in windows
// (which must be ordered consistently with dir) by interpolating
// between its nearest non-empty neighbors, using mode. Windows left
// unfillable (no neighbor on the required side) remain Empty.
func FillWindowGaps(mode Mode, windows []WindowPoint, dir order.Direction) []WindowPoint {
	if mode == ModeNone {
		return windows
	}
	var known []Point
	for _, w := range windows {
		if !w.Empty {
			known = append(known, Point{Ts: w.anchor(dir), V: w.V})
		}
	}
	// NeighborPoints requires ascending order regardless of the scan's
	// own direction.
	sort.Slice(known, func(i, j int) bool { return known[i].Ts < known[j].Ts })
	out := make([]WindowPoint, len(windows))
	copy(out, windows)
	for i, w := range out {
		if !w.Empty {
			continue
		}
		target := w.anchor(dir)
		if p, ok := At(mode, known, target, 0); ok {
			out[i].V = p.V
			out[i].Empty = false
		}
	}
	return out
}
