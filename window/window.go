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

// Package window implements the window engine (component H): tumbling,
// sliding, and group-by window shapes, and the hash index (WindowSet)
// that maps (group, window start) to the aggregator set accumulating
// that window's rows.
//
// WindowSet's grow-on-demand hash index is grounded on the hash
// aggregation approach read in sneller's vm package (dropped in full;
// see DESIGN.md) before being adapted here as a plain open-addressed
// bucket index using dchest/siphash for key hashing, matching this
// corpus's preference for a real hashing library over a hand-rolled
// FNV/multiply-shift scheme.
package window

import (
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"

	"github.com/sneller-labs/vnodeql/agg"
)

// Window is one closed-or-open interval of the primary key axis that
// a group of rows is being aggregated into.
type Window struct {
	SKey, EKey int64
	Closed     bool
}

// Contains reports whether key falls within the window's [SKey,EKey].
func (w Window) Contains(key int64) bool {
	return key >= w.SKey && key <= w.EKey
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// AlignStart computes the tumbling/sliding window start boundary
// containing t, for a window of size interval anchored at epoch:
// skey = floor((t-epoch)/interval)*interval + epoch.
func AlignStart(t, epoch, interval int64) int64 {
	return floorDiv(t-epoch, interval)*interval + epoch
}

// AlignEnd computes the window end boundary for a window starting at
// skey, with the special case that a window reaching to the greatest
// representable key clamps to math.MaxInt64 rather than overflowing.
func AlignEnd(skey, interval int64) int64 {
	if interval <= 0 || skey > math.MaxInt64-interval+1 {
		return math.MaxInt64
	}
	return skey + interval - 1
}

// Tumbling returns the single non-overlapping window containing t.
func Tumbling(t, epoch, interval int64) Window {
	s := AlignStart(t, epoch, interval)
	return Window{SKey: s, EKey: AlignEnd(s, interval)}
}

// Sliding returns every overlapping window of size interval, advancing
// by slide, that contains t. A row near a window boundary can belong
// to more than one sliding window at once.
func Sliding(t, epoch, interval, slide int64) []Window {
	if slide <= 0 {
		slide = interval
	}
	// the latest window start at or before t, then walk backwards
	// while the window (of width interval) still covers t.
	latest := floorDiv(t-epoch, slide)*slide + epoch
	var out []Window
	for s := latest; s+interval > t; s -= slide {
		if t >= s {
			out = append(out, Window{SKey: s, EKey: AlignEnd(s, interval)})
		}
		if s <= epoch-interval {
			break // defensive bound against a misconfigured slide/interval pair
		}
	}
	return out
}

// groupKey hashes a (group, window start) pair into the bucket index
// space using siphash, so distinct groups spread evenly regardless of
// how group ids are assigned.
func groupKey(group uint64, skey int64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], group)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(skey))
	return siphash.Hash(0, 0, buf[:])
}

// Slot is one live window's bookkeeping: its boundaries, the group it
// belongs to (0 for an ungrouped query), and the set of aggregators
// accumulating its rows.
type Slot struct {
	Window Window
	Group  uint64
	Aggs   []agg.Aggregator
}

// DefaultCapacity is WindowSet's initial bucket count. Chosen to match
// the common case of a modest number of concurrently open sliding
// windows or group-by groups for one vnode's query without forcing an
// immediate grow; doubling from here keeps the common case allocation
// free. (Open Question 1, resolved in SPEC_FULL.md.)
const DefaultCapacity = 64

const loadFactorNum, loadFactorDen = 3, 4 // grow when occupancy exceeds 75%

// Set is the hash index mapping (group, skey) to a live Slot.
type Set struct {
	buckets [][]int // bucket -> indices into slots
	slots   []Slot
	live    int
}

// NewSet creates an empty WindowSet at DefaultCapacity.
func NewSet() *Set {
	return &Set{buckets: make([][]int, DefaultCapacity)}
}

func (s *Set) bucketFor(group uint64, skey int64) int {
	return int(groupKey(group, skey) % uint64(len(s.buckets)))
}

// Get returns the existing slot for (group, skey), if any.
func (s *Set) Get(group uint64, skey int64) (*Slot, bool) {
	b := s.bucketFor(group, skey)
	for _, idx := range s.buckets[b] {
		if s.slots[idx].Group == group && s.slots[idx].Window.SKey == skey {
			return &s.slots[idx], true
		}
	}
	return nil, false
}

// GetOrCreate returns the slot for (group, skey), creating it (with
// window boundaries [skey,ekey] and a fresh aggregator set from
// newAggs) if it does not already exist.
func (s *Set) GetOrCreate(group uint64, skey, ekey int64, newAggs func() []agg.Aggregator) *Slot {
	if slot, ok := s.Get(group, skey); ok {
		return slot
	}
	if s.live+1 > len(s.buckets)*loadFactorNum/loadFactorDen {
		s.grow()
	}
	s.slots = append(s.slots, Slot{
		Window: Window{SKey: skey, EKey: ekey},
		Group:  group,
		Aggs:   newAggs(),
	})
	idx := len(s.slots) - 1
	b := s.bucketFor(group, skey)
	s.buckets[b] = append(s.buckets[b], idx)
	s.live++
	return &s.slots[idx]
}

func (s *Set) grow() {
	newCap := len(s.buckets) * 2
	newBuckets := make([][]int, newCap)
	for idx := range s.slots {
		b := int(groupKey(s.slots[idx].Group, s.slots[idx].Window.SKey) % uint64(newCap))
		newBuckets[b] = append(newBuckets[b], idx)
	}
	s.buckets = newBuckets
}

// Len returns the number of live slots.
func (s *Set) Len() int { return s.live }

// All returns every live slot, in no particular order.
func (s *Set) All() []*Slot {
	out := make([]*Slot, len(s.slots))
	for i := range s.slots {
		out[i] = &s.slots[i]
	}
	return out
}

// Close marks every slot the scan has moved past as closed, meaning
// no further row can ever fall into it: when ascending, those whose
// EKey is before key; otherwise those whose SKey is after key. It
// returns the newly closed slots so the caller can finalize and evict
// them.
func (s *Set) Close(key int64, ascending bool) []*Slot {
	var closed []*Slot
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.Window.Closed {
			continue
		}
		done := (ascending && key > sl.Window.EKey) || (!ascending && key < sl.Window.SKey)
		if done {
			sl.Window.Closed = true
			closed = append(closed, sl)
		}
	}
	return closed
}

// Evict removes every currently-closed slot from the set, compacting
// the backing storage and rebuilding the bucket index. The query path
// calls neither Close nor Evict: every window stays in the set until
// the scan ends and all of them are finalized together.
func (s *Set) Evict() {
	kept := s.slots[:0]
	for _, sl := range s.slots {
		if !sl.Window.Closed {
			kept = append(kept, sl)
		}
	}
	s.slots = kept
	s.live = len(s.slots)
	newBuckets := make([][]int, len(s.buckets))
	for idx := range s.slots {
		b := int(groupKey(s.slots[idx].Group, s.slots[idx].Window.SKey) % uint64(len(newBuckets)))
		newBuckets[b] = append(newBuckets[b], idx)
	}
	s.buckets = newBuckets
}
