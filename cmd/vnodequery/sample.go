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

package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sneller-labs/vnodeql/block"
	"github.com/sneller-labs/vnodeql/header"
)

// sampleBlock is one block's worth of (ts, value) rows for buildSampleDayFile.
type sampleBlock struct {
	ts []int64
	v  []float64
}

// buildSampleDayFile writes a single-file demo day-file (one head file
// and one data file, no last-file rows) under dataRoot for vid/fileID,
// so -sample lets the command be exercised against a query spec without
// a pre-existing vnode on disk. It mirrors the wire layout the root
// package's disk source (tableSource) reads: a fixed prefix, an
// offset table, a CompInfo, and the CompBlock vector, followed by the
// data file's concatenated block payloads (block.Writer, algorithm
// none).
func buildSampleDayFile(dataRoot string, vid, fileID int32, tableSid int, uid uint64, maxSessions int, blocks []sampleBlock) error {
	dir := filepath.Join(dataRoot, fmt.Sprintf("vnode%d", vid), "db")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var dataBuf []byte
	cbs := make([]header.CompBlock, len(blocks))
	for i, b := range blocks {
		w := block.NewWriter(block.AlgoNone)
		w.WriteColumn(encodeTimestamps(b.ts))
		w.WriteColumn(encodeFloat64s(b.v))
		payload := w.Bytes()

		cbs[i] = header.CompBlock{
			KeyFirst: b.ts[0], KeyLast: b.ts[len(b.ts)-1],
			NumOfPoints: int32(len(b.ts)),
			Offset:      int64(len(dataBuf)),
			PayloadLen:  int32(len(payload)),
			Algorithm:   block.AlgoNone,
			Cols:        []header.ColAgg{{}, colAggOf(b.v)},
		}
		dataBuf = append(dataBuf, payload...)
	}

	base := filepath.Join(dir, fmt.Sprintf("v%df%d", vid, fileID))
	if err := os.WriteFile(base+".data", dataBuf, 0644); err != nil {
		return err
	}

	var headBuf []byte
	headBuf = append(headBuf, make([]byte, header.FilePrefixLen)...)
	ciOffset := int64(header.FilePrefixLen + maxSessions*8 + 4)
	table := make(header.OffsetTable, maxSessions)
	table[tableSid] = ciOffset
	headBuf = append(headBuf, header.WriteOffsetTable(table)...)
	headBuf = append(headBuf, header.EncodeCompInfo(header.CompInfo{NumOfBlocks: int32(len(cbs)), UID: uid})...)
	headBuf = append(headBuf, header.EncodeCompBlocks(cbs)...)
	return os.WriteFile(base+".head", headBuf, 0644)
}

func encodeTimestamps(ts []int64) []byte {
	out := make([]byte, len(ts)*8)
	for i, t := range ts {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(t))
	}
	return out
}

func encodeFloat64s(vals []float64) []byte {
	out := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func colAggOf(vals []float64) header.ColAgg {
	if len(vals) == 0 {
		return header.ColAgg{}
	}
	agg := header.ColAgg{Min: vals[0], Max: vals[0]}
	for i, v := range vals {
		if v < agg.Min {
			agg.Min, agg.MinIdx = v, int32(i)
		}
		if v > agg.Max {
			agg.Max, agg.MaxIdx = v, int32(i)
		}
		agg.Sum += v
	}
	return agg
}

// sampleScenarioS1 returns the three-block scenario this engine's
// query-state-machine tests exercise: count(*) over ts 1000..4500
// across three blocks of a single day-file.
func sampleScenarioS1() []sampleBlock {
	return []sampleBlock{
		{ts: []int64{1000, 1500, 2000}, v: []float64{1, 2, 3}},
		{ts: []int64{2500, 3000}, v: []float64{4, 5}},
		{ts: []int64{3500, 4000, 4500}, v: []float64{6, 7, 8}},
	}
}
