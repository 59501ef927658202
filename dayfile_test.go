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

package vnodeql

import (
	"os"
	"testing"

	"github.com/sneller-labs/vnodeql/block"
	"github.com/sneller-labs/vnodeql/header"
)

// testBlock is one block's worth of rows for buildDayFile.
type testBlock struct {
	ts   []int64
	v    []float64
	last bool
}

// buildDayFile writes a complete (head, data) day-file pair for one
// table under dataRoot/vnodeN/db, encoding blocks in order with the
// given algorithm. All blocks in one call must share the same Last
// flag — mixing durable and last-file blocks in a single buildDayFile
// call is not supported by this test helper.
func buildDayFile(t *testing.T, dataRoot string, vid, fileID int32, tableSid int, uid uint64, blocks []testBlock, algo block.Algorithm) {
	t.Helper()
	const maxSessions = 4

	dir := vnodeDir(dataRoot, vid)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	triple := NewDayFileTriple(dataRoot, vid, fileID)

	var dataBuf []byte
	cbs := make([]header.CompBlock, len(blocks))
	for i, b := range blocks {
		w := block.NewWriter(algo)
		w.WriteColumn(encodeTimestamps(b.ts))
		w.WriteColumn(encodeFloats(block.Field{ColID: 1, Type: block.TypeFloat64}, b.v))
		payload := w.Bytes()

		cbs[i] = header.CompBlock{
			KeyFirst: b.ts[0], KeyLast: b.ts[len(b.ts)-1],
			NumOfPoints: int32(len(b.ts)),
			Offset:      int64(len(dataBuf)),
			PayloadLen:  int32(len(payload)),
			Algorithm:   algo,
			Last:        b.last,
			Cols: []header.ColAgg{
				{}, // column 0 (ts) pre-agg unused here
				colAggOf(b.v),
			},
		}
		dataBuf = append(dataBuf, payload...)
	}
	dataPath := triple.DataPath()
	anyLast := false
	for _, b := range blocks {
		if b.last {
			anyLast = true
		}
	}
	if !anyLast {
		if err := os.WriteFile(dataPath, dataBuf, 0644); err != nil {
			t.Fatal(err)
		}
	} else {
		if err := os.WriteFile(triple.LastPath(), dataBuf, 0644); err != nil {
			t.Fatal(err)
		}
	}

	var headBuf []byte
	headBuf = append(headBuf, make([]byte, header.FilePrefixLen)...)
	ciOffset := int64(header.FilePrefixLen + maxSessions*8 + 4)
	table := make(header.OffsetTable, maxSessions)
	table[tableSid] = ciOffset
	headBuf = append(headBuf, header.WriteOffsetTable(table)...)
	ci := header.CompInfo{NumOfBlocks: int32(len(cbs)), UID: uid}
	headBuf = append(headBuf, header.EncodeCompInfo(ci)...)
	headBuf = append(headBuf, header.EncodeCompBlocks(cbs)...)
	if err := os.WriteFile(triple.HeadPath(), headBuf, 0644); err != nil {
		t.Fatal(err)
	}
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
