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
	"encoding/binary"
	"math"

	"github.com/sneller-labs/vnodeql/block"
)

// decodeFloats widens a decoded column's raw fixed-width bytes into
// float64, the common currency the agg package's Aggregator.StepRow
// operates on regardless of the column's declared on-disk type.
func decodeFloats(f block.Field, raw []byte, n int) []float64 {
	out := make([]float64, n)
	switch f.Type {
	case block.TypeFloat64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case block.TypeFloat32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case block.TypeInt64:
		for i := 0; i < n; i++ {
			out[i] = float64(int64(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case block.TypeInt32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case block.TypeInt16:
		for i := 0; i < n; i++ {
			out[i] = float64(int16(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	case block.TypeInt8, block.TypeBool:
		for i := 0; i < n; i++ {
			out[i] = float64(int8(raw[i]))
		}
	default:
		// TypeBinary (e.g. inline tag bytes): not numeric, leave zeroed.
	}
	return out
}

// encodeFloats is decodeFloats' inverse for float64, float32, int64
// and int32 columns (any other type is written as zero bytes); it is
// used by this package's own tests to build day-files.
func encodeFloats(f block.Field, vals []float64) []byte {
	switch f.Type {
	case block.TypeFloat64:
		out := make([]byte, len(vals)*8)
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
		return out
	case block.TypeFloat32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
		return out
	case block.TypeInt64:
		out := make([]byte, len(vals)*8)
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(int64(v)))
		}
		return out
	case block.TypeInt32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
		return out
	default:
		return make([]byte, len(vals)*f.Type.Width())
	}
}

func encodeTimestamps(ts []int64) []byte {
	out := make([]byte, len(ts)*8)
	for i, t := range ts {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(t))
	}
	return out
}
