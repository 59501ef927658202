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

package block

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sneller-labs/vnodeql/compr"
)

// Writer builds a block payload in memory. The write path proper
// (cache append, commit-to-disk) is out of scope for this engine;
// Writer exists so tests can exercise the round-trip invariant
// (encode, flush, decode, compare) and so the demonstration CLI can
// build sample day-files.
type Writer struct {
	algo Algorithm
	buf  []byte
}

// NewWriter returns a Writer that compresses every column with algo.
func NewWriter(algo Algorithm) *Writer {
	return &Writer{algo: algo}
}

// WriteColumn appends one column's run (compressed if w.algo != AlgoNone)
// to the block payload being built.
func (w *Writer) WriteColumn(raw []byte) {
	var payload []byte
	if w.algo == AlgoNone {
		payload = raw
	} else {
		c := compr.Compression(w.algo.Name())
		payload = c.Compress(raw, nil)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, payload...)
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], crc32.ChecksumIEEE(payload))
	w.buf = append(w.buf, sumBuf[:]...)
}

// Bytes returns the accumulated block payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}
