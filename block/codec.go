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

// Package block implements the on-disk columnar block codec (component A):
// encoding and decoding a per-column payload, with an integrity checksum
// over every column run and optional per-column compression.
//
// A block payload is numOfCols column runs; for column c with width w(c)
// and n points, the run is len(c) bytes of (possibly compressed) data
// followed by a 32-bit checksum of those len(c) bytes. If the block's
// Algorithm is non-zero, len(c) is the compressed size and the decoder
// keyed by the column's type must be invoked to produce exactly
// n*w(c) bytes.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/sneller-labs/vnodeql/compr"
)

// Algorithm selects the byte-level compressor applied to a column run
// after it has been type-encoded. Algorithm 0 means the run is stored
// uncompressed.
type Algorithm uint8

const (
	AlgoNone Algorithm = 0
	AlgoS2   Algorithm = 1
	AlgoZstd Algorithm = 2
)

// Name returns the compr package name for the algorithm, or "" for none.
func (a Algorithm) Name() string {
	switch a {
	case AlgoS2:
		return "s2"
	case AlgoZstd:
		return "zstd"
	default:
		return ""
	}
}

// Type is the on-disk type of a column. Each type has a fixed byte
// width; variable-length types are not modeled here because the
// engine's primary timestamp and value columns in the source format
// are all fixed-width.
type Type uint8

const (
	TypeBool Type = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeBinary // fixed-width opaque payload (e.g. tags embedded inline)
)

// Width returns the on-disk byte width of one value of t. For
// TypeBinary the width is not statically known from the type alone;
// callers must supply it via Field.Width.
func (t Type) Width() int {
	switch t {
	case TypeBool, TypeInt8:
		return 1
	case TypeInt16:
		return 2
	case TypeInt32, TypeFloat32:
		return 4
	case TypeInt64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// Field describes one column of the table schema that a block
// decodes against. ColID 0 is always the primary timestamp.
type Field struct {
	ColID uint16
	Type  Type
	Width int // overrides Type.Width() when non-zero (for TypeBinary)
}

func (f Field) width() int {
	if f.Width != 0 {
		return f.Width
	}
	return f.Type.Width()
}

// Errors returned by Decode/DecodeColumn. These are wrapped with
// context via fmt.Errorf's %w verb; callers should use errors.Is
// against these sentinels.
var (
	ErrBadChecksum  = errors.New("block: checksum mismatch")
	ErrShortRead    = errors.New("block: short read")
	ErrDecoderError = errors.New("block: decompression failed")
)

// ColumnRun describes where one column's run lives within a block's
// payload, as derived by walking numOfCols runs sequentially from the
// block's on-disk offset.
type ColumnRun struct {
	Offset    int64 // absolute file offset of the run's compressed bytes
	Len       int32 // length of the (possibly compressed) bytes on disk
	Algorithm Algorithm
}

// Layout walks the sequence of per-column runs starting at
// blockOffset and returns their offsets/lengths without reading the
// payload bytes themselves, so that a caller can skip any column
// whose Field is not needed (spec 4.A: "any column may be skipped
// without reading").
//
// numOfPoints and fields must match what the block descriptor
// (header.CompBlock) recorded when the block was written; algo is the
// block-wide algorithm flag (0 means no compression for any column).
func Layout(blockOffset int64, numOfPoints int, fields []Field, algo Algorithm, fd io.ReaderAt) ([]ColumnRun, error) {
	runs := make([]ColumnRun, len(fields))
	off := blockOffset
	var lenBuf [4]byte
	for i, f := range fields {
		if _, err := fd.ReadAt(lenBuf[:], off); err != nil {
			return nil, fmt.Errorf("block: reading run length for col %d: %w: %v", f.ColID, ErrShortRead, err)
		}
		n := int32(binary.LittleEndian.Uint32(lenBuf[:]))
		runs[i] = ColumnRun{
			Offset:    off + 4,
			Len:       n,
			Algorithm: algo,
		}
		// payload + trailing 32-bit checksum
		off += 4 + int64(n) + 4
		_ = numOfPoints
	}
	return runs, nil
}

// DecodeColumn reads and verifies one column run and decodes it into
// dst, which must be exactly numOfPoints*field.width() bytes long.
// dst is the caller-provided arena slot for this column; scratch, if
// non-nil, is reused as decompression scratch space to avoid
// reallocating across many blocks.
func DecodeColumn(fd io.ReaderAt, run ColumnRun, f Field, numOfPoints int, dst []byte, scratch *[]byte) error {
	want := numOfPoints * f.width()
	if len(dst) != want {
		return fmt.Errorf("block: col %d: dst has %d bytes, want %d", f.ColID, len(dst), want)
	}
	raw := scratchBuf(scratch, int(run.Len)+4)
	if _, err := fd.ReadAt(raw, run.Offset); err != nil {
		return fmt.Errorf("block: col %d: reading payload: %w: %v", f.ColID, ErrShortRead, err)
	}
	payload := raw[:run.Len]
	sum := binary.LittleEndian.Uint32(raw[run.Len:])
	if crc32.ChecksumIEEE(payload) != sum {
		return fmt.Errorf("block: col %d: %w", f.ColID, ErrBadChecksum)
	}
	if run.Algorithm == AlgoNone {
		if len(payload) != want {
			return fmt.Errorf("block: col %d: uncompressed run is %d bytes, want %d", f.ColID, len(payload), want)
		}
		copy(dst, payload)
		return nil
	}
	dec := compr.Decompression(run.Algorithm.Name())
	if dec == nil {
		return fmt.Errorf("block: col %d: unknown algorithm %d: %w", f.ColID, run.Algorithm, ErrDecoderError)
	}
	if err := dec.Decompress(payload, dst); err != nil {
		return fmt.Errorf("block: col %d: %w: %v", f.ColID, ErrDecoderError, err)
	}
	return nil
}

// scratchBuf returns a []byte of length n, reusing *scratch's backing
// array when it is large enough.
func scratchBuf(scratch *[]byte, n int) []byte {
	if scratch == nil {
		return make([]byte, n)
	}
	if cap(*scratch) < n {
		*scratch = make([]byte, n)
	}
	*scratch = (*scratch)[:n]
	return *scratch
}

// DecodeTimestamps decodes just column 0 (the primary timestamp),
// which the loader (component D) uses for the LoadTs state where
// only ordering information is required.
func DecodeTimestamps(fd io.ReaderAt, run ColumnRun, numOfPoints int, dst []int64) error {
	f := Field{ColID: 0, Type: TypeInt64}
	raw := make([]byte, numOfPoints*8)
	if err := DecodeColumn(fd, run, f, numOfPoints, raw, nil); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return nil
}
