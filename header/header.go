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

// Package header implements the day-file header reader (component B):
// locating a table's block-index segment inside a day-file's head
// file, validating its checksums, and memoizing the result until the
// file changes or the scanner explicitly drops it.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/sneller-labs/vnodeql/block"
)

// FilePrefixLen is the size, in bytes, of the fixed prefix at the
// start of every head file (magic + version + precision byte + pad).
const FilePrefixLen = 16

// Precision is the per-vnode timestamp precision stored in the fixed
// prefix. ReadPrefix decodes it; the query path does not call
// ReadPrefix and uses every ts value as stored.
type Precision uint8

const (
	PrecisionMillisecond Precision = iota
	PrecisionMicrosecond
)

// ErrCorrupt is returned (wrapped) whenever a checksum fails to
// validate; per spec.md §7 this aborts the query without quarantining
// the file.
var ErrCorrupt = errors.New("header: corrupt segment")

var errBadSum = errors.New("checksum mismatch")

// Prefix is the decoded fixed prefix of a head file.
type Prefix struct {
	Magic     uint32
	Version   uint32
	Precision Precision
}

// ReadPrefix reads and decodes the fixed prefix at the start of fd.
func ReadPrefix(fd io.ReaderAt) (Prefix, error) {
	buf := make([]byte, FilePrefixLen)
	if _, err := fd.ReadAt(buf, 0); err != nil {
		return Prefix{}, fmt.Errorf("header: reading prefix: %w", err)
	}
	return Prefix{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		Precision: Precision(buf[8]),
	}, nil
}

// OffsetTable is the per-table-slot array of CompInfo offsets that
// follows the fixed prefix. Entry i is zero if table slot i has no
// data in this file.
type OffsetTable []int64

// ReadOffsetTable reads and validates the maxSessions-entry offset
// table located immediately after the fixed prefix.
func ReadOffsetTable(fd io.ReaderAt, maxSessions int) (OffsetTable, error) {
	n := maxSessions * 8
	buf := make([]byte, n+4)
	if _, err := fd.ReadAt(buf, FilePrefixLen); err != nil {
		return nil, fmt.Errorf("header: reading offset table: %w", err)
	}
	body := buf[:n]
	sum := binary.LittleEndian.Uint32(buf[n:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("header: offset table: %w: %v", ErrCorrupt, errBadSum)
	}
	out := make(OffsetTable, maxSessions)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(body[i*8:]))
	}
	return out, nil
}

// WriteOffsetTable is the inverse of ReadOffsetTable; used by tests
// and the demonstration CLI's day-file builder.
func WriteOffsetTable(t OffsetTable) []byte {
	body := make([]byte, len(t)*8)
	for i, off := range t {
		binary.LittleEndian.PutUint64(body[i*8:], uint64(off))
	}
	buf := make([]byte, len(body)+4)
	copy(buf, body)
	binary.LittleEndian.PutUint32(buf[len(body):], crc32.ChecksumIEEE(body))
	return buf
}

// CompInfo is the per-table header preceding the CompBlock array.
type CompInfo struct {
	NumOfBlocks int32
	UID         uint64
}

const compInfoLen = 4 + 8 + 4 // numOfBlocks + uid + checksum

// ReadCompInfo reads the CompInfo at offset and checks that its
// stored uid matches wantUID. A uid mismatch means the table has no
// data in this file and is reported via the bool return, not an
// error (spec.md §4.B step 2).
func ReadCompInfo(fd io.ReaderAt, offset int64, wantUID uint64) (CompInfo, bool, error) {
	if offset == 0 {
		return CompInfo{}, false, nil
	}
	buf := make([]byte, compInfoLen)
	if _, err := fd.ReadAt(buf, offset); err != nil {
		return CompInfo{}, false, fmt.Errorf("header: reading comp-info: %w", err)
	}
	body := buf[:12]
	sum := binary.LittleEndian.Uint32(buf[12:])
	if crc32.ChecksumIEEE(body) != sum {
		return CompInfo{}, false, fmt.Errorf("header: comp-info: %w: %v", ErrCorrupt, errBadSum)
	}
	ci := CompInfo{
		NumOfBlocks: int32(binary.LittleEndian.Uint32(body[0:4])),
		UID:         binary.LittleEndian.Uint64(body[4:12]),
	}
	if ci.UID != wantUID {
		return CompInfo{}, false, nil
	}
	return ci, true, nil
}

// EncodeCompInfo is the inverse of ReadCompInfo's decode step.
func EncodeCompInfo(ci CompInfo) []byte {
	buf := make([]byte, compInfoLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ci.NumOfBlocks))
	binary.LittleEndian.PutUint64(buf[4:12], ci.UID)
	binary.LittleEndian.PutUint32(buf[12:], crc32.ChecksumIEEE(buf[:12]))
	return buf
}

// ColAgg is the per-column pre-aggregate stored with each CompBlock.
type ColAgg struct {
	Min, Max       float64
	Sum            float64
	NumNull        int32
	MinIdx, MaxIdx int32 // row offset of the extreme value within the block
}

// CompBlock is the on-disk descriptor of one block (spec.md §3/§6.1).
//
// Fixed-part layout (compBlockFixedLen bytes), followed by NumOfCols
// ColAgg records of colAggLen bytes each:
//
//	[0:8]   keyFirst   int64
//	[8:16]  keyLast    int64
//	[16:20] numOfPoints int32
//	[20:22] numOfCols   int16
//	[22:30] offset      int64
//	[30:34] payloadLen  int32
//	[34]    algorithm   byte
//	[35]    last-flag   byte
type CompBlock struct {
	KeyFirst, KeyLast int64
	NumOfPoints       int32
	NumOfCols         int16
	Offset            int64
	PayloadLen        int32
	Algorithm         block.Algorithm
	Last              bool
	Cols              []ColAgg
}

const compBlockFixedLen = 8 + 8 + 4 + 2 + 8 + 4 + 1 + 1 // = 36

const colAggLen = 8 + 8 + 8 + 4 + 4 + 4 // = 36

func compBlockLen(numCols int) int {
	return compBlockFixedLen + numCols*colAggLen
}

// ReadCompBlocks reads and validates the numOfBlocks CompBlock
// records that follow a CompInfo, plus their trailing checksum.
func ReadCompBlocks(fd io.ReaderAt, offset int64, numOfBlocks int32) ([]CompBlock, error) {
	blocks := make([]CompBlock, numOfBlocks)
	pos := offset
	h := crc32.NewIEEE()
	for i := range blocks {
		// peek the fixed part first; it tells us numOfCols, which
		// determines the total record length.
		head := make([]byte, compBlockFixedLen)
		if _, err := fd.ReadAt(head, pos); err != nil {
			return nil, fmt.Errorf("header: reading comp-block %d: %w", i, err)
		}
		numCols := int16(binary.LittleEndian.Uint16(head[20:22]))
		rec := make([]byte, compBlockLen(int(numCols)))
		if _, err := fd.ReadAt(rec, pos); err != nil {
			return nil, fmt.Errorf("header: reading comp-block %d: %w", i, err)
		}
		h.Write(rec)
		blocks[i] = decodeCompBlock(rec, numCols)
		pos += int64(len(rec))
	}
	var trailer [4]byte
	if _, err := fd.ReadAt(trailer[:], pos); err != nil {
		return nil, fmt.Errorf("header: reading comp-block trailer: %w", err)
	}
	if binary.LittleEndian.Uint32(trailer[:]) != h.Sum32() {
		return nil, fmt.Errorf("header: comp-block vector: %w: %v", ErrCorrupt, errBadSum)
	}
	return blocks, nil
}

func decodeCompBlock(rec []byte, numCols int16) CompBlock {
	cb := CompBlock{
		KeyFirst:    int64(binary.LittleEndian.Uint64(rec[0:8])),
		KeyLast:     int64(binary.LittleEndian.Uint64(rec[8:16])),
		NumOfPoints: int32(binary.LittleEndian.Uint32(rec[16:20])),
		NumOfCols:   numCols,
		Offset:      int64(binary.LittleEndian.Uint64(rec[22:30])),
		PayloadLen:  int32(binary.LittleEndian.Uint32(rec[30:34])),
		Algorithm:   block.Algorithm(rec[34]),
		Last:        rec[35] != 0,
	}
	off := compBlockFixedLen
	cb.Cols = make([]ColAgg, numCols)
	for i := range cb.Cols {
		cb.Cols[i] = ColAgg{
			Min:     fbits(rec[off:]),
			Max:     fbits(rec[off+8:]),
			Sum:     fbits(rec[off+16:]),
			NumNull: int32(binary.LittleEndian.Uint32(rec[off+24:])),
			MinIdx:  int32(binary.LittleEndian.Uint32(rec[off+28:])),
			MaxIdx:  int32(binary.LittleEndian.Uint32(rec[off+32:])),
		}
		off += colAggLen
	}
	return cb
}

// EncodeCompBlock is the inverse of decodeCompBlock, used by tests and
// by the demonstration CLI's day-file builder.
func EncodeCompBlock(cb CompBlock) []byte {
	rec := make([]byte, compBlockLen(len(cb.Cols)))
	binary.LittleEndian.PutUint64(rec[0:8], uint64(cb.KeyFirst))
	binary.LittleEndian.PutUint64(rec[8:16], uint64(cb.KeyLast))
	binary.LittleEndian.PutUint32(rec[16:20], uint32(cb.NumOfPoints))
	binary.LittleEndian.PutUint16(rec[20:22], uint16(len(cb.Cols)))
	binary.LittleEndian.PutUint64(rec[22:30], uint64(cb.Offset))
	binary.LittleEndian.PutUint32(rec[30:34], uint32(cb.PayloadLen))
	rec[34] = byte(cb.Algorithm)
	if cb.Last {
		rec[35] = 1
	}
	off := compBlockFixedLen
	for _, c := range cb.Cols {
		putf(rec[off:], c.Min)
		putf(rec[off+8:], c.Max)
		putf(rec[off+16:], c.Sum)
		binary.LittleEndian.PutUint32(rec[off+24:], uint32(c.NumNull))
		binary.LittleEndian.PutUint32(rec[off+28:], uint32(c.MinIdx))
		binary.LittleEndian.PutUint32(rec[off+32:], uint32(c.MaxIdx))
		off += colAggLen
	}
	return rec
}

// EncodeCompBlocks encodes a full comp-block vector plus its trailing
// checksum, mirroring ReadCompBlocks.
func EncodeCompBlocks(blocks []CompBlock) []byte {
	h := crc32.NewIEEE()
	var out []byte
	for _, cb := range blocks {
		rec := EncodeCompBlock(cb)
		h.Write(rec)
		out = append(out, rec...)
	}
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], h.Sum32())
	return append(out, trailer[:]...)
}

func fbits(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:8]))
}

func putf(b []byte, f float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
}

// statSignature is the (size, mtime) pair used to detect that a
// "last" file has been rewritten since it was last memoized, even
// though (fileListIndex, tableSid) is unchanged (SPEC_FULL.md §4.B).
type statSignature struct {
	size  int64
	mtime int64
}

func statOf(path string) (statSignature, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return statSignature{}, err
	}
	return statSignature{size: fi.Size(), mtime: fi.ModTime().UnixNano()}, nil
}

// Segment is a memoized, validated block-index segment for one table
// within one day-file's head file.
type Segment struct {
	Blocks []CompBlock
}

// Key identifies a memoized segment: the day-file's position in the
// vnode's file list plus the table's session slot id.
type Key struct {
	FileListIndex int
	TableSid      int
}

// Cache memoizes Segment lookups keyed by Key, re-reading only when
// the underlying file's (size, mtime) signature changes or Drop is
// called explicitly (spec.md §4.B invariant).
type Cache struct {
	entries map[Key]cacheEntry
}

type cacheEntry struct {
	sig statSignature
	seg Segment
}

// NewCache returns an empty header segment cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]cacheEntry)}
}

// Drop forces the next Load for key to re-read from disk.
func (c *Cache) Drop(key Key) {
	delete(c.entries, key)
}

// Load returns the memoized Segment for key if the backing file's
// signature is unchanged, or re-reads it (and re-memoizes) otherwise.
// uid is the live table's uid to validate CompInfo against; a uid
// mismatch (table absent from this file) returns (Segment{}, false, nil).
func (c *Cache) Load(key Key, path string, fd io.ReaderAt, maxSessions, tableSlot int, uid uint64) (Segment, bool, error) {
	sig, err := statOf(path)
	if err != nil {
		return Segment{}, false, fmt.Errorf("header: stat %s: %w", path, err)
	}
	if e, ok := c.entries[key]; ok && e.sig == sig {
		return e.seg, true, nil
	}
	table, err := ReadOffsetTable(fd, maxSessions)
	if err != nil {
		return Segment{}, false, err
	}
	if tableSlot < 0 || tableSlot >= len(table) {
		return Segment{}, false, fmt.Errorf("header: table slot %d out of range", tableSlot)
	}
	ci, found, err := ReadCompInfo(fd, table[tableSlot], uid)
	if err != nil {
		return Segment{}, false, err
	}
	if !found {
		return Segment{}, false, nil
	}
	blocks, err := ReadCompBlocks(fd, table[tableSlot]+compInfoLen, ci.NumOfBlocks)
	if err != nil {
		return Segment{}, false, err
	}
	seg := Segment{Blocks: blocks}
	c.entries[key] = cacheEntry{sig: sig, seg: seg}
	return seg, true, nil
}
