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

//go:build windows

package page

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/sneller-labs/vnodeql/ints"
)

// MmapSpill allocates spill pages via VirtualAlloc, the same approach
// as vm.mapVM's windows variant (vm/malloc_windows.go), adapted to
// per-page commit instead of one large reserved region.
type MmapSpill struct{}

func (MmapSpill) Alloc(size int) ([]byte, error) {
	size = int(ints.AlignUp(uint(size), osPageSize))
	base, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size), nil
}

func (MmapSpill) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&buf[0])), 0, windows.MEM_RELEASE)
}
