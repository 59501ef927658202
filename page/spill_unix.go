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

//go:build linux || darwin

package page

import (
	"syscall"

	"github.com/sneller-labs/vnodeql/ints"
)

// MmapSpill allocates spill pages as anonymous private mappings, the
// same mechanism as sneller's vm.mapVM (vm/malloc_linux.go,
// vm/malloc_darwin.go) and tenant/dcache's cache-file mapping
// (tenant/dcache/file_linux.go), adapted here to per-page allocation
// instead of one large reserved region.
type MmapSpill struct{}

func (MmapSpill) Alloc(size int) ([]byte, error) {
	size = int(ints.AlignUp(uint(size), osPageSize))
	return syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_ANON|syscall.MAP_PRIVATE)
}

func (MmapSpill) Free(buf []byte) error {
	return syscall.Munmap(buf)
}
