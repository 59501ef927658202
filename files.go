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
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DayFileTriple names the three files that make up one vnode day-file,
// per spec.md §6.1: v{vid}f{fileId}.{head|data|last} under
// {dataRoot}/vnode{vid}/db/.
type DayFileTriple struct {
	VID    int32
	FileID int32
	Dir    string // {dataRoot}/vnode{vid}/db
}

func vnodeDir(dataRoot string, vid int32) string {
	return filepath.Join(dataRoot, fmt.Sprintf("vnode%d", vid), "db")
}

// NewDayFileTriple builds the triple's directory path for vid under
// dataRoot.
func NewDayFileTriple(dataRoot string, vid, fileID int32) DayFileTriple {
	return DayFileTriple{VID: vid, FileID: fileID, Dir: vnodeDir(dataRoot, vid)}
}

func (t DayFileTriple) path(kind string) string {
	return filepath.Join(t.Dir, fmt.Sprintf("v%df%d.%s", t.VID, t.FileID, kind))
}

// HeadPath, DataPath and LastPath return the three file paths of the
// triple.
func (t DayFileTriple) HeadPath() string { return t.path("head") }
func (t DayFileTriple) DataPath() string { return t.path("data") }
func (t DayFileTriple) LastPath() string { return t.path("last") }

// FileSet enumerates the day-file ids that exist for one vnode,
// satisfying locate.FileSet. A missing or partial triple is treated as
// an empty day-file (spec.md §7) rather than an error: Exists reports
// false and NextFile skips over it.
type FileSet struct {
	vid      int32
	dataRoot string
	ids      []int32 // sorted ascending
}

// ScanFileSet discovers every fileId present (by head file) for vid
// under dataRoot, sorted ascending. A day-file whose head file is
// missing or unreadable is simply absent from the set; this mirrors
// "missing file / partial day-file triple" being treated as empty
// rather than an error.
func ScanFileSet(dataRoot string, vid int32) (*FileSet, error) {
	dir := vnodeDir(dataRoot, vid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileSet{vid: vid, dataRoot: dataRoot}, nil
		}
		return nil, fmt.Errorf("vnodeql: scanning %s: %w", dir, err)
	}
	var ids []int32
	prefix := fmt.Sprintf("v%df", vid)
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".head" {
			continue
		}
		base := name[:len(name)-len(".head")]
		if len(base) <= len(prefix) || base[:len(prefix)] != prefix {
			continue
		}
		var id int32
		if _, err := fmt.Sscanf(base[len(prefix):], "%d", &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &FileSet{vid: vid, dataRoot: dataRoot, ids: ids}, nil
}

// Exists reports whether fileId is a known day-file for this vnode.
func (fs *FileSet) Exists(fileID int32) bool {
	i := sort.Search(len(fs.ids), func(i int) bool { return fs.ids[i] >= fileID })
	return i < len(fs.ids) && fs.ids[i] == fileID
}

// Min and Max bound the range NextFile will ever search.
func (fs *FileSet) Min() int32 {
	if len(fs.ids) == 0 {
		return 0
	}
	return fs.ids[0]
}

func (fs *FileSet) Max() int32 {
	if len(fs.ids) == 0 {
		return 0
	}
	return fs.ids[len(fs.ids)-1]
}

// Triple returns the day-file triple for fileId under this set's vnode.
func (fs *FileSet) Triple(fileID int32) DayFileTriple {
	return NewDayFileTriple(fs.dataRoot, fs.vid, fileID)
}
