package vfat

import (
	"strings"

	"github.com/jklincn/rvkernel/internal/blkcache"
	"github.com/jklincn/rvkernel/internal/fat32"
)

// VFile is a handle to one FAT32 directory entry: its name, where its
// short (and, if any, long-name) slots live on disk, and the cluster
// chain backing its data. Grounded on vfs.rs's VFile.
type VFile struct {
	mgr          *Manager
	name         string
	attr         uint8
	firstCluster uint32
	size         uint32

	isRoot     bool
	shortSec   uint64
	shortOff   int
	longSlots  []direntPos // physically-first-to-last, i.e. descending SeqNum
}

type direntPos struct {
	sector uint64
	offset int
}

func newRootVFile(m *Manager) *VFile {
	return &VFile{
		mgr:          m,
		name:         "/",
		attr:         fat32.AttrDirectory,
		firstCluster: m.bs.RootClus,
		isRoot:       true,
	}
}

func (v *VFile) Name() string       { return v.name }
func (v *VFile) IsDir() bool        { return v.attr&fat32.AttrDirectory != 0 }
func (v *VFile) FileSize() uint32   { return v.size }
func (v *VFile) FirstCluster() uint32 { return v.firstCluster }
func (v *VFile) Attr() uint8        { return v.attr }

// bytesPerCluster is a convenience accessor used throughout read/write.
func (v *VFile) bytesPerCluster() int64 { return int64(v.mgr.bs.BytesPerCluster()) }

// cacheFor picks the data cache for regular file content and the info
// cache for directory content, per spec.md §4.7.
func (v *VFile) cacheFor() *blkcache.Manager {
	if v.IsDir() {
		return v.mgr.infoCache
	}
	return v.mgr.dataCache
}

// splitNameExt splits "foo.txt" into ("foo", "txt"); a name with no
// dot has an empty extension. "." and ".." are the dot-entries
// themselves and are never split.
func splitNameExt(name string) (base, ext string) {
	if name == "." || name == ".." {
		return name, ""
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// needsLongName reports whether name can't be expressed as an 8.3
// short name.
func needsLongName(name string) bool {
	base, ext := splitNameExt(name)
	return len(base) > 8 || len(ext) > 3
}
