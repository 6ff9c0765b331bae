package fileio

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/vfat"
)

// flag bits mirroring biscuit's FD_READ/FD_WRITE, minus cloexec which
// the fd table tracks separately.
const (
	FlagRead = 1 << iota
	FlagWrite
)

// Regular wraps a mounted VFile with the offset and access flags a
// process-visible fd carries (spec.md §4.11).
type Regular struct {
	vf     *vfat.VFile
	flags  int
	offset int64
	refs   *int
}

// NewRegular opens vf for the given access flags.
func NewRegular(vf *vfat.VFile, flags int) *Regular {
	refs := 1
	return &Regular{vf: vf, flags: flags, refs: &refs}
}

// VFile exposes the underlying vfat.VFile, for syscalls (getdents64)
// that need directory-level operations beyond the File interface.
func (f *Regular) VFile() *vfat.VFile { return f.vf }

func (f *Regular) Readable() bool { return f.flags&FlagRead != 0 }
func (f *Regular) Writable() bool { return f.flags&FlagWrite != 0 }
func (f *Regular) RReady() bool   { return true }
func (f *Regular) WReady() bool   { return true }

func (f *Regular) Read(buf []byte) (int, defs.Err_t) {
	if !f.Readable() {
		return 0, -defs.EPERM
	}
	n, err := f.vf.ReadAt(f.offset, buf)
	if err != nil {
		return 0, -defs.EINVAL
	}
	f.offset += int64(n)
	return n, 0
}

func (f *Regular) Write(buf []byte) (int, defs.Err_t) {
	if !f.Writable() {
		return 0, -defs.EPERM
	}
	if f.vf.IsDir() {
		return 0, -defs.EISDIR
	}
	n, err := f.vf.WriteAt(f.offset, buf)
	if err != nil {
		return 0, -defs.ENOSPC
	}
	f.offset += int64(n)
	return n, 0
}

func (f *Regular) Offset() int64       { return f.offset }
func (f *Regular) SetOffset(off int64) { f.offset = off }
func (f *Regular) FileSize() (int64, defs.Err_t) {
	return int64(f.vf.FileSize()), 0
}
func (f *Regular) Fstat(st *Kstat) defs.Err_t {
	st.Size = int64(f.vf.FileSize())
	if f.vf.IsDir() {
		st.Mode = 1 << 14 // S_IFDIR
	} else {
		st.Mode = 1 << 15 // S_IFREG
	}
	st.Ino = uint64(f.vf.FirstCluster())
	return 0
}
func (f *Regular) Name() string { return f.vf.Name() }
func (f *Regular) Close() defs.Err_t {
	(*f.refs)--
	return 0
}
func (f *Regular) Dup() File {
	(*f.refs)++
	return &Regular{vf: f.vf, flags: f.flags, offset: f.offset, refs: f.refs}
}
