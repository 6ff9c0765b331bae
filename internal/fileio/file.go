// Package fileio implements the OS file layer of spec.md §4.11: the
// File capability processes see on their descriptor table, regular
// inodes, anonymous pipes, and the console endpoints, grounded on
// biscuit's fd.Fd_t/fdops split.
package fileio

import "github.com/jklincn/rvkernel/internal/defs"

// Kstat mirrors the subset of stat(2) fields spec.md §4.11's fstat
// reports.
type Kstat struct {
	Size  int64
	Mode  uint32
	Ino   uint64
	Nlink uint32
}

// File is the process-visible capability every fd table entry holds.
// Regular inodes, pipe endpoints, and the console implement it.
type File interface {
	Readable() bool
	Writable() bool
	RReady() bool
	WReady() bool
	Read(buf []byte) (int, defs.Err_t)
	Write(buf []byte) (int, defs.Err_t)
	Offset() int64
	SetOffset(off int64)
	FileSize() (int64, defs.Err_t)
	Fstat(st *Kstat) defs.Err_t
	Name() string
	Close() defs.Err_t
	// Dup returns a new File sharing the same underlying resource
	// (refcounted), for fd table duplication on dup2/fork.
	Dup() File
}
