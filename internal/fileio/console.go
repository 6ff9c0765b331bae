package fileio

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/sbi"
)

// Stdin reads console bytes through the installed firmware, byte at a
// time (spec.md §4.11). A failed ConsoleGetchar read means nothing is
// waiting yet; the caller's retry loop handles that the same way it
// handles an empty pipe.
type Stdin struct{}

func (Stdin) Readable() bool { return true }
func (Stdin) Writable() bool { return false }
func (Stdin) RReady() bool   { return true }
func (Stdin) WReady() bool   { return false }

func (Stdin) Read(buf []byte) (int, defs.Err_t) {
	if len(buf) == 0 {
		return 0, 0
	}
	c, ok := sbi.ConsoleGetchar()
	if !ok {
		return 0, -defs.EAGAIN
	}
	buf[0] = c
	return 1, 0
}
func (Stdin) Write(buf []byte) (int, defs.Err_t)      { return 0, -defs.EPERM }
func (Stdin) Offset() int64                           { return 0 }
func (Stdin) SetOffset(off int64)                      {}
func (Stdin) FileSize() (int64, defs.Err_t)           { return 0, 0 }
func (Stdin) Fstat(st *Kstat) defs.Err_t              { return 0 }
func (Stdin) Name() string                            { return "stdin" }
func (Stdin) Close() defs.Err_t                       { return 0 }
func (Stdin) Dup() File                               { return Stdin{} }

// Stdout writes console bytes through the installed firmware.
type Stdout struct{}

func (Stdout) Readable() bool { return false }
func (Stdout) Writable() bool { return true }
func (Stdout) RReady() bool   { return false }
func (Stdout) WReady() bool   { return true }

func (Stdout) Read(buf []byte) (int, defs.Err_t) { return 0, -defs.EPERM }
func (Stdout) Write(buf []byte) (int, defs.Err_t) {
	for _, c := range buf {
		sbi.ConsolePutchar(c)
	}
	return len(buf), 0
}
func (Stdout) Offset() int64                 { return 0 }
func (Stdout) SetOffset(off int64)            {}
func (Stdout) FileSize() (int64, defs.Err_t) { return 0, 0 }
func (Stdout) Fstat(st *Kstat) defs.Err_t    { return 0 }
func (Stdout) Name() string                  { return "stdout" }
func (Stdout) Close() defs.Err_t             { return 0 }
func (Stdout) Dup() File                     { return Stdout{} }
