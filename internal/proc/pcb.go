// Package proc implements the process control block, FIFO scheduler,
// and fork/exec/wait/exit lifecycle of spec.md §4.5-§4.6, grounded on
// task/manager.rs, task/task.rs and task/processor.rs (the teacher
// repo carries no scheduler of its own to adapt).
package proc

import (
	"sync"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/fileio"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/trap"
	"github.com/jklincn/rvkernel/internal/vm"
)

// State is a task's scheduling state (spec.md §4.5).
type State int

const (
	Ready State = iota
	Running
	Zombie
)

// Tcb is one task's control block: address space, trap context,
// kernel stack, fd table, and the parent/child bookkeeping exit/wait
// need. Satisfies trap.Task so it plugs directly into trap.Handle.
type Tcb struct {
	mu sync.Mutex

	Pid  defs.Pid_t
	Tgid defs.Tid_t

	State State

	AS  *vm.AddressSpace
	Ctx *trap.Context

	// KernelStack stands in for the teacher's per-task mapped kernel
	// stack (pid.rs's KernelStack): on this hosted build nothing
	// actually switches %sp into guest physical memory, so a plain Go
	// slice is enough bookkeeping to keep the size accounted for.
	KernelStack []byte

	Fds *fileio.Table

	Parent   *Tcb
	Children []*Tcb
	ExitCode int

	// Cwd is the current working directory as path components from the
	// volume root, mutated by chdir (spec.md §6's getcwd/chdir).
	Cwd []string

	// MmapNext is the next free VA in the mmap region (spec.md §6's
	// "mmap region starts at a fixed mid-VA"); a simple bump allocator,
	// since this kernel never reuses munmap'd mmap VA ranges.
	MmapNext uint64
}

// AddressSpace satisfies trap.Task.
func (t *Tcb) AddressSpace() trap.PageFaultResolver { return t.AS }

// Context satisfies trap.Task.
func (t *Tcb) Context() *trap.Context { return t.Ctx }

func newKernelStack() []byte { return make([]byte, mem.KernelStackSize) }
