package proc

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/elfload"
	"github.com/jklincn/rvkernel/internal/fileio"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/trap"
	"github.com/jklincn/rvkernel/internal/vm"
)

// NewInitialTask builds the first task spawned at boot (spec.md §2's
// "spawn init process"), registering it with mgr and returning it so
// the caller can also keep it around as the reparent target for
// orphaned children.
func NewInitialTask(mgr *Manager, img *elfload.Image, alloc *mem.FrameAllocator, phys *mem.PhysMem) (*Tcb, error) {
	as, sp, _, entry, err := vm.FromELF(img, alloc, phys)
	if err != nil {
		return nil, err
	}
	t := &Tcb{
		Pid:         mgr.AllocPID(),
		AS:          as,
		Ctx:         trap.AppInit(entry, sp, 0, 0, 0),
		KernelStack: newKernelStack(),
		Fds:         fileio.NewTable(),
		MmapNext:    mem.MmapBase,
	}
	t.Tgid = defs.Tid_t(t.Pid)
	mgr.Add(t)
	return t, nil
}
