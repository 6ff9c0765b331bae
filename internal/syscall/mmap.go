package syscall

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/proc"
	"github.com/jklincn/rvkernel/internal/vm"
)

const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4
)

func (k *Kernel) sysBrk(t *proc.Tcb, newBrk uint64) int64 {
	if newBrk == 0 {
		return int64(t.AS.Brk)
	}
	delta := int64(newBrk) - int64(t.AS.Brk)
	old, err := t.AS.Sbrk(delta)
	if err != 0 {
		return int64(err)
	}
	return int64(old + uint64(delta))
}

// sysMmap implements anonymous mmap only: the fd and offset arguments
// are ignored and no file contents are loaded. It is a
// fixed-advance bump allocator over the per-task mmap region starting
// at mem.MmapBase, since this kernel never needs to reuse munmap'd
// ranges within one process's lifetime (spec.md §8's S5 scenario only
// requires one mmap/munmap round trip).
func (k *Kernel) sysMmap(t *proc.Tcb, args [6]uint64) int64 {
	length, prot := args[1], args[2]
	if length == 0 {
		return int64(-defs.EINVAL)
	}
	perm := vm.Perm(0)
	if prot&protRead != 0 {
		perm |= vm.PermRead
	}
	if prot&protWrite != 0 {
		perm |= vm.PermWrite
	}
	if prot&protExec != 0 {
		perm |= vm.PermExec
	}

	start := mem.VPNOf(t.MmapNext)
	end := mem.VPNCeil(t.MmapNext + length)
	t.AS.InsertMmapArea(start, end, perm, nil, 0)
	base := t.MmapNext
	t.MmapNext = end.VirtAddr()
	return int64(base)
}

func (k *Kernel) sysMunmap(t *proc.Tcb, addr, length uint64) int64 {
	start := mem.VPNOf(addr)
	if !t.AS.RemoveAreaWithStartVPN(start) {
		return int64(-defs.EINVAL)
	}
	return 0
}
