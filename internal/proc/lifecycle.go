package proc

import (
	"encoding/binary"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/elfload"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/trap"
	"github.com/jklincn/rvkernel/internal/vm"
)

// Fork clones parent via copy-on-write, per spec.md §4.6. is_thread
// shares the parent's TGID; otherwise the new PID becomes its own
// TGID. The child's fd table is cloned (refcounts bumped, not copied
// data) and its saved a0 is zeroed so it observes fork's "child sees
// 0" contract once it resumes.
func Fork(mgr *Manager, parent *Tcb, isThread bool) (*Tcb, defs.Err_t) {
	childAS, err := vm.FromExistedUser(parent.AS)
	if err != nil {
		return nil, -defs.ENOMEM
	}
	pid := mgr.AllocPID()
	tgid := defs.Tid_t(pid)
	if isThread {
		tgid = parent.Tgid
	}

	childCtx := *parent.Ctx
	childCtx.X[trap.RegA0] = 0

	child := &Tcb{
		Pid:         pid,
		Tgid:        tgid,
		AS:          childAS,
		Ctx:         &childCtx,
		KernelStack: newKernelStack(),
		Fds:         parent.Fds.Clone(),
		Parent:      parent,
		MmapNext:    parent.MmapNext,
		Cwd:         append([]string(nil), parent.Cwd...),
	}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	mgr.Add(child)
	return child, 0
}

// Exec replaces t's address space with a fresh one built from img,
// pushes argv/envv/auxv onto the new user stack, closes cloexec fds,
// and reinstalls a trap context targeting the new entry point — all
// while keeping the same PID and kernel stack (spec.md §4.6).
func Exec(t *Tcb, img *elfload.Image, argv, envv []string, alloc *mem.FrameAllocator, phys *mem.PhysMem) defs.Err_t {
	newAS, userSP, _, entry, err := vm.FromELF(img, alloc, phys)
	if err != nil {
		return -defs.ENOMEM
	}

	sp := userSP
	pushString := func(s string) uint64 {
		b := append([]byte(s), 0)
		sp -= uint64(len(b))
		newAS.WriteUser(sp, b)
		return sp
	}
	envPtrs := make([]uint64, len(envv))
	for i := len(envv) - 1; i >= 0; i-- {
		envPtrs[i] = pushString(envv[i])
	}
	argPtrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argPtrs[i] = pushString(argv[i])
	}
	sp &^= 7 // 8-byte align before the pointer arrays

	pushWord := func(w uint64) {
		sp -= 8
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], w)
		newAS.WriteUser(sp, b[:])
	}
	// auxv: a single AT_NULL (type, value) pair terminates the vector.
	pushWord(0)
	pushWord(0)

	pushWord(0) // envp[] NULL terminator
	for i := len(envPtrs) - 1; i >= 0; i-- {
		pushWord(envPtrs[i])
	}
	pushWord(0) // argv[] NULL terminator
	for i := len(argPtrs) - 1; i >= 0; i-- {
		pushWord(argPtrs[i])
	}
	pushWord(uint64(len(argv))) // argc

	t.Fds.CloseOnExec()
	t.AS.Destroy()
	t.AS = newAS
	t.Ctx = trap.AppInit(entry, sp, 0, 0, 0)
	t.MmapNext = mem.MmapBase
	return 0
}

// Wait implements spec.md §4.6's wait(pid): pid == -1 matches any
// child. A Zombie match is reaped (exit code collected, PID recycled,
// page-table frames finally freed); a still-running match yields
// EAGAIN so the caller's syscall wrapper retries after a yield; no
// matching child at all is ECHILD.
func Wait(mgr *Manager, parent *Tcb, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	parent.mu.Lock()
	var target *Tcb
	idx := -1
	found := false
	for i, c := range parent.Children {
		if pid != -1 && c.Pid != pid {
			continue
		}
		found = true
		c.mu.Lock()
		st := c.State
		c.mu.Unlock()
		if st == Zombie {
			target, idx = c, i
			break
		}
	}
	if target == nil {
		parent.mu.Unlock()
		if !found {
			return -1, 0, -defs.ECHILD
		}
		return -1, 0, -defs.EAGAIN
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	parent.mu.Unlock()

	target.mu.Lock()
	code := target.ExitCode
	target.mu.Unlock()
	target.AS.Destroy()
	mgr.Remove(target.Pid)
	return target.Pid, code, 0
}
