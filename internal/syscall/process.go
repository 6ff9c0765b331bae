package syscall

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/elfload"
	"github.com/jklincn/rvkernel/internal/proc"
)

const cloneVM = 0x100 // CLONE_VM, marks a thread rather than a process fork

func (k *Kernel) sysFork(t *proc.Tcb, flags uint64) int64 {
	child, err := proc.Fork(k.Sched.Mgr, t, flags&cloneVM != 0)
	if err != 0 {
		return int64(err)
	}
	return int64(child.Pid)
}

func (k *Kernel) sysExec(t *proc.Tcb, pathPtr, argvPtr, envpPtr uint64) int64 {
	path, perr := k.readPath(t, pathPtr)
	if perr != 0 {
		return int64(perr)
	}
	argv, aerr := k.readStringVec(t, argvPtr)
	if aerr != 0 {
		return int64(aerr)
	}
	envv, eerr := k.readStringVec(t, envpPtr)
	if eerr != 0 {
		return int64(eerr)
	}

	comps := resolve(t, path)
	raw, lerr := k.LoadELF(k.Root, comps)
	if lerr != nil {
		return int64(-defs.ENOENT)
	}
	img, perr2 := elfload.Parse(raw)
	if perr2 != nil {
		return int64(-defs.EINVAL)
	}
	return int64(proc.Exec(t, img, argv, envv, k.Alloc, k.Phys))
}

// readStringVec reads a NULL-terminated array of VA pointers starting
// at ptr, then reads each pointed-to string (argv[]/envp[]'s shape).
// ptr == 0 is treated as an empty vector.
func (k *Kernel) readStringVec(t *proc.Tcb, ptr uint64) ([]string, defs.Err_t) {
	if ptr == 0 {
		return nil, 0
	}
	var out []string
	for i := uint64(0); ; i++ {
		raw, err := t.AS.ReadUser(ptr+i*8, 8)
		if err != nil {
			return nil, -defs.EFAULT
		}
		p := getU64(raw)
		if p == 0 {
			break
		}
		s, serr := k.readPath(t, p)
		if serr != 0 {
			return nil, serr
		}
		out = append(out, s)
	}
	return out, 0
}

func (k *Kernel) sysWaitpid(t *proc.Tcb, pid int64, statusPtr uint64) int64 {
	cpid, code, err := proc.Wait(k.Sched.Mgr, t, defs.Pid_t(pid))
	if err == -defs.EAGAIN {
		return int64(err) // suspension point (d): caller retries after a yield
	}
	if err != 0 {
		return int64(err)
	}
	if statusPtr != 0 {
		var b [4]byte
		putU32(b[:], uint32(code)<<8)
		t.AS.WriteUser(statusPtr, b[:])
	}
	return int64(cpid)
}

func (k *Kernel) sysKill(pid defs.Pid_t) int64 {
	tcb, ok := k.Sched.Mgr.ByPID(pid)
	if !ok {
		return int64(-defs.ESRCH)
	}
	k.Sched.ExitCurrentAndRunNext(tcb, -1)
	return 0
}
