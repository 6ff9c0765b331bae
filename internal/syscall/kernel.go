package syscall

import (
	"strings"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/proc"
	"github.com/jklincn/rvkernel/internal/vfat"
)

// LoadELF resolves a path (already split into vfat-path components) to
// raw ELF bytes, the collaborator exec() needs to go from a filename
// to an elfload.Image. cmd/rvkernel supplies the concrete closure (it
// owns the mounted vfat.Manager and the block device).
type LoadELF func(root *vfat.VFile, components []string) ([]byte, error)

// Kernel bundles everything Dispatch needs to service a syscall: the
// running scheduler (for Current, yield, exit), the mounted root
// directory, and the frame/phys allocators exec() needs to build a
// fresh address space. One Kernel is built once at boot by
// cmd/rvkernel and installed via trap.SetDispatcher(k.Dispatch).
type Kernel struct {
	Sched   *proc.Scheduler
	Root    *vfat.VFile
	Alloc   *mem.FrameAllocator
	Phys    *mem.PhysMem
	LoadELF LoadELF
}

// splitPath turns a slash-separated path into vfat.FindByPath's
// component form, dropping empty segments ("//" or a trailing "/").
func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// resolve turns path into an absolute component list relative to t's
// cwd (spec.md §6 names chdir/getcwd but not dirfd-relative opens in
// detail; every syscall here resolves against cwd and ignores the
// dirfd argument, a deliberate simplification since this kernel has
// no notion of a per-fd directory stream to anchor against instead).
func resolve(t *proc.Tcb, path string) []string {
	if strings.HasPrefix(path, "/") {
		return splitPath(path)
	}
	out := append([]string(nil), t.Cwd...)
	return append(out, splitPath(path)...)
}

// Dispatch services one syscall for k.Sched.Current, matching
// trap.Syscall's signature exactly so it plugs into
// trap.SetDispatcher directly.
func (k *Kernel) Dispatch(num uint64, args [6]uint64) int64 {
	t := k.Sched.Current
	if t == nil {
		return int64(-defs.ENOSYS)
	}
	switch num {
	case SysRead:
		return k.sysRead(t, defs.Fdnum_t(args[0]), args[1], args[2])
	case SysWrite:
		return k.sysWrite(t, defs.Fdnum_t(args[0]), args[1], args[2])
	case SysOpenat:
		return k.sysOpenat(t, args[1], args[2], args[3])
	case SysClose:
		return int64(t.Fds.Close(defs.Fdnum_t(args[0])))
	case SysPipe2:
		return k.sysPipe2(t, args[0])
	case SysDup:
		fd, err := t.Fds.Dup(defs.Fdnum_t(args[0]))
		if err != 0 {
			return int64(err)
		}
		return int64(fd)
	case SysDup3:
		return int64(t.Fds.DupTo(defs.Fdnum_t(args[0]), defs.Fdnum_t(args[1])))
	case SysFstat:
		return k.sysFstat(t, defs.Fdnum_t(args[0]), args[1])
	case SysLseek:
		return k.sysLseek(t, defs.Fdnum_t(args[0]), int64(args[1]), args[2])
	case SysGetdents64:
		return k.sysGetdents64(t, defs.Fdnum_t(args[0]), args[1], args[2])
	case SysMkdirat:
		return k.sysMkdirat(t, args[1])
	case SysUnlinkat:
		return k.sysUnlinkat(t, args[1])
	case SysChdir:
		return k.sysChdir(t, args[0])
	case SysGetcwd:
		return k.sysGetcwd(t, args[0], args[1])
	case SysMount, SysUmount2:
		return 0 // single always-mounted volume; nothing to do
	case SysRenameat2:
		return k.sysRenameat2(t, args[1], args[3])
	case SysSendfile:
		return k.sysSendfile(t, defs.Fdnum_t(args[0]), defs.Fdnum_t(args[1]), args[2])
	case SysReadv:
		return k.sysReadv(t, defs.Fdnum_t(args[0]), args[1], args[2])
	case SysWritev:
		return k.sysWritev(t, defs.Fdnum_t(args[0]), args[1], args[2])
	case SysPselect6:
		return k.sysPselect6(t, args[0], args[1], args[2])

	case SysExit, SysExitGroup:
		k.Sched.ExitCurrentAndRunNext(t, int(int32(args[0])))
		return 0
	case SysYield:
		k.Sched.SuspendCurrentAndRunNext(t)
		return 0
	case SysFork:
		return k.sysFork(t, args[0])
	case SysExec:
		return k.sysExec(t, args[0], args[1], args[2])
	case SysWaitpid:
		return k.sysWaitpid(t, int64(int32(args[0])), args[1])
	case SysGetpid:
		return int64(t.Pid)
	case SysGetppid:
		if t.Parent == nil {
			return 0
		}
		return int64(t.Parent.Pid)
	case SysGettid:
		return int64(t.Tgid)
	case SysSetTidAddr:
		return int64(t.Pid)
	case SysKill:
		return k.sysKill(defs.Pid_t(int32(args[0])))

	case SysBrk:
		return k.sysBrk(t, args[0])
	case SysMmap:
		return k.sysMmap(t, args)
	case SysMunmap:
		return k.sysMunmap(t, args[0], args[1])

	// Bookkeeping-only syscalls (spec.md §6): no actual delivery or
	// accounting, just a plausible success/no-op return.
	case SysUname:
		return k.sysUname(t, args[0])
	case SysTimes:
		return 0
	case SysGettimeofday:
		return 0
	case SysNanosleep:
		return 0
	case SysPrlimit64:
		return 0
	case SysRtSigaction, SysRtSigprocmask:
		return 0
	case SysIoctl:
		return 0 // TIOCGPGRP/TIOCGWINSZ etc. are no-ops returning 0
	case SysFcntl:
		return k.sysFcntl(t, defs.Fdnum_t(args[0]), args[1], args[2])
	case SysSyslog:
		return 0
	}
	return int64(-defs.ENOSYS)
}
