// Package syscall implements the dispatch table spec.md §4.4/§6 asks
// the trap handler to call into, grounded on os/src/syscall/mod.rs's
// numbering (itself the Linux RISC-V subset named in spec.md §6).
package syscall

// Syscall numbers, matching os/src/syscall/mod.rs's SYSCALL_* constants
// (the Linux RISC-V ABI numbering spec.md §6 names).
const (
	SysGetcwd      = 17
	SysDup         = 23
	SysDup3        = 24
	SysFcntl       = 25
	SysIoctl       = 29
	SysMkdirat     = 34
	SysUnlinkat    = 35
	SysUmount2     = 39
	SysMount       = 40
	SysChdir       = 49
	SysOpenat      = 56
	SysClose       = 57
	SysPipe2       = 59
	SysGetdents64  = 61
	SysLseek       = 62
	SysRead        = 63
	SysWrite       = 64
	SysReadv       = 65
	SysWritev      = 66
	SysSendfile    = 71
	SysPselect6    = 72
	SysFstat       = 80
	SysExit        = 93
	SysExitGroup   = 94
	SysSetTidAddr  = 96
	SysNanosleep   = 101
	SysSyslog      = 116
	SysYield       = 124
	SysKill        = 129
	SysRtSigaction = 134
	SysRtSigprocmask = 135
	SysTimes       = 153
	SysUname       = 160
	SysGettimeofday = 169
	SysGetpid      = 172
	SysGetppid     = 173
	SysGettid      = 178
	SysBrk         = 214
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysPrlimit64   = 261
	SysRenameat2   = 276
)
