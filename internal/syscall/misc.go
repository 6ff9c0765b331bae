package syscall

import "github.com/jklincn/rvkernel/internal/proc"

// utsField is one null-padded 65-byte struct utsname field.
func utsField(s string) [65]byte {
	var b [65]byte
	copy(b[:], s)
	return b
}

// sysUname fills struct utsname (spec.md §6's bookkeeping-only uname),
// mirroring os/src/task/info.rs's fixed identification string.
func (k *Kernel) sysUname(t *proc.Tcb, bufPtr uint64) int64 {
	fields := [6]string{"rvkernel", "rvkernel", "0.1.0", "0.1.0", "riscv64", ""}
	buf := make([]byte, 0, 65*6)
	for _, f := range fields {
		b := utsField(f)
		buf = append(buf, b[:]...)
	}
	t.AS.WriteUser(bufPtr, buf)
	return 0
}
