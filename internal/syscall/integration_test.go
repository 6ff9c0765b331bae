package syscall

import (
	"testing"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/proc"
	"github.com/jklincn/rvkernel/internal/trap"
)

const pageSize = mem.PageSize

// These exercise the seed scenarios spec.md §8 names end to end
// through Dispatch, the same entry point cmd/rvkernel wires into
// trap.Handle. newTestKernel's task never actually runs RISC-V code
// (see cmd/rvkernel's runUserCode), so each test drives the relevant
// syscalls directly against k.Sched.Current instead of letting the
// scheduler's Run loop pick tasks up.

// TestForkWaitPidReuse is S1: init forks, the child exits with 42, the
// parent waits and observes the child's PID and exit code, and the
// PID is recycled for a following fork.
func TestForkWaitPidReuse(t *testing.T) {
	k, parent := newTestKernel(t)
	k.Sched.Current = parent

	childPid := k.Dispatch(SysFork, [6]uint64{0, 0, 0, 0, 0, 0})
	if childPid <= 0 {
		t.Fatalf("fork: %d", childPid)
	}
	child, ok := k.Sched.Mgr.ByPID(defs.Pid_t(childPid))
	if !ok {
		t.Fatalf("fork: child pid %d not registered", childPid)
	}

	k.Sched.Current = child
	if rc := k.Dispatch(SysExit, [6]uint64{42, 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("exit: %d", rc)
	}

	k.Sched.Current = parent
	statusVA := uint64(scratchVA)
	rc := k.Dispatch(SysWaitpid, [6]uint64{uint64(uint32(childPid)), statusVA, 0, 0, 0, 0})
	if rc != childPid {
		t.Fatalf("waitpid returned %d, want child pid %d", rc, childPid)
	}
	raw, err := parent.AS.ReadUser(statusVA, 4)
	if err != nil {
		t.Fatalf("ReadUser status: %v", err)
	}
	code := int8(raw[1]) // status is (code << 8); byte 1 holds the code
	if code != 42 {
		t.Fatalf("wait observed exit code %d, want 42", code)
	}

	childPid2 := k.Dispatch(SysFork, [6]uint64{0, 0, 0, 0, 0, 0})
	if childPid2 != childPid {
		t.Fatalf("recycled pid mismatch: got %d, want reused %d", childPid2, childPid)
	}
}

// TestPipeAcrossFork is S3: a pipe created before fork is shared by
// fd table clone, the (simulated) child writes "ping" and closes its
// write end, and the parent reads exactly "ping" off the read end.
func TestPipeAcrossFork(t *testing.T) {
	k, parent := newTestKernel(t)
	k.Sched.Current = parent

	fdsVA := uint64(scratchVA)
	if rc := k.Dispatch(SysPipe2, [6]uint64{fdsVA, 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("pipe2: %d", rc)
	}
	raw, err := parent.AS.ReadUser(fdsVA, 8)
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	rfd := defs.Fdnum_t(readLE32(raw[0:4]))
	wfd := defs.Fdnum_t(readLE32(raw[4:8]))

	childPid := k.Dispatch(SysFork, [6]uint64{0, 0, 0, 0, 0, 0})
	if childPid <= 0 {
		t.Fatalf("fork: %d", childPid)
	}
	child, _ := k.Sched.Mgr.ByPID(defs.Pid_t(childPid))

	k.Sched.Current = child
	payload := []byte("ping")
	bufVA := fdsVA + 64
	writeAtVA(t, child, bufVA, payload)
	if n := k.Dispatch(SysWrite, [6]uint64{uint64(wfd), bufVA, uint64(len(payload)), 0, 0, 0}); n != int64(len(payload)) {
		t.Fatalf("child write: %d", n)
	}
	if rc := k.Dispatch(SysClose, [6]uint64{uint64(wfd), 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("child close(wfd): %d", rc)
	}
	if rc := k.Dispatch(SysExit, [6]uint64{0, 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("child exit: %d", rc)
	}

	k.Sched.Current = parent
	if rc := k.Dispatch(SysClose, [6]uint64{uint64(wfd), 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("parent close(wfd): %d", rc)
	}
	readVA := bufVA + 64
	n := k.Dispatch(SysRead, [6]uint64{uint64(rfd), readVA, 64, 0, 0, 0})
	if n != int64(len(payload)) {
		t.Fatalf("parent read: %d, want %d", n, len(payload))
	}
	got, err := parent.AS.ReadUser(readVA, len(payload))
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("parent read %q, want \"ping\"", got)
	}
}

// chunkVA is a chunkSize-byte scratch window reused by writeChunked,
// placed inside the one mapped text page the test task's single
// segment provides, so repeated Write/Read dispatches never walk off it.
const chunkVA = scratchVA + 256
const chunkSize = 256

// writeChunked either writes buf to fd (write=true) or fills buf by
// reading from fd (write=false), chunkSize bytes at a time through
// chunkVA, since the test task only has one page of backing text to
// borrow as a user-memory scratch buffer.
func writeChunked(t *testing.T, k *Kernel, tcb *proc.Tcb, fd defs.Fdnum_t, buf []byte, write bool) {
	t.Helper()
	for off := 0; off < len(buf); off += chunkSize {
		n := chunkSize
		if off+n > len(buf) {
			n = len(buf) - off
		}
		if write {
			if err := tcb.AS.WriteUser(chunkVA, buf[off:off+n]); err != nil {
				t.Fatalf("WriteUser: %v", err)
			}
			rc := k.Dispatch(SysWrite, [6]uint64{uint64(fd), chunkVA, uint64(n), 0, 0, 0})
			if rc != int64(n) {
				t.Fatalf("write chunk at %d: %d, want %d", off, rc, n)
			}
		} else {
			rc := k.Dispatch(SysRead, [6]uint64{uint64(fd), chunkVA, uint64(n), 0, 0, 0})
			if rc != int64(n) {
				t.Fatalf("read chunk at %d: %d, want %d", off, rc, n)
			}
			got, err := tcb.AS.ReadUser(chunkVA, n)
			if err != nil {
				t.Fatalf("ReadUser: %v", err)
			}
			copy(buf[off:off+n], got)
		}
	}
}

// TestFileRoundTrip5000Bytes is S4: a 5000-byte patterned write to a
// freshly created file round-trips through an lseek(0) and re-read,
// and fstat reports the matching size.
func TestFileRoundTrip5000Bytes(t *testing.T) {
	k, tcb := newTestKernel(t)
	k.Sched.Current = tcb

	pathVA := uint64(scratchVA)
	writeAtVA(t, tcb, pathVA, append([]byte("/a.txt"), 0))
	fd := k.Dispatch(SysOpenat, [6]uint64{0, pathVA, oCREAT | oRDWR, 0, 0, 0})
	if fd < 0 {
		t.Fatalf("openat: %d", fd)
	}

	const size = 5000
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = byte(i % 250)
	}

	writeChunked(t, k, tcb, defs.Fdnum_t(fd), pattern, true)

	if rc := k.Dispatch(SysLseek, [6]uint64{uint64(fd), 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("lseek SEEK_SET: %d", rc)
	}

	got := make([]byte, size)
	writeChunked(t, k, tcb, defs.Fdnum_t(fd), got, false)
	for i := range pattern {
		if got[i] != pattern[i] {
			t.Fatalf("pattern mismatch at byte %d: got %d want %d", i, got[i], pattern[i])
		}
	}

	statVA := pathVA + 512
	if rc := k.Dispatch(SysFstat, [6]uint64{uint64(fd), statVA, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("fstat: %d", rc)
	}
	raw, err := tcb.AS.ReadUser(statVA, 32)
	if err != nil {
		t.Fatalf("ReadUser stat: %v", err)
	}
	sz := int64(getU64(raw[24:32]))
	if sz != size {
		t.Fatalf("fstat st_size = %d, want %d", sz, size)
	}
}

// TestMmapLazyFault is S5: mmap(NULL, 8192, R|W, ANON|PRIVATE) returns
// a VA, writing to the second page only succeeds once the lazy-fault
// path (driven here directly through trap.Handle, standing in for a
// real store-page-fault trap) has backed it with a frame, and munmap
// removes the whole two-page area in one call.
func TestMmapLazyFault(t *testing.T) {
	k, tcb := newTestKernel(t)
	k.Sched.Current = tcb

	const length = 2 * pageSize
	base := k.Dispatch(SysMmap, [6]uint64{0, length, protRead | protWrite, 0, 0, 0})
	if base <= 0 {
		t.Fatalf("mmap: %d", base)
	}
	secondPageVA := uint64(base) + pageSize

	if _, err := tcb.AS.ReadUser(secondPageVA, 1); err == nil {
		t.Fatalf("second mmap page readable before any fault was serviced")
	}

	vpn := mem.VPNOf(secondPageVA)
	if !tcb.AS.InMmapChunk(vpn) {
		t.Fatalf("second mmap page VPN not reported as part of the mmap chunk")
	}
	outcome := trap.Handle(tcb, trap.CauseStorePageFault, vpn)
	if outcome != trap.OutcomeContinue {
		t.Fatalf("lazy mmap fault outcome = %v, want OutcomeContinue", outcome)
	}

	payload := []byte{0xAB}
	if err := tcb.AS.WriteUser(secondPageVA, payload); err != nil {
		t.Fatalf("WriteUser after lazy fault: %v", err)
	}
	got, err := tcb.AS.ReadUser(secondPageVA, 1)
	if err != nil || got[0] != 0xAB {
		t.Fatalf("post-fault readback mismatch: got %v, err %v", got, err)
	}

	if rc := k.Dispatch(SysMunmap, [6]uint64{uint64(base), length, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("munmap: %d", rc)
	}
	if tcb.AS.InMmapChunk(mem.VPNOf(uint64(base))) || tcb.AS.InMmapChunk(vpn) {
		t.Fatalf("munmap left a mapped chunk behind")
	}
}

// TestCowForkDivergence is S6: a parent writes 'A' to a framed user
// address, forks, the child writes 'B' to the same VA (triggering its
// own copy-on-write fault, since the page started shared read-only
// after fork), and each task's view of that byte stays independent.
func TestCowForkDivergence(t *testing.T) {
	k, parent := newTestKernel(t)
	k.Sched.Current = parent

	va := uint64(scratchVA)
	if err := parent.AS.WriteUser(va, []byte{'A'}); err != nil {
		t.Fatalf("parent WriteUser: %v", err)
	}

	childPid := k.Dispatch(SysFork, [6]uint64{0, 0, 0, 0, 0, 0})
	if childPid <= 0 {
		t.Fatalf("fork: %d", childPid)
	}
	child, _ := k.Sched.Mgr.ByPID(defs.Pid_t(childPid))

	vpn := mem.VPNOf(va)
	if !child.AS.IsCow(vpn) {
		t.Fatalf("child's page not marked COW after fork")
	}
	if !parent.AS.IsCow(vpn) {
		t.Fatalf("parent's page not marked COW after fork")
	}

	// WriteUser never enforces the PTE write bit on this hosted build
	// (there is no real store instruction to trap on), so the COW
	// break has to be driven explicitly the way a real store fault
	// would: through trap.Handle, same as TestMmapLazyFault's lazy
	// fault.
	outcome := trap.Handle(child, trap.CauseStorePageFault, vpn)
	if outcome != trap.OutcomeContinue {
		t.Fatalf("child cow fault outcome = %v, want OutcomeContinue", outcome)
	}
	if child.AS.IsCow(vpn) {
		t.Fatalf("child's page still marked COW after CowAlloc")
	}
	if err := child.AS.WriteUser(va, []byte{'B'}); err != nil {
		t.Fatalf("child WriteUser after cow fault: %v", err)
	}

	got, err := parent.AS.ReadUser(va, 1)
	if err != nil || got[0] != 'A' {
		t.Fatalf("parent now sees %v, want 'A'", got)
	}
	got, err = child.AS.ReadUser(va, 1)
	if err != nil || got[0] != 'B' {
		t.Fatalf("child now sees %v, want 'B'", got)
	}
}
