package proc

import (
	"testing"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/elfload"
	"github.com/jklincn/rvkernel/internal/fileio"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/trap"
	"github.com/jklincn/rvkernel/internal/vm"
)

func newTestTcb(t *testing.T, mgr *Manager) *Tcb {
	t.Helper()
	phys := mem.NewPhysMem(0, 256)
	alloc := mem.NewFrameAllocator(phys)
	img := &elfload.Image{Entry: 0x1000, Segments: []elfload.Segment{
		{VAddr: 0x1000, MemSize: mem.PageSize, Data: []byte{0x13, 0, 0, 0}, Readable: true, Executable: true},
	}}
	as, sp, _, entry, err := vm.FromELF(img, alloc, phys)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	tcb := &Tcb{
		Pid:         mgr.AllocPID(),
		AS:          as,
		Ctx:         trap.AppInit(entry, sp, 0, 0, 0),
		KernelStack: newKernelStack(),
		Fds:         fileio.NewTable(),
	}
	tcb.Tgid = defs.Tid_t(tcb.Pid)
	mgr.Add(tcb)
	return tcb
}

func TestSchedulerFIFOOrder(t *testing.T) {
	mgr := NewManager()
	a := newTestTcb(t, mgr)
	b := newTestTcb(t, mgr)

	var order []defs.Pid_t
	calls := map[defs.Pid_t]int{}
	step := func(tk *Tcb) (trap.Cause, mem.VPN) {
		order = append(order, tk.Pid)
		calls[tk.Pid]++
		if calls[tk.Pid] >= 3 {
			return trap.CauseIllegalInstruction, 0
		}
		return trap.CauseTimerInterrupt, 0
	}
	sched := NewScheduler(mgr, step, func() (*Tcb, bool) { return a, true })
	sched.Run()

	want := []defs.Pid_t{a.Pid, b.Pid, a.Pid, b.Pid, a.Pid, b.Pid}
	if len(order) != len(want) {
		t.Fatalf("expected %d steps, got %d: %v", len(want), len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("step %d: expected pid %d, got %d (full: %v)", i, want[i], order[i], order)
		}
	}
}

func TestForkAssignsFreshPIDAndClonesState(t *testing.T) {
	mgr := NewManager()
	parent := newTestTcb(t, mgr)
	parent.Ctx.X[trap.RegA0] = 42

	child, errc := Fork(mgr, parent, false)
	if errc != 0 {
		t.Fatalf("Fork failed: %d", errc)
	}
	if child.Pid == parent.Pid {
		t.Fatal("child must get a distinct PID")
	}
	if child.Tgid != defs.Tid_t(child.Pid) {
		t.Fatal("non-thread fork must make the child its own thread-group leader")
	}
	if child.Ctx.X[trap.RegA0] != 0 {
		t.Fatalf("child's saved a0 must be zeroed, got %d", child.Ctx.X[trap.RegA0])
	}
	if parent.Ctx.X[trap.RegA0] != 42 {
		t.Fatal("fork must not disturb the parent's saved context")
	}
	if len(parent.Children) != 1 || parent.Children[0] != child {
		t.Fatal("child must be linked into parent.Children")
	}
	if child.Fds == parent.Fds {
		t.Fatal("child must get its own fd table, not share the parent's")
	}

	ppte, _ := parent.AS.PageTable.Translate(mem.VPNOf(0x1000))
	cpte, _ := child.AS.PageTable.Translate(mem.VPNOf(0x1000))
	if !vm.IsCow(ppte) || !vm.IsCow(cpte) {
		t.Fatal("fork must leave both address spaces COW-marked over shared frames")
	}
}

func TestWaitReapsZombieAndReturnsExitCode(t *testing.T) {
	mgr := NewManager()
	parent := newTestTcb(t, mgr)
	child, errc := Fork(mgr, parent, false)
	if errc != 0 {
		t.Fatalf("Fork failed: %d", errc)
	}

	sched := NewScheduler(mgr, nil, func() (*Tcb, bool) { return parent, true })
	sched.ExitCurrentAndRunNext(child, 7)

	pid, code, werr := Wait(mgr, parent, -1)
	if werr != 0 {
		t.Fatalf("Wait failed: %d", werr)
	}
	if pid != child.Pid || code != 7 {
		t.Fatalf("expected (pid=%d, code=7), got (pid=%d, code=%d)", child.Pid, pid, code)
	}
	if len(parent.Children) != 0 {
		t.Fatal("reaped child must be removed from parent.Children")
	}
	if _, ok := mgr.ByPID(child.Pid); ok {
		t.Fatal("reaped child's PID must be removed from the manager")
	}
}

func TestWaitOnRunningChildReturnsEAGAIN(t *testing.T) {
	mgr := NewManager()
	parent := newTestTcb(t, mgr)
	child, errc := Fork(mgr, parent, false)
	if errc != 0 {
		t.Fatalf("Fork failed: %d", errc)
	}

	_, _, werr := Wait(mgr, parent, child.Pid)
	if werr != -defs.EAGAIN {
		t.Fatalf("expected EAGAIN for a still-running child, got %d", werr)
	}
}

func TestWaitWithNoMatchingChildReturnsECHILD(t *testing.T) {
	mgr := NewManager()
	parent := newTestTcb(t, mgr)
	_, _, werr := Wait(mgr, parent, 999)
	if werr != -defs.ECHILD {
		t.Fatalf("expected ECHILD, got %d", werr)
	}
}

func TestExecReplacesAddressSpaceAndEntryPoint(t *testing.T) {
	mgr := NewManager()
	tcb := newTestTcb(t, mgr)
	oldAS := tcb.AS

	phys := mem.NewPhysMem(0, 256)
	alloc := mem.NewFrameAllocator(phys)
	img := &elfload.Image{Entry: 0x2000, Segments: []elfload.Segment{
		{VAddr: 0x2000, MemSize: mem.PageSize, Data: []byte{0x13, 0, 0, 0}, Readable: true, Executable: true},
	}}

	fd := tcb.Fds.Install(fileio.Stdin{}, true)
	errc := Exec(tcb, img, []string{"prog", "arg1"}, []string{"HOME=/"}, alloc, phys)
	if errc != 0 {
		t.Fatalf("Exec failed: %d", errc)
	}
	if tcb.AS == oldAS {
		t.Fatal("exec must install a fresh address space")
	}
	if tcb.Ctx.Sepc != 0x2000 {
		t.Fatalf("expected sepc at new entry 0x2000, got %#x", tcb.Ctx.Sepc)
	}
	if _, ok := tcb.Fds.Get(fd); ok {
		t.Fatal("exec must close cloexec-flagged fds")
	}
}

// TestExecMarshalsArgv is spec.md §8's S2: after exec("hello", "world"),
// the fresh stack's argc/argv layout matches what a freshly started
// program's _start reads directly off sp (no a0/a1 register
// convention on this ABI — argc sits at *sp, argv[] right above it).
func TestExecMarshalsArgv(t *testing.T) {
	mgr := NewManager()
	tcb := newTestTcb(t, mgr)

	phys := mem.NewPhysMem(0, 256)
	alloc := mem.NewFrameAllocator(phys)
	img := &elfload.Image{Entry: 0x2000, Segments: []elfload.Segment{
		{VAddr: 0x2000, MemSize: mem.PageSize, Data: []byte{0x13, 0, 0, 0}, Readable: true, Executable: true},
	}}

	if errc := Exec(tcb, img, []string{"hello", "world"}, nil, alloc, phys); errc != 0 {
		t.Fatalf("Exec failed: %d", errc)
	}

	sp := tcb.Ctx.X[2] // sp lives at Context.X[2] (RISC-V x2)
	readWord := func(off uint64) uint64 {
		raw, err := tcb.AS.ReadUser(sp+off, 8)
		if err != nil {
			t.Fatalf("ReadUser at sp+%#x: %v", off, err)
		}
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(raw[i])
		}
		return v
	}

	argc := readWord(0)
	if argc != 2 {
		t.Fatalf("argc = %d, want 2", argc)
	}
	argv0Ptr := readWord(8)
	argv1Ptr := readWord(16)

	s0, err := tcb.AS.ReadUserString(argv0Ptr, 64)
	if err != nil {
		t.Fatalf("ReadUserString argv[0]: %v", err)
	}
	if s0 != "hello" {
		t.Fatalf("argv[0] = %q, want %q", s0, "hello")
	}
	s1, err := tcb.AS.ReadUserString(argv1Ptr, 64)
	if err != nil {
		t.Fatalf("ReadUserString argv[1]: %v", err)
	}
	if s1 != "world" {
		t.Fatalf("argv[1] = %q, want %q", s1, "world")
	}
}
