package trap

import (
	"testing"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/mem"
)

type fakeResolver struct {
	cow, heapFault, mmapFault bool
	cowErr, heapErr, mmapErr  defs.Err_t
}

func (f *fakeResolver) IsCow(mem.VPN) bool                { return f.cow }
func (f *fakeResolver) CowAlloc(mem.VPN) defs.Err_t        { return f.cowErr }
func (f *fakeResolver) InHeapAboveBreak(mem.VPN) bool      { return f.heapFault }
func (f *fakeResolver) LazyHeapAlloc(mem.VPN) defs.Err_t   { return f.heapErr }
func (f *fakeResolver) InMmapChunk(mem.VPN) bool           { return f.mmapFault }
func (f *fakeResolver) LazyMmap(uint64) defs.Err_t         { return f.mmapErr }

type fakeTask struct {
	as *fakeResolver
	cx *Context
}

func (t *fakeTask) AddressSpace() PageFaultResolver { return t.as }
func (t *fakeTask) Context() *Context               { return t.cx }

func TestHandleUserEnvCall(t *testing.T) {
	SetDispatcher(func(num uint64, args [6]uint64) int64 {
		if num != 64 {
			t.Fatalf("unexpected syscall number %d", num)
		}
		return 3
	})
	cx := &Context{Sepc: 0x1000}
	cx.X[RegA7] = 64
	task := &fakeTask{as: &fakeResolver{}, cx: cx}

	if got := Handle(task, CauseUserEnvCall, 0); got != OutcomeContinue {
		t.Fatalf("expected OutcomeContinue, got %v", got)
	}
	if cx.Sepc != 0x1004 {
		t.Fatalf("expected sepc advanced by 4, got %#x", cx.Sepc)
	}
	if cx.X[RegA0] != 3 {
		t.Fatalf("expected a0 == 3, got %d", cx.X[RegA0])
	}
}

func TestHandlePageFaultCow(t *testing.T) {
	task := &fakeTask{as: &fakeResolver{cow: true}, cx: &Context{}}
	if got := Handle(task, CauseStorePageFault, 5); got != OutcomeContinue {
		t.Fatalf("expected OutcomeContinue for resolved COW fault, got %v", got)
	}
}

func TestHandlePageFaultHeapGrowth(t *testing.T) {
	task := &fakeTask{as: &fakeResolver{heapFault: true}, cx: &Context{}}
	if got := Handle(task, CauseLoadPageFault, 5); got != OutcomeContinue {
		t.Fatalf("expected OutcomeContinue for lazy heap alloc, got %v", got)
	}
}

func TestHandlePageFaultMmap(t *testing.T) {
	task := &fakeTask{as: &fakeResolver{mmapFault: true}, cx: &Context{}}
	if got := Handle(task, CauseInstructionPageFault, 5); got != OutcomeContinue {
		t.Fatalf("expected OutcomeContinue for lazy mmap, got %v", got)
	}
}

func TestHandlePageFaultFatal(t *testing.T) {
	task := &fakeTask{as: &fakeResolver{}, cx: &Context{}}
	if got := Handle(task, CauseStorePageFault, 5); got != OutcomeExit {
		t.Fatalf("expected OutcomeExit for unresolvable fault, got %v", got)
	}
}

func TestHandleTimerInterruptYields(t *testing.T) {
	task := &fakeTask{as: &fakeResolver{}, cx: &Context{}}
	if got := Handle(task, CauseTimerInterrupt, 0); got != OutcomeYield {
		t.Fatalf("expected OutcomeYield, got %v", got)
	}
}

func TestHandleIllegalInstructionExits(t *testing.T) {
	task := &fakeTask{as: &fakeResolver{}, cx: &Context{}}
	if got := Handle(task, CauseIllegalInstruction, 0); got != OutcomeExit {
		t.Fatalf("expected OutcomeExit, got %v", got)
	}
}

func TestContextEncodeDecodeRoundTrip(t *testing.T) {
	c := AppInit(0x1000, 0x2000, 0x8000000000000abc, 0x3000, 0x4000)
	buf := make([]byte, Size)
	c.Encode(buf)
	got := Decode(buf)
	if got.Sepc != c.Sepc || got.X[2] != c.X[2] || got.KernelSatp != c.KernelSatp {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, c)
	}
}
