package trap

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/mem"
)

// Cause classifies the reason __alltraps landed in trap_handler,
// spec.md §4.4's "trap_handler classifies by scause" step. Real
// firmware reports these via the scause CSR; this enum stands in for
// that register's decoded value on the hosted build.
type Cause int

const (
	CauseUserEnvCall Cause = iota
	CauseStorePageFault
	CauseLoadPageFault
	CauseInstructionPageFault
	CauseIllegalInstruction
	CauseTimerInterrupt
	CauseOther
)

// Outcome tells the caller (the scheduler's run loop) what to do with
// the task that just trapped.
type Outcome int

const (
	OutcomeContinue Outcome = iota // resume the same task
	OutcomeYield                   // re-queue and run_tasks the next one
	OutcomeExit                    // task is done; code is set
)

// Task is the slice of process state the trap handler needs: its
// address space (for page-fault resolution) and its trap context (for
// syscall argument/return marshalling). internal/proc's PCB satisfies
// this.
type Task interface {
	AddressSpace() PageFaultResolver
	Context() *Context
}

// PageFaultResolver is the subset of *vm.AddressSpace the trap
// handler needs, kept as an interface here so internal/trap does not
// import internal/vm (trap sits below vm in the dependency order;
// proc, which imports both, supplies the concrete type).
type PageFaultResolver interface {
	IsCow(vpn mem.VPN) bool
	CowAlloc(vpn mem.VPN) defs.Err_t
	InHeapAboveBreak(vpn mem.VPN) bool
	LazyHeapAlloc(vpn mem.VPN) defs.Err_t
	InMmapChunk(vpn mem.VPN) bool
	LazyMmap(va uint64) defs.Err_t
}

// Syscall dispatches one syscall by number; internal/syscall supplies
// the concrete table via SetDispatcher.
type Syscall func(num uint64, args [6]uint64) int64

var dispatch Syscall

// SetDispatcher installs the syscall table. Called once at boot by
// cmd/rvkernel, mirroring batch::run_next_app's use of a single
// global syscall function in the reference trap_handler.
func SetDispatcher(d Syscall) { dispatch = d }

// Handle implements spec.md §4.4's trap_handler: classify by cause,
// resolve, report what the scheduler should do next.
func Handle(t Task, cause Cause, faultVPN mem.VPN) Outcome {
	cx := t.Context()
	switch cause {
	case CauseUserEnvCall:
		cx.Sepc += 4
		args := [6]uint64{cx.X[RegA0], cx.X[RegA1], cx.X[RegA2], cx.X[RegA3], cx.X[RegA4], cx.X[RegA5]}
		ret := dispatch(cx.X[RegA7], args)
		cx.X[RegA0] = uint64(ret)
		return OutcomeContinue

	case CauseStorePageFault, CauseLoadPageFault, CauseInstructionPageFault:
		as := t.AddressSpace()
		switch {
		case as.IsCow(faultVPN):
			if as.CowAlloc(faultVPN) != 0 {
				return OutcomeExit
			}
		case as.InHeapAboveBreak(faultVPN):
			if as.LazyHeapAlloc(faultVPN) != 0 {
				return OutcomeExit
			}
		case as.InMmapChunk(faultVPN):
			if as.LazyMmap(uint64(faultVPN)<<mem.PageShift) != 0 {
				return OutcomeExit
			}
		default:
			return OutcomeExit
		}
		return OutcomeContinue

	case CauseTimerInterrupt:
		return OutcomeYield

	case CauseIllegalInstruction, CauseOther:
		return OutcomeExit
	}
	return OutcomeExit
}
