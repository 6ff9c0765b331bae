package proc

import (
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/stats"
	"github.com/jklincn/rvkernel/internal/trap"
)

// Step runs t until it next traps into the kernel, reporting what
// scause decoded to (and, for page faults, the faulting VPN). The
// real trampoline/hardware boundary is out of scope for this hosted
// build; whatever embeds the scheduler supplies Step.
type Step func(t *Tcb) (trap.Cause, mem.VPN)

// Scheduler is the single-hart FIFO run loop of spec.md §4.5: pop a
// task, run it until it traps for a yielding reason, repeat.
type Scheduler struct {
	Mgr     *Manager
	Step    Step
	Current *Tcb
	initPid func() (*Tcb, bool)
	Stats   *stats.Table
}

// NewScheduler builds a scheduler over mgr. initLookup resolves "init"
// for reparenting zombies' orphaned children (spec.md §4.6).
func NewScheduler(mgr *Manager, step Step, initLookup func() (*Tcb, bool)) *Scheduler {
	return &Scheduler{Mgr: mgr, Step: step, initPid: initLookup}
}

// SetStats attaches a counter table that Run reports context switches
// and ready-queue depth into. Nil skips accounting.
func (s *Scheduler) SetStats(t *stats.Table) { s.Stats = t }

// Run executes ready tasks until the queue drains (spec.md §4.5's
// run_tasks idle loop: every hart but this one just spins).
func (s *Scheduler) Run() {
	for {
		t, ok := s.Mgr.Fetch()
		if !ok {
			return
		}
		t.mu.Lock()
		if t.State == Zombie {
			// Killed (sysKill) while still queued: drop it.
			t.mu.Unlock()
			continue
		}
		t.State = Running
		t.mu.Unlock()
		s.Current = t
		if s.Stats != nil {
			s.Stats.ContextSwitches.Inc()
			s.Stats.ReadyQueueLen.Set(int64(s.Mgr.ReadyLen()))
		}
		s.runUntilSuspend(t)
		s.Current = nil
	}
}

func (s *Scheduler) runUntilSuspend(t *Tcb) {
	for {
		cause, vpn := s.Step(t)
		if s.Stats != nil {
			switch cause {
			case trap.CauseUserEnvCall:
				s.Stats.SyscallCount.Inc()
			case trap.CauseStorePageFault, trap.CauseLoadPageFault, trap.CauseInstructionPageFault:
				s.Stats.PageFaults.Inc()
			}
		}
		outcome := trap.Handle(t, cause, vpn)

		// A syscall dispatched through CauseUserEnvCall always reports
		// OutcomeContinue (trap.Handle has no scheduling opinion about
		// syscalls); exit/yield syscalls instead suspend t themselves
		// by calling ExitCurrentAndRunNext/SuspendCurrentAndRunNext
		// directly before returning, so checking t's resulting state
		// here is what actually detects them.
		t.mu.Lock()
		state := t.State
		t.mu.Unlock()
		if state != Running {
			return
		}

		switch outcome {
		case trap.OutcomeContinue:
			continue
		case trap.OutcomeYield:
			s.SuspendCurrentAndRunNext(t)
			return
		case trap.OutcomeExit:
			s.ExitCurrentAndRunNext(t, -1)
			return
		default:
			return
		}
	}
}

// SuspendCurrentAndRunNext marks t Ready and pushes it onto the ready
// queue's tail (spec.md §4.5). Called both by the timer-interrupt
// branch of the run loop and directly by a yield/blocking-pipe
// syscall.
func (s *Scheduler) SuspendCurrentAndRunNext(t *Tcb) {
	s.Mgr.Requeue(t)
}

// ExitCurrentAndRunNext marks t Zombie, stores its exit code,
// reparents its children to init, and frees its data pages — but not
// its page-table frames, which persist until the parent calls Wait
// (spec.md §4.6).
func (s *Scheduler) ExitCurrentAndRunNext(t *Tcb, code int) {
	t.mu.Lock()
	t.State = Zombie
	t.ExitCode = code
	children := t.Children
	t.Children = nil
	t.mu.Unlock()

	if init, ok := s.initPid(); ok && init != t {
		for _, c := range children {
			c.mu.Lock()
			c.Parent = init
			c.mu.Unlock()
			init.mu.Lock()
			init.Children = append(init.Children, c)
			init.mu.Unlock()
		}
	}
	t.AS.RecycleDataPages()
}
