package proc

import (
	"sync"

	"github.com/jklincn/rvkernel/internal/defs"
)

// pidAllocator hands out PIDs from a monotonic counter, recycling
// freed ones from a stack, grounded on pid.rs's PidAllocator.
type pidAllocator struct {
	mu        sync.Mutex
	next      defs.Pid_t
	recycled  []defs.Pid_t
}

func (a *pidAllocator) alloc() defs.Pid_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return pid
	}
	pid := a.next
	a.next++
	return pid
}

func (a *pidAllocator) free(pid defs.Pid_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recycled = append(a.recycled, pid)
}

// Manager owns the FIFO ready queue and the PID->Tcb map, grounded on
// manager.rs's TaskManager + PID2TCB.
type Manager struct {
	mu       sync.Mutex
	pids     pidAllocator
	ready    []*Tcb
	byPid    map[defs.Pid_t]*Tcb
}

// NewManager builds an empty scheduler-side manager.
func NewManager() *Manager {
	return &Manager{byPid: make(map[defs.Pid_t]*Tcb)}
}

// AllocPID reserves the next PID, for use by NewInitialTask/Fork.
func (m *Manager) AllocPID() defs.Pid_t { return m.pids.alloc() }

// Add registers task in the PID map and appends it to the ready
// queue's tail (manager.rs's add_task).
func (m *Manager) Add(t *Tcb) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPid[t.Pid] = t
	t.State = Ready
	m.ready = append(m.ready, t)
}

// Requeue appends an already-known task back onto the ready queue
// without re-registering it in the PID map (suspend_current_and_run_next).
func (m *Manager) Requeue(t *Tcb) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.State = Ready
	m.ready = append(m.ready, t)
}

// Fetch pops the head of the ready queue (manager.rs's fetch_task).
func (m *Manager) Fetch() (*Tcb, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ready) == 0 {
		return nil, false
	}
	t := m.ready[0]
	m.ready = m.ready[1:]
	return t, true
}

// ReadyLen reports the current ready-queue depth, for stats.Table's
// ready_queue_len gauge.
func (m *Manager) ReadyLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// ByPID looks up a task by PID (manager.rs's pid2task).
func (m *Manager) ByPID(pid defs.Pid_t) (*Tcb, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byPid[pid]
	return t, ok
}

// Remove drops pid from the PID map (manager.rs's remove_from_pid2task)
// and recycles the PID for reuse.
func (m *Manager) Remove(pid defs.Pid_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPid, pid)
	m.pids.free(pid)
}
