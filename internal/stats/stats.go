// Package stats is the kernel-side counter table spec.md's "periodic
// scheduler/cache counters" live in, grounded on Biscuit's
// stats/stats.go Counter_t. cmd/rvkernel dumps a Snapshot as a pprof
// profile; cmd/rvstats reads that profile back and re-exports it as
// Prometheus gauges.
package stats

import "sync/atomic"

// Counter_t is an atomic monotonically-increasing counter, the same
// shape as Biscuit's stats.Counter_t minus the build-time Stats flag
// (this kernel always accounts; the hosted build has no hot interrupt
// path cheap enough to need a compile-time off switch).
type Counter_t int64

func (c *Counter_t) Inc()          { atomic.AddInt64((*int64)(c), 1) }
func (c *Counter_t) Add(n int64)   { atomic.AddInt64((*int64)(c), n) }
func (c *Counter_t) Load() int64   { return atomic.LoadInt64((*int64)(c)) }
func (c *Counter_t) Set(n int64)   { atomic.StoreInt64((*int64)(c), n) }

// Gauge_t tracks a high-watermark rather than a running total.
type Gauge_t int64

func (g *Gauge_t) Load() int64 { return atomic.LoadInt64((*int64)(g)) }
func (g *Gauge_t) Set(n int64) { atomic.StoreInt64((*int64)(g), n) }
func (g *Gauge_t) Observe(n int64) {
	for {
		cur := atomic.LoadInt64((*int64)(g))
		if n <= cur {
			return
		}
		if atomic.CompareAndSwapInt64((*int64)(g), cur, n) {
			return
		}
	}
}

// Table is the kernel's accounting block: one instance lives for the
// life of the process, updated from internal/proc and internal/blkcache
// as the scheduler and cache do their work.
type Table struct {
	ContextSwitches Counter_t
	SyscallCount    Counter_t
	PageFaults      Counter_t
	CowFaults       Counter_t
	CacheHits       Counter_t
	CacheMisses     Counter_t
	FramesLive      Gauge_t
	ReadyQueueLen   Gauge_t
}

// Snapshot is a point-in-time copy of Table's counters, safe to hand
// to a reporter (cmd/rvstats) without further synchronization.
type Snapshot struct {
	ContextSwitches int64
	SyscallCount    int64
	PageFaults      int64
	CowFaults       int64
	CacheHits       int64
	CacheMisses     int64
	FramesLive      int64
	ReadyQueueLen   int64
}

// Snapshot reads every counter in t into a Snapshot.
func (t *Table) Snapshot() Snapshot {
	return Snapshot{
		ContextSwitches: t.ContextSwitches.Load(),
		SyscallCount:    t.SyscallCount.Load(),
		PageFaults:      t.PageFaults.Load(),
		CowFaults:       t.CowFaults.Load(),
		CacheHits:       t.CacheHits.Load(),
		CacheMisses:     t.CacheMisses.Load(),
		FramesLive:      t.FramesLive.Load(),
		ReadyQueueLen:   t.ReadyQueueLen.Load(),
	}
}

// Fields lists a Snapshot's counters in name/value pairs, the shape
// both the pprof exporter and the Prometheus collector iterate over.
func (s Snapshot) Fields() []struct {
	Name  string
	Value int64
} {
	return []struct {
		Name  string
		Value int64
	}{
		{"context_switches", s.ContextSwitches},
		{"syscalls", s.SyscallCount},
		{"page_faults", s.PageFaults},
		{"cow_faults", s.CowFaults},
		{"cache_hits", s.CacheHits},
		{"cache_misses", s.CacheMisses},
		{"frames_live", s.FramesLive},
		{"ready_queue_len", s.ReadyQueueLen},
	}
}
