package mem

import (
	"sync"
	"sync/atomic"
)

// FrameAllocator hands out and reclaims physical frames from a fixed
// [base, end) window. It is a bump pointer (current) over the
// untouched tail of the window plus a LIFO stack of recycled frames,
// per spec.md §4.1. A process-wide singleton, guarded by a mutex the
// way Biscuit's Physmem_t guards its free lists.
type FrameAllocator struct {
	mu       sync.Mutex
	phys     *PhysMem
	current  PPN
	end      PPN
	recycled []PPN
	inuse    map[PPN]bool // debug invariant: alloc'd-and-not-yet-freed set
}

// NewFrameAllocator creates an allocator over the whole of phys.
func NewFrameAllocator(phys *PhysMem) *FrameAllocator {
	return &FrameAllocator{
		phys:    phys,
		current: phys.Base(),
		end:     phys.End(),
		inuse:   make(map[PPN]bool),
	}
}

// Alloc returns an unused frame, preferring the most recently
// recycled one (LIFO), falling back to the bump pointer. It returns
// ok == false once both are exhausted.
func (fa *FrameAllocator) Alloc() (ppn PPN, ok bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if n := len(fa.recycled); n > 0 {
		ppn = fa.recycled[n-1]
		fa.recycled = fa.recycled[:n-1]
		ok = true
	} else if fa.current < fa.end {
		ppn = fa.current
		fa.current++
		ok = true
	}
	if ok {
		if fa.inuse[ppn] {
			panic("mem: double allocation of a live frame")
		}
		fa.inuse[ppn] = true
	}
	return ppn, ok
}

// Dealloc returns ppn to the recycled stack. It panics if ppn was
// never handed out or has already been freed — the debug invariant
// spec.md §4.1 requires ("dealloc panics if the PPN was never
// allocated or is already recycled").
func (fa *FrameAllocator) Dealloc(ppn PPN) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if !fa.inuse[ppn] {
		panic("mem: dealloc of unallocated or already-freed frame")
	}
	delete(fa.inuse, ppn)
	fa.recycled = append(fa.recycled, ppn)
}

// Live reports the number of frames currently allocated, used by
// internal/stats for the frame high-watermark counter.
func (fa *FrameAllocator) Live() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.inuse)
}

// FrameTracker owns one physical frame, possibly jointly with other
// trackers sharing the same underlying frame (the COW-fork case,
// spec.md §4.3: "the frame must therefore be refcounted"). Plain
// Framed-area pages have a lone tracker with refcount 1. Construction
// zeroes the frame; Free drops this tracker's share and only returns
// the frame to the allocator once the shared refcount reaches zero —
// mirroring Biscuit's Physmem_t.Refup/Refdown (mem/mem.go) rather
// than a single-owner model, since spec.md's COW invariant (§8
// property 3) requires exactly this.
type FrameTracker struct {
	alloc *FrameAllocator
	phys  *PhysMem
	ppn   PPN
	ref   *int32
	freed bool
}

// NewFrameTracker allocates a frame and wraps it, zeroing its
// contents. The returned tracker has refcount 1.
func NewFrameTracker(alloc *FrameAllocator, phys *PhysMem) (*FrameTracker, bool) {
	ppn, ok := alloc.Alloc()
	if !ok {
		return nil, false
	}
	phys.Zero(ppn)
	one := int32(1)
	return &FrameTracker{alloc: alloc, phys: phys, ppn: ppn, ref: &one}, true
}

// PPN returns the physical page number this tracker owns.
func (ft *FrameTracker) PPN() PPN { return ft.ppn }

// Bytes returns the page-sized slice backing this frame.
func (ft *FrameTracker) Bytes() []byte { return ft.phys.Frame(ft.ppn) }

// Refcount returns the number of live trackers sharing this frame.
func (ft *FrameTracker) Refcount() int32 {
	if ft.ref == nil {
		return 1
	}
	return atomic.LoadInt32(ft.ref)
}

// Clone returns a second tracker sharing the same physical frame and
// increments the shared refcount. Used by COW fork to let parent and
// child both reference the pre-fork page (spec.md §4.3).
func (ft *FrameTracker) Clone() *FrameTracker {
	if ft.ref == nil {
		panic("mem: cannot clone a non-owning frame view")
	}
	atomic.AddInt32(ft.ref, 1)
	return &FrameTracker{alloc: ft.alloc, phys: ft.phys, ppn: ft.ppn, ref: ft.ref}
}

// Free drops this tracker's share of the frame. It is safe to call
// at most once per tracker; a second call on the same tracker panics.
// The frame returns to the allocator only once every clone has
// called Free.
func (ft *FrameTracker) Free() {
	if ft.freed {
		panic("mem: FrameTracker freed twice")
	}
	ft.freed = true
	if ft.ref == nil {
		return
	}
	if atomic.AddInt32(ft.ref, -1) == 0 {
		ft.alloc.Dealloc(ft.ppn)
	}
}

// ViewFrameTracker wraps an already-live PPN without taking
// ownership of it: Free is never valid to call on the result. Used
// to reconstruct read-only page-table views from a bare satp value
// (spec.md §4.2, "from_token").
func ViewFrameTracker(ppn PPN) *FrameTracker {
	return &FrameTracker{ppn: ppn, freed: true}
}
