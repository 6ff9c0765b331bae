package mem

import "fmt"

// PhysMem is the kernel's view of the physical-memory window
// [base, base+len). On real hardware this would be the direct map
// Biscuit builds with Dmap; since this module targets a hosted build
// of the kernel's data-structure logic rather than bare-metal
// RISC-V assembly, the window is backed by a plain byte slice that
// every FrameTracker indexes into. The frame allocator and page
// table walker only ever see PPNs; PhysMem is the one place that
// turns a PPN into bytes.
type PhysMem struct {
	base  PPN
	bytes []byte
}

// NewPhysMem allocates a simulated physical memory window of npages
// frames starting at physical page number base.
func NewPhysMem(base PPN, npages int) *PhysMem {
	return &PhysMem{
		base:  base,
		bytes: make([]byte, npages*PageSize),
	}
}

// Base returns the first PPN in the window.
func (p *PhysMem) Base() PPN { return p.base }

// End returns one past the last PPN in the window.
func (p *PhysMem) End() PPN { return p.base + PPN(len(p.bytes)/PageSize) }

// Frame returns the PageSize-byte slice backing ppn. It panics if ppn
// falls outside the window, mirroring the fatal-panic treatment
// spec.md §7 gives to internal invariant violations.
func (p *PhysMem) Frame(ppn PPN) []byte {
	if ppn < p.base || ppn >= p.End() {
		panic(fmt.Sprintf("mem: ppn %#x outside physical window [%#x, %#x)", ppn, p.base, p.End()))
	}
	off := int(ppn-p.base) * PageSize
	return p.bytes[off : off+PageSize]
}

// Zero clears the frame at ppn to all-zero bytes. FrameTracker calls
// this at construction (spec.md §3: "construction zeroes it").
func (p *PhysMem) Zero(ppn PPN) {
	f := p.Frame(ppn)
	for i := range f {
		f[i] = 0
	}
}
