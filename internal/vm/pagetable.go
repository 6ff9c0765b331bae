// Package vm implements the Sv39 page table walker (spec.md §4.2)
// and per-process address spaces (§4.3), grounded on Biscuit's
// vm.Vm_t (biscuit/src/vm/as.go) and mem.Pmap_t
// (biscuit/src/mem/mem.go), generalized from Biscuit's 4-level x86-64
// page tables to RISC-V's 3-level Sv39 layout and from Biscuit's
// hardware-walked COW bit to the reserved software PTE bit spec.md
// §3 and §4.2 call for.
package vm

import (
	"fmt"
	"unsafe"

	"github.com/jklincn/rvkernel/internal/mem"
)

// PTE is a single Sv39 page-table entry: PPN in bits [53:10], flags
// in bits [7:0], and one reserved software bit (COW) at bit 9.
type PTE uint64

// Flag bits, matching the Sv39 hardware layout.
const (
	PTEValid PTE = 1 << 0
	PTERead  PTE = 1 << 1
	PTEWrite PTE = 1 << 2
	PTEExec  PTE = 1 << 3
	PTEUser  PTE = 1 << 4
	PTEGlobal PTE = 1 << 5
	PTEAccessed PTE = 1 << 6
	PTEDirty PTE = 1 << 7
	// PTECow is a reserved software bit (bit 9) meaning "this page is
	// mapped read-only but is semantically writable via
	// copy-on-write" (spec.md §4.2).
	PTECow PTE = 1 << 9

	ptePPNShift = 10
)

// node is the in-memory layout of one Sv39 page-table level: 512
// 8-byte entries, exactly filling one 4 KiB frame.
type node [512]PTE

func nodeOf(b []byte) *node {
	if len(b) != mem.PageSize {
		panic("vm: page table node must back exactly one frame")
	}
	return (*node)(unsafe.Pointer(&b[0]))
}

// vpnIndices splits a VPN into its three Sv39 level indices,
// most-significant first (spec.md §4.2: "walks indices
// [vpn>>18 & 511, vpn>>9 & 511, vpn & 511]").
func vpnIndices(vpn mem.VPN) [3]uint64 {
	v := uint64(vpn)
	return [3]uint64{(v >> 18) & 0x1ff, (v >> 9) & 0x1ff, v & 0x1ff}
}

// PageTable is one Sv39 page table: a tree of up to three levels,
// each node a frame the table exclusively owns.
type PageTable struct {
	alloc *mem.FrameAllocator
	phys  *mem.PhysMem
	root  *mem.FrameTracker
	// frames holds every intermediate/leaf frame this table owns, so
	// Destroy can free them all; keyed by the frame's own PPN.
	frames map[mem.PPN]*mem.FrameTracker
}

// New allocates a fresh, empty page table (just the root node).
func New(alloc *mem.FrameAllocator, phys *mem.PhysMem) (*PageTable, bool) {
	root, ok := mem.NewFrameTracker(alloc, phys)
	if !ok {
		return nil, false
	}
	return &PageTable{
		alloc:  alloc,
		phys:   phys,
		root:   root,
		frames: map[mem.PPN]*mem.FrameTracker{root.PPN(): root},
	}, true
}

// Token returns the value that would be written to satp to activate
// this table: the root frame's PPN (spec.md §3).
func (pt *PageTable) Token() uint64 { return uint64(pt.root.PPN()) }

// FromToken reconstructs a read-only view of a page table given a
// satp value, the way spec.md §4.2 requires ("from_token(satp)
// reconstructs a read-only view by taking PPN bits 0..44 of satp").
func FromToken(satp uint64, phys *mem.PhysMem) *PageTable {
	root := mem.PPN(satp & ((1 << 44) - 1))
	return &PageTable{phys: phys, root: mem.ViewFrameTracker(root)}
}

// walk locates the leaf PTE for vpn, allocating intermediate nodes
// along the way when alloc is true. It returns nil if an
// intermediate level is missing and alloc is false.
func (pt *PageTable) walk(vpn mem.VPN, alloc bool) *PTE {
	idx := vpnIndices(vpn)
	ppn := pt.root.PPN()
	for level := 0; level < 2; level++ {
		n := nodeOf(pt.phys.Frame(ppn))
		pte := &n[idx[level]]
		if *pte&PTEValid == 0 {
			if !alloc {
				return nil
			}
			child, ok := mem.NewFrameTracker(pt.allocOrPanic(), pt.phys)
			if !ok {
				return nil
			}
			pt.frames[child.PPN()] = child
			*pte = PTE(child.PPN())<<ptePPNShift | PTEValid
		}
		if *pte&(PTERead|PTEWrite|PTEExec) != 0 {
			panic("vm: intermediate PTE has leaf permission bits set")
		}
		ppn = mem.PPN(*pte >> ptePPNShift)
	}
	n := nodeOf(pt.phys.Frame(ppn))
	return &n[idx[2]]
}

func (pt *PageTable) allocOrPanic() *mem.FrameAllocator {
	if pt.alloc == nil {
		panic("vm: cannot allocate through a read-only page table view")
	}
	return pt.alloc
}

// Map installs a leaf mapping vpn -> ppn with the given flags. It
// panics if the leaf already has V=1, per spec.md §4.2.
func (pt *PageTable) Map(vpn mem.VPN, ppn mem.PPN, flags PTE) {
	pte := pt.walk(vpn, true)
	if pte == nil {
		panic("vm: out of memory walking page table")
	}
	if *pte&PTEValid != 0 {
		panic(fmt.Sprintf("vm: remap of already-valid vpn %#x", vpn))
	}
	*pte = PTE(ppn)<<ptePPNShift | flags | PTEValid
}

// Unmap clears the leaf PTE for vpn. It panics if it was not valid.
func (pt *PageTable) Unmap(vpn mem.VPN) {
	pte := pt.walk(vpn, false)
	if pte == nil || *pte&PTEValid == 0 {
		panic(fmt.Sprintf("vm: unmap of invalid vpn %#x", vpn))
	}
	*pte = 0
}

// Translate returns the leaf PTE for vpn, or ok==false if any
// intermediate level is invalid.
func (pt *PageTable) Translate(vpn mem.VPN) (pte PTE, ok bool) {
	p := pt.walk(vpn, false)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// TranslatePTEPtr returns a live pointer to the leaf PTE for vpn (or
// nil), so callers like the COW fault path can mutate flags in
// place without re-walking.
func (pt *PageTable) TranslatePTEPtr(vpn mem.VPN) *PTE {
	return pt.walk(vpn, false)
}

// TranslateVA translates a full virtual address to a physical
// address, applying the 12-bit page offset.
func (pt *PageTable) TranslateVA(va uint64) (uint64, bool) {
	pte, ok := pt.Translate(mem.VPNOf(va))
	if !ok || pte&PTEValid == 0 {
		return 0, false
	}
	ppn := mem.PPN(pte >> ptePPNShift)
	return ppn.PhysAddr() | (va & mem.PageOffsetMask), true
}

// SetCow/ResetCow/IsCow manipulate the reserved COW bit (spec.md
// §4.2).
func SetCow(pte *PTE)   { *pte |= PTECow }
func ResetCow(pte *PTE) { *pte &^= PTECow }
func IsCow(pte PTE) bool { return pte&PTECow != 0 }

// Destroy frees every frame this page table owns (root and all
// intermediate/leaf nodes it allocated). Leaf data frames belonging
// to map areas are NOT touched here — those are owned and freed by
// the AddressSpace's map areas, not by the page table itself,
// matching spec.md §4.6's "release its data pages (but not the
// page-table frames...)" distinction at exit time.
func (pt *PageTable) Destroy() {
	if pt.alloc == nil {
		return // read-only view, owns nothing
	}
	for _, f := range pt.frames {
		f.Free()
	}
	pt.frames = nil
}
