package vm

import (
	"fmt"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/mem"
)

// FromExistedUser builds a child address space by cloning parent via
// copy-on-write (spec.md §4.3, §4.6 "fork"). The trampoline and trap
// context mappings are cloned normally (trampoline is shared
// hardware state across every AS; the trap context gets its own
// private copy so parent and child each see their own saved
// registers). Every other user VPN is remapped read-only with the
// COW bit set in both parent and child, sharing the underlying
// frame.
func FromExistedUser(parent *AddressSpace) (*AddressSpace, error) {
	pt, ok := New(parent.alloc, parent.phys)
	if !ok {
		return nil, fmt.Errorf("vm: out of frames cloning address space")
	}
	child := &AddressSpace{alloc: parent.alloc, phys: parent.phys, PageTable: pt}

	trapVPN := mem.VPNOf(mem.TrapContext)
	for _, ma := range parent.MapAreas {
		cma := newMapArea(ma.Policy, ma.StartVPN, ma.EndVPN, ma.Perm)
		for vpn, ft := range ma.frames {
			if vpn == trapVPN {
				// Private copy: each task's trap context is its own.
				nft, ok := mem.NewFrameTracker(child.alloc, child.phys)
				if !ok {
					return nil, fmt.Errorf("vm: out of frames cloning trap context")
				}
				copy(nft.Bytes(), ft.Bytes())
				child.PageTable.Map(vpn, nft.PPN(), PTERead|PTEWrite)
				cma.frames[vpn] = nft
				continue
			}
			if ma.Policy == Identical {
				// Kernel identity mappings (including the
				// trampoline) are not process-owned data: share the
				// PPN directly without refcounting or COW.
				child.PageTable.Map(vpn, ft.PPN(), ma.Perm.pte()|PTEGlobal)
				continue
			}

			// COW share: mark both parent's and child's PTE R-only
			// with the COW bit, per spec.md §4.3/§8 property 3.
			shared := ft.Clone()
			cma.frames[vpn] = shared

			parentPTE := parent.PageTable.TranslatePTEPtr(vpn)
			if parentPTE == nil {
				return nil, fmt.Errorf("vm: missing parent pte for framed vpn %#x", vpn)
			}
			cowFlags := (*parentPTE &^ PTEWrite) | PTECow
			*parentPTE = cowFlags
			child.PageTable.Map(vpn, shared.PPN(), flagsOf(cowFlags))
		}
		if len(cma.frames) > 0 || ma.Policy == Framed {
			child.MapAreas = append(child.MapAreas, cma)
		}
	}
	for _, ca := range parent.ChunkAreas {
		cca := newChunkArea(ca.StartVPN, ca.EndVPN, ca.Perm)
		cca.file = ca.file
		cca.fileOffset = ca.fileOffset
		for vpn, ft := range ca.frames {
			shared := ft.Clone()
			cca.frames[vpn] = shared
			parentPTE := parent.PageTable.TranslatePTEPtr(vpn)
			cowFlags := (*parentPTE &^ PTEWrite) | PTECow
			*parentPTE = cowFlags
			child.PageTable.Map(vpn, shared.PPN(), flagsOf(cowFlags))
		}
		child.ChunkAreas = append(child.ChunkAreas, cca)
		if ca == parent.heap {
			child.heap = cca
		}
	}
	child.HeapBaseVPN = parent.HeapBaseVPN
	child.Brk = parent.Brk
	return child, nil
}

// flagsOf strips the PPN field out of a PTE, leaving only its flag
// bits, for reuse when installing the same flags over a different
// PPN.
func flagsOf(pte PTE) PTE {
	return pte & ((1 << ptePPNShift) - 1)
}

// CowAlloc resolves a store fault that hit a COW page: allocate a new
// frame, copy the old frame's bytes, and remap R|W with the COW bit
// cleared. When the shared frame's refcount has already dropped to 1
// (this mapping is the last one referencing it), the page is simply
// upgraded in place instead of copied (spec.md §4.3).
func (as *AddressSpace) CowAlloc(vpn mem.VPN) defs.Err_t {
	pte := as.PageTable.TranslatePTEPtr(vpn)
	if pte == nil || !IsCow(*pte) {
		return -defs.EFAULT
	}
	frames, ok := as.framesOwning(vpn)
	if !ok {
		return -defs.EFAULT
	}
	old, ok := frames[vpn]
	if !ok {
		return -defs.EFAULT
	}

	if old.Refcount() == 1 {
		*pte = (*pte &^ PTECow) | PTEWrite
		return 0
	}

	nft, ok := mem.NewFrameTracker(as.alloc, as.phys)
	if !ok {
		return -defs.ENOMEM
	}
	copy(nft.Bytes(), old.Bytes())

	as.PageTable.Unmap(vpn)
	as.PageTable.Map(vpn, nft.PPN(), (flagsOf(*pte)&^PTECow)|PTEWrite)
	old.Free()
	frames[vpn] = nft
	return 0
}

// framesOwning returns the frame map (belonging to a MapArea or a
// ChunkArea) that holds vpn, so CowAlloc can mutate it uniformly.
func (as *AddressSpace) framesOwning(vpn mem.VPN) (map[mem.VPN]*mem.FrameTracker, bool) {
	for _, ma := range as.MapAreas {
		if _, ok := ma.frames[vpn]; ok {
			return ma.frames, true
		}
	}
	for _, ca := range as.ChunkAreas {
		if _, ok := ca.frames[vpn]; ok {
			return ca.frames, true
		}
	}
	return nil, false
}
