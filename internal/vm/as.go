package vm

import (
	"fmt"

	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/elfload"
	"github.com/jklincn/rvkernel/internal/mem"
)

// Perm is the subset of PTE flag bits callers specify when describing
// a map area's permissions; U and P/V are derived automatically.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) pte() PTE {
	var f PTE
	if p&PermRead != 0 {
		f |= PTERead
	}
	if p&PermWrite != 0 {
		f |= PTEWrite
	}
	if p&PermExec != 0 {
		f |= PTEExec
	}
	return f
}

// MapPolicy distinguishes the kernel's one-to-one identity mappings
// from ordinary process-owned Framed areas (spec.md §3, Map area).
type MapPolicy int

const (
	Identical MapPolicy = iota
	Framed
)

// MapArea is a contiguous half-open VPN range plus a map policy,
// permission bits, and (for Framed areas) the FrameTracker owning
// each VPN's backing page.
type MapArea struct {
	Policy   MapPolicy
	StartVPN mem.VPN
	EndVPN   mem.VPN
	Perm     Perm
	frames   map[mem.VPN]*mem.FrameTracker
}

func newMapArea(policy MapPolicy, start, end mem.VPN, perm Perm) *MapArea {
	return &MapArea{Policy: policy, StartVPN: start, EndVPN: end, Perm: perm, frames: make(map[mem.VPN]*mem.FrameTracker)}
}

// FrameFor exposes the FrameTracker backing vpn, for the
// page-table/frame-map agreement invariant (spec.md §8 property 2).
func (ma *MapArea) FrameFor(vpn mem.VPN) (*mem.FrameTracker, bool) {
	f, ok := ma.frames[vpn]
	return f, ok
}

// ChunkArea is the sparse, lazily-populated counterpart to MapArea:
// it reserves a VPN range (for an mmap region or a growable stack)
// but only backs the VPNs actually touched, per spec.md §3.
type ChunkArea struct {
	StartVPN mem.VPN
	EndVPN   mem.VPN
	Perm     Perm
	frames   map[mem.VPN]*mem.FrameTracker
	// File-backed mmap state (nil for anonymous chunk areas).
	file       MmapFile
	fileOffset int64
}

func newChunkArea(start, end mem.VPN, perm Perm) *ChunkArea {
	return &ChunkArea{StartVPN: start, EndVPN: end, Perm: perm, frames: make(map[mem.VPN]*mem.FrameTracker)}
}

func (ca *ChunkArea) contains(vpn mem.VPN) bool { return vpn >= ca.StartVPN && vpn < ca.EndVPN }

// MmapFile is the contract an mmap-backing file must satisfy: read
// len(buf) bytes starting at off, short reads are zero-filled by the
// caller the way a page-cache would.
type MmapFile interface {
	ReadAt(buf []byte, off int64) (int, error)
}

// AddressSpace is a page table plus its owned map areas and chunk
// areas (spec.md §3).
type AddressSpace struct {
	alloc      *mem.FrameAllocator
	phys       *mem.PhysMem
	PageTable  *PageTable
	MapAreas   []*MapArea
	ChunkAreas []*ChunkArea

	// Heap state: HeapBaseVPN is fixed at process creation; Brk is the
	// current program break (spec.md §4.4's "above the current
	// break"), grown by the sbrk syscall and backed lazily on fault.
	HeapBaseVPN mem.VPN
	Brk         uint64
	heap        *ChunkArea
}

// KernelLayout describes the kernel's own identity-mapped regions,
// supplied by the linker/boot script (spec.md §4.3: "new_kernel()").
type KernelLayout struct {
	Text, Rodata, DataBSS, Mmio []Region
	TrampolinePPN               mem.PPN
}

// Region is an inclusive-start/exclusive-end physical-address range
// that is identity mapped (VA == PA) with the given permissions.
type Region struct {
	Start, End uint64
	Perm       Perm
}

// NewKernelAddressSpace builds the kernel address space: identity
// maps .text (R|X), .rodata (R), .data/.bss/free-phys-memory (R|W),
// MMIO ranges (R|W), and places the trampoline as a single R|X page
// at the top of virtual memory (spec.md §4.3).
func NewKernelAddressSpace(alloc *mem.FrameAllocator, phys *mem.PhysMem, layout KernelLayout) (*AddressSpace, error) {
	pt, ok := New(alloc, phys)
	if !ok {
		return nil, fmt.Errorf("vm: out of frames building kernel address space")
	}
	as := &AddressSpace{alloc: alloc, phys: phys, PageTable: pt}
	for _, regions := range [][]Region{layout.Text, layout.Rodata, layout.DataBSS, layout.Mmio} {
		for _, r := range regions {
			as.identityMap(r)
		}
	}
	as.PageTable.Map(mem.VPNOf(mem.Trampoline), layout.TrampolinePPN, PTERead|PTEExec)
	return as, nil
}

func (as *AddressSpace) identityMap(r Region) {
	start := mem.VPNOf(r.Start)
	end := mem.VPNCeil(r.End)
	ma := newMapArea(Identical, start, end, r.Perm)
	for vpn := start; vpn < end; vpn++ {
		ppn := mem.PPN(vpn) // identity: PPN == VPN
		as.PageTable.Map(vpn, ppn, r.Perm.pte()|PTEGlobal)
	}
	as.MapAreas = append(as.MapAreas, ma)
}

// FromELF parses img (produced by the out-of-scope ELF loader
// collaborator) into a fresh user address space: one Framed area per
// PT_LOAD segment, a guard page + user stack, a non-user trap
// context page, and a guard page + user heap (spec.md §4.3).
func FromELF(img *elfload.Image, alloc *mem.FrameAllocator, phys *mem.PhysMem) (as *AddressSpace, userSP uint64, userHeapBase uint64, entry uint64, err error) {
	pt, ok := New(alloc, phys)
	if !ok {
		return nil, 0, 0, 0, fmt.Errorf("vm: out of frames building user address space")
	}
	as = &AddressSpace{alloc: alloc, phys: phys, PageTable: pt}

	var maxVPN mem.VPN
	for _, seg := range img.Segments {
		perm := Perm(0)
		if seg.Readable {
			perm |= PermRead
		}
		if seg.Writable {
			perm |= PermWrite
		}
		if seg.Executable {
			perm |= PermExec
		}
		start := mem.VPNOf(seg.VAddr)
		end := mem.VPNCeil(seg.VAddr + seg.MemSize)
		if end > maxVPN {
			maxVPN = end
		}
		if err := as.insertFramedCopying(start, end, perm, seg.VAddr, seg.Data); err != nil {
			return nil, 0, 0, 0, err
		}
	}

	// One guard page, then the user stack (spec.md §6: "user stack
	// placed above the highest ELF segment with one guard page").
	stackBottom := maxVPN + 1
	const userStackPages = 32
	stackTop := stackBottom + userStackPages
	if err := as.InsertFramedArea(stackBottom, stackTop, PermRead|PermWrite); err != nil {
		return nil, 0, 0, 0, err
	}

	// The trap-context page: R|W, kernel-only (no PermExec/U bit is
	// applied separately since Framed areas are always user-mode;
	// mapTrapContext below maps it without PTEUser).
	if err := as.mapTrapContext(); err != nil {
		return nil, 0, 0, 0, err
	}

	// Guard page, then the user heap (spec.md §6).
	heapStart := stackTop + 1
	userHeapBase = heapStart.VirtAddr()
	const userHeapMaxPages = 1 << 20 // reserved VA range; committed lazily via Sbrk
	as.HeapBaseVPN = heapStart
	as.Brk = userHeapBase
	as.heap = newChunkArea(heapStart, heapStart+userHeapMaxPages, PermRead|PermWrite)
	as.ChunkAreas = append(as.ChunkAreas, as.heap)

	return as, stackTop.VirtAddr(), userHeapBase, img.Entry, nil
}

// Sbrk grows or shrinks the program break by delta bytes, returning
// the previous break (the brk/sbrk syscall contract). Shrinking frees
// any frames that fall below the new break; growing does not
// allocate frames itself — that happens lazily on the next fault
// (spec.md §4.4).
func (as *AddressSpace) Sbrk(delta int64) (old uint64, err defs.Err_t) {
	old = as.Brk
	next := int64(as.Brk) + delta
	if next < int64(as.HeapBaseVPN.VirtAddr()) || mem.VPNCeil(uint64(next)) > as.heap.EndVPN {
		return old, -defs.ENOMEM
	}
	if delta < 0 {
		for vpn := mem.VPNCeil(uint64(next)); vpn < mem.VPNCeil(as.Brk); vpn++ {
			if ft, ok := as.heap.frames[vpn]; ok {
				as.PageTable.Unmap(vpn)
				ft.Free()
				delete(as.heap.frames, vpn)
			}
		}
	}
	as.Brk = uint64(next)
	return old, 0
}

// IsCow reports whether vpn's current PTE is COW-marked, the first
// branch of spec.md §4.4's page-fault triage.
func (as *AddressSpace) IsCow(vpn mem.VPN) bool {
	pte := as.PageTable.TranslatePTEPtr(vpn)
	return pte != nil && IsCow(*pte)
}

// InHeapAboveBreak reports whether vpn falls within the heap region
// below the current break but has no frame yet — the second branch of
// spec.md §4.4's page-fault triage.
func (as *AddressSpace) InHeapAboveBreak(vpn mem.VPN) bool {
	if as.heap == nil || vpn < as.HeapBaseVPN || vpn >= mem.VPNCeil(as.Brk) {
		return false
	}
	_, already := as.heap.frames[vpn]
	return !already
}

// LazyHeapAlloc backs vpn with a fresh zeroed frame, completing the
// heap-growth branch of spec.md §4.4's page-fault triage.
func (as *AddressSpace) LazyHeapAlloc(vpn mem.VPN) defs.Err_t {
	ft, ok := mem.NewFrameTracker(as.alloc, as.phys)
	if !ok {
		return -defs.ENOMEM
	}
	as.PageTable.Map(vpn, ft.PPN(), as.heap.Perm.pte()|PTEUser)
	as.heap.frames[vpn] = ft
	return 0
}

// InMmapChunk reports whether vpn falls in one of this address
// space's non-heap chunk areas without a frame yet, the third branch
// of spec.md §4.4's page-fault triage.
func (as *AddressSpace) InMmapChunk(vpn mem.VPN) bool {
	for _, ca := range as.ChunkAreas {
		if ca == as.heap {
			continue
		}
		if ca.contains(vpn) {
			_, already := ca.frames[vpn]
			return !already
		}
	}
	return false
}

func (as *AddressSpace) insertFramedCopying(start, end mem.VPN, perm Perm, vaddr uint64, data []byte) error {
	ma := newMapArea(Framed, start, end, perm)
	for vpn := start; vpn < end; vpn++ {
		ft, ok := mem.NewFrameTracker(as.alloc, as.phys)
		if !ok {
			return fmt.Errorf("vm: out of frames mapping ELF segment")
		}
		pageVA := vpn.VirtAddr()
		segEndByte := vaddr + uint64(len(data))
		if pageVA < segEndByte {
			pageStart := pageVA
			if pageStart < vaddr {
				pageStart = vaddr
			}
			pageEnd := pageVA + mem.PageSize
			if pageEnd > segEndByte {
				pageEnd = segEndByte
			}
			if pageEnd > pageStart {
				srcOff := pageStart - vaddr
				dstOff := pageStart - pageVA
				copy(ft.Bytes()[dstOff:], data[srcOff:srcOff+(pageEnd-pageStart)])
			}
		}
		as.PageTable.Map(vpn, ft.PPN(), perm.pte()|PTEUser)
		ma.frames[vpn] = ft
	}
	as.MapAreas = append(as.MapAreas, ma)
	return nil
}

// InsertFramedArea maps a fresh, zero-filled Framed area over
// [start, end) with the given permissions (spec.md §4.3).
func (as *AddressSpace) InsertFramedArea(start, end mem.VPN, perm Perm) error {
	ma := newMapArea(Framed, start, end, perm)
	for vpn := start; vpn < end; vpn++ {
		ft, ok := mem.NewFrameTracker(as.alloc, as.phys)
		if !ok {
			return fmt.Errorf("vm: out of frames inserting framed area")
		}
		as.PageTable.Map(vpn, ft.PPN(), perm.pte()|PTEUser)
		ma.frames[vpn] = ft
	}
	as.MapAreas = append(as.MapAreas, ma)
	return nil
}

// RemoveAreaWithStartVPN unmaps and frees the Framed area whose
// range begins at start, used by munmap and area teardown.
func (as *AddressSpace) RemoveAreaWithStartVPN(start mem.VPN) bool {
	for i, ma := range as.MapAreas {
		if ma.StartVPN == start {
			for vpn, ft := range ma.frames {
				as.PageTable.Unmap(vpn)
				ft.Free()
			}
			as.MapAreas = append(as.MapAreas[:i], as.MapAreas[i+1:]...)
			return true
		}
	}
	for i, ca := range as.ChunkAreas {
		if ca.StartVPN == start {
			for vpn, ft := range ca.frames {
				as.PageTable.Unmap(vpn)
				ft.Free()
			}
			as.ChunkAreas = append(as.ChunkAreas[:i], as.ChunkAreas[i+1:]...)
			return true
		}
	}
	return false
}

func (as *AddressSpace) mapTrapContext() error {
	ft, ok := mem.NewFrameTracker(as.alloc, as.phys)
	if !ok {
		return fmt.Errorf("vm: out of frames mapping trap context")
	}
	vpn := mem.VPNOf(mem.TrapContext)
	as.PageTable.Map(vpn, ft.PPN(), PTERead|PTEWrite)
	ma := newMapArea(Framed, vpn, vpn+1, PermRead|PermWrite)
	ma.frames[vpn] = ft
	as.MapAreas = append(as.MapAreas, ma)
	return nil
}

// InsertMmapArea reserves [start, end) as a file-backed (or
// anonymous, when file is nil) chunk area, populated lazily via
// LazyMmap on first fault (spec.md §4.3, §4.4).
func (as *AddressSpace) InsertMmapArea(start, end mem.VPN, perm Perm, file MmapFile, fileOffset int64) {
	ca := newChunkArea(start, end, perm)
	ca.file = file
	ca.fileOffset = fileOffset
	as.ChunkAreas = append(as.ChunkAreas, ca)
}

// LazyMmap locates the chunk area containing va, allocates one
// frame, maps just that VPN, and — if the area is file-backed —
// populates the page from the file (spec.md §4.3, §4.4).
func (as *AddressSpace) LazyMmap(va uint64) defs.Err_t {
	vpn := mem.VPNOf(va)
	for _, ca := range as.ChunkAreas {
		if !ca.contains(vpn) {
			continue
		}
		if _, already := ca.frames[vpn]; already {
			return 0
		}
		ft, ok := mem.NewFrameTracker(as.alloc, as.phys)
		if !ok {
			return -defs.ENOMEM
		}
		if ca.file != nil {
			off := ca.fileOffset + int64(vpn-ca.StartVPN)*mem.PageSize
			if _, err := ca.file.ReadAt(ft.Bytes(), off); err != nil {
				// Short/failed reads leave the rest of the
				// zero-filled page as-is, matching demand paging
				// past EOF.
				_ = err
			}
		}
		as.PageTable.Map(vpn, ft.PPN(), ca.Perm.pte()|PTEUser)
		ca.frames[vpn] = ft
		return 0
	}
	return -defs.EFAULT
}

// WriteUser copies data into this address space's user memory
// starting at va, crossing page boundaries as needed. Used by exec()
// to push argv/envv/auxv onto the new user stack (spec.md §4.6).
func (as *AddressSpace) WriteUser(va uint64, data []byte) error {
	for len(data) > 0 {
		pageOff := va & mem.PageOffsetMask
		n := mem.PageSize - int(pageOff)
		if n > len(data) {
			n = len(data)
		}
		vpn := mem.VPNOf(va)
		pte, ok := as.PageTable.Translate(vpn)
		if !ok || pte&PTEValid == 0 {
			return fmt.Errorf("vm: WriteUser: unmapped vpn %#x", vpn)
		}
		ppn := mem.PPN(pte >> ptePPNShift)
		copy(as.phys.Frame(ppn)[pageOff:], data[:n])
		data = data[n:]
		va += uint64(n)
	}
	return nil
}

// ReadUser copies n bytes out of this address space's user memory
// starting at va into a freshly allocated host buffer, crossing page
// boundaries as needed. The "user buffer" abstraction spec.md §4.4
// asks every pointer-taking syscall argument to go through.
func (as *AddressSpace) ReadUser(va uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	dst := out
	for len(dst) > 0 {
		pageOff := va & mem.PageOffsetMask
		chunk := mem.PageSize - int(pageOff)
		if chunk > len(dst) {
			chunk = len(dst)
		}
		vpn := mem.VPNOf(va)
		pte, ok := as.PageTable.Translate(vpn)
		if !ok || pte&PTEValid == 0 {
			return nil, fmt.Errorf("vm: ReadUser: unmapped vpn %#x", vpn)
		}
		ppn := mem.PPN(pte >> ptePPNShift)
		copy(dst[:chunk], as.phys.Frame(ppn)[pageOff:])
		dst = dst[chunk:]
		va += uint64(chunk)
	}
	return out, nil
}

// ReadUserString reads a NUL-terminated string starting at va, one
// page-crossing chunk at a time, stopping at the first zero byte or
// maxLen bytes (whichever comes first).
func (as *AddressSpace) ReadUserString(va uint64, maxLen int) (string, error) {
	var out []byte
	for len(out) < maxLen {
		pageOff := va & mem.PageOffsetMask
		chunk := mem.PageSize - int(pageOff)
		if chunk > maxLen-len(out) {
			chunk = maxLen - len(out)
		}
		b, err := as.ReadUser(va, chunk)
		if err != nil {
			return "", err
		}
		if i := indexZero(b); i >= 0 {
			out = append(out, b[:i]...)
			return string(out), nil
		}
		out = append(out, b...)
		va += uint64(chunk)
	}
	return string(out), nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// RecycleDataPages frees every data frame this address space owns but
// leaves the page table itself intact, per spec.md §4.6's
// exit_current_and_run_next: a zombie's page-table frames stay live
// until its parent reaps it with wait.
func (as *AddressSpace) RecycleDataPages() {
	for _, ma := range as.MapAreas {
		for vpn, ft := range ma.frames {
			if ma.Policy == Framed {
				as.PageTable.Unmap(vpn)
				ft.Free()
			}
		}
	}
	for _, ca := range as.ChunkAreas {
		for vpn, ft := range ca.frames {
			as.PageTable.Unmap(vpn)
			ft.Free()
		}
	}
	as.MapAreas = nil
	as.ChunkAreas = nil
}

// Destroy tears down every owned frame and the page table itself,
// used when a process exits or exec replaces its address space.
func (as *AddressSpace) Destroy() {
	for _, ma := range as.MapAreas {
		for vpn, ft := range ma.frames {
			if ma.Policy == Framed {
				as.PageTable.Unmap(vpn)
				ft.Free()
			}
		}
	}
	for _, ca := range as.ChunkAreas {
		for vpn, ft := range ca.frames {
			as.PageTable.Unmap(vpn)
			ft.Free()
		}
	}
	as.MapAreas = nil
	as.ChunkAreas = nil
	as.PageTable.Destroy()
}
