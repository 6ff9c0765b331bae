// Package mem implements the physical frame allocator (spec §4.1) and
// the physical-memory window backing every address space's page
// tables and data pages. It is grounded on Biscuit's mem.Physmem_t
// (biscuit/src/mem/mem.go), simplified to the bump+recycled-stack
// policy spec.md §4.1 calls for instead of Biscuit's per-CPU
// refcounted free lists (this kernel is single-hart, so per-CPU free
// lists buy nothing).
package mem

// PageShift is the base-2 exponent of the page size.
const PageShift = 12

// PageSize is the size of a frame/page in bytes.
const PageSize = 1 << PageShift

// PageOffsetMask masks the in-page offset of a virtual or physical
// address.
const PageOffsetMask = PageSize - 1

// Sv39 VPN field layout: three 9-bit indices above a 12-bit offset.
const (
	VPNBits   = 9
	VPNLevels = 3
)

// Memory map constants (spec.md §6). TRAMPOLINE sits at the very top
// of the 39-bit sign-extended user/kernel virtual address space; all
// address spaces map it identically.
const (
	Trampoline  = ^uint64(0) - PageSize + 1
	TrapContext = Trampoline - PageSize
)

// KernelStackSize is the size of one task's kernel stack, excluding
// its guard page.
const KernelStackSize = 2 * PageSize

// MmapBase is the fixed virtual address at which the mmap region
// begins in every user address space (spec.md §6).
const MmapBase = uint64(0x0000_0020_0000_0000)

// PPN is a physical page number (physical address >> PageShift).
type PPN uint64

// VPN is a virtual page number (virtual address >> PageShift).
type VPN uint64

// PhysAddr converts a PPN to the byte address of its first byte.
func (p PPN) PhysAddr() uint64 { return uint64(p) << PageShift }

// VirtAddr converts a VPN to the byte address of its first byte.
func (v VPN) VirtAddr() uint64 { return uint64(v) << PageShift }

// PPNOf truncates a physical byte address down to its page number.
func PPNOf(pa uint64) PPN { return PPN(pa >> PageShift) }

// VPNOf truncates a virtual byte address down to its page number.
func VPNOf(va uint64) VPN { return VPN(va >> PageShift) }

// VPNFloor/VPNCeil round a half-open byte range down/up to page
// boundaries, used when carving out map areas (spec.md §3, Map area).
func VPNFloor(va uint64) VPN { return VPN(va >> PageShift) }
func VPNCeil(va uint64) VPN  { return VPN((va + PageOffsetMask) >> PageShift) }
