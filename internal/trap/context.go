// Package trap implements the U<->S trap context layout and
// classification/dispatch logic of spec.md §4.4. The actual
// __alltraps/__restore trampoline assembly and the satp/sstatus CSR
// manipulation it performs belong to the bare-metal build; this
// package is the part of the contract expressible as portable Go —
// the fixed-layout context struct trap/context.rs in original_source
// defines, and the classify-then-dispatch state machine trap/mod.rs
// drives.
package trap

import "encoding/binary"

// Context is the 34-word trap-context layout spec.md §6 fixes:
// x0..x31 as 8-byte words, sstatus, sepc, plus the kernel hand-off
// fields appended by spec.md §3 (kernel AS token, kernel stack top,
// trap-handler VA). This layout must not change without updating the
// trampoline assembly that reads and writes it at a raw offset.
type Context struct {
	X             [32]uint64
	Sstatus       uint64
	Sepc          uint64
	KernelSatp    uint64
	KernelSP      uint64
	TrapHandlerVA uint64
}

const numWords = 34 // X[0..31], Sstatus, Sepc == 34 words through Sepc

// Offsets, in 8-byte words, matching spec.md §6's "Trap-context
// layout" table exactly.
const (
	OffSstatus       = 32
	OffSepc          = 33
	OffKernelSatp    = 34
	OffKernelSP      = 35
	OffTrapHandlerVA = 36
)

// Size is the byte size of the on-disk/in-memory trap context, used
// to size the TRAP_CONTEXT page mapping.
const Size = 37 * 8

// Encode serializes the context into the fixed little-endian layout
// the trampoline assembly expects.
func (c *Context) Encode(buf []byte) {
	if len(buf) < Size {
		panic("trap: buffer too small for trap context")
	}
	for i, v := range c.X {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	binary.LittleEndian.PutUint64(buf[OffSstatus*8:], c.Sstatus)
	binary.LittleEndian.PutUint64(buf[OffSepc*8:], c.Sepc)
	binary.LittleEndian.PutUint64(buf[OffKernelSatp*8:], c.KernelSatp)
	binary.LittleEndian.PutUint64(buf[OffKernelSP*8:], c.KernelSP)
	binary.LittleEndian.PutUint64(buf[OffTrapHandlerVA*8:], c.TrapHandlerVA)
}

// Decode reconstructs a Context from its serialized byte layout.
func Decode(buf []byte) *Context {
	if len(buf) < Size {
		panic("trap: buffer too small for trap context")
	}
	c := &Context{}
	for i := range c.X {
		c.X[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	c.Sstatus = binary.LittleEndian.Uint64(buf[OffSstatus*8:])
	c.Sepc = binary.LittleEndian.Uint64(buf[OffSepc*8:])
	c.KernelSatp = binary.LittleEndian.Uint64(buf[OffKernelSatp*8:])
	c.KernelSP = binary.LittleEndian.Uint64(buf[OffKernelSP*8:])
	c.TrapHandlerVA = binary.LittleEndian.Uint64(buf[OffTrapHandlerVA*8:])
	return c
}

// AppInit builds the initial trap context for a freshly exec'd
// process: all GPRs zero except sp (the stack pointer, register x2
// in RISC-V calling convention terms) and sepc (the entry point), with
// sstatus's SPP bit clear (return to U-mode) and SPIE set (interrupts
// were enabled before the trap).
func AppInit(entry, userSP, kernelSatp, kernelSP, trapHandlerVA uint64) *Context {
	c := &Context{}
	c.X[2] = userSP // sp
	c.Sepc = entry
	c.Sstatus = sstatusSPIE
	c.KernelSatp = kernelSatp
	c.KernelSP = kernelSP
	c.TrapHandlerVA = trapHandlerVA
	return c
}

const sstatusSPIE = 1 << 5

// A0..A7 index the RISC-V integer argument/return registers within
// Context.X, used by the syscall dispatch path (spec.md §4.4: "args
// from a0..a5", "syscall number from a7").
const (
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA3 = 13
	RegA4 = 14
	RegA5 = 15
	RegA7 = 17
)
