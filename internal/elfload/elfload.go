// Package elfload is the ELF-loader collaborator spec.md §1 treats
// as external: "the ELF loader's parsing details" are out of scope
// for the hard core, so this package only needs to expose the
// contract internal/vm.FromELF consumes (PT_LOAD segments, entry
// point), not reimplement one. It is a thin wrapper over the
// standard library's debug/elf, the idiomatic choice for parsing ELF
// in hosted Go — the rest of this repo runs the kernel's
// data-structure logic outside of the freestanding/bare-metal build
// the real trampoline and linker script belong to.
package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
)

// Segment is one PT_LOAD program header, with its file-backed bytes
// already read into memory (short relative to MemSize when the
// segment has a larger .bss tail).
type Segment struct {
	VAddr                          uint64
	MemSize                        uint64
	Data                           []byte
	Readable, Writable, Executable bool
}

// Image is a fully parsed ELF executable ready to be mapped into a
// fresh user address space.
type Image struct {
	Segments []Segment
	Entry    uint64
}

// Parse reads the PT_LOAD segments and entry point out of an ELF64
// RISC-V executable.
func Parse(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("elfload: %w", err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elfload: only 64-bit ELF is supported")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfload: expected EM_RISCV, got %v", f.Machine)
	}

	img := &Image{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return nil, fmt.Errorf("elfload: reading PT_LOAD segment: %w", err)
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:      prog.Vaddr,
			MemSize:    prog.Memsz,
			Data:       data,
			Readable:   prog.Flags&elf.PF_R != 0,
			Writable:   prog.Flags&elf.PF_W != 0,
			Executable: prog.Flags&elf.PF_X != 0,
		})
	}
	return img, nil
}
