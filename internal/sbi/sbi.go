// Package sbi is the firmware collaborator contract spec.md §6
// treats as external: "SBI calls (console I/O, timer, shutdown)" are
// out of the hard core's scope, so this package only fixes the
// interface the kernel calls through, the same role sbi.rs plays in
// original_source relative to RustSBI.
package sbi

// Firmware is the set of SBI services the kernel calls through
// __alltraps-adjacent code: setting the next timer interrupt,
// character console I/O, and shutdown. A freestanding build wires
// this to ecall trampolines; the hosted build wires it to whatever
// stands in for firmware locally (HostFirmware, which cmd/rvkernel
// installs).
type Firmware interface {
	SetTimer(ticks uint64)
	ConsolePutchar(c byte)
	ConsoleGetchar() (byte, bool)
	Shutdown()
}

var current Firmware = noop{}

// Install sets the active firmware collaborator. Called once during
// boot by cmd/rvkernel.
func Install(f Firmware) { current = f }

func SetTimer(ticks uint64)     { current.SetTimer(ticks) }
func ConsolePutchar(c byte)     { current.ConsolePutchar(c) }
func ConsoleGetchar() (byte, bool) { return current.ConsoleGetchar() }
func Shutdown()                { current.Shutdown() }

type noop struct{}

func (noop) SetTimer(uint64)          {}
func (noop) ConsolePutchar(byte)      {}
func (noop) ConsoleGetchar() (byte, bool) { return 0, false }
func (noop) Shutdown()                {}
