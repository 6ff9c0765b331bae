package sbi

import (
	"bufio"
	"io"
	"os"
	"time"
)

// HostFirmware stands in for RustSBI on the hosted build: console I/O
// goes to the process's own stdio, the timer is a wall-clock ticker,
// and shutdown just exits. cmd/rvctl's Firecracker path is the
// out-of-process analogue of this for a real boot; HostFirmware is
// what cmd/rvkernel installs when running without a hypervisor.
type HostFirmware struct {
	in     *bufio.Reader
	out    io.Writer
	ticker *time.Timer
	onTick func()
}

// NewHostFirmware wires stdio as the console and onTick as the
// handler invoked once per SetTimer deadline.
func NewHostFirmware(onTick func()) *HostFirmware {
	return &HostFirmware{in: bufio.NewReader(os.Stdin), out: os.Stdout, onTick: onTick}
}

func (h *HostFirmware) SetTimer(ticks uint64) {
	if h.ticker != nil {
		h.ticker.Stop()
	}
	d := time.Duration(ticks) * time.Microsecond
	h.ticker = time.AfterFunc(d, func() {
		if h.onTick != nil {
			h.onTick()
		}
	})
}

func (h *HostFirmware) ConsolePutchar(c byte) {
	h.out.Write([]byte{c})
}

func (h *HostFirmware) ConsoleGetchar() (byte, bool) {
	b, err := h.in.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

func (h *HostFirmware) Shutdown() {
	if h.ticker != nil {
		h.ticker.Stop()
	}
	os.Exit(0)
}
