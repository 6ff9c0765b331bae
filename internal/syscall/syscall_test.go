package syscall

import (
	"testing"

	"github.com/jklincn/rvkernel/internal/blockdev"
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/elfload"
	"github.com/jklincn/rvkernel/internal/fat32"
	"github.com/jklincn/rvkernel/internal/mem"
	"github.com/jklincn/rvkernel/internal/proc"
	"github.com/jklincn/rvkernel/internal/trap"
	"github.com/jklincn/rvkernel/internal/vfat"
)

// formatTestVolume writes a minimal bootable FAT32 image, mirroring
// vfat's own test helper (unexported there, so duplicated here for a
// package that needs a mounted root from outside package vfat).
func formatTestVolume(t *testing.T) blockdev.Device {
	t.Helper()
	const (
		totalSectors = 4096
		secPerClus   = 1
		fatSz        = 8
		rsvd         = 32
	)
	dev := blockdev.NewMemDevice(totalSectors)

	bs := &fat32.BootSector{
		BytesPerSec: 512,
		SecPerClus:  secPerClus,
		RsvdSecCnt:  rsvd,
		NumFATs:     2,
		FATSz32:     fatSz,
		RootClus:    2,
		FSInfoSec:   1,
		VolID:       0xdeadbeef,
	}
	var sec [512]byte
	bs.Encode(sec[:])
	mustWrite(t, dev, 0, sec[:])

	var fsi [512]byte
	copy(fsi[0:4], []byte{0x52, 0x52, 0x61, 0x41})
	copy(fsi[484:488], []byte{0x72, 0x72, 0x41, 0x61})
	writeLE32(fsi[488:492], 0xFFFFFFFF)
	writeLE32(fsi[492:496], 3)
	mustWrite(t, dev, 1, fsi[:])

	var fatSec [512]byte
	writeLE32(fatSec[8:12], fat32.EndCluster)
	mustWrite(t, dev, bs.FAT1Sector(), fatSec[:])
	mustWrite(t, dev, bs.FAT2Sector(), fatSec[:])

	var zero [512]byte
	mustWrite(t, dev, bs.FirstSectorOfCluster(2), zero[:])
	return dev
}

func mustWrite(t *testing.T, dev blockdev.Device, sector uint64, buf []byte) {
	t.Helper()
	if err := dev.WriteBlock(sector, buf); err != nil {
		t.Fatal(err)
	}
}

func writeLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func readLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func newTestKernel(t *testing.T) (*Kernel, *proc.Tcb) {
	t.Helper()
	dev := formatTestVolume(t)
	_, root, err := vfat.Mount(dev)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	phys := mem.NewPhysMem(0, 512)
	alloc := mem.NewFrameAllocator(phys)
	img := &elfload.Image{Entry: 0x1000, Segments: []elfload.Segment{
		{VAddr: 0x1000, MemSize: mem.PageSize, Data: []byte{0x13, 0, 0, 0}, Readable: true, Executable: true},
	}}
	mgr := proc.NewManager()
	task, err := proc.NewInitialTask(mgr, img, alloc, phys)
	if err != nil {
		t.Fatalf("NewInitialTask: %v", err)
	}

	sched := proc.NewScheduler(mgr, func(*proc.Tcb) (trap.Cause, mem.VPN) { panic("not used") }, func() (*proc.Tcb, bool) {
		return task, true
	})
	k := &Kernel{
		Sched: sched,
		Root:  root,
		Alloc: alloc,
		Phys:  phys,
		LoadELF: func(r *vfat.VFile, comps []string) ([]byte, error) {
			f, ok, err := r.FindByPath(comps)
			if err != nil || !ok {
				return nil, err
			}
			buf := make([]byte, f.FileSize())
			_, err = f.ReadAt(0, buf)
			return buf, err
		},
	}
	return k, task
}

// writeAtVA writes raw bytes into t's address space at va, a test
// stand-in for a user program placing a string/pointer before a
// syscall: openat's path argument, pipe2's fds-out pointer, and so on
// all need a mapped VA to read from/write to, but this package's own
// pages are all code (perm: R|X); reuse the mapped text page's data
// bytes via WriteUser directly since it never enforces W-permission on
// the host side.
func writeAtVA(t *testing.T, tcb *proc.Tcb, va uint64, data []byte) {
	t.Helper()
	if err := tcb.AS.WriteUser(va, data); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
}

const scratchVA = 0x1000 + 0x800

func TestOpenReadWriteCloseRoundTrip(t *testing.T) {
	k, tcb := newTestKernel(t)

	pathVA := uint64(scratchVA)
	writeAtVA(t, tcb, pathVA, append([]byte("/hello.txt"), 0))

	fd := k.Dispatch(SysOpenat, [6]uint64{0, pathVA, oCREAT | oRDWR, 0})
	if fd < 0 {
		t.Fatalf("openat: %d", fd)
	}

	payload := []byte("hi there")
	bufVA := pathVA + 64
	writeAtVA(t, tcb, bufVA, payload)

	n := k.Dispatch(SysWrite, [6]uint64{uint64(fd), bufVA, uint64(len(payload)), 0, 0, 0})
	if n != int64(len(payload)) {
		t.Fatalf("write returned %d, want %d", n, len(payload))
	}

	if rc := k.Dispatch(SysLseek, [6]uint64{uint64(fd), 0, 0, 0}); rc != 0 {
		t.Fatalf("lseek SEEK_SET: %d", rc)
	}

	readVA := bufVA + 64
	nr := k.Dispatch(SysRead, [6]uint64{uint64(fd), readVA, uint64(len(payload)), 0, 0, 0})
	if nr != int64(len(payload)) {
		t.Fatalf("read returned %d, want %d", nr, len(payload))
	}
	got, err := tcb.AS.ReadUser(readVA, len(payload))
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, payload)
	}

	if rc := k.Dispatch(SysClose, [6]uint64{uint64(fd), 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("close: %d", rc)
	}
}

func TestPipe2FIFOOrder(t *testing.T) {
	k, tcb := newTestKernel(t)

	fdsVA := uint64(scratchVA)
	if rc := k.Dispatch(SysPipe2, [6]uint64{fdsVA, 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("pipe2: %d", rc)
	}
	raw, err := tcb.AS.ReadUser(fdsVA, 8)
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	rfd := int64(readLE32(raw[0:4]))
	wfd := int64(readLE32(raw[4:8]))

	payload := []byte("ping")
	bufVA := fdsVA + 64
	writeAtVA(t, tcb, bufVA, payload)
	if n := k.Dispatch(SysWrite, [6]uint64{uint64(wfd), bufVA, uint64(len(payload)), 0, 0, 0}); n != int64(len(payload)) {
		t.Fatalf("pipe write: %d", n)
	}

	readVA := bufVA + 64
	if n := k.Dispatch(SysRead, [6]uint64{uint64(rfd), readVA, uint64(len(payload)), 0, 0, 0}); n != int64(len(payload)) {
		t.Fatalf("pipe read: %d", n)
	}
	got, err := tcb.AS.ReadUser(readVA, len(payload))
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("pipe roundtrip mismatch: got %q want %q", got, payload)
	}
}

func TestMkdirChdirGetcwd(t *testing.T) {
	k, tcb := newTestKernel(t)

	pathVA := uint64(scratchVA)
	writeAtVA(t, tcb, pathVA, append([]byte("/sub"), 0))
	if rc := k.Dispatch(SysMkdirat, [6]uint64{0, pathVA, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("mkdirat: %d", rc)
	}
	if rc := k.Dispatch(SysChdir, [6]uint64{pathVA, 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("chdir: %d", rc)
	}

	bufVA := pathVA + 64
	rc := k.Dispatch(SysGetcwd, [6]uint64{bufVA, 16, 0, 0, 0, 0})
	if rc < 0 {
		t.Fatalf("getcwd: %d", rc)
	}
	got, err := tcb.AS.ReadUserString(bufVA, 16)
	if err != nil {
		t.Fatalf("ReadUserString: %v", err)
	}
	if got != "/sub" {
		t.Fatalf("getcwd returned %q, want /sub", got)
	}
}

func TestRenameat2SameDirectory(t *testing.T) {
	k, tcb := newTestKernel(t)

	oldVA := uint64(scratchVA)
	writeAtVA(t, tcb, oldVA, append([]byte("/old.txt"), 0))
	fd := k.Dispatch(SysOpenat, [6]uint64{0, oldVA, oCREAT | oRDWR, 0})
	if fd < 0 {
		t.Fatalf("openat: %d", fd)
	}
	payload := []byte("renamed-ok")
	bufVA := oldVA + 64
	writeAtVA(t, tcb, bufVA, payload)
	if n := k.Dispatch(SysWrite, [6]uint64{uint64(fd), bufVA, uint64(len(payload)), 0, 0, 0}); n != int64(len(payload)) {
		t.Fatalf("write: %d", n)
	}
	k.Dispatch(SysClose, [6]uint64{uint64(fd), 0, 0, 0, 0, 0})

	newVA := bufVA + 64
	writeAtVA(t, tcb, newVA, append([]byte("/new.txt"), 0))
	if rc := k.Dispatch(SysRenameat2, [6]uint64{0, oldVA, 0, newVA, 0, 0}); rc != 0 {
		t.Fatalf("renameat2: %d", rc)
	}

	if rc := k.Dispatch(SysOpenat, [6]uint64{0, oldVA, 0, 0, 0, 0}); rc != int64(-defs.ENOENT) {
		t.Fatalf("expected old.txt gone (-ENOENT), got %d", rc)
	}

	newFd := k.Dispatch(SysOpenat, [6]uint64{0, newVA, 0, 0, 0, 0})
	if newFd < 0 {
		t.Fatalf("openat new.txt: %d", newFd)
	}
	readVA := newVA + 64
	nr := k.Dispatch(SysRead, [6]uint64{uint64(newFd), readVA, uint64(len(payload)), 0, 0, 0})
	if nr != int64(len(payload)) {
		t.Fatalf("read returned %d, want %d", nr, len(payload))
	}
	got, err := tcb.AS.ReadUser(readVA, len(payload))
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("renamed file content mismatch: got %q want %q", got, payload)
	}
}

func TestRenameat2CrossDirectoryRejected(t *testing.T) {
	k, tcb := newTestKernel(t)

	subVA := uint64(scratchVA)
	writeAtVA(t, tcb, subVA, append([]byte("/sub"), 0))
	if rc := k.Dispatch(SysMkdirat, [6]uint64{0, subVA, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("mkdirat: %d", rc)
	}

	oldVA := subVA + 64
	writeAtVA(t, tcb, oldVA, append([]byte("/old.txt"), 0))
	fd := k.Dispatch(SysOpenat, [6]uint64{0, oldVA, oCREAT | oRDWR, 0})
	if fd < 0 {
		t.Fatalf("openat: %d", fd)
	}
	k.Dispatch(SysClose, [6]uint64{uint64(fd), 0, 0, 0, 0, 0})

	newVA := oldVA + 64
	writeAtVA(t, tcb, newVA, append([]byte("/sub/old.txt"), 0))
	if rc := k.Dispatch(SysRenameat2, [6]uint64{0, oldVA, 0, newVA, 0, 0}); rc != int64(-defs.EXDEV) {
		t.Fatalf("expected -EXDEV for a cross-directory rename, got %d", rc)
	}
}

func TestMmapAdvancesAndMunmap(t *testing.T) {
	k, tcb := newTestKernel(t)

	base := k.Dispatch(SysMmap, [6]uint64{0, mem.PageSize, protRead | protWrite, 0, 0, 0})
	if base <= 0 {
		t.Fatalf("mmap: %d", base)
	}
	if base2 := k.Dispatch(SysMmap, [6]uint64{0, mem.PageSize, protRead, 0, 0, 0}); base2 <= base {
		t.Fatalf("second mmap did not advance past the first: %d vs %d", base2, base)
	}
	if rc := k.Dispatch(SysMunmap, [6]uint64{uint64(base), mem.PageSize, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("munmap: %d", rc)
	}
	if rc := k.Dispatch(SysMunmap, [6]uint64{uint64(base), mem.PageSize, 0, 0, 0, 0}); rc == 0 {
		t.Fatalf("munmap on an already-removed area should fail")
	}
	_ = tcb
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	k, _ := newTestKernel(t)
	if rc := k.Dispatch(999999, [6]uint64{}); rc != int64(-defs.ENOSYS) {
		t.Fatalf("expected -ENOSYS, got %d", rc)
	}
}
