package syscall

import (
	"github.com/jklincn/rvkernel/internal/defs"
	"github.com/jklincn/rvkernel/internal/fat32"
	"github.com/jklincn/rvkernel/internal/fileio"
	"github.com/jklincn/rvkernel/internal/proc"
	"github.com/jklincn/rvkernel/internal/vfat"
)

// open(2) flag bits, matching the Linux RISC-V values the ABI in
// spec.md §6 targets.
const (
	oWRONLY   = 0x1
	oRDWR     = 0x2
	oCREAT    = 0x40
	oDIRECTORY = 0x200000
)

const maxPathLen = 4096

func (k *Kernel) readPath(t *proc.Tcb, ptr uint64) (string, defs.Err_t) {
	s, err := t.AS.ReadUserString(ptr, maxPathLen)
	if err != nil {
		return "", -defs.EFAULT
	}
	return s, 0
}

// resolveParent walks comps[:len-1] from root, returning the
// directory VFile that should contain comps[len-1] plus that final
// name. An empty comps means the root directory itself.
func resolveParent(root *vfat.VFile, comps []string) (*vfat.VFile, string, bool) {
	if len(comps) == 0 {
		return root, "", false
	}
	dir := root
	for _, c := range comps[:len(comps)-1] {
		next, ok, err := dir.FindByName(c)
		if err != nil || !ok || !next.IsDir() {
			return nil, "", false
		}
		dir = next
	}
	return dir, comps[len(comps)-1], true
}

func (k *Kernel) sysOpenat(t *proc.Tcb, pathPtr, flags, mode uint64) int64 {
	path, perr := k.readPath(t, pathPtr)
	if perr != 0 {
		return int64(perr)
	}
	comps := resolve(t, path)
	vf, ok, err := k.Root.FindByPath(comps)
	if err != nil {
		return int64(-defs.EINVAL)
	}
	if !ok {
		if flags&oCREAT == 0 {
			return int64(-defs.ENOENT)
		}
		parent, name, pok := resolveParent(k.Root, comps)
		if !pok {
			return int64(-defs.ENOENT)
		}
		attr := uint8(fat32.AttrArchive)
		if flags&oDIRECTORY != 0 {
			attr = fat32.AttrDirectory
		}
		created, cerr := parent.Create(name, attr)
		if cerr != nil {
			return int64(-defs.ENOSPC)
		}
		vf = created
	}

	fflags := 0
	switch flags & 0x3 {
	case oWRONLY:
		fflags = fileio.FlagWrite
	case oRDWR:
		fflags = fileio.FlagRead | fileio.FlagWrite
	default:
		fflags = fileio.FlagRead
	}
	fd := t.Fds.Install(fileio.NewRegular(vf, fflags), false)
	return int64(fd)
}

func (k *Kernel) sysRead(t *proc.Tcb, fd defs.Fdnum_t, bufPtr, n uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	staging := make([]byte, n)
	nr, err := f.Read(staging)
	if err == -defs.EAGAIN {
		// Suspension point (b), spec.md §4.11: requeue so another
		// ready task gets a turn before the caller's retry loop tries
		// the read again.
		k.Sched.SuspendCurrentAndRunNext(t)
		return int64(err)
	}
	if err != 0 {
		return int64(err)
	}
	if nr > 0 {
		if werr := t.AS.WriteUser(bufPtr, staging[:nr]); werr != nil {
			return int64(-defs.EFAULT)
		}
	}
	return int64(nr)
}

func (k *Kernel) sysWrite(t *proc.Tcb, fd defs.Fdnum_t, bufPtr, n uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	data, rerr := t.AS.ReadUser(bufPtr, int(n))
	if rerr != nil {
		return int64(-defs.EFAULT)
	}
	nw, err := f.Write(data)
	if err == -defs.EAGAIN {
		k.Sched.SuspendCurrentAndRunNext(t) // suspension point (c)
		return int64(err)
	}
	if err != 0 {
		return int64(err)
	}
	return int64(nw)
}

func (k *Kernel) sysPipe2(t *proc.Tcb, fdsPtr uint64) int64 {
	r, w := fileio.NewPipe()
	rfd := t.Fds.Install(r, false)
	wfd := t.Fds.Install(w, false)
	var b [8]byte
	b[0], b[1], b[2], b[3] = byte(rfd), byte(rfd>>8), byte(rfd>>16), byte(rfd>>24)
	b[4], b[5], b[6], b[7] = byte(wfd), byte(wfd>>8), byte(wfd>>16), byte(wfd>>24)
	if err := t.AS.WriteUser(fdsPtr, b[:]); err != nil {
		return int64(-defs.EFAULT)
	}
	return 0
}

func (k *Kernel) sysFstat(t *proc.Tcb, fd defs.Fdnum_t, stPtr uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	var st fileio.Kstat
	if err := f.Fstat(&st); err != 0 {
		return int64(err)
	}
	buf := make([]byte, 32)
	putU64(buf[0:], uint64(st.Ino))
	putU32(buf[8:], st.Mode)
	putU32(buf[12:], st.Nlink)
	putU64(buf[24:], uint64(st.Size))
	if err := t.AS.WriteUser(stPtr, buf); err != nil {
		return int64(-defs.EFAULT)
	}
	return 0
}

func (k *Kernel) sysLseek(t *proc.Tcb, fd defs.Fdnum_t, off int64, whence uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	var base int64
	switch whence {
	case 0: // SEEK_SET
		base = 0
	case 1: // SEEK_CUR
		base = f.Offset()
	case 2: // SEEK_END
		size, err := f.FileSize()
		if err != 0 {
			return int64(err)
		}
		base = size
	default:
		return int64(-defs.EINVAL)
	}
	newOff := base + off
	if newOff < 0 {
		return int64(-defs.EINVAL)
	}
	f.SetOffset(newOff)
	return newOff
}

func (k *Kernel) sysGetdents64(t *proc.Tcb, fd defs.Fdnum_t, bufPtr, n uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	reg, ok := f.(*fileio.Regular)
	if !ok {
		return int64(-defs.ENOTDIR)
	}
	vf := reg.VFile()
	if !vf.IsDir() {
		return int64(-defs.ENOTDIR)
	}
	entries, err := vf.Ls()
	if err != nil {
		return int64(-defs.EINVAL)
	}
	var out []byte
	for _, e := range entries {
		rec := make([]byte, 19+len(e.Name)+1)
		putU64(rec[8:], 1) // d_off, unused by callers that just iterate
		putU32(rec[16:], uint32(len(rec)))
		rec[18] = direntType(e.Attr)
		copy(rec[19:], e.Name)
		if uint64(len(out)+len(rec)) > n {
			break
		}
		out = append(out, rec...)
	}
	if err := t.AS.WriteUser(bufPtr, out); err != nil {
		return int64(-defs.EFAULT)
	}
	return int64(len(out))
}

func direntType(attr uint8) byte {
	if attr&fat32.AttrDirectory != 0 {
		return 4 // DT_DIR
	}
	return 8 // DT_REG
}

func (k *Kernel) sysMkdirat(t *proc.Tcb, pathPtr uint64) int64 {
	path, perr := k.readPath(t, pathPtr)
	if perr != 0 {
		return int64(perr)
	}
	comps := resolve(t, path)
	parent, name, ok := resolveParent(k.Root, comps)
	if !ok {
		return int64(-defs.ENOENT)
	}
	if _, err := parent.Create(name, fat32.AttrDirectory); err != nil {
		return int64(-defs.ENOSPC)
	}
	return 0
}

func (k *Kernel) sysUnlinkat(t *proc.Tcb, pathPtr uint64) int64 {
	path, perr := k.readPath(t, pathPtr)
	if perr != 0 {
		return int64(perr)
	}
	comps := resolve(t, path)
	vf, ok, err := k.Root.FindByPath(comps)
	if err != nil || !ok {
		return int64(-defs.ENOENT)
	}
	if _, rerr := vf.Remove(); rerr != nil {
		return int64(-defs.EINVAL)
	}
	return 0
}

// sysRenameat2 implements the original's same-directory-only rename:
// find the source, hand its cluster chain to a dirent named newName
// in the same directory, and drop the source's own dirent (spec.md
// §9's open question resolves cross-directory requests as -EXDEV
// rather than attempting a move).
func (k *Kernel) sysRenameat2(t *proc.Tcb, oldPathPtr, newPathPtr uint64) int64 {
	oldPath, perr := k.readPath(t, oldPathPtr)
	if perr != 0 {
		return int64(perr)
	}
	newPath, perr := k.readPath(t, newPathPtr)
	if perr != 0 {
		return int64(perr)
	}
	oldComps := resolve(t, oldPath)
	newComps := resolve(t, newPath)
	if !sameDir(oldComps, newComps) {
		return int64(-defs.EXDEV)
	}
	oldVf, ok, err := k.Root.FindByPath(oldComps)
	if err != nil || !ok {
		return int64(-defs.ENOENT)
	}
	newParent, newName, pok := resolveParent(k.Root, newComps)
	if !pok {
		return int64(-defs.ENOENT)
	}
	if rerr := oldVf.Rename(newParent, newName); rerr != nil {
		return int64(-defs.EINVAL)
	}
	return 0
}

// sameDir reports whether oldComps and newComps name entries within
// the same parent directory.
func sameDir(oldComps, newComps []string) bool {
	if len(oldComps) == 0 || len(newComps) == 0 || len(oldComps) != len(newComps) {
		return false
	}
	for i := 0; i < len(oldComps)-1; i++ {
		if oldComps[i] != newComps[i] {
			return false
		}
	}
	return true
}

func (k *Kernel) sysChdir(t *proc.Tcb, pathPtr uint64) int64 {
	path, perr := k.readPath(t, pathPtr)
	if perr != 0 {
		return int64(perr)
	}
	comps := resolve(t, path)
	vf, ok, err := k.Root.FindByPath(comps)
	if err != nil || !ok || !vf.IsDir() {
		return int64(-defs.ENOTDIR)
	}
	t.Cwd = comps
	return 0
}

func (k *Kernel) sysGetcwd(t *proc.Tcb, bufPtr, size uint64) int64 {
	s := "/"
	for _, c := range t.Cwd {
		s += c + "/"
	}
	if len(s) > 1 {
		s = s[:len(s)-1]
	}
	if uint64(len(s)+1) > size {
		return int64(-defs.EINVAL)
	}
	if err := t.AS.WriteUser(bufPtr, append([]byte(s), 0)); err != nil {
		return int64(-defs.EFAULT)
	}
	return int64(bufPtr)
}

func (k *Kernel) sysFcntl(t *proc.Tcb, fd defs.Fdnum_t, cmd, arg uint64) int64 {
	const (
		fGETFD       = 1
		fSETFD       = 2
		fSETFL       = 4
		fDUPFDCLOEXEC = 1030
	)
	switch cmd {
	case fGETFD:
		return 0
	case fSETFD:
		t.Fds.SetCloexec(fd, arg != 0)
		return 0
	case fSETFL:
		return 0
	case fDUPFDCLOEXEC:
		nfd, err := t.Fds.Dup(fd)
		if err != 0 {
			return int64(err)
		}
		t.Fds.SetCloexec(nfd, true)
		return int64(nfd)
	}
	return int64(-defs.EINVAL)
}

func (k *Kernel) sysSendfile(t *proc.Tcb, outFd, inFd defs.Fdnum_t, count uint64) int64 {
	in, ok := t.Fds.Get(inFd)
	if !ok {
		return int64(-defs.EBADF)
	}
	out, ok := t.Fds.Get(outFd)
	if !ok {
		return int64(-defs.EBADF)
	}
	buf := make([]byte, count)
	nr, err := in.Read(buf)
	if err != 0 {
		return int64(err)
	}
	nw, werr := out.Write(buf[:nr])
	if werr != 0 {
		return int64(werr)
	}
	return int64(nw)
}

func (k *Kernel) sysReadv(t *proc.Tcb, fd defs.Fdnum_t, iovPtr, iovcnt uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	var total int64
	for i := uint64(0); i < iovcnt; i++ {
		base, lenB, err := readIovec(t, iovPtr, i)
		if err != 0 {
			return int64(err)
		}
		staging := make([]byte, lenB)
		n, rerr := f.Read(staging)
		if rerr != 0 {
			if total > 0 {
				return total
			}
			return int64(rerr)
		}
		if n > 0 {
			if werr := t.AS.WriteUser(base, staging[:n]); werr != nil {
				return int64(-defs.EFAULT)
			}
		}
		total += int64(n)
	}
	return total
}

func (k *Kernel) sysWritev(t *proc.Tcb, fd defs.Fdnum_t, iovPtr, iovcnt uint64) int64 {
	f, ok := t.Fds.Get(fd)
	if !ok {
		return int64(-defs.EBADF)
	}
	var total int64
	for i := uint64(0); i < iovcnt; i++ {
		base, lenB, err := readIovec(t, iovPtr, i)
		if err != 0 {
			return int64(err)
		}
		data, rerr := t.AS.ReadUser(base, int(lenB))
		if rerr != nil {
			return int64(-defs.EFAULT)
		}
		n, werr := f.Write(data)
		if werr != 0 {
			if total > 0 {
				return total
			}
			return int64(werr)
		}
		total += int64(n)
	}
	return total
}

func readIovec(t *proc.Tcb, iovPtr, idx uint64) (base uint64, length uint64, err defs.Err_t) {
	raw, rerr := t.AS.ReadUser(iovPtr+idx*16, 16)
	if rerr != nil {
		return 0, 0, -defs.EFAULT
	}
	return getU64(raw[0:]), getU64(raw[8:]), 0
}

// pselect6 has no real wait-queue infrastructure to poll against; it
// reports every requested fd ready immediately, matching the
// "blocking read already returns EAGAIN and the caller retries" model
// used throughout this syscall layer.
func (k *Kernel) sysPselect6(t *proc.Tcb, nfds, readfds, writefds uint64) int64 {
	return int64(nfds)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
