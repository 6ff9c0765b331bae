package fileio

import (
	"sync"

	"github.com/jklincn/rvkernel/internal/defs"
)

// entry pairs an open File with its close-on-exec flag, mirroring
// biscuit's Fd_t (Fops + Perms) plus the FD_CLOEXEC bit.
type entry struct {
	file    File
	cloexec bool
}

// Table is one process's file descriptor table (spec.md §4.11).
type Table struct {
	mu    sync.Mutex
	files map[defs.Fdnum_t]entry
	next  defs.Fdnum_t
}

// NewTable builds an empty table seeded with stdin (0) and stdout (1),
// the conventional low descriptors every process inherits.
func NewTable() *Table {
	t := &Table{files: make(map[defs.Fdnum_t]entry)}
	t.files[0] = entry{file: Stdin{}}
	t.files[1] = entry{file: Stdout{}}
	t.next = 2
	return t
}

// Install adds f under a freshly allocated descriptor number.
func (t *Table) Install(f File, cloexec bool) defs.Fdnum_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.files[fd] = entry{file: f, cloexec: cloexec}
	return fd
}

// Get returns the File installed at fd, if any.
func (t *Table) Get(fd defs.Fdnum_t) (File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.files[fd]
	if !ok {
		return nil, false
	}
	return e.file, true
}

// Close drops fd, releasing the underlying File's reference.
func (t *Table) Close(fd defs.Fdnum_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.files[fd]
	if !ok {
		return -defs.EBADF
	}
	delete(t.files, fd)
	return e.file.Close()
}

// SetCloexec toggles fd's close-on-exec flag.
func (t *Table) SetCloexec(fd defs.Fdnum_t, v bool) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.files[fd]
	if !ok {
		return -defs.EBADF
	}
	e.cloexec = v
	t.files[fd] = e
	return 0
}

// Dup duplicates fd onto a new descriptor number, referencing the
// same underlying File (spec.md §4.6's "clone the fd table by
// incrementing each file's refcount").
func (t *Table) Dup(fd defs.Fdnum_t) (defs.Fdnum_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.files[fd]
	if !ok {
		return 0, -defs.EBADF
	}
	nfd := t.next
	t.next++
	t.files[nfd] = entry{file: e.file.Dup()}
	return nfd, 0
}

// DupTo duplicates fd onto newFd specifically (dup3's contract),
// closing whatever newFd previously held.
func (t *Table) DupTo(fd, newFd defs.Fdnum_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.files[fd]
	if !ok {
		return -defs.EBADF
	}
	if old, ok := t.files[newFd]; ok {
		old.file.Close()
	}
	t.files[newFd] = entry{file: e.file.Dup()}
	if newFd >= t.next {
		t.next = newFd + 1
	}
	return 0
}

// CloseOnExec closes every descriptor marked close-on-exec, used by
// exec() per spec.md §4.6.
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, e := range t.files {
		if e.cloexec {
			e.file.Close()
			delete(t.files, fd)
		}
	}
}

// Clone deep-copies the table for fork: every entry is duplicated
// (incrementing the underlying File's refcount) under the same fd
// numbers (spec.md §4.6).
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{files: make(map[defs.Fdnum_t]entry, len(t.files)), next: t.next}
	for fd, e := range t.files {
		nt.files[fd] = entry{file: e.file.Dup(), cloexec: e.cloexec}
	}
	return nt
}
