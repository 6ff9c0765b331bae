package fileio

import "github.com/jklincn/rvkernel/internal/defs"

// RingBufferSize bounds a single pipe's capacity (spec.md §4.11: "each
// individual write is atomic up to RING_BUFFER_SIZE bytes").
const RingBufferSize = 32

// ring is an unsynchronized circular byte buffer, grounded on
// circbuf.Circbuf_t: head/tail are monotonic counters, wrapped only at
// indexing time, so Full/Empty/Used never need separate bookkeeping.
type ring struct {
	buf        [RingBufferSize]byte
	head, tail int
}

func (r *ring) used() int  { return r.head - r.tail }
func (r *ring) empty() bool { return r.head == r.tail }
func (r *ring) full() bool  { return r.used() == RingBufferSize }

func (r *ring) write(p []byte) int {
	n := 0
	for n < len(p) && !r.full() {
		r.buf[r.head%RingBufferSize] = p[n]
		r.head++
		n++
	}
	return n
}

func (r *ring) read(p []byte) int {
	n := 0
	for n < len(p) && !r.empty() {
		p[n] = r.buf[r.tail%RingBufferSize]
		r.tail++
		n++
	}
	return n
}

// Pipe is the shared state behind one anonymous pipe's two endpoints.
// Read/Write never block themselves (matching circbuf's Copyin/
// Copyout_n, which return 0 on an empty/full buffer rather than
// parking) — the suspension-point retry loop lives in the caller that
// owns scheduling (internal/proc), per spec.md §4.11/§5.
type Pipe struct {
	buf         ring
	readerRefs  int
	writerRefs  int
}

// NewPipe creates a pipe with one reader and one writer reference,
// returning both endpoints.
func NewPipe() (*PipeReader, *PipeWriter) {
	p := &Pipe{readerRefs: 1, writerRefs: 1}
	return &PipeReader{p: p}, &PipeWriter{p: p}
}

// PipeReader is the read end of a pipe (spec.md §4.11).
type PipeReader struct {
	p      *Pipe
	offset int64
}

func (r *PipeReader) Readable() bool { return true }
func (r *PipeReader) Writable() bool { return false }
func (r *PipeReader) RReady() bool   { return !r.p.buf.empty() || r.p.writerRefs == 0 }
func (r *PipeReader) WReady() bool   { return false }

// Read copies buffered bytes into buf. It returns (0, -EAGAIN) — "try
// again" — when the pipe is empty and at least one writer endpoint is
// still open; once every writer has closed, an empty pipe reports EOF
// as (0, 0), a true zero-byte read that the caller should not retry.
func (r *PipeReader) Read(buf []byte) (int, defs.Err_t) {
	if r.p.buf.empty() {
		if r.p.writerRefs == 0 {
			return 0, 0
		}
		return 0, -defs.EAGAIN
	}
	return r.p.buf.read(buf), 0
}

func (r *PipeReader) Write(buf []byte) (int, defs.Err_t) { return 0, -defs.EPERM }
func (r *PipeReader) Offset() int64                      { return r.offset }
func (r *PipeReader) SetOffset(off int64)                { r.offset = off }
func (r *PipeReader) FileSize() (int64, defs.Err_t)      { return int64(r.p.buf.used()), 0 }
func (r *PipeReader) Fstat(st *Kstat) defs.Err_t {
	st.Size = int64(r.p.buf.used())
	return 0
}
func (r *PipeReader) Name() string { return "pipe:[r]" }
func (r *PipeReader) Close() defs.Err_t {
	r.p.readerRefs--
	return 0
}
func (r *PipeReader) Dup() File {
	r.p.readerRefs++
	return &PipeReader{p: r.p, offset: r.offset}
}

// PipeWriter is the write end of a pipe (spec.md §4.11).
type PipeWriter struct {
	p      *Pipe
	offset int64
}

func (w *PipeWriter) Readable() bool { return false }
func (w *PipeWriter) Writable() bool { return true }
func (w *PipeWriter) RReady() bool   { return false }
func (w *PipeWriter) WReady() bool   { return !w.p.buf.full() || w.p.readerRefs == 0 }

func (w *PipeWriter) Read(buf []byte) (int, defs.Err_t) { return 0, -defs.EPERM }

// Write appends buf's bytes. If every reader endpoint has closed, a
// write fails with EPIPE immediately (no blocking); otherwise a full
// pipe returns (0, EAGAIN) for the caller's retry loop.
func (w *PipeWriter) Write(buf []byte) (int, defs.Err_t) {
	if w.p.readerRefs == 0 {
		return 0, -defs.EPIPE
	}
	if w.p.buf.full() {
		return 0, -defs.EAGAIN
	}
	return w.p.buf.write(buf), 0
}
func (w *PipeWriter) Offset() int64                 { return w.offset }
func (w *PipeWriter) SetOffset(off int64)           { w.offset = off }
func (w *PipeWriter) FileSize() (int64, defs.Err_t) { return int64(w.p.buf.used()), 0 }
func (w *PipeWriter) Fstat(st *Kstat) defs.Err_t {
	st.Size = int64(w.p.buf.used())
	return 0
}
func (w *PipeWriter) Name() string { return "pipe:[w]" }
func (w *PipeWriter) Close() defs.Err_t {
	w.p.writerRefs--
	return 0
}
func (w *PipeWriter) Dup() File {
	w.p.writerRefs++
	return &PipeWriter{p: w.p, offset: w.offset}
}
