// Package blkcache is the two-tier block cache of spec.md §4.7,
// grounded on simple-fat32's block_cache.rs: a bounded FIFO queue of
// (sector, buffer) pairs, evicting the first entry whose reference
// count has dropped to 1 (held only by the cache itself), panicking
// if every slot is still referenced by a caller.
package blkcache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jklincn/rvkernel/internal/blockdev"
	"github.com/jklincn/rvkernel/internal/stats"
)

// Buffer is one cached sector, read-write locked the way the Rust
// BlockCache guards get_ref/get_mut: readers take the read lock,
// writers take the write lock and set the dirty flag.
type Buffer struct {
	mu     sync.RWMutex
	sector uint64
	data   [blockdev.SectorSize]byte
	dirty  bool
	dev    blockdev.Device
}

// Sector is the absolute sector id (start_sec already applied) this
// buffer was loaded from.
func (b *Buffer) Sector() uint64 { return b.sector }

// Read runs fn with a read lock held over the buffer's bytes.
func (b *Buffer) Read(fn func(data []byte)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.data[:])
}

// Modify runs fn with a write lock held, marking the buffer dirty
// before fn observes it — spec.md §4.7 invariant (c): "the modified
// flag is set inside any write-lock acquisition that calls get_mut".
func (b *Buffer) Modify(fn func(data []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = true
	fn(b.data[:])
}

// sync writes the buffer back if dirty, matching BlockCache::sync.
func (b *Buffer) sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return nil
	}
	if err := b.dev.WriteBlock(b.sector, b.data[:]); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

// Handle is a refcounted reference to a cached Buffer, the Go
// equivalent of Arc<RwLock<BlockCache>>: cloning bumps the shared
// count, Release drops it and — if this was the last reference —
// flushes the buffer to disk.
type Handle struct {
	buf *Buffer
	ref *int32
	mu  *sync.Mutex
}

// Buffer returns the underlying cached sector.
func (h *Handle) Buffer() *Buffer { return h.buf }

// Clone returns a second handle to the same buffer and increments the
// shared refcount.
func (h *Handle) Clone() *Handle {
	atomic.AddInt32(h.ref, 1)
	return &Handle{buf: h.buf, ref: h.ref, mu: h.mu}
}

// Refcount reports the number of live handles to this buffer.
func (h *Handle) Refcount() int32 { return atomic.LoadInt32(h.ref) }

// Release drops this handle's share. When the count reaches zero the
// buffer is synced to disk before returning, mirroring Rust's Drop
// impl on BlockCache.
func (h *Handle) Release() error {
	if atomic.AddInt32(h.ref, -1) == 0 {
		return h.buf.sync()
	}
	return nil
}

type entry struct {
	sector uint64
	handle *Handle
}

// Manager is one FIFO-bounded cache tier (the data cache or the info
// cache, per spec.md §4.7), plus the partition's start_sec offset.
type Manager struct {
	mu       sync.Mutex
	dev      blockdev.Device
	limit    int
	startSec uint64
	queue    []entry
	stats    *stats.Table
}

// New creates a tier with room for at most limit cached sectors.
func New(dev blockdev.Device, limit int) *Manager {
	return &Manager{dev: dev, limit: limit}
}

// SetStats attaches a counter table that Get reports hits/misses into
// (cmd/rvstats's only view into this tier's effectiveness). Nil is
// fine and skips accounting, the default for package-internal tests.
func (m *Manager) SetStats(t *stats.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = t
}

// SetStartSec sets the partition's first sector, added to every
// logical sector id passed to Get.
func (m *Manager) SetStartSec(startSec uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startSec = startSec
}

// Get returns a handle to the cached buffer for the logical sector
// id, reading it from the device on a miss. The caller must Release
// the returned handle when done.
func (m *Manager) Get(sector uint64) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	abs := m.startSec + sector
	for _, e := range m.queue {
		if e.sector == abs {
			if m.stats != nil {
				m.stats.CacheHits.Inc()
			}
			return e.handle.Clone(), nil
		}
	}
	if m.stats != nil {
		m.stats.CacheMisses.Inc()
	}

	if len(m.queue) == m.limit {
		idx := -1
		for i, e := range m.queue {
			if e.handle.Refcount() == 1 {
				idx = i
				break
			}
		}
		if idx == -1 {
			panic("blkcache: run out of cache")
		}
		evicted := m.queue[idx]
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
		if err := evicted.handle.Release(); err != nil {
			return nil, fmt.Errorf("blkcache: evicting sector %d: %w", evicted.sector, err)
		}
	}

	buf := &Buffer{sector: abs, dev: m.dev}
	if err := m.dev.ReadBlock(abs, buf.data[:]); err != nil {
		return nil, fmt.Errorf("blkcache: loading sector %d: %w", abs, err)
	}
	one := int32(1)
	h := &Handle{buf: buf, ref: &one, mu: &sync.Mutex{}}
	m.queue = append(m.queue, entry{sector: abs, handle: h})
	return h.Clone(), nil
}

// WriteToDev evicts every cached buffer, flushing dirty ones — the
// write_to_dev shutdown path.
func (m *Manager) WriteToDev() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if err := e.handle.Release(); err != nil {
			return err
		}
	}
	m.queue = nil
	return nil
}
