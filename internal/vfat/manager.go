// Package vfat implements the VFile operations of spec.md §4.10 over
// internal/fat32's on-disk layout and internal/blkcache's cache
// tiers, grounded on simple-fat32's vfs.rs and fat32_manager.rs.
package vfat

import (
	"fmt"

	"github.com/jklincn/rvkernel/internal/blkcache"
	"github.com/jklincn/rvkernel/internal/blockdev"
	"github.com/jklincn/rvkernel/internal/fat32"
	"github.com/jklincn/rvkernel/internal/stats"
)

const dataCacheLimit = 1024
const infoCacheLimit = 128

// Manager owns one mounted FAT32 volume: its boot sector, FS-info,
// FAT chain walker, and the two block-cache tiers (data for file
// content, info for FS-info/FAT/directory entries, per spec.md §4.7).
type Manager struct {
	dev       blockdev.Device
	bs        *fat32.BootSector
	fsinfo    *fat32.FSInfo
	fat       *fat32.FAT
	dataCache *blkcache.Manager
	infoCache *blkcache.Manager
}

// Mount reads the boot sector and FS-info sector off dev and builds a
// ready-to-use Manager plus the root directory's VFile.
func Mount(dev blockdev.Device) (*Manager, *VFile, error) {
	dataCache := blkcache.New(dev, dataCacheLimit)
	infoCache := blkcache.New(dev, infoCacheLimit)

	bh, err := infoCache.Get(0)
	if err != nil {
		return nil, nil, fmt.Errorf("vfat: reading boot sector: %w", err)
	}
	var bsBuf [512]byte
	bh.Buffer().Read(func(data []byte) { copy(bsBuf[:], data) })
	bh.Release()

	bs, err := fat32.ParseBootSector(bsBuf[:])
	if err != nil {
		return nil, nil, err
	}

	fat := fat32.NewFAT(bs.FAT1Sector(), bs.FAT2Sector(), infoCache)
	fsinfo := fat32.NewFSInfo(uint64(bs.FSInfoSec), infoCache)

	m := &Manager{dev: dev, bs: bs, fsinfo: fsinfo, fat: fat, dataCache: dataCache, infoCache: infoCache}
	root := newRootVFile(m)
	return m, root, nil
}

// BootSector exposes the parsed BPB, used by stat-like syscalls.
func (m *Manager) BootSector() *fat32.BootSector { return m.bs }

// SetStats attaches a counter table to both cache tiers, so
// cmd/rvstats can see the data/info hit rate (spec.md §4.7).
func (m *Manager) SetStats(t *stats.Table) {
	m.dataCache.SetStats(t)
	m.infoCache.SetStats(t)
}

// allocClusters grows a chain by n clusters using the FS-info
// next-free hint, zeroing each new cluster through the data cache.
func (m *Manager) allocClusters(n int) (first uint32, err error) {
	hint, err := m.fsinfo.NextFree()
	if err != nil {
		return 0, err
	}
	if hint < 2 {
		hint = 2
	}
	first, next, err := m.fat.AllocChain(hint, n, func(cluster uint32) error {
		return m.zeroCluster(cluster)
	})
	if err != nil {
		return 0, err
	}
	if err := m.fsinfo.SetNextFree(next); err != nil {
		return 0, err
	}
	free, err := m.fsinfo.FreeCount()
	if err == nil && free >= uint32(n) {
		m.fsinfo.SetFreeCount(free - uint32(n))
	}
	return first, nil
}

func (m *Manager) zeroCluster(cluster uint32) error {
	start := m.bs.FirstSectorOfCluster(cluster)
	for s := uint64(0); s < uint64(m.bs.SecPerClus); s++ {
		h, err := m.dataCache.Get(start + s)
		if err != nil {
			return err
		}
		h.Buffer().Modify(func(data []byte) {
			for i := range data {
				data[i] = 0
			}
		})
		h.Release()
	}
	return nil
}

func (m *Manager) freeClusters(clusters []uint32) error {
	for _, c := range clusters {
		if err := m.fat.SetNextCluster(c, fat32.FreeCluster); err != nil {
			return err
		}
	}
	free, err := m.fsinfo.FreeCount()
	if err == nil {
		m.fsinfo.SetFreeCount(free + uint32(len(clusters)))
	}
	return nil
}
