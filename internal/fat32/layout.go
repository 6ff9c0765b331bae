// Package fat32 is the on-disk layout of spec.md §4.8-§4.9: boot
// sector, FS-info, and FAT chain operations, grounded on simple-fat32's
// layout.rs. Directory entry encoding lives in dirent.go.
package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/jklincn/rvkernel/internal/blkcache"
)

// Cluster sentinels (spec.md §4.8).
const (
	FreeCluster = 0x00000000
	BadCluster  = 0x0FFFFFF7
	EndCluster  = 0x0FFFFFF8
	clusterMask = 0x0FFFFFFF
)

// BootSector is the BPB fields needed to derive the partition's
// geometry, read from sector 0.
type BootSector struct {
	BytesPerSec uint16
	SecPerClus  uint8
	RsvdSecCnt  uint16
	NumFATs     uint8
	FATSz32     uint32
	RootClus    uint32
	FSInfoSec   uint16
	VolID       uint32
}

// ParseBootSector reads the BPB out of a raw 512-byte sector 0 image.
func ParseBootSector(sector []byte) (*BootSector, error) {
	if len(sector) < 512 {
		return nil, fmt.Errorf("fat32: boot sector must be 512 bytes, got %d", len(sector))
	}
	bs := &BootSector{
		BytesPerSec: binary.LittleEndian.Uint16(sector[11:]),
		SecPerClus:  sector[13],
		RsvdSecCnt:  binary.LittleEndian.Uint16(sector[14:]),
		NumFATs:     sector[16],
		FATSz32:     binary.LittleEndian.Uint32(sector[36:]),
		RootClus:    binary.LittleEndian.Uint32(sector[44:]),
		FSInfoSec:   binary.LittleEndian.Uint16(sector[48:]),
		VolID:       binary.LittleEndian.Uint32(sector[67:]),
	}
	if bs.BytesPerSec != 512 {
		return nil, fmt.Errorf("fat32: only 512-byte sectors are supported, got %d", bs.BytesPerSec)
	}
	return bs, nil
}

// Encode writes bs back into a 512-byte sector image (used by
// cmd/mkfs32).
func (bs *BootSector) Encode(sector []byte) {
	sector[0], sector[1], sector[2] = 0xEB, 0x58, 0x90
	copy(sector[3:11], []byte("MSWIN4.1"))
	binary.LittleEndian.PutUint16(sector[11:], bs.BytesPerSec)
	sector[13] = bs.SecPerClus
	binary.LittleEndian.PutUint16(sector[14:], bs.RsvdSecCnt)
	sector[16] = bs.NumFATs
	binary.LittleEndian.PutUint32(sector[36:], bs.FATSz32)
	binary.LittleEndian.PutUint32(sector[44:], bs.RootClus)
	binary.LittleEndian.PutUint16(sector[48:], bs.FSInfoSec)
	sector[66] = 0x29
	binary.LittleEndian.PutUint32(sector[67:], bs.VolID)
	copy(sector[71:82], []byte("NO NAME    "))
	copy(sector[82:90], []byte("FAT32   "))
	sector[510], sector[511] = 0x55, 0xAA
}

// FAT1Sector is the first sector of the first FAT copy.
func (bs *BootSector) FAT1Sector() uint64 { return uint64(bs.RsvdSecCnt) }

// FAT2Sector is the first sector of the redundant second FAT copy.
func (bs *BootSector) FAT2Sector() uint64 {
	return bs.FAT1Sector() + uint64(bs.FATSz32)
}

// FirstDataSector is where cluster 2 begins.
func (bs *BootSector) FirstDataSector() uint64 {
	return uint64(bs.RsvdSecCnt) + uint64(bs.NumFATs)*uint64(bs.FATSz32)
}

// BytesPerCluster is sectors-per-cluster times bytes-per-sector.
func (bs *BootSector) BytesPerCluster() uint32 {
	return uint32(bs.SecPerClus) * uint32(bs.BytesPerSec)
}

// FirstSectorOfCluster maps a cluster number to its first sector.
func (bs *BootSector) FirstSectorOfCluster(cluster uint32) uint64 {
	return (uint64(cluster)-2)*uint64(bs.SecPerClus) + bs.FirstDataSector()
}

// ClusterOfOffset returns which cluster index (0-based, within a
// chain) a byte offset falls in.
func (bs *BootSector) ClusterOfOffset(offset int64) uint32 {
	return uint32(offset / int64(bs.BytesPerCluster()))
}

// FSInfo wraps the FS-info sector's free-cluster bookkeeping fields,
// accessed through the info cache tier rather than mapped directly —
// same split as the Rust FSInfo struct, which "does not map the
// buffer directly but provides accessors".
type FSInfo struct {
	sector uint64
	info   *blkcache.Manager
}

const (
	fsInfoLeadSig   = 0x41615252
	fsInfoStrucSig  = 0x61417272
	offFSILeadSig   = 0
	offFSIStrucSig  = 484
	offFSIFreeCount = 488
	offFSINextFree  = 492
)

// NewFSInfo wraps the FS-info sector.
func NewFSInfo(sector uint64, info *blkcache.Manager) *FSInfo {
	return &FSInfo{sector: sector, info: info}
}

// CheckSignature validates the lead and trailing FS-info signatures.
func (fi *FSInfo) CheckSignature() (bool, error) {
	h, err := fi.info.Get(fi.sector)
	if err != nil {
		return false, err
	}
	defer h.Release()
	var ok bool
	h.Buffer().Read(func(data []byte) {
		ok = binary.LittleEndian.Uint32(data[offFSILeadSig:]) == fsInfoLeadSig &&
			binary.LittleEndian.Uint32(data[offFSIStrucSig:]) == fsInfoStrucSig
	})
	return ok, nil
}

// FreeCount reads the last-known free cluster count.
func (fi *FSInfo) FreeCount() (uint32, error) {
	h, err := fi.info.Get(fi.sector)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	var v uint32
	h.Buffer().Read(func(data []byte) { v = binary.LittleEndian.Uint32(data[offFSIFreeCount:]) })
	return v, nil
}

// SetFreeCount writes the free cluster count.
func (fi *FSInfo) SetFreeCount(n uint32) error {
	h, err := fi.info.Get(fi.sector)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Buffer().Modify(func(data []byte) { binary.LittleEndian.PutUint32(data[offFSIFreeCount:], n) })
	return nil
}

// NextFree reads the next-free-cluster hint.
func (fi *FSInfo) NextFree() (uint32, error) {
	h, err := fi.info.Get(fi.sector)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	var v uint32
	h.Buffer().Read(func(data []byte) { v = binary.LittleEndian.Uint32(data[offFSINextFree:]) })
	return v, nil
}

// SetNextFree writes the next-free-cluster hint.
func (fi *FSInfo) SetNextFree(cluster uint32) error {
	h, err := fi.info.Get(fi.sector)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Buffer().Modify(func(data []byte) { binary.LittleEndian.PutUint32(data[offFSINextFree:], cluster) })
	return nil
}

// FAT is the in-memory chain-walker over the two on-disk FAT copies
// (spec.md §4.8).
type FAT struct {
	fat1Sector uint64
	fat2Sector uint64
	info       *blkcache.Manager
}

const fatEntriesPerSector = 512 / 4

// NewFAT builds a chain-walker rooted at the two FAT copies.
func NewFAT(fat1Sector, fat2Sector uint64, info *blkcache.Manager) *FAT {
	return &FAT{fat1Sector: fat1Sector, fat2Sector: fat2Sector, info: info}
}

func (f *FAT) entryPos(cluster uint32) (fat1Sec, fat2Sec uint64, off int) {
	fat1Sec = f.fat1Sector + uint64(cluster)/fatEntriesPerSector
	fat2Sec = f.fat2Sector + uint64(cluster)/fatEntriesPerSector
	off = int(4 * (cluster % fatEntriesPerSector))
	return
}

func (f *FAT) readEntry(sector uint64, off int) (uint32, error) {
	h, err := f.info.Get(sector)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	var v uint32
	h.Buffer().Read(func(data []byte) { v = binary.LittleEndian.Uint32(data[off:]) })
	return v, nil
}

func (f *FAT) writeEntry(sector uint64, off int, val uint32) error {
	h, err := f.info.Get(sector)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Buffer().Modify(func(data []byte) { binary.LittleEndian.PutUint32(data[off:], val) })
	return nil
}

// NextCluster reads the entry following cluster, falling back to the
// second FAT copy if the first reads the bad-cluster sentinel.
func (f *FAT) NextCluster(cluster uint32) (uint32, error) {
	fat1Sec, fat2Sec, off := f.entryPos(cluster)
	v1, err := f.readEntry(fat1Sec, off)
	if err != nil {
		return 0, err
	}
	if v1&clusterMask == BadCluster {
		v2, err := f.readEntry(fat2Sec, off)
		if err != nil {
			return 0, err
		}
		return v2 & clusterMask, nil
	}
	return v1 & clusterMask, nil
}

// SetNextCluster writes next into cluster's entry in both FAT copies.
func (f *FAT) SetNextCluster(cluster, next uint32) error {
	fat1Sec, fat2Sec, off := f.entryPos(cluster)
	if err := f.writeEntry(fat1Sec, off, next); err != nil {
		return err
	}
	return f.writeEntry(fat2Sec, off, next)
}

// SetEnd terminates the chain at cluster.
func (f *FAT) SetEnd(cluster uint32) error { return f.SetNextCluster(cluster, EndCluster) }

// ClusterAt walks index clusters forward from start.
func (f *FAT) ClusterAt(start uint32, index uint32) (uint32, error) {
	cluster := start
	for i := uint32(0); i < index; i++ {
		next, err := f.NextCluster(cluster)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			break
		}
		cluster = next
	}
	return cluster & clusterMask, nil
}

// FinalCluster walks to the last cluster in the chain.
func (f *FAT) FinalCluster(start uint32) (uint32, error) {
	cur := start
	for {
		next, err := f.NextCluster(cur)
		if err != nil {
			return 0, err
		}
		if next >= EndCluster || next == 0 {
			return cur & clusterMask, nil
		}
		cur = next
	}
}

// AllClusters returns every cluster in the chain starting at start.
func (f *FAT) AllClusters(start uint32) ([]uint32, error) {
	var out []uint32
	cur := start
	for {
		out = append(out, cur&clusterMask)
		next, err := f.NextCluster(cur)
		if err != nil {
			return nil, err
		}
		if next >= EndCluster || next == 0 {
			return out, nil
		}
		cur = next
	}
}

// CountChain counts the clusters in the chain starting at start.
func (f *FAT) CountChain(start uint32) (uint32, error) {
	if start == 0 {
		return 0, nil
	}
	cur := start
	var count uint32
	for {
		count++
		next, err := f.NextCluster(cur)
		if err != nil {
			return 0, err
		}
		if next >= EndCluster || next > 0xF000000 {
			return count, nil
		}
		cur = next
	}
}

// AllocChain allocates num free clusters starting the scan from hint
// (FS-info's next_free), chaining them together and zeroing each
// newly allocated cluster, then returns the first cluster of the new
// chain plus the updated next-free hint.
func (f *FAT) AllocChain(hint uint32, num int, zero func(cluster uint32) error) (first, nextHint uint32, err error) {
	if num <= 0 {
		return 0, hint, fmt.Errorf("fat32: AllocChain requires num > 0")
	}
	clusters := make([]uint32, 0, num)
	cur := hint
	for len(clusters) < num {
		cur++
		v, e := f.readEntry(f.fat1Sector+uint64(cur)/fatEntriesPerSector, int(4*(cur%fatEntriesPerSector)))
		if e != nil {
			return 0, hint, e
		}
		if v&clusterMask == FreeCluster {
			clusters = append(clusters, cur)
		}
	}
	for i, c := range clusters {
		if zero != nil {
			if err := zero(c); err != nil {
				return 0, hint, err
			}
		}
		if i+1 < len(clusters) {
			if err := f.SetNextCluster(c, clusters[i+1]); err != nil {
				return 0, hint, err
			}
		} else {
			if err := f.SetEnd(c); err != nil {
				return 0, hint, err
			}
		}
	}
	return clusters[0], clusters[len(clusters)-1], nil
}

// FreeChain marks every cluster in the chain starting at start as
// free.
func (f *FAT) FreeChain(start uint32) error {
	cur := start
	for {
		next, err := f.NextCluster(cur)
		if err != nil {
			return err
		}
		if err := f.SetNextCluster(cur, FreeCluster); err != nil {
			return err
		}
		if next >= EndCluster || next == 0 {
			return nil
		}
		cur = next
	}
}
