package vfat

import "github.com/jklincn/rvkernel/internal/fat32"

const sectorSize = 512

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }

// chainByteLen is the current backing size of the cluster chain: the
// stored file size for regular files, or cluster-count*bytes-per-
// cluster for directories (which never store a size, per spec.md
// §4.9).
func (v *VFile) chainByteLen() (int64, error) {
	if v.IsDir() {
		if v.firstCluster == 0 {
			return 0, nil
		}
		n, err := v.mgr.fat.CountChain(v.firstCluster)
		if err != nil {
			return 0, err
		}
		return int64(n) * v.bytesPerCluster(), nil
	}
	return int64(v.size), nil
}

// ReadAt copies up to len(buf) bytes starting at offset, bounded by
// the chain's current length (spec.md §4.10).
func (v *VFile) ReadAt(offset int64, buf []byte) (int, error) {
	if v.firstCluster == 0 {
		return 0, nil
	}
	limit, err := v.chainByteLen()
	if err != nil {
		return 0, err
	}
	end := offset + int64(len(buf))
	if end > limit {
		end = limit
	}
	if offset >= end {
		return 0, nil
	}

	bpc := v.bytesPerCluster()
	clusterIndex := uint32(offset / bpc)
	cluster, err := v.mgr.fat.ClusterAt(v.firstCluster, clusterIndex)
	if err != nil {
		return 0, err
	}
	if cluster == 0 || cluster >= fat32.EndCluster {
		return 0, nil
	}
	sector := v.mgr.bs.FirstSectorOfCluster(cluster) + uint64((offset-int64(clusterIndex)*bpc)/sectorSize)
	cache := v.cacheFor()

	current := offset
	read := 0
	for {
		endBlock := (current/sectorSize + 1) * sectorSize
		if endBlock > end {
			endBlock = end
		}
		n := int(endBlock - current)
		h, err := cache.Get(sector)
		if err != nil {
			return read, err
		}
		off := int(current % sectorSize)
		h.Buffer().Read(func(data []byte) { copy(buf[read:read+n], data[off:off+n]) })
		h.Release()

		read += n
		if endBlock == end {
			return read, nil
		}
		current = endBlock
		if current%bpc == 0 {
			next, err := v.mgr.fat.NextCluster(cluster)
			if err != nil {
				return read, err
			}
			if next == 0 || next >= fat32.EndCluster {
				return read, nil
			}
			cluster = next
			sector = v.mgr.bs.FirstSectorOfCluster(cluster)
		} else {
			sector++
		}
	}
}

// WriteAt grows the chain as needed (increaseSize), then copies buf
// in starting at offset (spec.md §4.10).
func (v *VFile) WriteAt(offset int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if err := v.increaseSize(offset + int64(len(buf))); err != nil {
		return 0, err
	}
	limit, err := v.chainByteLen()
	if err != nil {
		return 0, err
	}
	end := offset + int64(len(buf))
	if end > limit {
		end = limit
	}

	bpc := v.bytesPerCluster()
	clusterIndex := uint32(offset / bpc)
	cluster, err := v.mgr.fat.ClusterAt(v.firstCluster, clusterIndex)
	if err != nil {
		return 0, err
	}
	sector := v.mgr.bs.FirstSectorOfCluster(cluster) + uint64((offset-int64(clusterIndex)*bpc)/sectorSize)
	cache := v.cacheFor()

	current := offset
	written := 0
	for {
		endBlock := (current/sectorSize + 1) * sectorSize
		if endBlock > end {
			endBlock = end
		}
		n := int(endBlock - current)
		h, err := cache.Get(sector)
		if err != nil {
			return written, err
		}
		off := int(current % sectorSize)
		h.Buffer().Modify(func(data []byte) { copy(data[off:off+n], buf[written:written+n]) })
		h.Release()

		written += n
		if endBlock == end {
			return written, nil
		}
		current = endBlock
		if current%bpc == 0 {
			next, err := v.mgr.fat.NextCluster(cluster)
			if err != nil {
				return written, err
			}
			cluster = next
			sector = v.mgr.bs.FirstSectorOfCluster(cluster)
		} else {
			sector++
		}
	}
}

// increaseSize grows the backing chain (allocating and linking new
// clusters) so the chain covers newSize bytes, updating the short
// entry's file-size field for regular files (spec.md §4.10).
func (v *VFile) increaseSize(newSize int64) error {
	oldSize, err := v.chainByteLen()
	if err != nil {
		return err
	}
	if newSize <= oldSize {
		return nil
	}
	bpc := v.bytesPerCluster()

	if v.firstCluster == 0 {
		needed := ceilDiv(newSize, bpc)
		first, err := v.mgr.allocClusters(int(needed))
		if err != nil {
			return err
		}
		v.firstCluster = first
		if err := v.commitFirstCluster(); err != nil {
			return err
		}
	} else {
		neededBytes := newSize - oldSize
		needed := ceilDiv(neededBytes, bpc)
		if needed > 0 {
			newFirst, err := v.mgr.allocClusters(int(needed))
			if err != nil {
				return err
			}
			final, err := v.mgr.fat.FinalCluster(v.firstCluster)
			if err != nil {
				return err
			}
			if err := v.mgr.fat.SetNextCluster(final, newFirst); err != nil {
				return err
			}
		}
	}
	if !v.IsDir() {
		v.size = uint32(newSize)
		return v.commitSize()
	}
	return nil
}

func (v *VFile) readShortDirent() (fat32.ShortDirEntry, error) {
	if v.isRoot {
		return fat32.ShortDirEntry{Attr: fat32.AttrDirectory}, nil
	}
	h, err := v.mgr.infoCache.Get(v.shortSec)
	if err != nil {
		return fat32.ShortDirEntry{}, err
	}
	defer h.Release()
	var e fat32.ShortDirEntry
	h.Buffer().Read(func(data []byte) { e = fat32.DecodeShortDirEntry(data[v.shortOff : v.shortOff+fat32.DirentSize]) })
	return e, nil
}

func (v *VFile) modifyShortDirent(fn func(e *fat32.ShortDirEntry)) error {
	if v.isRoot {
		return nil
	}
	h, err := v.mgr.infoCache.Get(v.shortSec)
	if err != nil {
		return err
	}
	defer h.Release()
	h.Buffer().Modify(func(data []byte) {
		e := fat32.DecodeShortDirEntry(data[v.shortOff : v.shortOff+fat32.DirentSize])
		fn(&e)
		e.Encode(data[v.shortOff : v.shortOff+fat32.DirentSize])
	})
	return nil
}

func (v *VFile) commitFirstCluster() error {
	return v.modifyShortDirent(func(e *fat32.ShortDirEntry) { e.SetFirstCluster(v.firstCluster) })
}

func (v *VFile) commitSize() error {
	return v.modifyShortDirent(func(e *fat32.ShortDirEntry) { e.FileSize = v.size })
}
