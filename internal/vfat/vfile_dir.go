package vfat

import (
	"fmt"
	"strings"

	"github.com/jklincn/rvkernel/internal/fat32"
)

// resolvePos returns the absolute sector and in-sector byte offset
// backing directory-stream byte offset off, so callers can remember
// exactly where a dirent lives for later in-place modification.
func (v *VFile) resolvePos(off int64) (sector uint64, inSector int, err error) {
	bpc := v.bytesPerCluster()
	clusterIndex := uint32(off / bpc)
	cluster, err := v.mgr.fat.ClusterAt(v.firstCluster, clusterIndex)
	if err != nil {
		return 0, 0, err
	}
	sector = v.mgr.bs.FirstSectorOfCluster(cluster) + uint64((off-int64(clusterIndex)*bpc)/sectorSize)
	inSector = int(off % sectorSize)
	return sector, inSector, nil
}

// shortNameFormatted renders name (assumed to already fit 8.3) as the
// padded 11-byte on-disk form, uppercased.
func shortNameFormatted(name string) [11]byte {
	base, ext := splitNameExt(name)
	return fat32.ShortNameFrom8_3(strings.ToUpper(base), strings.ToUpper(ext))
}

// FindByName scans this directory for an entry named name (spec.md
// §4.10's find_vfile_byname). Returns ok == false if not found.
func (v *VFile) FindByName(name string) (*VFile, bool, error) {
	if !v.IsDir() {
		return nil, false, fmt.Errorf("vfat: FindByName on a non-directory")
	}
	long := needsLongName(name)

	var offset int64
	slot := make([]byte, fat32.DirentSize)
	for {
		n, err := v.ReadAt(offset, slot)
		if err != nil {
			return nil, false, err
		}
		if n < fat32.DirentSize || slot[0] == 0x00 {
			return nil, false, nil
		}
		if slot[0] == 0xE5 {
			offset += fat32.DirentSize
			continue
		}
		attr := slot[11]
		if attr != fat32.AttrLongName {
			if !long {
				short := fat32.DecodeShortDirEntry(slot)
				if shortNameFormatted(name) == short.Name {
					sec, off, err := v.resolvePos(offset)
					if err != nil {
						return nil, false, err
					}
					return v.vfileFromShort(name, short, sec, off, nil), true, nil
				}
			}
			offset += fat32.DirentSize
			continue
		}
		if !long {
			offset += fat32.DirentSize
			continue
		}
		longEntry := fat32.DecodeLongDirEntry(slot)
		if longEntry.IsDeleted() || !longEntry.IsLast() {
			offset += fat32.DirentSize
			continue
		}
		n8 := longEntry.SeqNum()
		slots := make([]fat32.LongDirEntry, n8)
		positions := make([]direntPos, n8)
		slots[0] = longEntry
		sec0, off0, err := v.resolvePos(offset)
		if err != nil {
			return nil, false, err
		}
		positions[0] = direntPos{sec0, off0}
		ok := true
		for i := uint8(1); i < n8; i++ {
			off2 := offset + int64(i)*fat32.DirentSize
			buf2 := make([]byte, fat32.DirentSize)
			n2, err := v.ReadAt(off2, buf2)
			if err != nil {
				return nil, false, err
			}
			if n2 < fat32.DirentSize {
				ok = false
				break
			}
			l2 := fat32.DecodeLongDirEntry(buf2)
			if l2.Attr != fat32.AttrLongName || l2.SeqNum() != n8-i {
				ok = false
				break
			}
			slots[i] = l2
			s2, o2, err := v.resolvePos(off2)
			if err != nil {
				return nil, false, err
			}
			positions[i] = direntPos{s2, o2}
		}
		if ok {
			ascending := make([]fat32.LongDirEntry, n8)
			for i, s := range slots {
				ascending[n8-1-i] = s
			}
			reassembled := fat32.ReassembleLongName(ascending)
			shortOffset := offset + int64(n8)*fat32.DirentSize
			sbuf := make([]byte, fat32.DirentSize)
			sn, err := v.ReadAt(shortOffset, sbuf)
			if err == nil && sn == fat32.DirentSize {
				shortEnt := fat32.DecodeShortDirEntry(sbuf)
				if !shortEnt.IsDeleted() && slots[0].Checksum == shortEnt.Checksum() && reassembled == name {
					ssec, soff, err := v.resolvePos(shortOffset)
					if err != nil {
						return nil, false, err
					}
					return v.vfileFromShort(name, shortEnt, ssec, soff, positions), true, nil
				}
			}
		}
		offset += fat32.DirentSize
	}
}

func (v *VFile) vfileFromShort(name string, short fat32.ShortDirEntry, sec uint64, off int, longSlots []direntPos) *VFile {
	return &VFile{
		mgr:          v.mgr,
		name:         name,
		attr:         short.Attr,
		firstCluster: short.FirstCluster(),
		size:         short.FileSize,
		shortSec:     sec,
		shortOff:     off,
		longSlots:    longSlots,
	}
}

// FindByPath descends components from v, per spec.md §4.10: "" and
// "." are no-ops, ".." relies on the directory's own dot-dot entry.
func (v *VFile) FindByPath(components []string) (*VFile, bool, error) {
	cur := v
	for _, c := range components {
		if c == "" || c == "." {
			continue
		}
		next, ok, err := cur.FindByName(c)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

// findFreeDirentOffset scans for the first 0x00/0xE5 slot, or the
// offset just past the end of the chain if every slot is occupied.
func (v *VFile) findFreeDirentOffset() (int64, error) {
	var offset int64
	slot := make([]byte, fat32.DirentSize)
	for {
		n, err := v.ReadAt(offset, slot)
		if err != nil {
			return 0, err
		}
		if n < fat32.DirentSize || slot[0] == 0x00 || slot[0] == 0xE5 {
			return offset, nil
		}
		offset += fat32.DirentSize
	}
}

// writeDirentSlots writes a new (long-name slots, if needed, plus
// short) dirent named name with the given attribute into this
// directory, returning the resulting VFile. It only lays down the
// dirent itself; Create layers subdirectory seeding on top, and
// Rename points the result at an already-existing cluster chain
// instead.
func (v *VFile) writeDirentSlots(name string, attr uint8) (*VFile, error) {
	offset, err := v.findFreeDirentOffset()
	if err != nil {
		return nil, err
	}

	var shortName [11]byte
	if needsLongName(name) {
		shortName = fat32.GenerateShortName(name)
	} else {
		shortName = shortNameFormatted(name)
	}
	var shortEnt fat32.ShortDirEntry
	shortEnt.Name = shortName
	shortEnt.Attr = attr
	checksum := shortEnt.Checksum()

	if needsLongName(name) {
		slots := fat32.NewLongSlots(name, checksum)
		buf := make([]byte, fat32.DirentSize)
		for _, s := range slots {
			s.Encode(buf)
			if _, err := v.WriteAt(offset, buf); err != nil {
				return nil, err
			}
			offset += fat32.DirentSize
		}
	}

	sbuf := make([]byte, fat32.DirentSize)
	shortEnt.Encode(sbuf)
	if _, err := v.WriteAt(offset, sbuf); err != nil {
		return nil, err
	}

	child, ok, err := v.FindByName(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("vfat: created entry %q not found after write", name)
	}
	return child, nil
}

// Create adds a new directory entry named name with the given
// attribute to this directory, and seeds "." / ".." for a new
// subdirectory (spec.md §4.10).
func (v *VFile) Create(name string, attr uint8) (*VFile, error) {
	if !v.IsDir() {
		return nil, fmt.Errorf("vfat: Create on a non-directory")
	}
	child, err := v.writeDirentSlots(name, attr)
	if err != nil {
		return nil, err
	}

	if attr&fat32.AttrDirectory != 0 {
		selfCluster, err := v.mgr.allocClusters(1)
		if err != nil {
			return nil, err
		}
		child.firstCluster = selfCluster
		if err := child.commitFirstCluster(); err != nil {
			return nil, err
		}
		var dot, dotdot fat32.ShortDirEntry
		dot.Name = fat32.ShortNameFrom8_3(".", "")
		dot.Attr = fat32.AttrDirectory
		dot.SetFirstCluster(child.firstCluster)
		dotdot.Name = fat32.ShortNameFrom8_3("..", "")
		dotdot.Attr = fat32.AttrDirectory
		dotdot.SetFirstCluster(v.firstCluster)

		buf := make([]byte, fat32.DirentSize)
		dot.Encode(buf)
		if _, err := child.WriteAt(0, buf); err != nil {
			return nil, err
		}
		dotdot.Encode(buf)
		if _, err := child.WriteAt(fat32.DirentSize, buf); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// removeDirentOnly marks every slot of this entry deleted without
// touching its cluster chain. Remove uses it before freeing the
// chain; Rename uses it alone, since the chain lives on under the new
// name.
func (v *VFile) removeDirentOnly() error {
	for _, pos := range v.longSlots {
		h, err := v.mgr.infoCache.Get(pos.sector)
		if err != nil {
			return err
		}
		h.Buffer().Modify(func(data []byte) {
			e := fat32.DecodeLongDirEntry(data[pos.offset : pos.offset+fat32.DirentSize])
			e.Order = 0xE5
			e.Encode(data[pos.offset : pos.offset+fat32.DirentSize])
		})
		h.Release()
	}
	return v.modifyShortDirent(func(e *fat32.ShortDirEntry) { e.Delete() })
}

// Remove marks every slot of this entry deleted and frees its
// cluster chain, returning the number of clusters freed (spec.md
// §4.10).
func (v *VFile) Remove() (int, error) {
	if err := v.removeDirentOnly(); err != nil {
		return 0, err
	}
	if v.firstCluster == 0 {
		return 0, nil
	}
	clusters, err := v.mgr.fat.AllClusters(v.firstCluster)
	if err != nil {
		return 0, err
	}
	if err := v.mgr.freeClusters(clusters); err != nil {
		return 0, err
	}
	return len(clusters), nil
}

// Rename relinks v as name under newParent, handing its existing
// cluster chain over to the new dirent instead of copying data —
// same-directory renaming only, matching sys_renameat2 in the
// original (the syscall layer rejects cross-directory requests with
// -EXDEV before calling this). If name already exists under
// newParent, that entry's chain is replaced with v's rather than
// creating a duplicate.
func (v *VFile) Rename(newParent *VFile, name string) error {
	if !newParent.IsDir() {
		return fmt.Errorf("vfat: rename target parent is not a directory")
	}
	target, ok, err := newParent.FindByName(name)
	if err != nil {
		return err
	}
	if !ok {
		target, err = newParent.writeDirentSlots(name, v.attr)
		if err != nil {
			return err
		}
	}
	target.firstCluster = v.firstCluster
	target.size = v.size
	if err := target.commitFirstCluster(); err != nil {
		return err
	}
	if err := target.commitSize(); err != nil {
		return err
	}
	return v.removeDirentOnly()
}

// DirEntry is one (name, attribute) pair returned by Ls.
type DirEntry struct {
	Name string
	Attr uint8
}

// Ls lists every live entry in this directory, lowercasing short
// names the way the reference "ls" does (spec.md §4.10).
func (v *VFile) Ls() ([]DirEntry, error) {
	if !v.IsDir() {
		return nil, fmt.Errorf("vfat: Ls on a non-directory")
	}
	var out []DirEntry
	var offset int64
	slot := make([]byte, fat32.DirentSize)
	for {
		n, err := v.ReadAt(offset, slot)
		if err != nil {
			return nil, err
		}
		if n < fat32.DirentSize || slot[0] == 0x00 {
			return out, nil
		}
		if slot[0] == 0xE5 {
			offset += fat32.DirentSize
			continue
		}
		attr := slot[11]
		if attr != fat32.AttrLongName {
			short := fat32.DecodeShortDirEntry(slot)
			name := strings.TrimRight(string(short.Name[:8]), " ")
			if ext := strings.TrimRight(string(short.Name[8:]), " "); ext != "" {
				name += "." + ext
			}
			out = append(out, DirEntry{Name: strings.ToLower(name), Attr: short.Attr})
			offset += fat32.DirentSize
			continue
		}
		longEntry := fat32.DecodeLongDirEntry(slot)
		n8 := longEntry.SeqNum()
		slots := []fat32.LongDirEntry{longEntry}
		for i := uint8(1); i < n8; i++ {
			offset += fat32.DirentSize
			n2, err := v.ReadAt(offset, slot)
			if err != nil {
				return nil, err
			}
			if n2 < fat32.DirentSize || slot[0] == 0x00 {
				return out, nil
			}
			slots = append(slots, fat32.DecodeLongDirEntry(slot))
		}
		ascending := make([]fat32.LongDirEntry, len(slots))
		for i, s := range slots {
			ascending[len(slots)-1-i] = s
		}
		// The short slot right after this long sequence carries the
		// real attribute and terminates the entry; consume it here
		// so it isn't also emitted as its own 8.3 name next iteration.
		shortOffset := offset + fat32.DirentSize
		sbuf := make([]byte, fat32.DirentSize)
		sn, serr := v.ReadAt(shortOffset, sbuf)
		if serr != nil {
			return nil, serr
		}
		shortAttr := uint8(fat32.AttrArchive)
		if sn == fat32.DirentSize && sbuf[0] != 0x00 {
			shortAttr = fat32.DecodeShortDirEntry(sbuf).Attr
		}
		out = append(out, DirEntry{Name: fat32.ReassembleLongName(ascending), Attr: shortAttr})
		offset = shortOffset + fat32.DirentSize
	}
}
