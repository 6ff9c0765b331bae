package fat32

import "encoding/binary"

// Directory entry attribute bits (spec.md §4.9).
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// DirentSize is the fixed 32-byte width of both entry kinds.
const DirentSize = 32

// LongNameLen is the number of UCS-2 chars packed into one long slot.
const LongNameLen = 13

// ShortDirEntry is the 32-byte 8.3 directory entry (spec.md §4.9).
type ShortDirEntry struct {
	Name       [11]byte
	Attr       uint8
	NTRes      uint8
	CrtTenth   uint8
	CrtTime    uint16
	CrtDate    uint16
	LstAccDate uint16
	FstClusHi  uint16
	WrtTime    uint16
	WrtDate    uint16
	FstClusLo  uint16
	FileSize   uint32
}

// DecodeShortDirEntry reads a short entry out of a 32-byte slice.
func DecodeShortDirEntry(b []byte) ShortDirEntry {
	var e ShortDirEntry
	copy(e.Name[:], b[0:11])
	e.Attr = b[11]
	e.NTRes = b[12]
	e.CrtTenth = b[13]
	e.CrtTime = binary.LittleEndian.Uint16(b[14:])
	e.CrtDate = binary.LittleEndian.Uint16(b[16:])
	e.LstAccDate = binary.LittleEndian.Uint16(b[18:])
	e.FstClusHi = binary.LittleEndian.Uint16(b[20:])
	e.WrtTime = binary.LittleEndian.Uint16(b[22:])
	e.WrtDate = binary.LittleEndian.Uint16(b[24:])
	e.FstClusLo = binary.LittleEndian.Uint16(b[26:])
	e.FileSize = binary.LittleEndian.Uint32(b[28:])
	return e
}

// Encode writes the entry back into a 32-byte slice.
func (e *ShortDirEntry) Encode(b []byte) {
	copy(b[0:11], e.Name[:])
	b[11] = e.Attr
	b[12] = e.NTRes
	b[13] = e.CrtTenth
	binary.LittleEndian.PutUint16(b[14:], e.CrtTime)
	binary.LittleEndian.PutUint16(b[16:], e.CrtDate)
	binary.LittleEndian.PutUint16(b[18:], e.LstAccDate)
	binary.LittleEndian.PutUint16(b[20:], e.FstClusHi)
	binary.LittleEndian.PutUint16(b[22:], e.WrtTime)
	binary.LittleEndian.PutUint16(b[24:], e.WrtDate)
	binary.LittleEndian.PutUint16(b[26:], e.FstClusLo)
	binary.LittleEndian.PutUint32(b[28:], e.FileSize)
}

func (e *ShortDirEntry) IsDeleted() bool { return e.Name[0] == 0xE5 }
func (e *ShortDirEntry) IsEmpty() bool   { return e.Name[0] == 0x00 }
func (e *ShortDirEntry) IsDir() bool     { return e.Attr&AttrDirectory != 0 }
func (e *ShortDirEntry) IsLong() bool    { return e.Attr == AttrLongName }

// FirstCluster reassembles the entry's starting cluster from its
// high/low halves.
func (e *ShortDirEntry) FirstCluster() uint32 {
	return uint32(e.FstClusHi)<<16 | uint32(e.FstClusLo)
}

// SetFirstCluster splits cluster across the high/low fields.
func (e *ShortDirEntry) SetFirstCluster(cluster uint32) {
	e.FstClusHi = uint16(cluster >> 16)
	e.FstClusLo = uint16(cluster & 0xFFFF)
}

// Delete marks the slot free for reuse (spec.md §4.9).
func (e *ShortDirEntry) Delete() {
	e.FileSize = 0
	e.Name[0] = 0xE5
	e.SetFirstCluster(0)
}

// Checksum computes the documented 8-bit rotate-add checksum of the
// short entry's 11-byte name, which every associated long slot must
// match.
func (e *ShortDirEntry) Checksum() uint8 {
	var sum uint8
	for _, c := range e.Name {
		if sum&1 != 0 {
			sum = 0x80 + (sum >> 1) + c
		} else {
			sum = (sum >> 1) + c
		}
	}
	return sum
}

// LongDirEntry is one 13-UCS2-char slot of a long-name sequence
// (spec.md §4.9).
type LongDirEntry struct {
	Order    uint8
	Name1    [5]uint16 // chars 0..5
	Attr     uint8
	Type     uint8
	Checksum uint8
	Name2    [6]uint16 // chars 5..11
	Name3    [2]uint16 // chars 11..13
}

// LastSlotBit marks the physically-first, logically-last slot in a
// long-name sequence.
const LastSlotBit = 0x40

// DecodeLongDirEntry reads a long slot out of a 32-byte slice.
func DecodeLongDirEntry(b []byte) LongDirEntry {
	var e LongDirEntry
	e.Order = b[0]
	for i := 0; i < 5; i++ {
		e.Name1[i] = binary.LittleEndian.Uint16(b[1+i*2:])
	}
	e.Attr = b[11]
	e.Type = b[12]
	e.Checksum = b[13]
	for i := 0; i < 6; i++ {
		e.Name2[i] = binary.LittleEndian.Uint16(b[14+i*2:])
	}
	for i := 0; i < 2; i++ {
		e.Name3[i] = binary.LittleEndian.Uint16(b[28+i*2:])
	}
	return e
}

// Encode writes the long slot back into a 32-byte slice.
func (e *LongDirEntry) Encode(b []byte) {
	b[0] = e.Order
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(b[1+i*2:], e.Name1[i])
	}
	b[11] = e.Attr
	b[12] = e.Type
	b[13] = e.Checksum
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(b[14+i*2:], e.Name2[i])
	}
	binary.LittleEndian.PutUint16(b[26:], 0) // fst_clus_lo, always zero
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(b[28+i*2:], e.Name3[i])
	}
}

func (e *LongDirEntry) IsDeleted() bool { return e.Order == 0xE5 }
func (e *LongDirEntry) IsLast() bool    { return e.Order&LastSlotBit != 0 }
func (e *LongDirEntry) SeqNum() uint8   { return e.Order &^ LastSlotBit }

// chars returns the 13 UCS-2 chars this slot packs, in order.
func (e *LongDirEntry) chars() [13]uint16 {
	var out [13]uint16
	copy(out[0:5], e.Name1[:])
	copy(out[5:11], e.Name2[:])
	copy(out[11:13], e.Name3[:])
	return out
}

// NewLongSlots splits name (ASCII, UCS-2-widened) into the sequence
// of long slots that encode it, ordered first-physical-to-last
// (order N|LastSlotBit, N-1, ..., 1), every slot stamped with
// shortChecksum.
func NewLongSlots(name string, shortChecksum uint8) []LongDirEntry {
	runes := []rune(name)
	n := (len(runes) + LongNameLen - 1) / LongNameLen
	if n == 0 {
		n = 1
	}
	slots := make([]LongDirEntry, n)
	for i := 0; i < n; i++ {
		var chars [13]uint16
		for j := 0; j < 13; j++ {
			idx := i*13 + j
			switch {
			case idx < len(runes):
				chars[j] = uint16(runes[idx])
			case idx == len(runes):
				chars[j] = 0x0000
			default:
				chars[j] = 0xFFFF
			}
		}
		order := uint8(i + 1)
		if i == n-1 {
			order |= LastSlotBit
		}
		slots[i] = LongDirEntry{
			Order:    order,
			Attr:     AttrLongName,
			Checksum: shortChecksum,
		}
		copy(slots[i].Name1[:], chars[0:5])
		copy(slots[i].Name2[:], chars[5:11])
		copy(slots[i].Name3[:], chars[11:13])
	}
	// On disk the slots are written last-first: order N|0x40 comes
	// physically first. The loop above built them in ascending order
	// (LastSlotBit at index n-1), so reverse them here into on-disk
	// order; callers write the result as is.
	for i, j := 0, len(slots)-1; i < j; i, j = i+1, j-1 {
		slots[i], slots[j] = slots[j], slots[i]
	}
	return slots
}

// ReassembleLongName concatenates slots[0:] (already ordered
// last-physical-slot-first, i.e. ascending order 1..N) into the
// original UCS-2 name, truncating at the terminating NUL.
func ReassembleLongName(slots []LongDirEntry) string {
	var runes []rune
	for _, s := range slots {
		for _, c := range s.chars() {
			if c == 0x0000 || c == 0xFFFF {
				return string(runes)
			}
			runes = append(runes, rune(c))
		}
	}
	return string(runes)
}

// ShortNameFrom8_3 packs an 11-byte 8.3 name from a base+ext pair,
// space-padded, matching the disk format (e.g. "FOO     TXT").
func ShortNameFrom8_3(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}

// GenerateShortName derives a unique-enough 8.3 alias for a long
// name, per spec.md §4.9: "first six uppercase chars + ~1 + extension".
func GenerateShortName(longName string) [11]byte {
	base := longName
	ext := ""
	for i := len(longName) - 1; i >= 0; i-- {
		if longName[i] == '.' {
			base = longName[:i]
			ext = longName[i+1:]
			break
		}
	}
	upperBase := toUpperASCII(base)
	if len(upperBase) > 6 {
		upperBase = upperBase[:6]
	}
	upperExt := toUpperASCII(ext)
	if len(upperExt) > 3 {
		upperExt = upperExt[:3]
	}
	return ShortNameFrom8_3(upperBase+"~1", upperExt)
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
