package vfat

import (
	"testing"

	"github.com/jklincn/rvkernel/internal/blockdev"
	"github.com/jklincn/rvkernel/internal/fat32"
)

// formatTestVolume writes a minimal bootable FAT32 image: 1 reserved
// sector for the boot sector, 1 FS-info sector, two small FATs, and a
// single-cluster root directory.
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
	if err := dev.WriteBlock(0, sec[:]); err != nil {
		t.Fatal(err)
	}

	var fsi [512]byte
	copy(fsi[0:4], []byte{0x52, 0x52, 0x61, 0x41})
	copy(fsi[484:488], []byte{0x72, 0x72, 0x41, 0x61})
	writeLE32(fsi[488:492], 0xFFFFFFFF)
	writeLE32(fsi[492:496], 3)
	if err := dev.WriteBlock(1, fsi[:]); err != nil {
		t.Fatal(err)
	}

	// Mark cluster 2 (root) allocated and end-of-chain in both FATs.
	fat1 := bs.FAT1Sector()
	fat2 := bs.FAT2Sector()
	var fatSec [512]byte
	writeLE32(fatSec[8:12], fat32.EndCluster) // entry for cluster 2
	if err := dev.WriteBlock(fat1, fatSec[:]); err != nil {
		t.Fatal(err)
	}
	if err := dev.WriteBlock(fat2, fatSec[:]); err != nil {
		t.Fatal(err)
	}

	// Zero the root directory's data cluster.
	var zero [512]byte
	if err := dev.WriteBlock(bs.FirstSectorOfCluster(2), zero[:]); err != nil {
		t.Fatal(err)
	}
	return dev
}

func writeLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestMountAndCreateShortFile(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	f, err := root.Create("hello.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(0, []byte("hi there")); err != nil {
		t.Fatal(err)
	}

	found, ok, err := root.FindByName("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected to find hello.txt")
	}
	buf := make([]byte, 8)
	n, err := found.ReadAt(0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hi there" {
		t.Fatalf("expected %q, got %q", "hi there", buf[:n])
	}
}

func TestCreateLongNameRoundTrip(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	const longName = "a-rather-long-filename.txt"
	if _, err := root.Create(longName, 0); err != nil {
		t.Fatal(err)
	}
	found, ok, err := root.FindByName(longName)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected to find %q", longName)
	}
	if found.Name() != longName {
		t.Fatalf("expected name %q, got %q", longName, found.Name())
	}
}

func TestCreateDirectorySeedsDotEntries(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := root.Create("sub", fat32.AttrDirectory)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := sub.Ls()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name != "." || entries[1].Name != ".." {
		t.Fatalf("expected [. ..], got %v", entries)
	}

	parent, ok, err := sub.FindByPath([]string{".."})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || parent.FirstCluster() != root.FirstCluster() {
		t.Fatalf("expected .. to resolve back to root")
	}
}

func TestRemoveFreesEntryAndChain(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	f, err := root.Create("doomed.bin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(0, make([]byte, 600)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Remove(); err != nil {
		t.Fatal(err)
	}
	_, ok, err := root.FindByName("doomed.bin")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected doomed.bin to be gone after Remove")
	}
}

func TestLsListsLongNameEntryOnce(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	const longName = "a-rather-long-filename.txt"
	if _, err := root.Create(longName, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := root.Create("short.txt", 0); err != nil {
		t.Fatal(err)
	}
	entries, err := root.Ls()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(entries), entries)
	}
	names := map[string]bool{entries[0].Name: true, entries[1].Name: true}
	if !names[longName] || !names["short.txt"] {
		t.Fatalf("expected %q and %q, got %v", longName, "short.txt", entries)
	}
}

func TestLsReportsDirectoryAttrForLongName(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	const longName = "a-rather-long-directory-name"
	if _, err := root.Create(longName, fat32.AttrDirectory); err != nil {
		t.Fatal(err)
	}
	entries, err := root.Ls()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Attr&fat32.AttrDirectory == 0 {
		t.Fatalf("expected a single directory entry, got %v", entries)
	}
}

func TestRenameSameDirectoryReusesChain(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	f, err := root.Create("old.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(0, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := f.Rename(root, "new.txt"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := root.FindByName("old.txt"); err != nil || ok {
		t.Fatal("expected old.txt to be gone after rename")
	}
	found, ok, err := root.FindByName("new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected to find new.txt")
	}
	buf := make([]byte, 7)
	n, err := found.ReadAt(0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "payload" {
		t.Fatalf("expected the old chain's content to survive rename, got %q", buf[:n])
	}
}

func TestLsSkipsDeletedEntries(t *testing.T) {
	dev := formatTestVolume(t)
	_, root, err := Mount(dev)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.Create("keep.txt", 0); err != nil {
		t.Fatal(err)
	}
	gone, err := root.Create("gone.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gone.Remove(); err != nil {
		t.Fatal(err)
	}
	entries, err := root.Ls()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "keep.txt" {
		t.Fatalf("expected only keep.txt, got %v", entries)
	}
}
