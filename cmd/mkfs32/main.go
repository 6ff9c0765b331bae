// Command mkfs32 formats a raw disk image file with the minimal
// bootable FAT32 layout internal/vfat mounts: one boot sector, one
// FS-info sector, two FATs, and an empty root directory, grounded on
// Biscuit's own mkfs.go (biscuit/src/mkfs/mkfs.go) for the
// write-a-block-device-by-hand idiom, wired to cobra for the command
// tree the way dsmmcken-dh-cli structures its subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jklincn/rvkernel/internal/blockdev"
	"github.com/jklincn/rvkernel/internal/fat32"
)

const (
	sectorSize = blockdev.SectorSize
	rsvdSecCnt = 32
	fatSz32    = 1024
	numFATs    = 2
	secPerClus = 8
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs32",
		Short: "Format a disk image with a bootable FAT32 volume",
	}
	formatCmd := &cobra.Command{
		Use:   "format <image> <size-mb>",
		Short: "Create and format a new disk image",
		Args:  cobra.ExactArgs(2),
		RunE:  runFormat,
	}
	root.AddCommand(formatCmd)

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("mkfs32 failed")
	}
}

func runFormat(cmd *cobra.Command, args []string) error {
	path := args[0]
	var sizeMB int
	if _, err := fmt.Sscanf(args[1], "%d", &sizeMB); err != nil {
		return fmt.Errorf("mkfs32: invalid size %q: %w", args[1], err)
	}
	totalSectors := uint64(sizeMB) * 1024 * 1024 / sectorSize

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mkfs32: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(totalSectors) * sectorSize); err != nil {
		return fmt.Errorf("mkfs32: sizing %s: %w", path, err)
	}

	serial := volumeSerial()
	bs := &fat32.BootSector{
		BytesPerSec: sectorSize,
		SecPerClus:  secPerClus,
		RsvdSecCnt:  rsvdSecCnt,
		NumFATs:     numFATs,
		FATSz32:     fatSz32,
		RootClus:    2,
		FSInfoSec:   1,
		VolID:       serial,
	}

	var sec [sectorSize]byte
	bs.Encode(sec[:])
	if err := writeAt(f, 0, sec[:]); err != nil {
		return err
	}

	var fsi [sectorSize]byte
	copy(fsi[0:4], []byte{0x52, 0x52, 0x61, 0x41})
	copy(fsi[484:488], []byte{0x72, 0x72, 0x41, 0x61})
	putLE32(fsi[488:492], 0xFFFFFFFF)
	putLE32(fsi[492:496], 3) // cluster 2 (root) is already allocated
	if err := writeAt(f, 1, fsi[:]); err != nil {
		return err
	}

	var fatFirst [sectorSize]byte
	putLE32(fatFirst[8:12], fat32.EndCluster) // root directory's single cluster
	if err := writeAt(f, bs.FAT1Sector(), fatFirst[:]); err != nil {
		return err
	}
	if err := writeAt(f, bs.FAT2Sector(), fatFirst[:]); err != nil {
		return err
	}

	var zero [sectorSize]byte
	if err := writeAt(f, bs.FirstSectorOfCluster(2), zero[:]); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"path":          path,
		"size_mb":       sizeMB,
		"volume_serial": fmt.Sprintf("%08x", serial),
	}).Info("formatted FAT32 volume")
	return nil
}

// volumeSerial derives a 32-bit FAT32 volume-id from a fresh UUID
// rather than hardcoding a constant the way Biscuit's own mkfs does.
func volumeSerial() uint32 {
	id := uuid.New()
	b := id[:4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func writeAt(f *os.File, sector uint64, buf []byte) error {
	if _, err := f.WriteAt(buf, int64(sector)*sectorSize); err != nil {
		return fmt.Errorf("mkfs32: writing sector %d: %w", sector, err)
	}
	return nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
