package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice backs Device with a plain host file (a FAT32 disk
// image), using unix.Pread/Pwrite for positioned, lock-step I/O
// instead of os.File.ReadAt/WriteAt's higher-level wrapper — the
// closer analogue of a real block driver issuing one synchronous
// request per call.
type FileDevice struct {
	f *os.File
}

// OpenFileDevice opens path (a disk image) for block I/O.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &FileDevice{f: f}, nil
}

func (d *FileDevice) ReadBlock(sector uint64, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	n, err := unix.Pread(int(d.f.Fd()), buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: pread sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return ErrShortIO
	}
	return nil
}

func (d *FileDevice) WriteBlock(sector uint64, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	n, err := unix.Pwrite(int(d.f.Fd()), buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return ErrShortIO
	}
	return nil
}

// Close releases the backing file handle.
func (d *FileDevice) Close() error { return d.f.Close() }
