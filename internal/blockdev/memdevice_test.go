package blockdev

import "testing"

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(4)
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := d.WriteBlock(2, buf); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, SectorSize)
	if err := d.ReadBlock(2, got); err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != buf[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], buf[i])
		}
	}
}

func TestMemDeviceOutOfRange(t *testing.T) {
	d := NewMemDevice(1)
	buf := make([]byte, SectorSize)
	if err := d.ReadBlock(5, buf); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestMemDeviceWrongBufferSize(t *testing.T) {
	d := NewMemDevice(1)
	if err := d.WriteBlock(0, make([]byte, 10)); err == nil {
		t.Fatal("expected short-buffer error")
	}
}
