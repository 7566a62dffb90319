package blockdevice

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func openTestDevice(t *testing.T, size int64) *FileDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.dat")
	d, err := OpenFileDevice(path, size, 4)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestFileDeviceWriteThenRead(t *testing.T) {
	d := openTestDevice(t, 1<<20)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	if _, err := d.WriteAt(ctx, 4096, payload, PriorityNormal); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, 4096)
	if _, err := d.ReadAt(ctx, 4096, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read back mismatch")
	}
}

func TestFileDeviceReadHoleIsZeroNotError(t *testing.T) {
	d := openTestDevice(t, 1<<20)
	ctx := context.Background()

	buf := make([]byte, 4096)
	if _, err := d.ReadAt(ctx, 512<<10, buf); err != nil {
		t.Fatalf("ReadAt on untouched region returned error: %v", err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected zero-filled hole, got non-zero byte")
		}
	}
}

func TestFileDeviceWriteAssignsDistinctRequestIDs(t *testing.T) {
	d := openTestDevice(t, 1<<20)
	ctx := context.Background()

	id1, _ := d.WriteAt(ctx, 4096, make([]byte, 4096), PriorityNormal)
	id2, _ := d.WriteAt(ctx, 8192, make([]byte, 4096), PriorityNormal)
	if id1 == id2 {
		t.Errorf("expected distinct request IDs, got %d and %d", id1, id2)
	}
}
