package logengine

import (
	"context"
	"path/filepath"
	"testing"

	"physlog/pkg/blockdevice"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
)

func newTestEngine(t *testing.T, fileSize int64, maxQueuedWriteDepth uint32) (*Engine, blockdevice.Device) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.dat")
	dev, err := blockdevice.OpenFileDevice(path, fileSize, 8)
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	master := layout.NewMasterBlock(primitives.NewLogId(), [16]byte{1}, fileSize, 1<<20, 1<<20, maxQueuedWriteDepth, 16, 1<<20, 1<<16)
	lsnSpace := int64(master.LogFileLsnSpace)
	e := NewEngine(dev, master, primitives.LSN(layout.UsableRegionStart), primitives.InvalidLSN, primitives.InvalidLSN, primitives.InvalidLSN, lsnSpace)
	return e, dev
}

func TestEngineWritePersistsRecord(t *testing.T) {
	e, dev := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})

	payload := []byte("hello, log")
	lsn, err := e.Write(context.Background(), WriteRequest{Stream: s, Asn: 1, Version: 1, Payload: payload})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !lsn.Valid() {
		t.Fatalf("Write returned invalid lsn")
	}

	entry, ok := s.Asn.Get(1)
	if !ok {
		t.Fatalf("expected ASN 1 to be indexed")
	}
	if entry.Lsn != lsn {
		t.Errorf("entry.Lsn = %v, want %v", entry.Lsn, lsn)
	}

	snap := e.Snapshot()
	if snap.HighestCompletedLsn != lsn {
		t.Errorf("HighestCompletedLsn = %v, want %v", snap.HighestCompletedLsn, lsn)
	}

	_ = dev
}

func TestEngineWriteRejectsStaleVersion(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	ctx := context.Background()

	if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: 1, Version: 2, Payload: []byte("a")}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: 1, Version: 1, Payload: []byte("b")}); err == nil {
		t.Fatalf("expected stale-version error on a lower version rewrite")
	}
}

func TestEngineMultipleWritesGetIncreasingLsns(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	ctx := context.Background()

	lsn1, _ := e.Write(ctx, WriteRequest{Stream: s, Asn: 1, Version: 1, Payload: []byte("first")})
	lsn2, _ := e.Write(ctx, WriteRequest{Stream: s, Asn: 2, Version: 1, Payload: []byte("second")})

	if lsn2 <= lsn1 {
		t.Fatalf("expected lsn2 > lsn1, got %v <= %v", lsn2, lsn1)
	}
}

func TestEngineTruncateImmediateWhenServiceable(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	ctx := context.Background()

	for asn := primitives.ASN(1); asn <= 5; asn++ {
		if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: asn, Version: 1, Payload: []byte("x")}); err != nil {
			t.Fatalf("write asn=%d: %v", asn, err)
		}
	}

	if err := e.Truncate(s, 3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if _, ok := s.Asn.Get(1); ok {
		t.Errorf("ASN 1 should have been truncated")
	}
	if _, ok := s.Asn.Get(4); !ok {
		t.Errorf("ASN 4 should survive truncation")
	}
}

func TestEngineReservationAccounting(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})

	if err := e.UpdateReservation(s, 4096); err != nil {
		t.Fatalf("UpdateReservation(+4096): %v", err)
	}
	if got := s.ReservedBytes(); got != 4096 {
		t.Errorf("ReservedBytes() = %d, want 4096", got)
	}
	if err := e.UpdateReservation(s, -8192); err == nil {
		t.Fatalf("expected ReserveTooSmall driving reservation negative")
	}
	if err := e.UpdateReservation(s, -4096); err != nil {
		t.Fatalf("UpdateReservation(-4096): %v", err)
	}
	if got := s.ReservedBytes(); got != 0 {
		t.Errorf("ReservedBytes() after drawdown = %d, want 0", got)
	}
}

func TestEngineReservedWriteDrawsDownLogWideTotal(t *testing.T) {
	e, _ := newTestEngine(t, 4<<20, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	ctx := context.Background()

	if err := e.UpdateReservation(s, 8192); err != nil {
		t.Fatalf("UpdateReservation: %v", err)
	}
	if got := e.Snapshot().ReservedBytesTotal; got != 8192 {
		t.Fatalf("ReservedBytesTotal after reserve = %d, want 8192", got)
	}

	payload := make([]byte, 10)
	if _, err := e.Write(ctx, WriteRequest{Stream: s, Asn: 1, Version: 1, Payload: payload, ReserveToConsume: 4096}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := s.ReservedBytes(); got != 4096 {
		t.Errorf("stream ReservedBytes() after write = %d, want 4096", got)
	}
	if got := e.Snapshot().ReservedBytesTotal; got != 4096 {
		t.Errorf("ReservedBytesTotal after write = %d, want 4096 (log-wide total must draw down with the stream's)", got)
	}
}

func TestEngineAllocateFailsWhenLogFull(t *testing.T) {
	e, _ := newTestEngine(t, 2*primitives.BlockSize+8*primitives.BlockSize, 1<<20)
	s := e.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 100; i++ {
		payload := make([]byte, primitives.BlockSize)
		_, lastErr = e.Write(ctx, WriteRequest{Stream: s, Asn: primitives.ASN(i + 1), Version: 1, Payload: payload})
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected the log to eventually report LogFull or chaos-window exhaustion")
	}
}
