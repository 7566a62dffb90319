package streamindex

import (
	"testing"

	"physlog/pkg/primitives"
)

func TestLsnIndexAddHigherRejectsOutOfOrder(t *testing.T) {
	ix := NewLsnIndex()
	if err := ix.AddHigherLsnRecord(8192, 256, 4096); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := ix.AddHigherLsnRecord(8192, 256, 4096); err == nil {
		t.Fatalf("expected error adding a non-higher lsn")
	}
}

func TestLsnIndexAddLowerPrepends(t *testing.T) {
	ix := NewLsnIndex()
	ix.AddHigherLsnRecord(8192, 256, 4096)
	if err := ix.AddLowerLsnRecord(4096, 256, 4096); err != nil {
		t.Fatalf("AddLowerLsnRecord: %v", err)
	}
	first, ok := ix.QueryRecord(0)
	if !ok || first.Lsn != 4096 {
		t.Errorf("QueryRecord(0) = %+v, want lsn 4096", first)
	}
}

func TestLsnIndexTruncateRemovesHead(t *testing.T) {
	ix := NewLsnIndex()
	for _, lsn := range []uint64{4096, 8192, 12288, 16384} {
		ix.AddHigherLsnRecord(lsnOf(lsn), 256, 4096)
	}
	ix.Truncate(lsnOf(8192))
	if ix.Len() != 2 {
		t.Fatalf("Len() after truncate = %d, want 2", ix.Len())
	}
	first, _ := ix.QueryRecord(0)
	if first.Lsn != lsnOf(12288) {
		t.Errorf("QueryRecord(0) after truncate = %+v", first)
	}
}

func TestLsnIndexRemoveHighestLsnRecord(t *testing.T) {
	ix := NewLsnIndex()
	ix.AddHigherLsnRecord(4096, 256, 4096)
	ix.AddHigherLsnRecord(8192, 256, 4096)

	removed, ok := ix.RemoveHighestLsnRecord()
	if !ok || removed.Lsn != 8192 {
		t.Fatalf("RemoveHighestLsnRecord() = %+v", removed)
	}
	if ix.Len() != 1 {
		t.Errorf("Len() after remove = %d, want 1", ix.Len())
	}
}

func TestLsnIndexSegmentRoundTrip(t *testing.T) {
	ix := NewLsnIndex()
	for i := uint64(1); i <= 6; i++ {
		ix.AddHigherLsnRecord(lsnOf(i*4096), 256, 4096)
	}
	smallSegment := SegmentHeaderSize + 2*lsnSegmentEntrySize
	segs := ix.GetAllRecordLsnsIntoIoBuffer(smallSegment, SegmentHeaderSize)
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}

	rebuilt := RestoreLsnFromSegments(segs)
	if rebuilt.Len() != 6 {
		t.Fatalf("rebuilt Len() = %d, want 6", rebuilt.Len())
	}
}

func lsnOf(v uint64) primitives.LSN { return primitives.LSN(v) }
