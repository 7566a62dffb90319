package streamindex

import (
	"errors"
	"testing"

	"physlog/pkg/dberror"
	"physlog/pkg/primitives"
)

func TestAsnIndexAddOrUpdateRejectsStaleVersion(t *testing.T) {
	ix := NewAsnIndex()
	if _, err := ix.AddOrUpdate(10, 2, 4096, DispositionPersisted, 8192); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := ix.AddOrUpdate(10, 2, 4096, DispositionPersisted, 8192); !errors.Is(err, dberror.ErrStaleVersion) {
		t.Fatalf("expected StaleVersion for equal version, got %v", err)
	}
	if _, err := ix.AddOrUpdate(10, 1, 4096, DispositionPersisted, 8192); !errors.Is(err, dberror.ErrStaleVersion) {
		t.Fatalf("expected StaleVersion for lower version, got %v", err)
	}
}

func TestAsnIndexHigherVersionOverwrites(t *testing.T) {
	ix := NewAsnIndex()
	ix.AddOrUpdate(10, 1, 4096, DispositionPersisted, 8192)
	saved, err := ix.AddOrUpdate(10, 2, 4096, DispositionPersisted, 16384)
	if err != nil {
		t.Fatalf("overwrite with higher version: %v", err)
	}
	if !saved.HadEntry || saved.Prior.Version != 1 {
		t.Fatalf("expected saved prior state with version 1, got %+v", saved)
	}
	got, ok := ix.Get(10)
	if !ok || got.Lsn != 16384 {
		t.Fatalf("expected updated entry at lsn 16384, got %+v", got)
	}
}

func TestAsnIndexLowestLsnOfHigherAsnsDecoration(t *testing.T) {
	ix := NewAsnIndex()
	ix.AddOrUpdate(1, 1, 100, DispositionPersisted, 100)
	ix.AddOrUpdate(2, 1, 100, DispositionPersisted, 300)
	ix.AddOrUpdate(3, 1, 100, DispositionPersisted, 200)

	e1, _ := ix.Get(1)
	if e1.LowestLsnOfHigherASNs != 200 {
		t.Errorf("ASN 1 LowestLsnOfHigherASNs = %d, want 200 (min of 300, 200)", e1.LowestLsnOfHigherASNs)
	}
	e2, _ := ix.Get(2)
	if e2.LowestLsnOfHigherASNs != 200 {
		t.Errorf("ASN 2 LowestLsnOfHigherASNs = %d, want 200", e2.LowestLsnOfHigherASNs)
	}
	e3, _ := ix.Get(3)
	if e3.LowestLsnOfHigherASNs != primitives.InvalidLSN {
		t.Errorf("ASN 3 (highest) LowestLsnOfHigherASNs = %v, want InvalidLSN", e3.LowestLsnOfHigherASNs)
	}
}

func TestAsnIndexTruncateRemovesLowEntries(t *testing.T) {
	ix := NewAsnIndex()
	for asn := primitives.ASN(1); asn <= 5; asn++ {
		ix.AddOrUpdate(asn, 1, 100, DispositionPersisted, primitives.LSN(asn*1000))
	}

	lowest := ix.Truncate(3, 9999)
	if lowest != 4000 {
		t.Errorf("Truncate(3) lowest = %d, want 4000", lowest)
	}
	if ix.Len() != 2 {
		t.Errorf("Len() after truncate = %d, want 2", ix.Len())
	}
	if _, ok := ix.Get(3); ok {
		t.Errorf("ASN 3 should have been truncated")
	}
}

func TestAsnIndexTruncateToEmptyReturnsInvalidLsn(t *testing.T) {
	ix := NewAsnIndex()
	ix.AddOrUpdate(1, 1, 100, DispositionPersisted, 100)

	lowest := ix.Truncate(1, 9999)
	if lowest != primitives.InvalidLSN {
		t.Errorf("Truncate to empty = %v, want InvalidLSN", lowest)
	}
}

func TestAsnIndexRestoreUndoesUpdate(t *testing.T) {
	ix := NewAsnIndex()
	ix.AddOrUpdate(1, 1, 100, DispositionPersisted, 500)
	saved, _ := ix.AddOrUpdate(1, 2, 200, DispositionPending, 0)

	if err := ix.Restore(1, 2, saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := ix.Get(1)
	if got.Version != 1 || got.Lsn != 500 {
		t.Errorf("after Restore = %+v, want version=1 lsn=500", got)
	}
}

func TestAsnIndexGetAllEntriesSplitsIntoSegments(t *testing.T) {
	ix := NewAsnIndex()
	for asn := primitives.ASN(1); asn <= 10; asn++ {
		ix.AddOrUpdate(asn, 1, 100, DispositionPersisted, primitives.LSN(asn*4096))
	}
	ix.AddOrUpdate(11, 1, 100, DispositionPending, 0) // not persisted, excluded

	smallSegment := SegmentHeaderSize + 3*asnSegmentEntrySize
	segs := ix.GetAllEntriesIntoIoBuffer(smallSegment, SegmentHeaderSize)
	total := 0
	for _, s := range segs {
		total += len(s)
	}
	if total != 10 {
		t.Errorf("total serialized entries = %d, want 10 (pending entry excluded)", total)
	}
	if len(segs) < 2 {
		t.Errorf("expected entries to span multiple segments at a small segment size, got %d segment(s)", len(segs))
	}
}

func TestAsnIndexRestoreFromSegmentsRoundTrip(t *testing.T) {
	ix := NewAsnIndex()
	for asn := primitives.ASN(1); asn <= 5; asn++ {
		ix.AddOrUpdate(asn, 1, 100, DispositionPersisted, primitives.LSN(asn*4096))
	}
	segs := ix.GetAllEntriesIntoIoBuffer(1<<20, SegmentHeaderSize)

	rebuilt := RestoreFromSegments(segs)
	if rebuilt.Len() != 5 {
		t.Fatalf("rebuilt Len() = %d, want 5", rebuilt.Len())
	}
	for asn := primitives.ASN(1); asn <= 5; asn++ {
		e, ok := rebuilt.Get(asn)
		if !ok || e.Lsn != primitives.LSN(asn*4096) {
			t.Errorf("rebuilt entry %d = %+v", asn, e)
		}
	}
}
