package streamindex

import (
	"testing"

	"physlog/pkg/primitives"
)

func TestSegmentHeaderRoundTrip(t *testing.T) {
	h := SegmentHeader{Kind: SegmentKindAsn, SegmentIndex: 1, SegmentCount: 3, EntryCount: 7, LinkToPrevSegment: primitives.LSN(4096)}
	buf := h.Encode()
	got, ok := DecodeSegmentHeader(buf)
	if !ok || got != h {
		t.Fatalf("round trip = %+v, ok=%v, want %+v", got, ok, h)
	}
}

func TestAsnSegmentRoundTrip(t *testing.T) {
	h := SegmentHeader{Kind: SegmentKindAsn, SegmentIndex: 0, SegmentCount: 1, EntryCount: 2}
	entries := []AsnSegmentEntry{
		{Asn: 1, Version: 1, Lsn: 4096, IoBufferSize: 64},
		{Asn: 2, Version: 3, Lsn: 8192, IoBufferSize: 128},
	}
	buf := EncodeAsnSegment(h, entries)

	gotHeader, gotEntries, ok := DecodeAsnSegment(buf)
	if !ok {
		t.Fatalf("DecodeAsnSegment() ok = false")
	}
	if gotHeader.EntryCount != 2 {
		t.Errorf("header.EntryCount = %d, want 2", gotHeader.EntryCount)
	}
	if len(gotEntries) != 2 || gotEntries[0] != entries[0] || gotEntries[1] != entries[1] {
		t.Errorf("entries = %+v, want %+v", gotEntries, entries)
	}
}

func TestLsnSegmentRoundTrip(t *testing.T) {
	h := SegmentHeader{Kind: SegmentKindLsn, SegmentIndex: 0, SegmentCount: 1, EntryCount: 2}
	entries := []LsnEntry{
		{Lsn: 4096, HdrSize: 256, IoSize: 4096},
		{Lsn: 8192, HdrSize: 256, IoSize: 8192},
	}
	buf := EncodeLsnSegment(h, entries)

	gotHeader, gotEntries, ok := DecodeLsnSegment(buf)
	if !ok {
		t.Fatalf("DecodeLsnSegment() ok = false")
	}
	if gotHeader.EntryCount != 2 {
		t.Errorf("header.EntryCount = %d, want 2", gotHeader.EntryCount)
	}
	if len(gotEntries) != 2 || gotEntries[0] != entries[0] || gotEntries[1] != entries[1] {
		t.Errorf("entries = %+v, want %+v", gotEntries, entries)
	}
}

func TestDecodeAsnSegmentRejectsWrongKind(t *testing.T) {
	h := SegmentHeader{Kind: SegmentKindLsn, SegmentCount: 1, EntryCount: 0}
	buf := EncodeLsnSegment(h, nil)
	if _, _, ok := DecodeAsnSegment(buf); ok {
		t.Errorf("DecodeAsnSegment() accepted an LSN-kind segment")
	}
}
