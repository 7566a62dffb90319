package logmanager

import (
	"context"
	"errors"
	"testing"

	"physlog/pkg/dberror"
	"physlog/pkg/primitives"
	"physlog/pkg/streamindex"
)

func newTestStream(t *testing.T) *Stream {
	t.Helper()
	log := newTestLog(t)
	stream, err := log.CreateStream(primitives.NewStreamId(), primitives.StreamType{})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	return stream
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	metadata := []byte("metadata")
	payload := []byte("the quick brown fox")
	if err := stream.Write(ctx, 1, 1, metadata, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	version, gotMetadata, gotPayload, err := stream.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if version != 1 {
		t.Fatalf("Read version = %d, want 1", version)
	}
	if string(gotMetadata) != string(metadata) {
		t.Fatalf("Read metadata = %q, want %q", gotMetadata, metadata)
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("Read payload = %q, want %q", gotPayload, payload)
	}
}

func TestReadUnwrittenAsnRetriesThenNotFound(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	_, _, _, err := stream.Read(ctx, 999)
	if !errors.Is(err, dberror.ErrNotFound) {
		t.Fatalf("Read of an unwritten asn = %v, want a NotFound error", err)
	}
}

func TestWriteStaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	if err := stream.Write(ctx, 1, 2, nil, []byte("v2")); err != nil {
		t.Fatalf("Write v2: %v", err)
	}
	if err := stream.Write(ctx, 1, 1, nil, []byte("v1")); err == nil {
		t.Fatalf("expected a write at a lower version to be rejected")
	}

	_, _, payload, err := stream.Read(ctx, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(payload) != "v2" {
		t.Fatalf("Read payload = %q, want %q (the surviving higher version)", payload, "v2")
	}
}

func TestTruncateHidesRecordsAtOrBelowBound(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	for asn := primitives.ASN(1); asn <= 5; asn++ {
		if err := stream.Write(ctx, asn, 1, nil, []byte("data")); err != nil {
			t.Fatalf("Write asn=%d: %v", asn, err)
		}
	}

	if err := stream.Truncate(ctx, 3, 3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	rng := stream.QueryRecordRange()
	if rng.TruncationAsn != 3 {
		t.Fatalf("QueryRecordRange().TruncationAsn = %d, want 3", rng.TruncationAsn)
	}
	if rng.LowestAsn != 4 {
		t.Fatalf("QueryRecordRange().LowestAsn = %d, want 4", rng.LowestAsn)
	}
	if rng.HighestAsn != 5 {
		t.Fatalf("QueryRecordRange().HighestAsn = %d, want 5", rng.HighestAsn)
	}

	if _, _, _, err := stream.Read(ctx, 2); !errors.Is(err, dberror.ErrNotFound) {
		t.Fatalf("Read of a truncated asn = %v, want NotFound", err)
	}
}

func TestTruncateExtendsToPreferredWhenSafe(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	for asn := primitives.ASN(1); asn <= 5; asn++ {
		if err := stream.Write(ctx, asn, 1, nil, []byte("data")); err != nil {
			t.Fatalf("Write asn=%d: %v", asn, err)
		}
	}

	// Every write up to 5 already persisted, so the preferred bound is
	// safe to apply immediately rather than deferring to it.
	if err := stream.Truncate(ctx, 2, 5); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	rng := stream.QueryRecordRange()
	if rng.TruncationAsn != 5 {
		t.Fatalf("QueryRecordRange().TruncationAsn = %d, want 5 (opportunistic preferred cut)", rng.TruncationAsn)
	}
}

func TestUpdateReservationThenReservedWrite(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	if err := stream.UpdateReservation(8192); err != nil {
		t.Fatalf("UpdateReservation: %v", err)
	}
	if err := stream.ReservedWrite(ctx, 4096, 1, 1, nil, make([]byte, 10)); err != nil {
		t.Fatalf("ReservedWrite: %v", err)
	}
}

func TestReservedWriteRejectsOverReservation(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	if err := stream.UpdateReservation(100); err != nil {
		t.Fatalf("UpdateReservation: %v", err)
	}
	if err := stream.ReservedWrite(ctx, 200, 1, 1, nil, []byte("x")); err == nil {
		t.Fatalf("expected ReservedWrite to reject spending more than reserved")
	}
}

func TestQueryRecordsReturnsRangeInAscendingOrder(t *testing.T) {
	ctx := context.Background()
	stream := newTestStream(t)

	for asn := primitives.ASN(1); asn <= 5; asn++ {
		if err := stream.Write(ctx, asn, 1, nil, []byte("x")); err != nil {
			t.Fatalf("Write asn=%d: %v", asn, err)
		}
	}

	records := stream.QueryRecords(2, 4)
	if len(records) != 3 {
		t.Fatalf("QueryRecords(2,4) returned %d records, want 3", len(records))
	}
	for i, r := range records {
		want := primitives.ASN(2 + i)
		if r.Asn != want {
			t.Fatalf("QueryRecords(2,4)[%d].Asn = %d, want %d", i, r.Asn, want)
		}
		if r.Disposition != streamindex.DispositionPersisted {
			t.Fatalf("QueryRecords(2,4)[%d].Disposition = %v, want Persisted", i, r.Disposition)
		}
	}
}

func TestQueryRecordUnknownAsn(t *testing.T) {
	stream := newTestStream(t)
	if _, err := stream.QueryRecord(42); err == nil {
		t.Fatalf("expected QueryRecord to fail for an unwritten asn")
	}
}
