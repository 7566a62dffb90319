package logmanager

import (
	"context"
	"time"

	"physlog/pkg/dberror"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
	"physlog/pkg/streamindex"
)

// readRetries and readRetryDelay implement the read-after-write-verify
// tolerance for a racing higher-version write landing between a
// reader's index lookup and its device read.
const (
	readRetries    = 4
	readRetryDelay = 100 * time.Millisecond
)

// Stream is the per-stream read/write/truncate surface applications
// use. It wraps the underlying engine stream and always routes writes
// and reads through its owning Log's engine.
type Stream struct {
	log    *Log
	engine *logengine.Stream
}

// Id returns the stream's identifier.
func (s *Stream) Id() primitives.StreamId { return s.engine.Id }

// Reservation reports the stream's currently reserved byte count.
func (s *Stream) Reservation() int64 { return s.engine.ReservedBytes() }

// Write appends a record at (asn, version).
func (s *Stream) Write(ctx context.Context, asn primitives.ASN, version primitives.Version, metadata, payload []byte) error {
	if uint32(len(metadata)+len(payload)) > s.log.MaxRecordSize() {
		return dberror.New(dberror.CategoryCapacity, "RECORD_TOO_LARGE", "record exceeds MaxRecordSize").WithComponent("logmanager")
	}
	_, err := s.log.engine.Write(ctx, logengine.WriteRequest{Stream: s.engine, Asn: asn, Version: version, Metadata: metadata, Payload: payload})
	return err
}

// ReservedWrite appends a record, spending reserveToConsume bytes of
// the stream's existing reservation rather than general free space.
func (s *Stream) ReservedWrite(ctx context.Context, reserveToConsume int64, asn primitives.ASN, version primitives.Version, metadata, payload []byte) error {
	if reserveToConsume > s.engine.ReservedBytes() {
		return dberror.NewReserveTooSmall("logmanager", s.engine.ReservedBytes(), reserveToConsume)
	}
	_, err := s.log.engine.Write(ctx, logengine.WriteRequest{
		Stream: s.engine, Asn: asn, Version: version, Metadata: metadata, Payload: payload, ReserveToConsume: reserveToConsume,
	})
	return err
}

// Read returns the metadata and payload persisted at asn, retrying up
// to readRetries times with readRetryDelay between attempts to
// tolerate a racing higher-version write landing between the ASN
// lookup and the device read.
func (s *Stream) Read(ctx context.Context, asn primitives.ASN) (version primitives.Version, metadata, payload []byte, err error) {
	for attempt := 0; ; attempt++ {
		s.engine.Lock()
		entry, ok := s.engine.Asn.Get(asn)
		s.engine.Unlock()
		if !ok || entry.Disposition != streamindex.DispositionPersisted {
			err = dberror.NewNotFound("logmanager", "record at given asn")
		} else {
			metadata, payload, err = s.log.engine.ReadRecord(ctx, entry.Lsn)
			if err == nil {
				return entry.Version, metadata, payload, nil
			}
		}
		if attempt >= readRetries {
			return 0, nil, nil, err
		}
		select {
		case <-ctx.Done():
			return 0, nil, nil, ctx.Err()
		case <-time.After(readRetryDelay):
		}
	}
}

// Truncate discards every record at or below truncationAsn. If
// preferredTruncationAsn is higher and already safe to apply without
// blocking on a future write, the cut is extended to it opportunistically.
func (s *Stream) Truncate(ctx context.Context, truncationAsn, preferredTruncationAsn primitives.ASN) error {
	target := truncationAsn
	if preferredTruncationAsn > truncationAsn && s.engine.CanTruncateTo(preferredTruncationAsn) {
		target = preferredTruncationAsn
	}
	return s.log.engine.Truncate(s.engine, target)
}

// UpdateReservation adjusts this stream's reserved-byte balance.
func (s *Stream) UpdateReservation(delta int64) error {
	return s.log.engine.UpdateReservation(s.engine, delta)
}

// RecordInfo is the per-record summary QueryRecord and QueryRecords return.
type RecordInfo struct {
	Asn         primitives.ASN
	Version     primitives.Version
	Disposition streamindex.Disposition
	Size        uint32
	Lsn         primitives.LSN
}

// QueryRecord reports the index entry for asn without touching the device.
func (s *Stream) QueryRecord(asn primitives.ASN) (RecordInfo, error) {
	s.engine.Lock()
	entry, ok := s.engine.Asn.Get(asn)
	s.engine.Unlock()
	if !ok {
		return RecordInfo{}, dberror.NewNotFound("logmanager", "record at given asn")
	}
	return RecordInfo{Asn: entry.Asn, Version: entry.Version, Disposition: entry.Disposition, Size: entry.IoBufferSize, Lsn: entry.Lsn}, nil
}

// RecordRange reports a stream's ASN bounds and its truncation point.
type RecordRange struct {
	LowestAsn     primitives.ASN
	HighestAsn    primitives.ASN
	TruncationAsn primitives.ASN
}

// QueryRecordRange reports the stream's current ASN bounds.
func (s *Stream) QueryRecordRange() RecordRange {
	s.engine.Lock()
	defer s.engine.Unlock()
	return RecordRange{
		LowestAsn:     s.engine.Asn.LowestAsn(),
		HighestAsn:    s.engine.Asn.HighestAsn(),
		TruncationAsn: s.engine.Asn.TruncationAsn(),
	}
}

// QueryRecords lists every retained record with ASN in [lo, hi].
func (s *Stream) QueryRecords(lo, hi primitives.ASN) []RecordInfo {
	s.engine.Lock()
	defer s.engine.Unlock()

	var out []RecordInfo
	for i := 0; i < s.engine.Asn.Len(); i++ {
		entry, ok := s.engine.Asn.EntryAt(i)
		if !ok {
			continue
		}
		if entry.Asn < lo || entry.Asn > hi {
			continue
		}
		out = append(out, RecordInfo{Asn: entry.Asn, Version: entry.Version, Disposition: entry.Disposition, Size: entry.IoBufferSize, Lsn: entry.Lsn})
	}
	return out
}
