package logengine

import (
	"context"

	"physlog/pkg/blockdevice"
	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
	"physlog/pkg/streamindex"
)

// WriteRequest is the input contract of the write path.
type WriteRequest struct {
	Stream             *Stream
	Asn                primitives.ASN
	Version            primitives.Version
	Metadata           []byte
	Payload            []byte
	ReserveToConsume   int64
}

// Write drives one record through Admitted → Allocated → Framed →
// Writing → (Persisted | RolledBack).
func (e *Engine) Write(ctx context.Context, req WriteRequest) (primitives.LSN, error) {
	s := req.Stream

	s.mu.Lock()
	saved, err := s.Asn.AddOrUpdate(req.Asn, req.Version, uint32(len(req.Payload)), streamindex.DispositionNone, primitives.InvalidLSN)
	if err != nil {
		s.mu.Unlock()
		return primitives.InvalidLSN, err
	}
	prevLsn := s.lastLsn
	s.mu.Unlock()

	recordSize := e.recordSize(req.Metadata, req.Payload)

	e.mu.Lock()
	lsn, err := e.allocate(ctx, recordSize, req.ReserveToConsume)
	if err != nil {
		e.mu.Unlock()
		s.mu.Lock()
		s.Asn.Restore(req.Asn, req.Version, saved)
		s.mu.Unlock()
		return primitives.InvalidLSN, err
	}
	if req.ReserveToConsume > 0 {
		s.mu.Lock()
		s.reserved -= req.ReserveToConsume
		s.mu.Unlock()
	}
	highestCompleted := e.highestCompletedLsn
	lsnSpace := int64(e.Master.LogFileLsnSpace)
	logId := e.Master.LogId
	sig := e.Master.LogSignature
	e.mu.Unlock()

	header := layout.RecordHeader{
		ThisHeaderSize:      0, // filled after encoding once size is known
		LogSignature:        sig,
		Lsn:                 lsn,
		PrevLsnInLogStream:  prevLsn,
		HighestCompletedLsn: highestCompleted,
		LogId:               logId,
		StreamId:            s.Id,
		StreamType:          s.Type,
		RecordType:          layout.RecordTypeUser,
		MetaDataSize:        uint32(len(req.Metadata)),
		IoBufferSize:        uint32(len(req.Payload)),
		Asn:                 req.Asn,
		Version:             req.Version,
	}
	headerBlock := header.Encode(req.Metadata)
	header.ThisHeaderSize = uint32(len(headerBlock))

	// Re-encode now that ThisHeaderSize is final; it is itself checksummed.
	headerBlock = header.Encode(req.Metadata)

	payloadPadded := make([]byte, primitives.RoundUpToBlock(int64(len(req.Payload))))
	copy(payloadPadded, req.Payload)
	full := append(append([]byte{}, headerBlock...), payloadPadded...)
	fileOffset := layout.FileOffset(primitives.LSN(layout.UsableRegionStart), lsn, lsnSpace)
	plan := layout.PlanFrame(fileOffset, int64(len(full)), lsnSpace)

	s.mu.Lock()
	s.Asn.UpdateLsnAndDisposition(req.Asn, req.Version, streamindex.DispositionPending, lsn)
	s.Lsn.AddHigherLsnRecord(lsn, uint32(len(headerBlock)), uint32(len(req.Payload)))
	s.lastLsn = lsn
	s.mu.Unlock()

	if err := writeFrame(ctx, e.Device, plan, full); err != nil {
		s.mu.Lock()
		s.Asn.Restore(req.Asn, req.Version, saved)
		s.Lsn.RemoveHighestLsnRecord()
		s.mu.Unlock()
		e.abandonLsn(lsn)
		return primitives.InvalidLSN, dberror.NewIoError("logengine", "write record", err)
	}

	s.mu.Lock()
	s.Asn.UpdateDisposition(req.Asn, req.Version, streamindex.DispositionPersisted)
	if req.Asn > s.highestPersistedAsn {
		s.highestPersistedAsn = req.Asn
	}
	s.mu.Unlock()
	e.completeLsn(lsn)
	s.drainHoldQueue(func(asn primitives.ASN) error { return e.applyTruncate(s, asn) })

	return lsn, nil
}

func (e *Engine) recordSize(metadata, payload []byte) int64 {
	headerLen := primitives.RoundUpToBlock(int64(headerFixedSizeEstimate + len(metadata) + 8))
	return headerLen + primitives.RoundUpToBlock(int64(len(payload)))
}

// headerFixedSizeEstimate mirrors layout's fixed-field byte count, the
// 4-byte magic included; kept local to avoid exporting layout internals.
const headerFixedSizeEstimate = 4 + 4 + 16 + 8 + 8 + 8 + 16 + 16 + 16 + 2 + 2 + 4 + 4 + 8 + 8 + 8

func writeFrame(ctx context.Context, dev blockdevice.Device, plan layout.FramePlan, full []byte) error {
	for _, seg := range plan.Segments {
		end := seg.DataOffset + seg.Length
		if end > int64(len(full)) {
			end = int64(len(full))
		}
		chunk := full[seg.DataOffset:end]
		if int64(len(chunk)) < seg.Length {
			padded := make([]byte, seg.Length)
			copy(padded, chunk)
			chunk = padded
		}
		if _, err := dev.WriteAt(ctx, seg.FileOffset, chunk, blockdevice.PriorityNormal); err != nil {
			return err
		}
	}
	return nil
}
