package logengine

import (
	"context"

	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
)

// WriteControlRecord frames and writes a checkpoint record (physical
// or per-stream) directly onto a stream's LSN chain, bypassing ASN
// admission — checkpoint records are not application data and carry
// no ASN. It still obeys the chaos-window/free-space gate
// and PrevLsnInLogStream chaining of the ordinary write path.
func (e *Engine) WriteControlRecord(ctx context.Context, s *Stream, recordType layout.RecordType, metadata []byte) (primitives.LSN, error) {
	s.mu.Lock()
	prevLsn := s.lastLsn
	s.mu.Unlock()

	recordSize := e.recordSize(metadata, nil)

	e.mu.Lock()
	lsn, err := e.allocate(ctx, recordSize, 0)
	if err != nil {
		e.mu.Unlock()
		return primitives.InvalidLSN, err
	}
	highestCompleted := e.highestCompletedLsn
	lsnSpace := int64(e.Master.LogFileLsnSpace)
	logId := e.Master.LogId
	sig := e.Master.LogSignature
	e.mu.Unlock()

	header := layout.RecordHeader{
		LogSignature:        sig,
		Lsn:                 lsn,
		PrevLsnInLogStream:  prevLsn,
		HighestCompletedLsn: highestCompleted,
		LogId:               logId,
		StreamId:            s.Id,
		StreamType:          s.Type,
		RecordType:          recordType,
		MetaDataSize:        uint32(len(metadata)),
	}
	headerBlock := header.Encode(metadata)
	header.ThisHeaderSize = uint32(len(headerBlock))
	headerBlock = header.Encode(metadata)

	fileOffset := layout.FileOffset(primitives.LSN(layout.UsableRegionStart), lsn, lsnSpace)
	plan := layout.PlanFrame(fileOffset, int64(len(headerBlock)), lsnSpace)

	s.mu.Lock()
	s.Lsn.AddHigherLsnRecord(lsn, uint32(len(headerBlock)), 0)
	s.lastLsn = lsn
	s.mu.Unlock()

	if err := writeFrame(ctx, e.Device, plan, headerBlock); err != nil {
		s.mu.Lock()
		s.Lsn.RemoveHighestLsnRecord()
		s.mu.Unlock()
		e.abandonLsn(lsn)
		return primitives.InvalidLSN, dberror.NewIoError("logengine", "write control record", err)
	}

	e.completeLsn(lsn)
	if recordType == layout.RecordTypePhysicalCheckpoint {
		e.setHighestCheckpointLsn(lsn)
	}
	return lsn, nil
}
