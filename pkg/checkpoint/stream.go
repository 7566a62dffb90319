package checkpoint

import (
	"context"

	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
	"physlog/pkg/streamindex"
)

// MaxSegmentSize bounds one checkpoint segment record; chosen to stay
// well under MaxCheckpointLogRecordSize while still holding many
// index entries per segment.
const MaxSegmentSize = 16 * primitives.BlockSize

// WriteStreamCheckpoint serializes a stream's ASN and LSN indexes into
// a chain of segment records linked by PrevLsnInLogStream.
// A partial chain left by a crash mid-chain is not discarded as a
// unit: recovery's forward walk folds in each segment it finds on its
// own and does not check SegmentIndex or SegmentCount for completeness.
func WriteStreamCheckpoint(ctx context.Context, e *logengine.Engine, s *logengine.Stream) (primitives.LSN, error) {
	s.Lock()
	asnSegments := s.Asn.GetAllEntriesIntoIoBuffer(MaxSegmentSize, streamindex.SegmentHeaderSize)
	lsnSegments := s.Lsn.GetAllRecordLsnsIntoIoBuffer(MaxSegmentSize, streamindex.SegmentHeaderSize)
	s.Unlock()

	totalSegments := uint32(len(asnSegments) + len(lsnSegments))
	if totalSegments == 0 {
		return primitives.InvalidLSN, dberror.NewInvalidParameter("checkpoint", "stream has no persisted entries to checkpoint")
	}

	var lastLsn primitives.LSN = primitives.InvalidLSN
	idx := uint32(0)
	for _, seg := range asnSegments {
		header := streamindex.SegmentHeader{Kind: streamindex.SegmentKindAsn, SegmentIndex: idx, SegmentCount: totalSegments, EntryCount: uint32(len(seg)), LinkToPrevSegment: lastLsn}
		payload := streamindex.EncodeAsnSegment(header, seg)
		lsn, err := e.WriteControlRecord(ctx, s, layout.RecordTypeStreamCheckpoint, payload)
		if err != nil {
			return primitives.InvalidLSN, dberror.NewIoError("checkpoint", "WriteStreamCheckpoint", err)
		}
		lastLsn = lsn
		idx++
	}
	for _, seg := range lsnSegments {
		header := streamindex.SegmentHeader{Kind: streamindex.SegmentKindLsn, SegmentIndex: idx, SegmentCount: totalSegments, EntryCount: uint32(len(seg)), LinkToPrevSegment: lastLsn}
		payload := streamindex.EncodeLsnSegment(header, seg)
		lsn, err := e.WriteControlRecord(ctx, s, layout.RecordTypeStreamCheckpoint, payload)
		if err != nil {
			return primitives.InvalidLSN, dberror.NewIoError("checkpoint", "WriteStreamCheckpoint", err)
		}
		lastLsn = lsn
		idx++
	}

	return lastLsn, nil
}
