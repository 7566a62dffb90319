package recovery

import (
	"context"

	"physlog/pkg/checkpoint"
	"physlog/pkg/layout"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
	"physlog/pkg/streamindex"
)

// RecordVerifier validates one user record's payload against its
// metadata during recovery's forward scan. A stream type with no
// registered verifier is trusted on checksum alone. A record whose
// verifier returns an error ends the live window, as a torn record does.
type RecordVerifier func(streamType primitives.StreamType, metadata, payload []byte) error

type streamAccumulator struct {
	id         primitives.StreamId
	streamType primitives.StreamType
	asn        *streamindex.AsnIndex
	lsn        *streamindex.LsnIndex
	lastLsn    primitives.LSN
}

// walkResult is what one forward pass over the log's live window
// produces: Phase 3's checkpoint anchor plus Phase 4's per-stream
// indexes, built together since both need the same record-by-record walk.
type walkResult struct {
	streams              map[primitives.StreamId]*streamAccumulator
	highestCheckpointLsn primitives.LSN
	latestCheckpointInfo []checkpoint.StreamInfo
}

// walkLiveWindow is Phases 3+4 combined: a single forward walk from
// floorLsn rebuilds every stream's ASN and LSN indexes by replaying
// user records and stream-checkpoint segments in the order they were
// written, while also remembering the most recent physical checkpoint
// record encountered. It returns the actual end of the live window,
// which can fall short of nextLsnToWrite: a record torn mid-window by
// the chaos window's out-of-order completions leaves a hole that
// higher-LSN records may still physically sit behind, and that hole is
// a reverse-truncation boundary, not a fatal corruption — everything
// at or above it is elided and the frontier is pulled back to it. A
// user record that fails verify is handled the same way.
func walkLiveWindow(ctx context.Context, r region, floorLsn, nextLsnToWrite primitives.LSN, verify RecordVerifier) (*walkResult, primitives.LSN, error) {
	res := &walkResult{streams: make(map[primitives.StreamId]*streamAccumulator)}

	get := func(id primitives.StreamId, streamType primitives.StreamType) *streamAccumulator {
		a, ok := res.streams[id]
		if !ok {
			a = &streamAccumulator{id: id, streamType: streamType, asn: streamindex.NewAsnIndex(), lsn: streamindex.NewLsnIndex()}
			res.streams[id] = a
		}
		return a
	}

	lsn := floorLsn
	for lsn < nextLsnToWrite {
		rec, ok, err := readRecordAt(ctx, r, lsn)
		if err != nil {
			return nil, primitives.InvalidLSN, err
		}
		if !ok {
			return res, lsn, nil
		}
		if rec.header.RecordType == layout.RecordTypeUser && verify != nil {
			if err := verify(rec.header.StreamType, rec.metadata, rec.payload); err != nil {
				return res, lsn, nil
			}
		}

		a := get(rec.header.StreamId, rec.header.StreamType)
		a.lastLsn = rec.header.Lsn

		switch rec.header.RecordType {
		case layout.RecordTypeUser:
			a.lsn.AddHigherLsnRecord(rec.header.Lsn, rec.header.ThisHeaderSize, rec.header.IoBufferSize)
			a.asn.AddOrUpdate(rec.header.Asn, rec.header.Version, rec.header.IoBufferSize, streamindex.DispositionPersisted, rec.header.Lsn)

		case layout.RecordTypeStreamCheckpoint:
			applyCheckpointSegment(a, rec)

		case layout.RecordTypePhysicalCheckpoint:
			if infos, ok := checkpoint.DecodePhysicalCheckpoint(rec.metadata); ok {
				res.highestCheckpointLsn = rec.header.Lsn
				res.latestCheckpointInfo = infos
			}
		}

		lsn = rec.header.Lsn + primitives.LSN(rec.totalSize)
	}

	return res, nextLsnToWrite, nil
}

// applyCheckpointSegment decodes one stream-checkpoint segment record
// and folds it into the accumulator's index. Segments are replayed in
// the order they were written (forward scan order). An ASN segment entry
// replaces an indexed entry only when its version is higher: AddOrUpdate
// rejects an equal or lower version, so an entry already indexed from
// its user record is left as it is.
func applyCheckpointSegment(a *streamAccumulator, rec recordAtLsn) {
	if _, entries, ok := streamindex.DecodeAsnSegment(rec.metadata); ok {
		for _, e := range entries {
			a.asn.AddOrUpdate(e.Asn, e.Version, e.IoBufferSize, streamindex.DispositionPersisted, e.Lsn)
		}
		return
	}
	if _, entries, ok := streamindex.DecodeLsnSegment(rec.metadata); ok {
		for _, e := range entries {
			if e.Lsn > lastIndexedLsn(a.lsn) {
				a.lsn.AddHigherLsnRecord(e.Lsn, e.HdrSize, e.IoSize)
			}
		}
	}
}

func lastIndexedLsn(ix *streamindex.LsnIndex) primitives.LSN {
	if n := ix.Len(); n > 0 {
		if e, ok := ix.QueryRecord(n - 1); ok {
			return e.Lsn
		}
	}
	return primitives.InvalidLSN
}

// buildStreams converts the walk's accumulators into logengine.Stream
// values ready for RegisterRecoveredStream, trimming each stream's LSN
// index down to the per-stream LowestLsn its last physical checkpoint
// recorded. A stream absent from the checkpoint (created after it, or
// the log has never checkpointed) is kept as-is.
func buildStreams(res *walkResult) map[primitives.StreamId]*logengine.Stream {
	bounds := make(map[primitives.StreamId]checkpoint.StreamInfo, len(res.latestCheckpointInfo))
	for _, info := range res.latestCheckpointInfo {
		bounds[info.StreamId] = info
	}

	streams := make(map[primitives.StreamId]*logengine.Stream, len(res.streams))
	for id, a := range res.streams {
		if info, ok := bounds[id]; ok && info.LowestLsn.Valid() {
			a.lsn.Truncate(info.LowestLsn - 1)
		}
		streams[id] = logengine.NewRecoveredStream(a.id, a.streamType, a.asn, a.lsn, a.lastLsn)
	}
	return streams
}
