package recovery

import (
	"context"
	"sort"

	"physlog/pkg/blockdevice"
	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
)

// Result is everything Recover hands back to the caller that opens a
// log: a ready-to-use Engine plus any non-fatal warning surfaced along
// the way (e.g. a corrupt master block copy).
type Result struct {
	Engine  *logengine.Engine
	Warning string
}

// Recover runs the four-phase recovery algorithm against an
// already-opened device and returns a fully reconstructed Engine: the
// two master blocks are validated, the write frontier is located, and
// one forward walk from the lowest record still on disk (the floor of
// the live window) finds the latest physical checkpoint and rebuilds
// every stream's ASN/LSN indexes by replaying the records it passes.
// verify is consulted for every RecordTypeUser record found past the
// floor of the live window; pass nil to skip payload verification. A
// record that fails verify becomes the new write frontier.
func Recover(ctx context.Context, dev blockdevice.Device, verify RecordVerifier) (*Result, error) {
	master, warning, err := validateMasters(ctx, dev)
	if err != nil {
		return nil, err
	}

	nextLsnToWrite, floorLsn, err := locateTail(ctx, dev, master)
	if err != nil {
		return nil, dberror.NewIoError("recovery", "locate write frontier", err)
	}

	r := region{
		dev:               dev,
		baseLsn:           primitives.LSN(layout.UsableRegionStart),
		lsnSpace:          int64(master.LogFileLsnSpace),
		maxHeaderReadSize: primitives.RoundUpToBlock(int64(master.MaxCheckpointLogRecordSize)),
	}

	walk, tail, err := walkLiveWindow(ctx, r, floorLsn, nextLsnToWrite, verify)
	if err != nil {
		return nil, err
	}
	nextLsnToWrite = tail
	streams := buildStreams(walk)

	lowestLsn := lowestLiveLsn(streams)
	freeSpace := int64(master.LogFileLsnSpace)
	if lowestLsn.Valid() {
		freeSpace -= int64(nextLsnToWrite) - int64(lowestLsn)
	}

	engine := logengine.NewEngine(dev, master, nextLsnToWrite, nextLsnToWrite, walk.highestCheckpointLsn, lowestLsn, freeSpace)
	for _, s := range streams {
		engine.RegisterRecoveredStream(s)
	}
	// The reserved checkpoint stream always exists, even immediately
	// after creating a log that has never checkpointed.
	engine.CheckpointStream()

	return &Result{Engine: engine, Warning: warning}, nil
}

// lowestLiveLsn is the minimum first-entry LSN across every recovered
// stream's LSN index, mirroring logengine's own recomputeLowestLsn.
func lowestLiveLsn(streams map[primitives.StreamId]*logengine.Stream) primitives.LSN {
	ids := make([]primitives.StreamId, 0, len(streams))
	for id := range streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	lowest := primitives.InvalidLSN
	for _, id := range ids {
		e, ok := streams[id].Lsn.QueryRecord(0)
		if !ok {
			continue
		}
		if lowest == primitives.InvalidLSN || e.Lsn < lowest {
			lowest = e.Lsn
		}
	}
	return lowest
}
