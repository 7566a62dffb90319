package recovery

import (
	"context"

	"golang.org/x/sync/errgroup"

	"physlog/pkg/blockdevice"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
)

// region bundles the device geometry every scan function needs, so
// individual calls don't have to thread four separate arguments.
type region struct {
	dev               blockdevice.Device
	baseLsn           primitives.LSN
	lsnSpace          int64
	maxHeaderReadSize int64
}

// candidate is one coarse-scan hit: a block whose header decoded and
// whose recorded Lsn maps back to the offset it was read from.
type candidate struct {
	offset int64
	lsn    primitives.LSN
}

// locateTail is Phase 2: a coarse parallel scan probes
// every block in the circular region for something that looks like a
// record start (every record begins on a block boundary, so this
// cannot miss one), then a fine sequential scan walks forward from the
// lowest candidate found — the oldest live LSN still on disk — to
// confirm the chain and pin down the exact first LSN past the end of
// durable data. Starting from the floor rather than from whichever
// candidate happens to carry the highest LSN matters inside the chaos
// window: a record can physically land at a higher LSN than one still
// torn or missing behind it, so the highest-looking candidate is not
// reliably reachable by a contiguous chain. The lowest candidate found
// is also the floor Phase 4's stream reconstruction walk starts from.
func locateTail(ctx context.Context, dev blockdevice.Device, master layout.MasterBlock) (nextLsnToWrite, floorLsn primitives.LSN, err error) {
	lsnSpace := int64(master.LogFileLsnSpace)
	baseLsn := primitives.LSN(layout.UsableRegionStart)
	r := region{
		dev:               dev,
		baseLsn:           baseLsn,
		lsnSpace:          lsnSpace,
		maxHeaderReadSize: primitives.RoundUpToBlock(int64(master.MaxCheckpointLogRecordSize)),
	}

	numBlocks := int(lsnSpace / primitives.BlockSize)
	candidates := make([]candidate, numBlocks)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numBlocks; i++ {
		i := i
		g.Go(func() error {
			offset := layout.UsableRegionStart + int64(i)*primitives.BlockSize
			buf := make([]byte, primitives.BlockSize)
			if _, err := dev.ReadAt(gctx, offset, buf); err != nil {
				return nil // an unreadable block is simply not a candidate
			}
			lsn, ok := layout.PeekHeader(buf)
			if !ok || !lsn.Valid() || layout.FileOffset(baseLsn, lsn, lsnSpace) != offset {
				return nil
			}
			candidates[i] = candidate{offset: offset, lsn: lsn}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return primitives.InvalidLSN, primitives.InvalidLSN, err
	}

	low := candidate{lsn: primitives.InvalidLSN}
	for _, c := range candidates {
		if !c.lsn.Valid() {
			continue
		}
		if low.lsn == primitives.InvalidLSN || c.lsn < low.lsn {
			low = c
		}
	}
	if !low.lsn.Valid() {
		// No record has ever been written; the log starts fresh.
		return baseLsn, baseLsn, nil
	}

	tail, err := fineScan(ctx, r, low.lsn)
	if err != nil {
		return primitives.InvalidLSN, primitives.InvalidLSN, err
	}
	return tail, low.lsn, nil
}

// fineScan walks the record chain forward one record at a time,
// starting at startLsn, until a header fails to decode or its
// placement is inconsistent — that boundary is the first LSN that was
// never durably written.
func fineScan(ctx context.Context, r region, startLsn primitives.LSN) (primitives.LSN, error) {
	lsn := startLsn
	for {
		rec, ok, err := readRecordAt(ctx, r, lsn)
		if err != nil {
			return primitives.InvalidLSN, err
		}
		if !ok {
			return lsn, nil
		}
		lsn = rec.header.Lsn + primitives.LSN(rec.totalSize)
	}
}

// recordAtLsn is one decoded record plus its total on-disk footprint.
type recordAtLsn struct {
	header    layout.RecordHeader
	metadata  []byte
	payload   []byte
	totalSize int64
}

// readRecordAt reads and validates the record whose first byte is at
// lsn, handling the at-most-two-segment frame split transparently.
// ok=false means "nothing valid here": holes past the write frontier
// are absent, never corrupt.
func readRecordAt(ctx context.Context, r region, lsn primitives.LSN) (recordAtLsn, bool, error) {
	fileOffset := layout.FileOffset(r.baseLsn, lsn, r.lsnSpace)

	h, metadata, ok := readHeader(ctx, r, fileOffset, primitives.BlockSize)
	if !ok {
		// A checkpoint segment's metadata can span more than one block;
		// retry with a wider read before giving up on this offset.
		h, metadata, ok = readHeader(ctx, r, fileOffset, r.maxHeaderReadSize)
	}
	if !ok || h.Lsn != lsn {
		return recordAtLsn{}, false, nil
	}

	headerSize := int64(h.ThisHeaderSize)
	payloadSize := primitives.RoundUpToBlock(int64(h.IoBufferSize))
	totalSize := headerSize + payloadSize

	plan := layout.PlanFrame(fileOffset, totalSize, r.lsnSpace)
	full := make([]byte, totalSize)
	for _, seg := range plan.Segments {
		chunk := make([]byte, seg.Length)
		if _, err := r.dev.ReadAt(ctx, seg.FileOffset, chunk); err != nil {
			return recordAtLsn{}, false, nil
		}
		copy(full[seg.DataOffset:], chunk)
	}

	var payload []byte
	if h.IoBufferSize > 0 {
		payload = full[headerSize : headerSize+int64(h.IoBufferSize)]
	}

	return recordAtLsn{header: h, metadata: metadata, payload: payload, totalSize: totalSize}, true, nil
}

// readHeader reads size bytes at offset and attempts to decode a
// record header from them, returning ok=false for any short read or
// structural/checksum failure.
func readHeader(ctx context.Context, r region, offset, size int64) (layout.RecordHeader, []byte, bool) {
	if size < primitives.BlockSize {
		size = primitives.BlockSize
	}
	buf := make([]byte, size)
	if _, err := r.dev.ReadAt(ctx, offset, buf); err != nil {
		return layout.RecordHeader{}, nil, false
	}
	return layout.DecodeRecordHeader(buf)
}
