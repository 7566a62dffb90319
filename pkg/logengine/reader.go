package logengine

import (
	"context"

	"physlog/pkg/blockdevice"
	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
)

// ReadRecord reads and decodes the user record stored at lsn, returning
// its metadata and payload. It is the read-side counterpart to Write:
// the header is revalidated by checksum exactly as recovery revalidates
// every record it replays, since a read can race a concurrent write to
// the same physical slot in a future generation of the circular log.
func (e *Engine) ReadRecord(ctx context.Context, lsn primitives.LSN) (metadata, payload []byte, err error) {
	e.mu.Lock()
	lsnSpace := int64(e.Master.LogFileLsnSpace)
	maxHeaderSize := primitives.RoundUpToBlock(int64(e.Master.MaxCheckpointLogRecordSize))
	e.mu.Unlock()

	fileOffset := layout.FileOffset(primitives.LSN(layout.UsableRegionStart), lsn, lsnSpace)

	h, metadata, ok := readHeaderAt(ctx, e.Device, fileOffset, primitives.BlockSize)
	if !ok {
		h, metadata, ok = readHeaderAt(ctx, e.Device, fileOffset, maxHeaderSize)
	}
	if !ok || h.Lsn != lsn {
		return nil, nil, dberror.NewNotFound("logengine", "record at given lsn")
	}

	headerSize := int64(h.ThisHeaderSize)
	payloadSize := primitives.RoundUpToBlock(int64(h.IoBufferSize))
	plan := layout.PlanFrame(fileOffset, headerSize+payloadSize, lsnSpace)
	full := make([]byte, headerSize+payloadSize)
	for _, seg := range plan.Segments {
		chunk := make([]byte, seg.Length)
		if _, err := e.Device.ReadAt(ctx, seg.FileOffset, chunk); err != nil {
			return nil, nil, dberror.NewIoError("logengine", "ReadRecord", err)
		}
		copy(full[seg.DataOffset:], chunk)
	}
	if h.IoBufferSize == 0 {
		return metadata, nil, nil
	}
	return metadata, full[headerSize : headerSize+int64(h.IoBufferSize)], nil
}

// readHeaderAt mirrors pkg/recovery's own header-peek-then-widen read,
// kept as a separate small copy here since recovery already imports
// this package and the reverse import would cycle.
func readHeaderAt(ctx context.Context, dev blockdevice.Device, offset, size int64) (layout.RecordHeader, []byte, bool) {
	if size < primitives.BlockSize {
		size = primitives.BlockSize
	}
	buf := make([]byte, size)
	if _, err := dev.ReadAt(ctx, offset, buf); err != nil {
		return layout.RecordHeader{}, nil, false
	}
	return layout.DecodeRecordHeader(buf)
}
