// Package checkpoint implements the physical and per-stream
// checkpoint writers, plus the background daemon that
// triggers them.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/binary"

	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
)

// StreamInfo is one live stream's entry in a physical checkpoint
// record.
type StreamInfo struct {
	StreamId   primitives.StreamId
	StreamType primitives.StreamType
	LowestLsn  primitives.LSN
	HighestLsn primitives.LSN
	NextLsn    primitives.LSN
}

// EncodePhysicalCheckpoint serializes {count[u32], StreamInfo[count]}.
func EncodePhysicalCheckpoint(infos []StreamInfo) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(infos)))
	for _, info := range infos {
		sid := [16]byte(info.StreamId)
		buf.Write(sid[:])
		stype := [16]byte(info.StreamType)
		buf.Write(stype[:])
		binary.Write(&buf, binary.LittleEndian, uint64(info.LowestLsn))
		binary.Write(&buf, binary.LittleEndian, uint64(info.HighestLsn))
		binary.Write(&buf, binary.LittleEndian, uint64(info.NextLsn))
	}
	return buf.Bytes()
}

// DecodePhysicalCheckpoint is the inverse of EncodePhysicalCheckpoint.
func DecodePhysicalCheckpoint(buf []byte) ([]StreamInfo, bool) {
	r := bytes.NewReader(buf)
	var count uint32
	if binary.Read(r, binary.LittleEndian, &count) != nil {
		return nil, false
	}
	infos := make([]StreamInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		var sid, stype [16]byte
		if _, err := r.Read(sid[:]); err != nil {
			return nil, false
		}
		if _, err := r.Read(stype[:]); err != nil {
			return nil, false
		}
		var low, high, next uint64
		binary.Read(r, binary.LittleEndian, &low)
		binary.Read(r, binary.LittleEndian, &high)
		binary.Read(r, binary.LittleEndian, &next)
		infos = append(infos, StreamInfo{
			StreamId:   primitives.StreamId(sid),
			StreamType: primitives.StreamType(stype),
			LowestLsn:  primitives.LSN(low),
			HighestLsn: primitives.LSN(high),
			NextLsn:    primitives.LSN(next),
		})
	}
	return infos, true
}

// WritePhysicalCheckpoint snapshots every live stream's bounds and
// writes one record into the reserved checkpoint stream, always one
// record that fits entirely in the reserved checkpoint stream.
func WritePhysicalCheckpoint(ctx context.Context, e *logengine.Engine) (primitives.LSN, error) {
	streams := e.Streams()
	infos := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		if s.Id == primitives.CheckpointStreamId {
			continue
		}
		low, high, next := streamBounds(s)
		infos = append(infos, StreamInfo{StreamId: s.Id, StreamType: s.Type, LowestLsn: low, HighestLsn: high, NextLsn: next})
	}

	payload := EncodePhysicalCheckpoint(infos)
	lsn, err := e.WriteControlRecord(ctx, e.CheckpointStream(), layout.RecordTypePhysicalCheckpoint, payload)
	if err != nil {
		return primitives.InvalidLSN, dberror.NewIoError("checkpoint", "WritePhysicalCheckpoint", err)
	}
	return lsn, nil
}

func streamBounds(s *logengine.Stream) (low, high, next primitives.LSN) {
	n := s.Lsn.Len()
	if n == 0 {
		return primitives.InvalidLSN, primitives.InvalidLSN, primitives.InvalidLSN
	}
	first, _ := s.Lsn.QueryRecord(0)
	last, _ := s.Lsn.QueryRecord(n - 1)
	return first.Lsn, last.Lsn, primitives.LSN(uint64(last.Lsn) + uint64(last.HdrSize) + uint64(last.IoSize))
}
