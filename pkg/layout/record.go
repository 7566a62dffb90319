package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"physlog/pkg/primitives"
)

// RecordType distinguishes the on-disk record kinds.
type RecordType uint16

const (
	RecordTypeUser RecordType = iota + 1
	RecordTypePhysicalCheckpoint
	RecordTypeStreamCheckpoint
)

// headerFixedSize is the byte length of a RecordHeader's fixed fields,
// before any variable-length metadata/payload.
const headerFixedSize = 4 + 4 + 16 + 8 + 8 + 8 + 16 + 16 + 16 + 2 + 2 + 4 + 4 + 8 + 8 + 8

const RecordMagic uint32 = 0x4B544C52 // "KTLR"

// RecordHeader is the first block of every record. It is written once,
// at the record's start; a record that wraps the circular region's end
// continues its remaining bytes at the region start without a second
// copy of the header.
type RecordHeader struct {
	ThisHeaderSize      uint32
	LogSignature        [16]byte
	Lsn                 primitives.LSN
	PrevLsnInLogStream  primitives.LSN
	HighestCompletedLsn primitives.LSN
	LogId               primitives.LogId
	StreamId            primitives.StreamId
	StreamType          primitives.StreamType
	RecordType          RecordType
	Flags               uint16
	MetaDataSize        uint32
	IoBufferSize        uint32
	TruncationPoint     uint64

	// Asn and Version are the application sequence number and version
	// a RecordTypeUser record was admitted under. Recovery's forward
	// scan past the last stream checkpoint needs both to rebuild the
	// ASN index without a checkpoint covering every record. Control
	// records leave these at their zero values.
	Asn     primitives.ASN
	Version primitives.Version
}

// encodeFields writes the fixed header fields (everything but magic,
// checksum, and the variable metadata) in the wire order shared by
// Encode and DecodeRecordHeader.
func (h RecordHeader) encodeFields(w *bytes.Buffer) {
	binary.Write(w, binary.LittleEndian, h.ThisHeaderSize)
	w.Write(h.LogSignature[:])
	binary.Write(w, binary.LittleEndian, uint64(h.Lsn))
	binary.Write(w, binary.LittleEndian, uint64(h.PrevLsnInLogStream))
	binary.Write(w, binary.LittleEndian, uint64(h.HighestCompletedLsn))
	w.Write(uuidBytes(h.LogId))
	sid := [16]byte(h.StreamId)
	w.Write(sid[:])
	stype := [16]byte(h.StreamType)
	w.Write(stype[:])
	binary.Write(w, binary.LittleEndian, uint16(h.RecordType))
	binary.Write(w, binary.LittleEndian, h.Flags)
	binary.Write(w, binary.LittleEndian, h.MetaDataSize)
	binary.Write(w, binary.LittleEndian, h.IoBufferSize)
	binary.Write(w, binary.LittleEndian, h.TruncationPoint)
	binary.Write(w, binary.LittleEndian, uint64(h.Asn))
	binary.Write(w, binary.LittleEndian, uint64(h.Version))
}

// Encode serializes the header and its metadata into a single
// block-aligned buffer, with a checksum covering header fields plus
// metadata — never the payload, which the record verifier validates
// separately.
func (h RecordHeader) Encode(metadata []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, RecordMagic)
	h.encodeFields(&body)
	body.Write(metadata)

	sum := xxhash.Sum64(body.Bytes())
	binary.Write(&body, binary.LittleEndian, sum)

	out := make([]byte, primitives.RoundUpToBlock(int64(body.Len())))
	copy(out, body.Bytes())
	return out
}

// DecodeRecordHeader parses a header-plus-metadata block. ok=false
// (never an error) means the block is absent or corrupt — treated as
// absent, never as a corrupt-retry case.
func DecodeRecordHeader(buf []byte) (h RecordHeader, metadata []byte, ok bool) {
	if len(buf) < headerFixedSize+8 {
		return RecordHeader{}, nil, false
	}
	r := bytes.NewReader(buf)

	var magic uint32
	binary.Read(r, binary.LittleEndian, &magic)
	if magic != RecordMagic {
		return RecordHeader{}, nil, false
	}
	binary.Read(r, binary.LittleEndian, &h.ThisHeaderSize)

	r.Read(h.LogSignature[:])
	var lsn, prevLsn, highestCompleted uint64
	binary.Read(r, binary.LittleEndian, &lsn)
	binary.Read(r, binary.LittleEndian, &prevLsn)
	binary.Read(r, binary.LittleEndian, &highestCompleted)
	h.Lsn = primitives.LSN(lsn)
	h.PrevLsnInLogStream = primitives.LSN(prevLsn)
	h.HighestCompletedLsn = primitives.LSN(highestCompleted)

	var idBytes [16]byte
	r.Read(idBytes[:])
	h.LogId = bytesToLogId(idBytes)
	var sidBytes, stypeBytes [16]byte
	r.Read(sidBytes[:])
	r.Read(stypeBytes[:])
	h.StreamId = primitives.StreamId(sidBytes)
	h.StreamType = primitives.StreamType(stypeBytes)

	var rtype uint16
	binary.Read(r, binary.LittleEndian, &rtype)
	h.RecordType = RecordType(rtype)
	binary.Read(r, binary.LittleEndian, &h.Flags)
	binary.Read(r, binary.LittleEndian, &h.MetaDataSize)
	binary.Read(r, binary.LittleEndian, &h.IoBufferSize)
	binary.Read(r, binary.LittleEndian, &h.TruncationPoint)
	var asn, version uint64
	binary.Read(r, binary.LittleEndian, &asn)
	binary.Read(r, binary.LittleEndian, &version)
	h.Asn = primitives.ASN(asn)
	h.Version = primitives.Version(version)

	if int(h.MetaDataSize) > r.Len() {
		return RecordHeader{}, nil, false
	}
	metadata = make([]byte, h.MetaDataSize)
	r.Read(metadata)

	prefixLen := len(buf) - len(r.Bytes())
	var wantSum uint64
	if err := binary.Read(r, binary.LittleEndian, &wantSum); err != nil {
		return RecordHeader{}, nil, false
	}
	gotSum := xxhash.Sum64(buf[:prefixLen])
	if gotSum != wantSum {
		return RecordHeader{}, nil, false
	}
	return h, metadata, true
}

// PeekHeader reads only the magic and Lsn of a candidate record start,
// skipping metadata and checksum verification. Recovery's coarse scan
// uses it to cheaply classify every block in the region as "looks like
// a record start" before the fine, fully-verified walk confirms the
// chain.
func PeekHeader(buf []byte) (lsn primitives.LSN, ok bool) {
	if len(buf) < 4+4+8 {
		return primitives.InvalidLSN, false
	}
	r := bytes.NewReader(buf)
	var magic uint32
	binary.Read(r, binary.LittleEndian, &magic)
	if magic != RecordMagic {
		return primitives.InvalidLSN, false
	}
	var thisHeaderSize uint32
	binary.Read(r, binary.LittleEndian, &thisHeaderSize)
	var rawLsn uint64
	binary.Read(r, binary.LittleEndian, &rawLsn)
	return primitives.LSN(rawLsn), true
}

// FramePlan describes how a record at a given LSN maps onto the
// circular file, split into at most two contiguous device writes when
// the record wraps the end of the region.
type FramePlan struct {
	HeaderAndMetaSize int64 // block-aligned
	PayloadSize       int64 // block-aligned
	TotalSize         int64

	// Segments, in order. len==1 unless the record wraps.
	Segments []FrameSegment
}

// FrameSegment is one contiguous device write of a (possibly split) record.
type FrameSegment struct {
	FileOffset int64
	Length     int64
	// DataOffset is the offset into the logical record buffer (header
	// + metadata + payload, concatenated) that this segment carries.
	DataOffset int64
}

// FileOffset maps an LSN to its physical file offset within the
// circular region, ignoring wrap. The caller combines this
// with PlanFrame to find write-time segment boundaries.
func FileOffset(baseLsn, lsn primitives.LSN, lsnSpace int64) int64 {
	delta := int64(lsn) - int64(baseLsn)
	delta %= lsnSpace
	if delta < 0 {
		delta += lsnSpace
	}
	return UsableRegionStart + delta
}

// PlanFrame computes the write plan for a record of totalSize bytes
// (already block-aligned by the caller) whose first byte lands at
// fileOffset within a region of length lsnSpace starting at
// UsableRegionStart. A record that would cross the region end is split
// into a prefix (to the end of file) and a suffix (from the start of
// the region), remaining one LSN-contiguous record.
func PlanFrame(fileOffset, totalSize, lsnSpace int64) FramePlan {
	regionEnd := UsableRegionStart + lsnSpace
	plan := FramePlan{TotalSize: totalSize}

	spaceToEnd := regionEnd - fileOffset
	if totalSize <= spaceToEnd {
		plan.Segments = []FrameSegment{{FileOffset: fileOffset, Length: totalSize, DataOffset: 0}}
		return plan
	}

	plan.Segments = []FrameSegment{
		{FileOffset: fileOffset, Length: spaceToEnd, DataOffset: 0},
		{FileOffset: UsableRegionStart, Length: totalSize - spaceToEnd, DataOffset: spaceToEnd},
	}
	return plan
}
