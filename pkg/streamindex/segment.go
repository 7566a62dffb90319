package streamindex

import (
	"bytes"
	"encoding/binary"

	"physlog/pkg/primitives"
)

// SegmentKind distinguishes which index a checkpoint segment carries.
type SegmentKind uint32

const (
	SegmentKindAsn SegmentKind = iota + 1
	SegmentKindLsn
)

// SegmentHeader prefixes every checkpoint segment (at most the
// maxSegmentSize its writer passes in): stream_checkpoint_type,
// segment_index, segment_count, entry_count_in_segment, and a back-link
// to the previous segment's LSN. Recovery replays segments in forward
// log order and does not follow the back-link.
type SegmentHeader struct {
	Kind               SegmentKind
	SegmentIndex       uint32
	SegmentCount       uint32
	EntryCount         uint32
	LinkToPrevSegment  primitives.LSN
}

const SegmentHeaderSize = 4 + 4 + 4 + 4 + 8

func (h SegmentHeader) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(h.Kind))
	binary.Write(&buf, binary.LittleEndian, h.SegmentIndex)
	binary.Write(&buf, binary.LittleEndian, h.SegmentCount)
	binary.Write(&buf, binary.LittleEndian, h.EntryCount)
	binary.Write(&buf, binary.LittleEndian, uint64(h.LinkToPrevSegment))
	return buf.Bytes()
}

func DecodeSegmentHeader(buf []byte) (SegmentHeader, bool) {
	if len(buf) < SegmentHeaderSize {
		return SegmentHeader{}, false
	}
	r := bytes.NewReader(buf)
	var h SegmentHeader
	var kind uint32
	var link uint64
	binary.Read(r, binary.LittleEndian, &kind)
	binary.Read(r, binary.LittleEndian, &h.SegmentIndex)
	binary.Read(r, binary.LittleEndian, &h.SegmentCount)
	binary.Read(r, binary.LittleEndian, &h.EntryCount)
	binary.Read(r, binary.LittleEndian, &link)
	h.Kind = SegmentKind(kind)
	h.LinkToPrevSegment = primitives.LSN(link)
	return h, true
}

// EncodeAsnSegment serializes a SegmentHeader plus its AsnSegmentEntry
// payload into one contiguous buffer, ready to be written as one
// record's metadata+payload.
func EncodeAsnSegment(h SegmentHeader, entries []AsnSegmentEntry) []byte {
	var buf bytes.Buffer
	buf.Write(h.Encode())
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, uint64(e.Asn))
		binary.Write(&buf, binary.LittleEndian, uint64(e.Version))
		binary.Write(&buf, binary.LittleEndian, uint64(e.Lsn))
		binary.Write(&buf, binary.LittleEndian, e.IoBufferSize)
	}
	return buf.Bytes()
}

// DecodeAsnSegment is the inverse of EncodeAsnSegment.
func DecodeAsnSegment(buf []byte) (SegmentHeader, []AsnSegmentEntry, bool) {
	h, ok := DecodeSegmentHeader(buf)
	if !ok || h.Kind != SegmentKindAsn {
		return SegmentHeader{}, nil, false
	}
	r := bytes.NewReader(buf[SegmentHeaderSize:])
	entries := make([]AsnSegmentEntry, 0, h.EntryCount)
	for i := uint32(0); i < h.EntryCount; i++ {
		var asn, version, lsn uint64
		var ioSize uint32
		if binary.Read(r, binary.LittleEndian, &asn) != nil {
			return SegmentHeader{}, nil, false
		}
		binary.Read(r, binary.LittleEndian, &version)
		binary.Read(r, binary.LittleEndian, &lsn)
		binary.Read(r, binary.LittleEndian, &ioSize)
		entries = append(entries, AsnSegmentEntry{
			Asn: primitives.ASN(asn), Version: primitives.Version(version),
			Lsn: primitives.LSN(lsn), IoBufferSize: ioSize,
		})
	}
	return h, entries, true
}

// EncodeLsnSegment / DecodeLsnSegment mirror the ASN variants for the
// LSN index's segment payload: (Lsn, HdrSize, IoSize) per entry.
func EncodeLsnSegment(h SegmentHeader, entries []LsnEntry) []byte {
	var buf bytes.Buffer
	buf.Write(h.Encode())
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, uint64(e.Lsn))
		binary.Write(&buf, binary.LittleEndian, e.HdrSize)
		binary.Write(&buf, binary.LittleEndian, e.IoSize)
	}
	return buf.Bytes()
}

func DecodeLsnSegment(buf []byte) (SegmentHeader, []LsnEntry, bool) {
	h, ok := DecodeSegmentHeader(buf)
	if !ok || h.Kind != SegmentKindLsn {
		return SegmentHeader{}, nil, false
	}
	r := bytes.NewReader(buf[SegmentHeaderSize:])
	entries := make([]LsnEntry, 0, h.EntryCount)
	for i := uint32(0); i < h.EntryCount; i++ {
		var lsn uint64
		var hdrSize, ioSize uint32
		if binary.Read(r, binary.LittleEndian, &lsn) != nil {
			return SegmentHeader{}, nil, false
		}
		binary.Read(r, binary.LittleEndian, &hdrSize)
		binary.Read(r, binary.LittleEndian, &ioSize)
		entries = append(entries, LsnEntry{Lsn: primitives.LSN(lsn), HdrSize: hdrSize, IoSize: ioSize})
	}
	return h, entries, true
}
