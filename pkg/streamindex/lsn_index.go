package streamindex

import (
	"physlog/pkg/dberror"
	"physlog/pkg/primitives"
)

// LsnEntry is one slot of a stream's LSN index: the record
// at Lsn occupies HdrSize bytes of header/metadata and IoSize bytes of
// payload.
type LsnEntry struct {
	Lsn     primitives.LSN
	HdrSize uint32
	IoSize  uint32
}

// LsnIndex is the LSN-ordered index for one stream. Entries are kept
// in ascending Lsn order; the common access patterns are appending at
// the tail (new writes), trimming the head (truncation), and removing
// the tail (rollback of a record that failed mid-write).
type LsnIndex struct {
	entries []LsnEntry
}

func NewLsnIndex() *LsnIndex {
	return &LsnIndex{}
}

func (ix *LsnIndex) Len() int { return len(ix.entries) }

// AddHigherLsnRecord appends a record known to have a higher LSN than
// everything currently indexed — the writer's common case.
func (ix *LsnIndex) AddHigherLsnRecord(lsn primitives.LSN, hdrSize, ioSize uint32) error {
	if n := len(ix.entries); n > 0 && ix.entries[n-1].Lsn >= lsn {
		return dberror.NewInvalidParameter("streamindex", "AddHigherLsnRecord: lsn is not higher than the tail entry")
	}
	ix.entries = append(ix.entries, LsnEntry{Lsn: lsn, HdrSize: hdrSize, IoSize: ioSize})
	return nil
}

// AddLowerLsnRecord prepends a record known to have a lower LSN than
// everything currently indexed.
func (ix *LsnIndex) AddLowerLsnRecord(lsn primitives.LSN, hdrSize, ioSize uint32) error {
	if n := len(ix.entries); n > 0 && ix.entries[0].Lsn <= lsn {
		return dberror.NewInvalidParameter("streamindex", "AddLowerLsnRecord: lsn is not lower than the head entry")
	}
	ix.entries = append([]LsnEntry{{Lsn: lsn, HdrSize: hdrSize, IoSize: ioSize}}, ix.entries...)
	return nil
}

// QueryRecord returns the i-th entry (0-indexed, ascending LSN order).
func (ix *LsnIndex) QueryRecord(i int) (LsnEntry, bool) {
	if i < 0 || i >= len(ix.entries) {
		return LsnEntry{}, false
	}
	return ix.entries[i], true
}

// Truncate removes head entries with Lsn <= upTo.
func (ix *LsnIndex) Truncate(upTo primitives.LSN) {
	i := 0
	for i < len(ix.entries) && ix.entries[i].Lsn <= upTo {
		i++
	}
	ix.entries = ix.entries[i:]
}

// RemoveHighestLsnRecord pops the tail entry, used to roll back a
// record whose write failed after index admission.
func (ix *LsnIndex) RemoveHighestLsnRecord() (LsnEntry, bool) {
	n := len(ix.entries)
	if n == 0 {
		return LsnEntry{}, false
	}
	e := ix.entries[n-1]
	ix.entries = ix.entries[:n-1]
	return e, true
}

// GetAllRecordLsnsIntoIoBuffer is the LSN-index analogue of
// AsnIndex.GetAllEntriesIntoIoBuffer, splitting the index into
// segments of at most maxSegmentSize bytes each.
func (ix *LsnIndex) GetAllRecordLsnsIntoIoBuffer(maxSegmentSize, perSegmentHeaderSize int) [][]LsnEntry {
	capacity := (maxSegmentSize - perSegmentHeaderSize) / lsnSegmentEntrySize
	if capacity <= 0 {
		dberror.Fatal("streamindex", "segment too small to hold a single LSN entry")
	}

	var segments [][]LsnEntry
	var current []LsnEntry
	for _, e := range ix.entries {
		current = append(current, e)
		if len(current) == capacity {
			segments = append(segments, current)
			current = nil
		}
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}

// RestoreLsnFromSegments rebuilds an LSN index from checkpoint
// segments produced by GetAllRecordLsnsIntoIoBuffer.
func RestoreLsnFromSegments(segments [][]LsnEntry) *LsnIndex {
	ix := NewLsnIndex()
	for _, seg := range segments {
		for _, e := range seg {
			ix.entries = append(ix.entries, e)
		}
	}
	return ix
}

const lsnSegmentEntrySize = 8 + 4 + 4 // Lsn + HdrSize + IoSize
