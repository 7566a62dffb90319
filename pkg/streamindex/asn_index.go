// Package streamindex holds the per-stream, in-memory ASN and LSN
// indexes and their checkpoint serialization format. Both
// indexes are ordered containers; callers outside this package hold the
// per-stream mutex for the duration of any call.
package streamindex

import (
	"sort"

	"physlog/pkg/dberror"
	"physlog/pkg/primitives"
)

// Disposition is the lifecycle state of an ASN index entry.
type Disposition int

const (
	// DispositionNone marks a reserved-but-unwritten slot: the writer
	// has pre-registered the ASN before I/O starts.
	DispositionNone Disposition = iota
	DispositionPending
	DispositionPersisted
)

func (d Disposition) String() string {
	switch d {
	case DispositionNone:
		return "None"
	case DispositionPending:
		return "Pending"
	case DispositionPersisted:
		return "Persisted"
	default:
		return "Unknown"
	}
}

// AsnEntry is one slot of the ASN index.
type AsnEntry struct {
	Asn                 primitives.ASN
	Version             primitives.Version
	IoBufferSize        uint32
	Disposition         Disposition
	Lsn                 primitives.LSN
	LowestLsnOfHigherASNs primitives.LSN
}

// SavedState is what AddOrUpdate returns when it overwrites an
// existing entry, so the caller can Restore on a failed in-flight write.
type SavedState struct {
	HadEntry bool
	Prior    AsnEntry
}

// AsnIndex is the ASN-ordered index for one stream.
type AsnIndex struct {
	entries          []AsnEntry // kept sorted by Asn ascending
	truncatedThrough primitives.ASN
}

func NewAsnIndex() *AsnIndex {
	return &AsnIndex{truncatedThrough: primitives.InvalidASN}
}

func (ix *AsnIndex) Len() int { return len(ix.entries) }

// LowestAsn and HighestAsn report the ASN bounds of the entries
// currently retained, or InvalidASN if the index is empty.
func (ix *AsnIndex) LowestAsn() primitives.ASN {
	if len(ix.entries) == 0 {
		return primitives.InvalidASN
	}
	return ix.entries[0].Asn
}

func (ix *AsnIndex) HighestAsn() primitives.ASN {
	if len(ix.entries) == 0 {
		return primitives.InvalidASN
	}
	return ix.entries[len(ix.entries)-1].Asn
}

// TruncationAsn reports the highest ASN ever truncated through, kept
// even once the index empties out so a caller can still report where
// the stream's retained region begins.
func (ix *AsnIndex) TruncationAsn() primitives.ASN {
	return ix.truncatedThrough
}

// SetTruncationAsn seeds the truncation boundary when rebuilding an
// index from a checkpoint, since RestoreFromSegments has no Truncate
// call of its own to derive it from.
func (ix *AsnIndex) SetTruncationAsn(asn primitives.ASN) {
	if asn > ix.truncatedThrough {
		ix.truncatedThrough = asn
	}
}

// HighestPersistedAsn returns the greatest Asn among Persisted entries,
// or InvalidASN if none are persisted. Entries are kept sorted by Asn,
// not by persistence, so this scans rather than reading the tail.
func (ix *AsnIndex) HighestPersistedAsn() primitives.ASN {
	highest := primitives.InvalidASN
	for _, e := range ix.entries {
		if e.Disposition == DispositionPersisted && e.Asn > highest {
			highest = e.Asn
		}
	}
	return highest
}

func (ix *AsnIndex) search(asn primitives.ASN) int {
	return sort.Search(len(ix.entries), func(i int) bool { return ix.entries[i].Asn >= asn })
}

// Get returns the entry for asn, if present.
func (ix *AsnIndex) Get(asn primitives.ASN) (AsnEntry, bool) {
	i := ix.search(asn)
	if i < len(ix.entries) && ix.entries[i].Asn == asn {
		return ix.entries[i], true
	}
	return AsnEntry{}, false
}

// EntryAt returns the i-th entry in ascending ASN order, for callers
// that want to range over the whole index (e.g. a bounded ASN query).
func (ix *AsnIndex) EntryAt(i int) (AsnEntry, bool) {
	if i < 0 || i >= len(ix.entries) {
		return AsnEntry{}, false
	}
	return ix.entries[i], true
}

// AddOrUpdate inserts a new ASN entry, or updates an existing one if
// the incoming version is strictly higher than the existing one.
// Returns the prior state for Restore, and an error when the
// incoming version does not beat the existing one.
func (ix *AsnIndex) AddOrUpdate(asn primitives.ASN, version primitives.Version, size uint32, disposition Disposition, lsn primitives.LSN) (SavedState, error) {
	i := ix.search(asn)
	if i < len(ix.entries) && ix.entries[i].Asn == asn {
		existing := ix.entries[i]
		if version <= existing.Version {
			return SavedState{}, dberror.NewStaleVersion("streamindex", uint64(asn), uint64(existing.Version), uint64(version))
		}
		saved := SavedState{HadEntry: true, Prior: existing}
		ix.entries[i] = AsnEntry{Asn: asn, Version: version, IoBufferSize: size, Disposition: disposition, Lsn: lsn}
		ix.fixDecoration(i)
		return saved, nil
	}

	entry := AsnEntry{Asn: asn, Version: version, IoBufferSize: size, Disposition: disposition, Lsn: lsn}
	ix.entries = append(ix.entries, AsnEntry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = entry
	ix.fixDecoration(i)
	return SavedState{}, nil
}

// UpdateLsnAndDisposition performs a compare-and-swap on version,
// updating the record's LSN and disposition in one step.
func (ix *AsnIndex) UpdateLsnAndDisposition(asn primitives.ASN, expectedVersion primitives.Version, newDisposition Disposition, newLsn primitives.LSN) error {
	i := ix.search(asn)
	if i >= len(ix.entries) || ix.entries[i].Asn != asn {
		return dberror.NewNotFound("streamindex", "asn entry")
	}
	if ix.entries[i].Version != expectedVersion {
		return dberror.NewStaleVersion("streamindex", uint64(asn), uint64(ix.entries[i].Version), uint64(expectedVersion))
	}
	ix.entries[i].Disposition = newDisposition
	ix.entries[i].Lsn = newLsn
	ix.fixDecoration(i)
	return nil
}

// UpdateDisposition is UpdateLsnAndDisposition without touching the LSN.
func (ix *AsnIndex) UpdateDisposition(asn primitives.ASN, expectedVersion primitives.Version, newDisposition Disposition) error {
	i := ix.search(asn)
	if i >= len(ix.entries) || ix.entries[i].Asn != asn {
		return dberror.NewNotFound("streamindex", "asn entry")
	}
	if ix.entries[i].Version != expectedVersion {
		return dberror.NewStaleVersion("streamindex", uint64(asn), uint64(ix.entries[i].Version), uint64(expectedVersion))
	}
	ix.entries[i].Disposition = newDisposition
	return nil
}

// Restore undoes a failed in-flight update, re-establishing this and
// lower-ASN entries' LowestLsnOfHigherASNs decoration.
func (ix *AsnIndex) Restore(asn primitives.ASN, expectedVersion primitives.Version, saved SavedState) error {
	i := ix.search(asn)
	if i >= len(ix.entries) || ix.entries[i].Asn != asn {
		return dberror.NewNotFound("streamindex", "asn entry")
	}
	if ix.entries[i].Version != expectedVersion {
		return dberror.NewStaleVersion("streamindex", uint64(asn), uint64(ix.entries[i].Version), uint64(expectedVersion))
	}
	if saved.HadEntry {
		ix.entries[i] = saved.Prior
		ix.fixDecoration(i)
	} else {
		ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
		ix.fixDecorationFrom(i - 1)
	}
	return nil
}

// Truncate deletes every entry with Asn <= upTo and returns the
// stream's new lowest retained LSN, or InvalidLSN if now empty.
func (ix *AsnIndex) Truncate(upTo primitives.ASN, highestPossibleLsn primitives.LSN) primitives.LSN {
	i := ix.search(upTo + 1)
	ix.entries = ix.entries[i:]
	if upTo > ix.truncatedThrough {
		ix.truncatedThrough = upTo
	}
	ix.fixDecorationFrom(0)
	if len(ix.entries) == 0 {
		return primitives.InvalidLSN
	}
	lowest := primitives.InvalidLSN
	for _, e := range ix.entries {
		if e.Disposition != DispositionPersisted {
			continue
		}
		if lowest == primitives.InvalidLSN || e.Lsn < lowest {
			lowest = e.Lsn
		}
	}
	if lowest == primitives.InvalidLSN {
		return highestPossibleLsn
	}
	return lowest
}

// fixDecoration recomputes LowestLsnOfHigherASNs starting at index i
// and walking toward lower ASNs all the way to the first entry.
func (ix *AsnIndex) fixDecoration(i int) {
	ix.fixDecorationFrom(i)
}

func (ix *AsnIndex) fixDecorationFrom(i int) {
	if i >= len(ix.entries) {
		i = len(ix.entries) - 1
	}
	lowestAbove := primitives.InvalidLSN
	if i+1 < len(ix.entries) {
		lowestAbove = minLsn(ix.entries[i+1].LowestLsnOfHigherASNs, ix.entries[i+1].Lsn)
	}
	for j := i; j >= 0; j-- {
		ix.entries[j].LowestLsnOfHigherASNs = lowestAbove
		if ix.entries[j].Disposition == DispositionPersisted {
			lowestAbove = minLsn(lowestAbove, ix.entries[j].Lsn)
		}
	}
}

func minLsn(a, b primitives.LSN) primitives.LSN {
	if a == primitives.InvalidLSN {
		return b
	}
	if b == primitives.InvalidLSN {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// AsnSegmentEntry is the on-wire shape of one ASN index record inside
// a stream-checkpoint segment payload.
type AsnSegmentEntry struct {
	Asn          primitives.ASN
	Version      primitives.Version
	Lsn          primitives.LSN
	IoBufferSize uint32
}

// GetAllEntriesIntoIoBuffer serializes every Persisted entry in ASN
// order into segments of at most maxSegmentSize bytes, each reserving
// perSegmentHeaderSize bytes for the segment header the caller writes
// separately.
func (ix *AsnIndex) GetAllEntriesIntoIoBuffer(maxSegmentSize, perSegmentHeaderSize int) [][]AsnSegmentEntry {
	capacity := (maxSegmentSize - perSegmentHeaderSize) / asnSegmentEntrySize
	if capacity <= 0 {
		dberror.Fatal("streamindex", "segment too small to hold a single ASN entry")
	}

	var segments [][]AsnSegmentEntry
	var current []AsnSegmentEntry
	for _, e := range ix.entries {
		if e.Disposition != DispositionPersisted {
			continue
		}
		current = append(current, AsnSegmentEntry{Asn: e.Asn, Version: e.Version, Lsn: e.Lsn, IoBufferSize: e.IoBufferSize})
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

// RestoreFromSegments rebuilds an ASN index from checkpoint segments
// produced by GetAllEntriesIntoIoBuffer.
func RestoreFromSegments(segments [][]AsnSegmentEntry) *AsnIndex {
	ix := NewAsnIndex()
	for _, seg := range segments {
		for _, e := range seg {
			ix.AddOrUpdate(e.Asn, e.Version, e.IoBufferSize, DispositionPersisted, e.Lsn)
		}
	}
	return ix
}

const asnSegmentEntrySize = 8 + 8 + 8 + 4 // Asn + Version + Lsn + IoBufferSize
