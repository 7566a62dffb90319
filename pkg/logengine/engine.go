// Package logengine implements the write/truncate path over one open
// log file: LSN allocation, record framing, per-stream ASN/LSN index
// maintenance, reservation accounting, and deferred truncation.
package logengine

import (
	"context"
	"sort"
	"sync"

	"physlog/pkg/blockdevice"
	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/primitives"
	"physlog/pkg/streamindex"
)

// Engine owns the log-wide mutable state: the LSN
// allocator, the stream set, and the counters a log-wide mutex
// protects. Per-stream state lives in Stream and is guarded by its own
// mutex, always acquired after Engine's (lock order: log-wide → per-stream).
type Engine struct {
	Device blockdevice.Device
	Master layout.MasterBlock

	mu sync.Mutex

	nextLsnToWrite      primitives.LSN
	highestCompletedLsn primitives.LSN
	highestCheckpointLsn primitives.LSN
	lowestLsn           primitives.LSN
	freeSpace           int64
	reservedBytesTotal  int64

	pendingLsns []primitives.LSN // sorted ascending, the in-flight "chaos window"
	completed   map[primitives.LSN]bool

	streams map[primitives.StreamId]*Stream

	checkpointTrigger CheckpointTrigger
}

// Stream is the per-stream state: its two indexes, its
// reserved-byte balance, its last-written LSN (for PrevLsnInLogStream
// chaining), and its truncation-hold queue.
type Stream struct {
	Id         primitives.StreamId
	Type       primitives.StreamType
	mu         sync.Mutex
	Asn        *streamindex.AsnIndex
	Lsn        *streamindex.LsnIndex
	reserved            int64
	lastLsn             primitives.LSN
	highestPersistedAsn primitives.ASN
	holdQueue           []truncateRequest
}

// NewRecoveredStream builds a Stream from indexes recovery has already
// reconstructed, ready for RegisterRecoveredStream. highestPersistedAsn
// is derived from the ASN index rather than taken as a parameter, since
// it must always agree with what the index actually contains.
func NewRecoveredStream(id primitives.StreamId, streamType primitives.StreamType, asn *streamindex.AsnIndex, lsn *streamindex.LsnIndex, lastLsn primitives.LSN) *Stream {
	return &Stream{
		Id:                  id,
		Type:                streamType,
		Asn:                 asn,
		Lsn:                 lsn,
		lastLsn:             lastLsn,
		highestPersistedAsn: asn.HighestPersistedAsn(),
	}
}

// Lock and Unlock expose the per-stream mutex so callers outside this
// package (checkpoint, recovery) can hold it across a read of both
// indexes without racing the write path. Always acquire a log-wide
// lock first if one is also needed.
func (s *Stream) Lock()   { s.mu.Lock() }
func (s *Stream) Unlock() { s.mu.Unlock() }

type truncateRequest struct {
	upToAsn primitives.ASN
	done    chan error
}

// NewEngine constructs an Engine over an already-opened device and
// master block, with the log-wide counters seeded from recovery (or
// from the freshly written masters at creation time).
func NewEngine(dev blockdevice.Device, master layout.MasterBlock, nextLsn, highestCompleted, highestCheckpoint, lowestLsn primitives.LSN, freeSpace int64) *Engine {
	return &Engine{
		Device:               dev,
		Master:               master,
		nextLsnToWrite:       nextLsn,
		highestCompletedLsn:  highestCompleted,
		highestCheckpointLsn: highestCheckpoint,
		lowestLsn:            lowestLsn,
		freeSpace:            freeSpace,
		completed:            make(map[primitives.LSN]bool),
		streams:              make(map[primitives.StreamId]*Stream),
	}
}

// CreateStream registers a new stream with empty indexes.
func (e *Engine) CreateStream(id primitives.StreamId, streamType primitives.StreamType) *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &Stream{Id: id, Type: streamType, Asn: streamindex.NewAsnIndex(), Lsn: streamindex.NewLsnIndex()}
	e.streams[id] = s
	return s
}

// Stream looks up a previously created or recovered stream.
func (e *Engine) Stream(id primitives.StreamId) (*Stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[id]
	return s, ok
}

// RegisterRecoveredStream installs a stream whose indexes recovery
// already rebuilt, used only during log open.
func (e *Engine) RegisterRecoveredStream(s *Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams[s.Id] = s
}

// CheckpointStream returns the reserved checkpoint stream,
// creating it on first use.
func (e *Engine) CheckpointStream() *Stream {
	e.mu.Lock()
	s, ok := e.streams[primitives.CheckpointStreamId]
	e.mu.Unlock()
	if ok {
		return s
	}
	return e.CreateStream(primitives.CheckpointStreamId, primitives.StreamType{})
}

func (e *Engine) DeleteStream(id primitives.StreamId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams, id)
}

// Snapshot returns the log-wide counters for checkpointing/inspection.
type Snapshot struct {
	NextLsnToWrite       primitives.LSN
	HighestCompletedLsn  primitives.LSN
	HighestCheckpointLsn primitives.LSN
	LowestLsn            primitives.LSN
	FreeSpace            int64
	ReservedBytesTotal   int64
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		NextLsnToWrite:       e.nextLsnToWrite,
		HighestCompletedLsn:  e.highestCompletedLsn,
		HighestCheckpointLsn: e.highestCheckpointLsn,
		LowestLsn:            e.lowestLsn,
		FreeSpace:            e.freeSpace,
		ReservedBytesTotal:   e.reservedBytesTotal,
	}
}

// Streams returns a snapshot of every registered stream id and type,
// used by physical checkpoint construction.
func (e *Engine) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Stream, 0, len(e.streams))
	for _, s := range e.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.String() < out[j].Id.String() })
	return out
}

func (e *Engine) setHighestCheckpointLsn(lsn primitives.LSN) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lsn > e.highestCheckpointLsn {
		e.highestCheckpointLsn = lsn
	}
}

// allocate reserves a contiguous LSN range of length size, enforcing
// the chaos-window bound and free-space accounting. It
// must be called with e.mu held.
func (e *Engine) allocate(ctx context.Context, size int64, reservedBytesDelta int64) (primitives.LSN, error) {
	depth := int64(e.nextLsnToWrite) - int64(e.highestCompletedLsn)
	if depth+size > int64(e.Master.MaxQueuedWriteDepth) {
		return primitives.InvalidLSN, dberror.New(dberror.CategoryCapacity, "CHAOS_WINDOW_FULL", "chaos window exceeds MaxQueuedWriteDepth").WithComponent("logengine")
	}

	needed := size
	if reservedBytesDelta > 0 {
		needed -= reservedBytesDelta
		if needed < 0 {
			needed = 0
		}
	}
	if needed > e.freeSpace-e.reservedBytesTotal {
		return primitives.InvalidLSN, dberror.NewLogFull("logengine", needed, e.freeSpace-e.reservedBytesTotal)
	}

	lsn := e.nextLsnToWrite
	if lsn == primitives.InvalidLSN {
		lsn = primitives.LSN(layout.UsableRegionStart)
	}
	e.nextLsnToWrite = primitives.LSN(int64(lsn) + size)
	e.freeSpace -= size
	if reservedBytesDelta > 0 {
		// The bytes this write draws from the stream's reservation are
		// spent now, not merely shifted from reserved to used; the
		// log-wide reservation total must shrink by the same amount
		// the per-stream balance does in the write path.
		e.reservedBytesTotal -= reservedBytesDelta
	}
	e.pendingLsns = append(e.pendingLsns, lsn)
	return lsn, nil
}

// completeLsn marks lsn as durable and advances HighestCompletedLsn
// through the run of completed LSNs starting at the oldest pending one
// advancing only through the lowest unclosed pending LSN.
func (e *Engine) completeLsn(lsn primitives.LSN) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.completed[lsn] = true
	for len(e.pendingLsns) > 0 && e.completed[e.pendingLsns[0]] {
		done := e.pendingLsns[0]
		delete(e.completed, done)
		e.pendingLsns = e.pendingLsns[1:]
		if done > e.highestCompletedLsn {
			e.highestCompletedLsn = done
		}
	}
}

// abandonLsn marks a failed write's LSN as closed without a record
// ever having landed there — a permanent hole that never blocks
// HighestCompletedLsn from advancing past it, and is never reused
func (e *Engine) abandonLsn(lsn primitives.LSN) {
	e.completeLsn(lsn)
}
