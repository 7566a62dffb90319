// Package primitives defines the scalar and identifier types shared by
// every layer of the physical log engine: LSNs, ASNs, versions, and the
// 128-bit identifiers that name logs, streams, and stream types.
package primitives

import (
	"fmt"

	"github.com/google/uuid"
)

// BlockSize is the fixed unit of on-disk alignment for every offset,
// record size, and padding boundary in the log file.
const BlockSize = 4096

// LSN is a 64-bit monotonic log sequence number assigned by the engine.
// It never repeats within one open log and may wrap only in file-offset
// space, never in LSN space.
type LSN uint64

// InvalidLSN is the sentinel value for "no LSN" (an empty stream, an
// absent checkpoint, an unresolved reference).
const InvalidLSN LSN = 0

// MaxLSN is the largest representable LSN.
const MaxLSN LSN = LSN(^uint64(0))

// Valid reports whether lsn is not the sentinel.
func (lsn LSN) Valid() bool { return lsn != InvalidLSN }

func (lsn LSN) String() string { return fmt.Sprintf("LSN(%d)", uint64(lsn)) }

// ASN is a 64-bit Application Sequence Number: caller-assigned, unique
// per stream at a given Version, not required to be monotonic.
type ASN uint64

// InvalidASN is the sentinel "no ASN" value.
const InvalidASN ASN = 0

func (asn ASN) String() string { return fmt.Sprintf("ASN(%d)", uint64(asn)) }

// Version tags a record written at a given ASN. When two writes share
// an ASN, the higher version wins.
type Version uint64

// LogId identifies a log file.
type LogId uuid.UUID

// NewLogId generates a fresh random LogId.
func NewLogId() LogId { return LogId(uuid.New()) }

func (id LogId) String() string { return uuid.UUID(id).String() }

// StreamId identifies a stream within a log.
type StreamId uuid.UUID

// NewStreamId generates a fresh random StreamId.
func NewStreamId() StreamId { return StreamId(uuid.New()) }

func (id StreamId) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the zero-value identifier.
func (id StreamId) IsZero() bool { return id == StreamId{} }

// CheckpointStreamId is the reserved StreamId of the distinguished
// checkpoint stream that holds physical checkpoint records for the
// whole log. It is the nil UUID so it never collides with a
// randomly-generated StreamId.
var CheckpointStreamId = StreamId(uuid.Nil)

// StreamType selects the record verifier used to validate a stream's
// user records during recovery.
type StreamType uuid.UUID

func (t StreamType) String() string { return uuid.UUID(t).String() }

// RoundUpToBlock rounds n up to the next multiple of BlockSize.
func RoundUpToBlock(n int64) int64 {
	return (n + BlockSize - 1) &^ (BlockSize - 1)
}

// RoundDownToBlock rounds n down to the previous multiple of BlockSize.
func RoundDownToBlock(n int64) int64 {
	return n &^ (BlockSize - 1)
}
