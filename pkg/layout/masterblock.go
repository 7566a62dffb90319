// Package layout owns the on-disk physical layout of a log file: the two
// master blocks, the circular LSN region, LSN-to-offset mapping, and
// record framing/checksums.
package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"physlog/pkg/dberror"
	"physlog/pkg/primitives"
)

const (
	// MasterBlockMagic identifies a valid master block.
	MasterBlockMagic uint32 = 0x4B544C4D // "KTLM"

	// MasterBlockVersion is the on-disk format version this module writes.
	MasterBlockVersion uint32 = 1

	masterBlockASize = 4096
	masterAOffset    = 0
	masterBOffset    = primitives.BlockSize

	// UsableRegionStart is the file offset where the circular LSN region begins.
	UsableRegionStart = 2 * primitives.BlockSize
)

// MasterBlock describes the fixed-offset header written twice (bit
// identical) at the start of every log file. Either
// copy validating independently is sufficient to open the log.
type MasterBlock struct {
	Magic                       uint32
	Version                     uint32
	LogId                       primitives.LogId
	LogSignature                [16]byte
	LogFileSize                 uint64
	LogFileLsnSpace             uint64
	MaxRecordSize               uint32
	MaxCheckpointLogRecordSize  uint32
	MaxQueuedWriteDepth         uint32
	MaxNumberOfStreams          uint32
	CheckpointInterval          uint64
	MinFreeSpace                uint64
	CreateTimestamp             uint64
}

// NewMasterBlock builds a MasterBlock for a freshly created log file of
// size fileSize, deriving LogFileLsnSpace.
func NewMasterBlock(logId primitives.LogId, signature [16]byte, fileSize int64, maxRecordSize, maxCheckpointRecordSize, maxQueuedWriteDepth, maxStreams uint32, checkpointInterval, minFreeSpace uint64) MasterBlock {
	lsnSpace := primitives.RoundDownToBlock(fileSize - UsableRegionStart)
	return MasterBlock{
		Magic:                      MasterBlockMagic,
		Version:                    MasterBlockVersion,
		LogId:                      logId,
		LogSignature:               signature,
		LogFileSize:                uint64(fileSize),
		LogFileLsnSpace:            uint64(lsnSpace),
		MaxRecordSize:              maxRecordSize,
		MaxCheckpointLogRecordSize: maxCheckpointRecordSize,
		MaxQueuedWriteDepth:        maxQueuedWriteDepth,
		MaxNumberOfStreams:         maxStreams,
		CheckpointInterval:         checkpointInterval,
		MinFreeSpace:               minFreeSpace,
		CreateTimestamp:            uint64(time.Now().Unix()),
	}
}

// Encode serializes the master block to an exact BlockSize buffer with
// a trailing checksum.
func (m MasterBlock) Encode() []byte {
	buf := make([]byte, primitives.BlockSize)
	w := bytes.NewBuffer(buf[:0])

	binary.Write(w, binary.LittleEndian, m.Magic)
	binary.Write(w, binary.LittleEndian, m.Version)
	w.Write(uuidBytes(m.LogId))
	w.Write(m.LogSignature[:])
	binary.Write(w, binary.LittleEndian, m.LogFileSize)
	binary.Write(w, binary.LittleEndian, m.LogFileLsnSpace)
	binary.Write(w, binary.LittleEndian, m.MaxRecordSize)
	binary.Write(w, binary.LittleEndian, m.MaxCheckpointLogRecordSize)
	binary.Write(w, binary.LittleEndian, m.MaxQueuedWriteDepth)
	binary.Write(w, binary.LittleEndian, m.MaxNumberOfStreams)
	binary.Write(w, binary.LittleEndian, m.CheckpointInterval)
	binary.Write(w, binary.LittleEndian, m.MinFreeSpace)
	binary.Write(w, binary.LittleEndian, m.CreateTimestamp)

	sum := xxhash.Sum64(w.Bytes())
	binary.Write(w, binary.LittleEndian, sum)

	copy(buf, w.Bytes())
	return buf
}

// DecodeMasterBlock parses and validates one master block copy. A
// checksum or magic mismatch is reported via ok=false, never an error —
// callers (Phase 1 of recovery) treat that as "this copy is corrupt,
// try the other one" rather than a hard failure.
func DecodeMasterBlock(buf []byte) (mb MasterBlock, ok bool) {
	if len(buf) < primitives.BlockSize {
		return MasterBlock{}, false
	}
	r := bytes.NewReader(buf)

	binary.Read(r, binary.LittleEndian, &mb.Magic)
	binary.Read(r, binary.LittleEndian, &mb.Version)
	var idBytes [16]byte
	r.Read(idBytes[:])
	mb.LogId = bytesToLogId(idBytes)
	r.Read(mb.LogSignature[:])
	binary.Read(r, binary.LittleEndian, &mb.LogFileSize)
	binary.Read(r, binary.LittleEndian, &mb.LogFileLsnSpace)
	binary.Read(r, binary.LittleEndian, &mb.MaxRecordSize)
	binary.Read(r, binary.LittleEndian, &mb.MaxCheckpointLogRecordSize)
	binary.Read(r, binary.LittleEndian, &mb.MaxQueuedWriteDepth)
	binary.Read(r, binary.LittleEndian, &mb.MaxNumberOfStreams)
	binary.Read(r, binary.LittleEndian, &mb.CheckpointInterval)
	binary.Read(r, binary.LittleEndian, &mb.MinFreeSpace)
	binary.Read(r, binary.LittleEndian, &mb.CreateTimestamp)

	if mb.Magic != MasterBlockMagic || mb.Version != MasterBlockVersion {
		return MasterBlock{}, false
	}

	// Recompute checksum over everything preceding it. The encoder
	// places the checksum right after CreateTimestamp, so recompute
	// over that same prefix length.
	prefixLen := len(buf) - len(r.Bytes())
	var wantSum uint64
	binary.Read(r, binary.LittleEndian, &wantSum)
	gotSum := xxhash.Sum64(buf[:prefixLen])
	if gotSum != wantSum {
		return MasterBlock{}, false
	}

	return mb, true
}

// MasterOffsets returns the fixed file offsets of master blocks A and B.
func MasterOffsets() (a, b int64) { return masterAOffset, masterBOffset }

// ValidateEither decodes both master block copies and returns the first
// one that validates. Either copy being intact is sufficient; both
// failing is CorruptLog.
func ValidateEither(a, b []byte) (mb MasterBlock, warning string, err error) {
	if mbA, ok := DecodeMasterBlock(a); ok {
		if mbB, ok := DecodeMasterBlock(b); ok && mbB != mbA {
			// Both valid but diverged: prefer A, note the anomaly.
			return mbA, "master blocks A and B diverged; using A", nil
		} else if !ok {
			return mbA, "master block B is corrupt; opened from A", nil
		}
		return mbA, "", nil
	}
	if mbB, ok := DecodeMasterBlock(b); ok {
		return mbB, "master block A is corrupt; opened from B", nil
	}
	return MasterBlock{}, "", dberror.NewCorruptLog("layout", "neither master block A nor B validated")
}

func uuidBytes(id primitives.LogId) []byte {
	b := [16]byte(id)
	return b[:]
}

func bytesToLogId(b [16]byte) primitives.LogId {
	return primitives.LogId(b)
}

func (m MasterBlock) String() string {
	return fmt.Sprintf("MasterBlock{LogId=%s, Size=%d, LsnSpace=%d}", m.LogId, m.LogFileSize, m.LogFileLsnSpace)
}
