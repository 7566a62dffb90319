// Package logmanager is the public entry point to the physical log
// engine: LogManager opens and creates logs by id, Log exposes stream
// lifecycle and space accounting, and Stream carries the read/write/
// truncate surface applications actually use. Everything below this
// package (blockdevice, layout, streamindex, logengine, checkpoint,
// recovery) is wired together here but never imported directly by a
// caller of this package.
package logmanager

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"physlog/pkg/blockdevice"
	"physlog/pkg/checkpoint"
	"physlog/pkg/dberror"
	"physlog/pkg/layout"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
)

// CreateLogOptions configures a freshly created log file through an
// option struct rather than a long positional parameter list.
type CreateLogOptions struct {
	SizeBytes               int64
	MaxStreams              uint32
	MaxRecordSize           uint32
	MaxCheckpointRecordSize uint32
	MaxQueuedWriteDepth     uint32
	CheckpointInterval      uint64
	MinFreeSpace            uint64
	Checkpoint              checkpoint.Config
}

// DefaultCreateLogOptions returns reasonable defaults for a log file
// of sizeBytes, sized for moderate record and stream counts.
func DefaultCreateLogOptions(sizeBytes int64) CreateLogOptions {
	return CreateLogOptions{
		SizeBytes:               sizeBytes,
		MaxStreams:              256,
		MaxRecordSize:           4 << 20,
		MaxCheckpointRecordSize: uint32(2 * checkpoint.MaxSegmentSize),
		MaxQueuedWriteDepth:     1 << 20,
		CheckpointInterval:      64 << 20,
		MinFreeSpace:            1 << 16,
		Checkpoint:              checkpoint.DefaultConfig(),
	}
}

// LogManager opens and creates logs by LogId, one backing file per
// log under dir, and keeps every open Log singly owned: a second
// OpenLog for an id already open returns the same handle rather than
// opening the file twice.
type LogManager struct {
	dir       string
	verifiers *VerifierRegistry

	mu   sync.Mutex
	logs map[primitives.LogId]*Log
}

// NewLogManager returns a manager that stores log files under dir,
// creating dir if it does not already exist.
func NewLogManager(dir string) (*LogManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dberror.NewIoError("logmanager", "mkdir", err)
	}
	return &LogManager{
		dir:       dir,
		verifiers: NewVerifierRegistry(),
		logs:      make(map[primitives.LogId]*Log),
	}, nil
}

// RegisterVerifier installs verify for streamType across every log
// this manager opens or creates, including ones already open.
// Registration is best done before the first OpenLog/CreateLog for a
// log that carries that stream type, since recovery only consults the
// registry for records replayed at open time.
func (m *LogManager) RegisterVerifier(streamType primitives.StreamType, verify RecordVerifier) {
	m.verifiers.Register(streamType, verify)
}

func (m *LogManager) pathFor(id primitives.LogId) string {
	return filepath.Join(m.dir, id.String()+".log")
}

// CreateLog creates a new log file of opts.SizeBytes at id's path,
// writes both master block copies, and returns it open and ready to
// use. Creating a log that already exists on disk is InvalidParameter.
func (m *LogManager) CreateLog(ctx context.Context, id primitives.LogId, opts CreateLogOptions) (*Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logs[id]; ok {
		return nil, dberror.NewInvalidParameter("logmanager", "log already open")
	}
	path := m.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return nil, dberror.NewInvalidParameter("logmanager", "log file already exists")
	}

	dev, err := blockdevice.OpenFileDevice(path, opts.SizeBytes, blockdevice.DefaultMaxConcurrentWrites)
	if err != nil {
		return nil, err
	}

	var signature [16]byte
	copy(signature[:], id.String())
	master := layout.NewMasterBlock(id, signature, opts.SizeBytes, opts.MaxRecordSize, opts.MaxCheckpointRecordSize, opts.MaxQueuedWriteDepth, opts.MaxStreams, opts.CheckpointInterval, opts.MinFreeSpace)

	buf := master.Encode()
	offA, offB := layout.MasterOffsets()
	if _, err := dev.WriteAt(ctx, offA, buf, blockdevice.PriorityNormal); err != nil {
		dev.Close()
		os.Remove(path)
		return nil, dberror.NewIoError("logmanager", "write master A", err)
	}
	if _, err := dev.WriteAt(ctx, offB, buf, blockdevice.PriorityNormal); err != nil {
		dev.Close()
		os.Remove(path)
		return nil, dberror.NewIoError("logmanager", "write master B", err)
	}
	if err := dev.Flush(ctx); err != nil {
		dev.Close()
		os.Remove(path)
		return nil, err
	}

	// A freshly created log has no records and no streams at all, the
	// same state recovery.Recover would compute from an untouched
	// device: the write frontier and completed watermark sit at the
	// first usable LSN, and with no stream yet registered there is no
	// low watermark to report.
	baseLsn := primitives.LSN(layout.UsableRegionStart)
	engine := logengine.NewEngine(dev, master, baseLsn, baseLsn, primitives.InvalidLSN, primitives.InvalidLSN, int64(master.LogFileLsnSpace))
	log := newLog(id, path, dev, m.verifiers, opts.Checkpoint)
	log.markRecovered(engine) // a freshly created log has nothing to recover
	m.logs[id] = log
	return log, nil
}

// OpenLog opens an existing log file at id's path, running recovery
// exactly once. A second OpenLog call for an id already open returns
// the same handle (shared ownership), skipping recovery entirely.
func (m *LogManager) OpenLog(ctx context.Context, id primitives.LogId) (*Log, error) {
	m.mu.Lock()
	if existing, ok := m.logs[id]; ok {
		m.mu.Unlock()
		if err := existing.ensureRecovered(ctx); err != nil {
			return nil, err
		}
		return existing, nil
	}
	m.mu.Unlock()

	path := m.pathFor(id)
	info, err := os.Stat(path)
	if err != nil {
		return nil, dberror.NewNotFound("logmanager", "log file")
	}

	dev, err := blockdevice.OpenFileDevice(path, info.Size(), blockdevice.DefaultMaxConcurrentWrites)
	if err != nil {
		return nil, err
	}

	log := newLog(id, path, dev, m.verifiers, checkpoint.DefaultConfig())

	m.mu.Lock()
	if existing, ok := m.logs[id]; ok {
		m.mu.Unlock()
		dev.Close()
		if err := existing.ensureRecovered(ctx); err != nil {
			return nil, err
		}
		return existing, nil
	}
	m.logs[id] = log
	m.mu.Unlock()

	if err := log.ensureRecovered(ctx); err != nil {
		m.mu.Lock()
		delete(m.logs, id)
		m.mu.Unlock()
		return nil, err
	}
	return log, nil
}

// DeleteLog closes and removes the log file for id. A currently open
// handle is closed first so its daemon and device release cleanly.
func (m *LogManager) DeleteLog(ctx context.Context, id primitives.LogId) error {
	m.mu.Lock()
	log, ok := m.logs[id]
	delete(m.logs, id)
	m.mu.Unlock()

	if ok {
		log.Close()
	}
	path := m.pathFor(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dberror.NewIoError("logmanager", "remove log file", err)
	}
	return nil
}

// EnumerateLogs lists every LogId with a backing file under the
// manager's directory, whether or not it is currently open.
func (m *LogManager) EnumerateLogs() ([]primitives.LogId, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, dberror.NewIoError("logmanager", "readdir", err)
	}
	var ids []primitives.LogId
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		const suffix = ".log"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		idStr := name[:len(name)-len(suffix)]
		parsed, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, primitives.LogId(parsed))
	}
	return ids, nil
}
