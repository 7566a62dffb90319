package logmanager

import (
	"context"
	"fmt"
	"sync"

	"physlog/pkg/blockdevice"
	"physlog/pkg/checkpoint"
	"physlog/pkg/dberror"
	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
	"physlog/pkg/recovery"
)

// StreamState is the lifecycle state query_stream_state reports.
type StreamState int

const (
	StreamOpen StreamState = iota
	StreamClosed
	StreamDeleted
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamDeleted:
		return "deleted"
	default:
		return "closed"
	}
}

// SpaceInfo reports the log's capacity accounting.
type SpaceInfo struct {
	Total int64
	Free  int64
}

// Log is one open physical log file: its write/truncate engine, its
// background checkpoint daemon, and the Stream handles wrapping each
// of its registered streams. Several OpenLog calls for the same LogId
// share one Log, so recovery runs at most once per process per id.
type Log struct {
	id        primitives.LogId
	path      string
	device    blockdevice.Device
	verifiers *VerifierRegistry
	cpConfig  checkpoint.Config

	recoverOnce sync.Once
	recoverErr  error

	mu      sync.RWMutex
	engine  *logengine.Engine
	daemon  *checkpoint.Daemon
	streams map[primitives.StreamId]*Stream
	deleted map[primitives.StreamId]bool
	closed  bool
}

func newLog(id primitives.LogId, path string, dev blockdevice.Device, verifiers *VerifierRegistry, cpConfig checkpoint.Config) *Log {
	return &Log{
		id:        id,
		path:      path,
		device:    dev,
		verifiers: verifiers,
		cpConfig:  cpConfig,
		streams:   make(map[primitives.StreamId]*Stream),
		deleted:   make(map[primitives.StreamId]bool),
	}
}

// markRecovered installs an already-built Engine (the create-log path,
// which has nothing to recover) without running the recovery algorithm.
func (l *Log) markRecovered(engine *logengine.Engine) {
	l.recoverOnce.Do(func() {
		l.setEngine(engine)
	})
}

// ensureRecovered runs the recovery algorithm exactly once for this
// Log's lifetime, regardless of how many goroutines call OpenLog
// concurrently for the same id.
func (l *Log) ensureRecovered(ctx context.Context) error {
	l.recoverOnce.Do(func() {
		result, err := recovery.Recover(ctx, l.device, l.verifiers.asRecoveryVerifier())
		if err != nil {
			l.recoverErr = err
			return
		}
		l.setEngine(result.Engine)
	})
	return l.recoverErr
}

func (l *Log) setEngine(engine *logengine.Engine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engine = engine
	for _, es := range engine.Streams() {
		l.streams[es.Id] = &Stream{log: l, engine: es}
	}
	l.daemon = checkpoint.NewDaemon(engine, l.cpConfig)
	if err := l.daemon.Start(); err != nil {
		fmt.Printf("logmanager: checkpoint daemon did not start: %v\n", err)
	}
}

// Id returns the log's identifier.
func (l *Log) Id() primitives.LogId { return l.id }

// CreateStream registers a new, empty stream of streamType.
func (l *Log) CreateStream(id primitives.StreamId, streamType primitives.StreamType) (*Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.streams[id]; ok {
		return nil, dberror.NewInvalidParameter("logmanager", "stream already exists")
	}
	if uint32(len(l.streams)) >= l.engine.Master.MaxNumberOfStreams {
		return nil, dberror.New(dberror.CategoryCapacity, "TOO_MANY_STREAMS", "MaxNumberOfStreams reached").WithComponent("logmanager")
	}

	es := l.engine.CreateStream(id, streamType)
	s := &Stream{log: l, engine: es}
	l.streams[id] = s
	delete(l.deleted, id)
	return s, nil
}

// OpenStream returns the handle for an existing stream.
func (l *Log) OpenStream(id primitives.StreamId) (*Stream, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.streams[id]
	if !ok {
		return nil, dberror.NewNotFound("logmanager", "stream")
	}
	return s, nil
}

// DeleteStream drops a stream's in-memory indexes. The bytes it once
// occupied are reclaimed only once a physical checkpoint and
// truncation move LowestLsn past them.
func (l *Log) DeleteStream(id primitives.StreamId) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streams[id]; !ok {
		return dberror.NewNotFound("logmanager", "stream")
	}
	l.engine.DeleteStream(id)
	delete(l.streams, id)
	l.deleted[id] = true
	return nil
}

// QueryStreamState reports whether id is open, deleted, or unknown
// (closed, i.e. never created in this log).
func (l *Log) QueryStreamState(id primitives.StreamId) StreamState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.streams[id]; ok {
		return StreamOpen
	}
	if l.deleted[id] {
		return StreamDeleted
	}
	return StreamClosed
}

// Streams returns every currently open stream, in no particular order.
func (l *Log) Streams() []*Stream {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Stream, 0, len(l.streams))
	for _, s := range l.streams {
		out = append(out, s)
	}
	return out
}

// QuerySpace reports the log's total and currently free byte capacity.
func (l *Log) QuerySpace() SpaceInfo {
	l.mu.RLock()
	master := l.engine.Master
	l.mu.RUnlock()
	snap := l.engine.Snapshot()
	return SpaceInfo{Total: int64(master.LogFileLsnSpace), Free: snap.FreeSpace}
}

// QueryCurrentReservation reports the log-wide total reserved bytes
// across every stream.
func (l *Log) QueryCurrentReservation() int64 {
	return l.engine.Snapshot().ReservedBytesTotal
}

// MaxAllowedStreams and MaxRecordSize report the limits fixed at
// create_log time, recorded in the master block.
func (l *Log) MaxAllowedStreams() uint32 { return l.engine.Master.MaxNumberOfStreams }
func (l *Log) MaxRecordSize() uint32     { return l.engine.Master.MaxRecordSize }

// CheckpointStats exposes the background daemon's activity counters.
func (l *Log) CheckpointStats() checkpoint.Stats { return l.daemon.Stats() }

// Close stops the checkpoint daemon and closes the backing device.
// It does not remove the log file; use LogManager.DeleteLog for that.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	daemon := l.daemon
	l.mu.Unlock()

	if daemon != nil {
		daemon.Stop()
	}
	return l.device.Close()
}
