package logengine

import "physlog/pkg/primitives"

// CheckpointTrigger is called (outside any lock) whenever a truncation
// pushes LowestLsn past HighestCheckpointLsn, so the checkpoint engine
// can schedule a physical checkpoint. Installed by
// the checkpoint package; a nil trigger is a no-op.
type CheckpointTrigger func()

// SetCheckpointTrigger installs the log-wide checkpoint callback.
func (e *Engine) SetCheckpointTrigger(trigger CheckpointTrigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpointTrigger = trigger
}

// Truncate services a truncation request immediately if upToAsn is at
// or below the stream's highest fully-persisted ASN; otherwise the
// request is held until a future write closes the gap — deferred by
// design, not an error.
func (e *Engine) Truncate(s *Stream, upToAsn primitives.ASN) error {
	s.mu.Lock()
	if !s.highestPersistedAsnAtLeast(upToAsn) {
		done := make(chan error, 1)
		s.holdQueue = append(s.holdQueue, truncateRequest{upToAsn: upToAsn, done: done})
		s.mu.Unlock()
		return <-done
	}
	s.mu.Unlock()
	return e.applyTruncate(s, upToAsn)
}

// CanTruncateTo reports whether a truncate up to asn would apply
// immediately rather than defer, letting a caller choose opportunistically
// between a guaranteed cut and a preferred, further one.
func (s *Stream) CanTruncateTo(asn primitives.ASN) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestPersistedAsnAtLeast(asn)
}

// highestPersistedAsnAtLeast reports whether upToAsn is at or below
// the highest ASN whose record has fully persisted, the truncation
// deferral condition. Called with s.mu held.
func (s *Stream) highestPersistedAsnAtLeast(upToAsn primitives.ASN) bool {
	return upToAsn <= s.highestPersistedAsn
}

func (e *Engine) applyTruncate(s *Stream, upToAsn primitives.ASN) error {
	e.mu.Lock()
	highestLsn := e.nextLsnToWrite
	e.mu.Unlock()

	s.mu.Lock()
	streamLowLsn := s.Asn.Truncate(upToAsn, highestLsn)
	s.Lsn.Truncate(streamLowLsn)
	s.mu.Unlock()

	e.mu.Lock()
	e.recomputeLowestLsn()
	needsCheckpoint := e.highestCheckpointLsn < e.lowestLsn
	trigger := e.checkpointTrigger
	e.mu.Unlock()

	s.drainHoldQueue(func(asn primitives.ASN) error { return e.applyTruncate(s, asn) })

	if needsCheckpoint && trigger != nil {
		trigger()
	}
	return nil
}

// recomputeLowestLsn recomputes the log-wide LowestLsn as the minimum
// low-watermark across all streams. Called with e.mu held.
func (e *Engine) recomputeLowestLsn() {
	lowest := primitives.InvalidLSN
	for _, s := range e.streams {
		s.mu.Lock()
		low, ok := s.Lsn.QueryRecord(0)
		s.mu.Unlock()
		if !ok {
			continue
		}
		if lowest == primitives.InvalidLSN || low.Lsn < lowest {
			lowest = low.Lsn
		}
	}
	e.lowestLsn = lowest
}

// drainHoldQueue re-attempts every held truncation request in FIFO
// order, now that a write completion may have made some serviceable.
func (s *Stream) drainHoldQueue(apply func(primitives.ASN) error) {
	s.mu.Lock()
	pending := s.holdQueue
	s.holdQueue = nil
	s.mu.Unlock()

	var stillHeld []truncateRequest
	for _, req := range pending {
		s.mu.Lock()
		ready := s.highestPersistedAsnAtLeast(req.upToAsn)
		s.mu.Unlock()
		if !ready {
			stillHeld = append(stillHeld, req)
			continue
		}
		req.done <- apply(req.upToAsn)
	}

	if len(stillHeld) > 0 {
		s.mu.Lock()
		s.holdQueue = append(stillHeld, s.holdQueue...)
		s.mu.Unlock()
	}
}
