package logengine

import "physlog/pkg/dberror"

// UpdateReservation adjusts a stream's reserved-byte balance by delta.
// A negative result, or a log-wide total that would
// exceed TotalSpace-MinFreeSpace, fails without applying the change.
func (e *Engine) UpdateReservation(s *Stream, delta int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	newReserved := s.reserved + delta
	if newReserved < 0 {
		return dberror.NewReserveTooSmall("logengine", s.reserved, delta)
	}

	newTotal := e.reservedBytesTotal + delta
	limit := int64(e.Master.LogFileLsnSpace) - int64(e.Master.MinFreeSpace)
	if newTotal > limit {
		return dberror.NewLogFull("logengine", newTotal-limit, limit-e.reservedBytesTotal)
	}

	s.reserved = newReserved
	e.reservedBytesTotal = newTotal
	return nil
}

// ReservedBytes reports a stream's current reservation balance.
func (s *Stream) ReservedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved
}
