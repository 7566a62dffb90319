package blockdevice

import (
	"context"
	"sync"
	"sync/atomic"
)

// WriteObserver inspects or rewrites a write before it reaches the
// wrapped device. Returning a nil buf drops the write entirely
// (simulating a torn/lost write in the chaos window); a shorter buf
// simulates a truncated write.
type WriteObserver func(reqID RequestID, offset int64, buf []byte) (rewritten []byte)

// InterceptingDevice wraps a Device and lets tests observe or mutate
// every write by RequestID, used to inject chaos-window write faults
// without touching the real write path.
type InterceptingDevice struct {
	inner    Device
	mu       sync.Mutex
	observer WriteObserver
	log      []InterceptedWrite
	nextReq  atomic.Uint64
}

// InterceptedWrite records one write as it was actually issued, for
// test assertions.
type InterceptedWrite struct {
	RequestID RequestID
	Offset    int64
	Length    int
	Dropped   bool
}

func NewInterceptingDevice(inner Device) *InterceptingDevice {
	return &InterceptingDevice{inner: inner}
}

// SetObserver installs the fault-injection callback; nil disables interception.
func (d *InterceptingDevice) SetObserver(obs WriteObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = obs
}

// Writes returns a snapshot of writes observed so far.
func (d *InterceptingDevice) Writes() []InterceptedWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]InterceptedWrite, len(d.log))
	copy(out, d.log)
	return out
}

func (d *InterceptingDevice) ReadAt(ctx context.Context, offset int64, buf []byte) (int, error) {
	return d.inner.ReadAt(ctx, offset, buf)
}

func (d *InterceptingDevice) WriteAt(ctx context.Context, offset int64, buf []byte, priority PriorityHint) (RequestID, error) {
	reqID := RequestID(d.nextReq.Add(1))
	d.mu.Lock()
	obs := d.observer
	d.mu.Unlock()

	toWrite := buf
	if obs != nil {
		toWrite = obs(reqID, offset, buf)
	}

	d.mu.Lock()
	d.log = append(d.log, InterceptedWrite{RequestID: reqID, Offset: offset, Length: len(toWrite), Dropped: toWrite == nil})
	d.mu.Unlock()

	if toWrite == nil {
		return reqID, nil
	}
	if _, err := d.inner.WriteAt(ctx, offset, toWrite, priority); err != nil {
		return reqID, err
	}
	return reqID, nil
}

func (d *InterceptingDevice) Flush(ctx context.Context) error { return d.inner.Flush(ctx) }
func (d *InterceptingDevice) Trim(ctx context.Context, offset, length int64) error {
	return d.inner.Trim(ctx, offset, length)
}
func (d *InterceptingDevice) QueryAllocations(ctx context.Context, offset, length int64) ([]Allocation, error) {
	return d.inner.QueryAllocations(ctx, offset, length)
}
func (d *InterceptingDevice) SetPriorityHint(hint PriorityHint) { d.inner.SetPriorityHint(hint) }
func (d *InterceptingDevice) SetSparse(sparse bool) error       { return d.inner.SetSparse(sparse) }
func (d *InterceptingDevice) Size() int64                       { return d.inner.Size() }
func (d *InterceptingDevice) Close() error                      { return d.inner.Close() }

var _ Device = (*InterceptingDevice)(nil)
