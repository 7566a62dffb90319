package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"physlog/pkg/logengine"
	"physlog/pkg/primitives"
)

// Config configures automatic checkpoint triggering: the three
// triggers that can fire a checkpoint, generalized into one daemon.
type Config struct {
	// Interval is the time-based trigger: checkpoint at least this often.
	Interval time.Duration

	// CheckpointInterval is the LSN-delta trigger: checkpoint once
	// NextLsnToWrite-HighestCheckpointLsn exceeds this many bytes.
	CheckpointInterval uint64

	Enabled bool
}

// DefaultConfig mirrors a conservative checkpoint cadence.
func DefaultConfig() Config {
	return Config{
		Interval:           10 * time.Minute,
		CheckpointInterval: 64 << 20,
		Enabled:            true,
	}
}

// Stats tracks daemon activity for inspection (e.g. by cmd/logctl).
type Stats struct {
	TotalCheckpoints  int64
	TimeBasedTriggers int64
	SizeBasedTriggers int64
	ManualTriggers    int64
	FailedCheckpoints int64
	LastCheckpointLsn primitives.LSN
	LastDuration      time.Duration
}

// Daemon periodically triggers physical checkpoints against one
// Engine, and also serves as the trigger the write/truncate engine
// calls synchronously when LowestLsn advances past HighestCheckpointLsn.
type Daemon struct {
	engine   *logengine.Engine
	config   Config
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool

	group singleflight.Group

	statsMu sync.RWMutex
	stats   Stats
}

func NewDaemon(engine *logengine.Engine, config Config) *Daemon {
	d := &Daemon{engine: engine, config: config, stopChan: make(chan struct{})}
	engine.SetCheckpointTrigger(func() { d.triggerCheckpoint("lowest-lsn-advanced") })
	return d
}

func (d *Daemon) Start() error {
	if !d.config.Enabled {
		fmt.Println("checkpoint daemon disabled")
		return nil
	}
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("checkpoint daemon already running")
	}
	fmt.Printf("starting checkpoint daemon (interval=%v)\n", d.config.Interval)
	d.wg.Add(1)
	go d.run()
	return nil
}

func (d *Daemon) Stop() error {
	if !d.running.Load() {
		return nil
	}
	close(d.stopChan)
	d.wg.Wait()
	d.running.Store(false)
	return nil
}

func (d *Daemon) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	checkTicker := time.NewTicker(30 * time.Second)
	defer checkTicker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.triggerCheckpoint("time-based")
			d.bump(&d.stats.TimeBasedTriggers)
		case <-checkTicker.C:
			if d.shouldCheckpointByInterval() {
				d.triggerCheckpoint("interval-based")
				d.bump(&d.stats.SizeBasedTriggers)
			}
		}
	}
}

func (d *Daemon) shouldCheckpointByInterval() bool {
	if d.config.CheckpointInterval == 0 {
		return false
	}
	snap := d.engine.Snapshot()
	delta := uint64(snap.NextLsnToWrite) - uint64(snap.HighestCheckpointLsn)
	return delta > d.config.CheckpointInterval
}

// triggerCheckpoint collapses concurrent triggers into a single
// in-flight physical checkpoint via singleflight: fuzzy and
// non-blocking, callers never queue up behind a checkpoint that is
// already running.
func (d *Daemon) triggerCheckpoint(reason string) {
	start := time.Now()
	v, err, _ := d.group.Do("physical", func() (any, error) {
		return WritePhysicalCheckpoint(context.Background(), d.engine)
	})
	duration := time.Since(start)

	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if err != nil {
		fmt.Printf("checkpoint failed (%s): %v\n", reason, err)
		d.stats.FailedCheckpoints++
		return
	}
	lsn := v.(primitives.LSN)
	d.stats.TotalCheckpoints++
	d.stats.LastCheckpointLsn = lsn
	d.stats.LastDuration = duration
}

// TriggerManualCheckpoint forces an immediate physical checkpoint.
func (d *Daemon) TriggerManualCheckpoint() (primitives.LSN, error) {
	v, err, _ := d.group.Do("physical", func() (any, error) {
		return WritePhysicalCheckpoint(context.Background(), d.engine)
	})
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if err != nil {
		d.stats.FailedCheckpoints++
		return primitives.InvalidLSN, err
	}
	lsn := v.(primitives.LSN)
	d.stats.TotalCheckpoints++
	d.stats.ManualTriggers++
	d.stats.LastCheckpointLsn = lsn
	return lsn, nil
}

func (d *Daemon) Stats() Stats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

func (d *Daemon) bump(counter *int64) {
	d.statsMu.Lock()
	*counter++
	d.statsMu.Unlock()
}
