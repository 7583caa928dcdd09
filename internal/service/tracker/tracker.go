// Package tracker provides lightweight counters for running work, such as
// in-flight section generations or active reconciliation loops.
package tracker

import "sync/atomic"

// Tracker counts running units of work and remembers the peak.
type Tracker struct {
	running atomic.Int64
	peak    atomic.Int64
}

// Inc increments the running counter and updates the peak.
func (t *Tracker) Inc() {
	n := t.running.Add(1)
	for {
		old := t.peak.Load()
		if n <= old || t.peak.CompareAndSwap(old, n) {
			return
		}
	}
}

// Dec decrements the running counter.
func (t *Tracker) Dec() { t.running.Add(-1) }

// Running returns the current running count.
func (t *Tracker) Running() int64 { return t.running.Load() }

// Peak returns the highest running count observed.
func (t *Tracker) Peak() int64 { return t.peak.Load() }
