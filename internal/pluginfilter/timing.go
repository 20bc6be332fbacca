package pluginfilter

import (
	"sync/atomic"
	"time"
)

// TimingAccumulator collects per-call DSP duration samples from the RT
// thread without ever blocking it. The server-worker thread periodically
// calls Sample to read and reset the running totals, producing one
// CpuSample event per sampling period (see internal/transport).
type TimingAccumulator struct {
	sumNanos atomic.Uint64
	count    atomic.Uint64
	lastNs   atomic.Uint64
}

// Record is called once per RT process call, after the plugin's run
// returns (or immediately, in the bypass path). Wait-free.
func (t *TimingAccumulator) Record(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	t.lastNs.Store(ns)
	t.sumNanos.Add(ns)
	t.count.Add(1)
}

// Sample reads and resets the accumulated totals, returning the average
// call duration in microseconds and the last single-call duration in
// microseconds. Called from the server-worker thread on a ticker, never
// from the RT thread.
func (t *TimingAccumulator) Sample() (avgMicros, lastMicros float64) {
	sum := t.sumNanos.Swap(0)
	n := t.count.Swap(0)
	last := t.lastNs.Load()
	if n == 0 {
		return 0, float64(last) / 1000.0
	}
	return float64(sum) / float64(n) / 1000.0, float64(last) / 1000.0
}
