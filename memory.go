package rill

import (
	"github.com/fjl/memsize"
)

// Allocator lets a host plug in its own byte accounting (spec §3:
// "allocator function + user data"). The built-in defaultAllocator
// accepts every request and keeps no count; the byte tally lives in
// memAccountant.
type Allocator interface {
	Alloc(oldSize, newSize int) error
}

type defaultAllocator struct{}

func (defaultAllocator) Alloc(oldSize, newSize int) error { return nil }

// memAccountant is the memory accountant (component D): it tracks
// live bytes and drives the GC trigger with the pause/step-multiplier
// policy from Config, wrapping a pluggable Allocator.
type memAccountant struct {
	g         *GlobalState
	alloc     Allocator
	totalBytes int64
	gcThreshold int64
}

func newMemAccountant(g *GlobalState, cfg *Config) *memAccountant {
	return &memAccountant{
		g:           g,
		alloc:       defaultAllocator{},
		gcThreshold: 1 << 20, // 1 MiB debt before the first cycle
	}
}

// track records a delta in live bytes (positive for allocation,
// negative for a freed object becoming garbage) and returns true if
// an incremental GC step should run now.
func (m *memAccountant) track(delta int64) bool {
	m.totalBytes += delta
	if delta <= 0 {
		return false
	}
	if err := m.alloc.Alloc(0, int(delta)); err != nil {
		return false
	}
	return m.totalBytes > m.gcThreshold
}

// cycleFinished recomputes the next threshold as Config.GCPause percent
// of the memory in use at this cycle's end (200 waits until it
// doubles; a pause below 100 counts as 100).
func (m *memAccountant) cycleFinished(cfg *Config) {
	pause := int64(cfg.GCPause)
	if pause < 100 {
		pause = 100
	}
	m.gcThreshold = m.totalBytes * pause / 100
}

// MemoryStats is the CLI-facing view of live usage (component D), the
// accountant's tracked total cross-checked against the actual Go heap
// footprint of the live object graph via fjl/memsize — used by the
// `.mem` command of the `rill` REPL, never by the hot allocation path.
type MemoryStats struct {
	Tracked  int64
	HeapScan memsize.Report
}

// ScanHeap walks roots reachable from the global state with memsize,
// the only library in the retrieved corpus built for this, and
// reports the discrepancy against the accountant's own tally. A large
// discrepancy usually means an Allocator forgot to report a free.
func (g *GlobalState) ScanHeap() MemoryStats {
	report := memsize.Scan(g)
	return MemoryStats{Tracked: g.mem.totalBytes, HeapScan: report}
}
