// Package monitor samples host-loop health: frame cadence, optional heap
// usage and per-second event counters. Sampling costs nothing while nobody
// is watching; the aggregation loop runs only while at least one consumer is
// registered.
package monitor

import (
	"runtime"
	"sync"
	"time"
)

const frameWindow = 120 // rolling frames kept for the average

// Stats is one snapshot of the sampled metrics.
type Stats struct {
	FPS            float64
	AvgFrameMillis float64
	HeapBytes      uint64
	// Counters holds the totals from the last completed wall-clock second.
	Counters map[string]int64
}

// Monitor aggregates frame and event samples.
type Monitor struct {
	trackMemory bool

	mu           sync.Mutex
	consumers    int
	frames       []float64 // frame durations, ms
	counters     map[string]int64
	lastCounters map[string]int64
	heapBytes    uint64
	stop         chan struct{}
}

// New creates a monitor. trackMemory enables the heap reading, which costs a
// runtime.ReadMemStats once per second.
func New(trackMemory bool) *Monitor {
	return &Monitor{
		trackMemory:  trackMemory,
		counters:     make(map[string]int64),
		lastCounters: make(map[string]int64),
	}
}

// AddConsumer registers interest in the metrics and returns a release func.
// The first consumer starts the per-second aggregation loop; releasing the
// last one stops it.
func (m *Monitor) AddConsumer() func() {
	m.mu.Lock()
	m.consumers++
	if m.consumers == 1 {
		m.stop = make(chan struct{})
		go m.run(m.stop)
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.consumers--
			if m.consumers == 0 {
				close(m.stop)
				m.stop = nil
				m.frames = nil
			}
			m.mu.Unlock()
		})
	}
}

// RecordFrame feeds one host frame duration. No-op while nobody consumes.
func (m *Monitor) RecordFrame(d time.Duration) {
	m.mu.Lock()
	if m.consumers > 0 {
		m.frames = append(m.frames, float64(d)/float64(time.Millisecond))
		if len(m.frames) > frameWindow {
			m.frames = m.frames[len(m.frames)-frameWindow:]
		}
	}
	m.mu.Unlock()
}

// Count bumps a named event counter for the current second.
func (m *Monitor) Count(name string, delta int64) {
	m.mu.Lock()
	if m.consumers > 0 {
		m.counters[name] += delta
	}
	m.mu.Unlock()
}

// Snapshot returns the current metrics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		HeapBytes: m.heapBytes,
		Counters:  make(map[string]int64, len(m.lastCounters)),
	}
	for k, v := range m.lastCounters {
		s.Counters[k] = v
	}
	if len(m.frames) > 0 {
		var sum float64
		for _, f := range m.frames {
			sum += f
		}
		s.AvgFrameMillis = sum / float64(len(m.frames))
		if s.AvgFrameMillis > 0 {
			s.FPS = 1000 / s.AvgFrameMillis
		}
	}
	return s
}

// Running reports whether the aggregation loop is live.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Monitor) run(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.rollSecond()
		}
	}
}

// rollSecond publishes the current second's counters and resets them, and
// refreshes the heap reading when enabled.
func (m *Monitor) rollSecond() {
	var heap uint64
	if m.trackMemory {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		heap = ms.HeapAlloc
	}

	m.mu.Lock()
	m.lastCounters = m.counters
	m.counters = make(map[string]int64)
	if m.trackMemory {
		m.heapBytes = heap
	}
	m.mu.Unlock()
}
