// Package params coalesces rapid parameter writes into one bounded apply
// cycle per batch window, so a burst of UI tweaks lands as a single smoothed
// ramp instead of a pile of glitchy redundant writes.
package params

import (
	"log"
	"sync"
	"time"
)

// DefaultWindow is roughly one host frame.
const DefaultWindow = 16 * time.Millisecond

// Param is a writable parameter handle. Set ramps toward value over
// rampSeconds; implementations decide the ramp shape.
type Param interface {
	Set(value, rampSeconds float64) error
}

type pendingUpdate struct {
	value float64
	ramp  float64
}

// Batcher applies the last written value per handle once per batch window.
// The cycle self-terminates when the queue drains; writes racing in during
// an apply restart it immediately.
type Batcher struct {
	window time.Duration

	mu      sync.Mutex
	pending map[Param]pendingUpdate
	running bool
	closed  bool
}

// NewBatcher creates a batcher. A non-positive window falls back to
// DefaultWindow.
func NewBatcher(window time.Duration) *Batcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Batcher{
		window:  window,
		pending: make(map[Param]pendingUpdate),
	}
}

// ScheduleUpdate records a write for the handle, replacing any earlier value
// in the current window, and makes sure an apply cycle is pending.
func (b *Batcher) ScheduleUpdate(p Param, value, rampSeconds float64) {
	if p == nil {
		return
	}
	if rampSeconds <= 0 {
		rampSeconds = b.window.Seconds()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending[p] = pendingUpdate{value: value, ramp: rampSeconds}
	if !b.running {
		b.running = true
		time.AfterFunc(b.window, b.cycle)
	}
	b.mu.Unlock()
}

// Flush applies every pending update right now with the given ramp and
// clears the queue. Use before seek/stop, where a stale scheduled write
// would land on the wrong timeline position.
func (b *Batcher) Flush(rampSeconds float64) {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[Param]pendingUpdate)
	b.mu.Unlock()

	for p, u := range batch {
		apply(p, u.value, rampSeconds)
	}
}

// Close drops pending updates and refuses further scheduling.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.pending = make(map[Param]pendingUpdate)
	b.mu.Unlock()
}

// Pending returns the number of queued updates.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// cycle drains the queue once. If new writes arrived while applying, a fresh
// cycle starts immediately rather than waiting for the next window.
func (b *Batcher) cycle() {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[Param]pendingUpdate)
	b.mu.Unlock()

	for p, u := range batch {
		apply(p, u.value, u.ramp)
	}

	b.mu.Lock()
	if len(b.pending) > 0 && !b.closed {
		// Writes raced in during the apply pass.
		time.AfterFunc(0, b.cycle)
	} else {
		b.running = false
	}
	b.mu.Unlock()
}

// apply isolates one write; a bad handle never blocks the rest of the batch.
func apply(p Param, value, ramp float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("params: write panic: %v", r)
		}
	}()
	if err := p.Set(value, ramp); err != nil {
		log.Printf("params: write failed: %v", err)
	}
}
