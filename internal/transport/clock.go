package transport

import (
	"log"
	"math"
	"sync"
	"time"
)

// MaxTickDelta caps the wall-clock delta a single tick may advance the
// timeline by. A host loop that stalls (suspended process, debugger pause)
// resumes without a runaway catch-up jump.
const MaxTickDelta = 250 * time.Millisecond

// Listener receives the clock position and the scaled delta for each tick.
// Seek notifications arrive with deltaTime == 0.
type Listener func(currentTime, deltaTime float64)

// LoopRegion is the transport loop window in seconds.
type LoopRegion struct {
	Enabled bool
	Start   float64
	End     float64
}

type subscription struct {
	id int
	fn Listener
}

// Clock is the authoritative timeline position for one transport instance.
// The host loop drives it via Tick; everything downstream (scheduler, UI)
// observes it through subscriptions or CurrentTime.
type Clock struct {
	mu       sync.Mutex
	now      func() time.Time
	current  float64
	rate     float64
	running  bool
	loop     LoopRegion
	lastTick time.Time
	grid     *BeatGrid

	nextSub int
	subs    []subscription
}

// NewClock creates a stopped clock at position zero. A nil now falls back to
// time.Now; tests inject their own.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, rate: 1.0}
}

// Start begins (or resumes) ticking from the current position. Idempotent
// while running; always resets the frame-timestamp baseline.
func (c *Clock) Start() {
	c.mu.Lock()
	c.running = true
	c.lastTick = c.now()
	c.mu.Unlock()
}

// StartAt seeks to from and starts ticking.
func (c *Clock) StartAt(from float64) {
	c.Seek(from)
	c.Start()
}

// Pause stops ticking and preserves the current position.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Stop pauses and resets the position to zero.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.running = false
	c.current = 0
	c.mu.Unlock()
}

// Seek clamps to >= 0, moves the position immediately and synchronously
// notifies subscribers with deltaTime == 0, regardless of running state.
func (c *Clock) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	c.mu.Lock()
	c.current = t
	c.lastTick = c.now()
	subs := c.snapshotSubs()
	c.mu.Unlock()

	for _, s := range subs {
		notify(s.fn, t, 0)
	}
}

// SetPlaybackRate scales how fast the timeline advances per wall-clock
// second. Non-positive rates are ignored.
func (c *Clock) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	c.mu.Lock()
	c.rate = rate
	c.mu.Unlock()
}

// SetLoop updates the loop window. The current position is not clamped into
// the window; the next wrap happens on the tick that crosses End.
func (c *Clock) SetLoop(enabled bool, start, end float64) {
	c.mu.Lock()
	if end <= start {
		enabled = false
	}
	c.loop = LoopRegion{Enabled: enabled, Start: start, End: end}
	c.mu.Unlock()
}

// SetBeatGrid attaches a beat grid for bar/beat reporting. Pass nil to
// detach.
func (c *Clock) SetBeatGrid(g *BeatGrid) {
	c.mu.Lock()
	c.grid = g
	c.mu.Unlock()
}

// Subscribe registers a tick listener. Listeners fire in registration order.
// The returned func cancels the subscription.
func (c *Clock) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscription{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// Tick advances the clock by the wall time elapsed since the previous tick,
// clamped to MaxTickDelta and scaled by the playback rate, then notifies
// subscribers. No-op while paused or stopped.
func (c *Clock) Tick() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	now := c.now()
	delta := now.Sub(c.lastTick).Seconds()
	c.lastTick = now
	if delta < 0 {
		delta = 0
	}
	if max := MaxTickDelta.Seconds(); delta > max {
		delta = max
	}
	advance := delta * c.rate
	c.current += advance

	if c.loop.Enabled && c.current >= c.loop.End {
		span := c.loop.End - c.loop.Start
		overshoot := c.current - c.loop.End
		// Phase-preserving wrap, not a hard reset to Start.
		c.current = c.loop.Start + math.Mod(overshoot, span)
	}

	t := c.current
	subs := c.snapshotSubs()
	c.mu.Unlock()

	for _, s := range subs {
		notify(s.fn, t, advance)
	}
}

// CurrentTime returns the timeline position in seconds.
func (c *Clock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IsRunning reports whether the clock is ticking.
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// PlaybackRate returns the current rate multiplier.
func (c *Clock) PlaybackRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Loop returns the loop window.
func (c *Clock) Loop() LoopRegion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// BeatPosition reports the bar/beat position of the current time against the
// attached grid. Returns the zero position when no grid is attached.
func (c *Clock) BeatPosition() BeatPosition {
	c.mu.Lock()
	grid := c.grid
	t := c.current
	c.mu.Unlock()
	if grid == nil {
		return ZeroBeat()
	}
	return grid.PositionAt(uint64(t * float64(grid.SampleRate)))
}

// snapshotSubs copies the subscriber list so listeners can subscribe or
// unsubscribe re-entrantly. Must be called with mu held.
func (c *Clock) snapshotSubs() []subscription {
	out := make([]subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

// notify isolates listener panics so one bad subscriber never halts the
// tick loop.
func notify(fn Listener, t, dt float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("transport: listener panic: %v", r)
		}
	}()
	fn(t, dt)
}
