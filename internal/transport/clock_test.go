package transport

import (
	"math"
	"testing"
	"time"
)

// fakeNow is an adjustable time source for deterministic ticks.
type fakeNow struct {
	t time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Unix(1000, 0)}
}

func (f *fakeNow) now() time.Time { return f.t }

func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClockStartsStopped(t *testing.T) {
	c := NewClock(nil)
	if c.IsRunning() {
		t.Error("new clock should not be running")
	}
	if c.CurrentTime() != 0 {
		t.Errorf("new clock position = %v, want 0", c.CurrentTime())
	}
}

func TestTickAdvancesByWallDelta(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()

	fn.advance(100 * time.Millisecond)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 0.1) {
		t.Errorf("after 100ms tick: position = %v, want 0.1", got)
	}

	fn.advance(50 * time.Millisecond)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 0.15) {
		t.Errorf("after 50ms tick: position = %v, want 0.15", got)
	}
}

func TestTickIgnoredWhilePaused(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()
	fn.advance(100 * time.Millisecond)
	c.Tick()
	c.Pause()

	fn.advance(time.Second)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 0.1) {
		t.Errorf("paused clock moved: position = %v, want 0.1", got)
	}
}

func TestMonotonicUnderPositiveDeltas(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()

	prev := c.CurrentTime()
	deltas := []time.Duration{3, 17, 1, 42, 9, 16, 200, 5}
	for _, d := range deltas {
		fn.advance(d * time.Millisecond)
		c.Tick()
		if c.CurrentTime() < prev {
			t.Fatalf("clock went backwards: %v -> %v", prev, c.CurrentTime())
		}
		prev = c.CurrentTime()
	}
}

func TestDeltaClampedToMax(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()

	// Simulates a suspended host loop coming back after 10 seconds.
	fn.advance(10 * time.Second)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 0.25) {
		t.Errorf("position after 10s stall = %v, want clamped 0.25", got)
	}
}

func TestPlaybackRateScalesAdvance(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.SetPlaybackRate(2.0)
	c.Start()

	fn.advance(100 * time.Millisecond)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 0.2) {
		t.Errorf("position at 2x rate = %v, want 0.2", got)
	}

	// Non-positive rates are ignored
	c.SetPlaybackRate(0)
	if c.PlaybackRate() != 2.0 {
		t.Errorf("rate after SetPlaybackRate(0) = %v, want 2.0 unchanged", c.PlaybackRate())
	}
}

func TestLoopWrapPreservesPhase(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.SetLoop(true, 2.0, 6.0)
	c.StartAt(5.9)

	fn.advance(400 * time.Millisecond)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 2.3) {
		t.Errorf("loop wrap position = %v, want 2.3 (phase-preserving)", got)
	}
}

func TestLoopDisabledPassesEnd(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.SetLoop(false, 2.0, 6.0)
	c.StartAt(5.9)

	fn.advance(200 * time.Millisecond)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 6.1) {
		t.Errorf("position = %v, want 6.1 with loop disabled", got)
	}
}

func TestSetLoopRejectsInvertedWindow(t *testing.T) {
	c := NewClock(nil)
	c.SetLoop(true, 6.0, 2.0)
	if c.Loop().Enabled {
		t.Error("loop with end <= start should be disabled")
	}
}

func TestSeekImmediate(t *testing.T) {
	c := NewClock(nil)

	var gotTime, gotDelta float64
	calls := 0
	c.Subscribe(func(t, dt float64) {
		gotTime, gotDelta = t, dt
		calls++
	})

	// Clock is paused; seek must still land and notify.
	c.Seek(10)
	if got := c.CurrentTime(); got != 10 {
		t.Errorf("CurrentTime after Seek(10) = %v, want 10", got)
	}
	if calls != 1 {
		t.Fatalf("subscriber calls = %d, want 1", calls)
	}
	if gotTime != 10 || gotDelta != 0 {
		t.Errorf("subscriber got (%v, %v), want (10, 0)", gotTime, gotDelta)
	}
}

func TestSeekClampsNegative(t *testing.T) {
	c := NewClock(nil)
	c.Seek(-5)
	if got := c.CurrentTime(); got != 0 {
		t.Errorf("Seek(-5) position = %v, want 0", got)
	}
}

func TestStopResetsPosition(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()
	fn.advance(time.Second)
	c.Tick()

	c.Stop()
	if c.IsRunning() {
		t.Error("clock running after Stop")
	}
	if got := c.CurrentTime(); got != 0 {
		t.Errorf("position after Stop = %v, want 0", got)
	}
}

func TestPausePreservesPosition(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()
	fn.advance(100 * time.Millisecond)
	c.Tick()

	c.Pause()
	if got := c.CurrentTime(); !approx(got, 0.1) {
		t.Errorf("position after Pause = %v, want 0.1", got)
	}
}

func TestStartResetsBaseline(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)
	c.Start()
	fn.advance(100 * time.Millisecond)
	c.Tick()
	c.Pause()

	// A long pause must not leak into the first tick after resume.
	fn.advance(10 * time.Second)
	c.Start()
	fn.advance(10 * time.Millisecond)
	c.Tick()
	if got := c.CurrentTime(); !approx(got, 0.11) {
		t.Errorf("position after resume = %v, want 0.11", got)
	}
}

func TestSubscribersFireInRegistrationOrder(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	var order []string
	c.Subscribe(func(_, _ float64) { order = append(order, "a") })
	c.Subscribe(func(_, _ float64) { order = append(order, "b") })
	c.Subscribe(func(_, _ float64) { order = append(order, "c") })

	c.Start()
	fn.advance(10 * time.Millisecond)
	c.Tick()

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("notification order = %v, want [a b c]", order)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	calls := 0
	cancel := c.Subscribe(func(_, _ float64) { calls++ })
	c.Start()
	fn.advance(10 * time.Millisecond)
	c.Tick()
	cancel()
	fn.advance(10 * time.Millisecond)
	c.Tick()

	if calls != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", calls)
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	fn := newFakeNow()
	c := NewClock(fn.now)

	c.Subscribe(func(_, _ float64) { panic("bad listener") })
	calls := 0
	c.Subscribe(func(_, _ float64) { calls++ })

	c.Start()
	fn.advance(10 * time.Millisecond)
	c.Tick() // must not panic
	if calls != 1 {
		t.Errorf("second listener calls = %d, want 1 despite first panicking", calls)
	}
}

func TestBeatPositionWithoutGrid(t *testing.T) {
	c := NewClock(nil)
	pos := c.BeatPosition()
	if pos.Bar != 1 || pos.Beat != 1 {
		t.Errorf("BeatPosition without grid = %+v, want bar 1 beat 1", pos)
	}
}

func TestBeatPositionWithGrid(t *testing.T) {
	c := NewClock(nil)
	c.SetBeatGrid(NewBeatGrid(120, CommonTime(), 44100))

	// 0.5s at 120 BPM is exactly one beat.
	c.Seek(0.5)
	pos := c.BeatPosition()
	if pos.Bar != 1 || pos.Beat != 2 {
		t.Errorf("BeatPosition at 0.5s = bar %d beat %d, want bar 1 beat 2", pos.Bar, pos.Beat)
	}
}
