// Package schedule walks the arrangement ahead of the playhead and issues
// sample-accurate start/stop commands to an audio backend.
package schedule

import (
	"log"
	"sync"

	"github.com/mixxaudio/mixxcore/internal/audio"
	"github.com/mixxaudio/mixxcore/internal/session"
)

// Voice is one playable source the backend handed out for a region.
type Voice interface {
	// Start schedules playback at an absolute backend-clock time, reading
	// the buffer from offset for duration seconds.
	Start(when, offset, duration float64) error
	// Stop silences and releases the voice immediately.
	Stop()
	// SetGain ramps the voice gain toward target over rampSeconds.
	SetGain(gain, rampSeconds float64)
	// OnEnded registers a callback fired once playback runs out.
	OnEnded(fn func())
}

// Backend is the minimal audio-output capability the scheduler depends on.
type Backend interface {
	// CurrentTime is the backend clock in seconds.
	CurrentTime() float64
	// CreateVoice binds a new voice to a decoded buffer. May fail when the
	// backend is out of voices; the scheduler retries on a later tick.
	CreateVoice(buf *audio.Buffer) (Voice, error)
}

// SnapshotSource supplies one internally-consistent arrangement view per
// update pass.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Config holds scheduler parameters.
type Config struct {
	SampleRate float64 // timeline sample rate for Update conversions
	LookAhead  float64 // scheduling horizon in seconds
	GainRamp   float64 // ramp for live gain changes in seconds
}

// DefaultConfig returns the production defaults: 100ms look-ahead at the
// engine sample rate.
func DefaultConfig() Config {
	return Config{
		SampleRate: audio.SampleRate,
		LookAhead:  0.1,
		GainRamp:   0.01,
	}
}

type activeSource struct {
	regionID  string
	voice     Voice
	baseGain  float64 // region gain x track volume, before master
	startedAt float64 // timeline seconds
}

// Scheduler drives per-region playback state from Update calls. Regions move
// Idle -> Scheduled -> Playing -> Ended/Stopped; all transitions happen
// inside Update, StopAll or Seek.
type Scheduler struct {
	backend Backend
	source  SnapshotSource
	cfg     Config

	mu        sync.Mutex
	master    float64
	active    map[string]*activeSource
	scheduled map[string]bool
	warned    map[string]bool
}

// NewScheduler creates a scheduler over a backend and an arrangement source.
func NewScheduler(backend Backend, source SnapshotSource, cfg Config) *Scheduler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.LookAhead <= 0 {
		cfg.LookAhead = 0.1
	}
	return &Scheduler{
		backend:   backend,
		source:    source,
		cfg:       cfg,
		master:    1.0,
		active:    make(map[string]*activeSource),
		scheduled: make(map[string]bool),
		warned:    make(map[string]bool),
	}
}

// Update evaluates the arrangement at the given timeline position (in
// samples) and schedules every region whose start falls inside the
// look-ahead window. Calling it repeatedly with the same position schedules
// each region at most once. Regions whose end has passed are stopped and
// released so they can re-trigger after a loop-back. Muting a track or
// region blocks future scheduling only; a voice already playing runs to its
// natural end.
func (s *Scheduler) Update(currentTimeSamples int64) {
	now := float64(currentTimeSamples) / s.cfg.SampleRate
	until := now + s.cfg.LookAhead
	snap := s.source.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, track := range snap.Tracks {
		for i := range track.Regions {
			region := &track.Regions[i]

			// End time is derived from the live start/duration every pass;
			// a region edited under the playhead ends at its new position.
			// The flag clears even when the voice already ended on its own,
			// or the region could never re-trigger after a loop-back.
			if s.scheduled[region.ID] && now >= region.EndTime() {
				s.stopLocked(region.ID)
				s.scheduled[region.ID] = false
			}

			if track.Muted || region.Muted {
				continue
			}
			if s.scheduled[region.ID] {
				continue
			}
			if region.StartTime < now || region.StartTime >= until {
				continue
			}

			if err := region.Validate(); err != nil {
				if !s.warned[region.ID] {
					log.Printf("schedule: skipping region: %v", err)
					s.warned[region.ID] = true
				}
				continue
			}

			// A failed attempt leaves the scheduled flag clear so the next
			// qualifying tick retries; one refused voice never blocks the
			// rest of the pass.
			if err := s.startLocked(region, track.Volume, now); err != nil {
				log.Printf("schedule: region %s: %v", region.ID, err)
			}
		}
	}
}

// startLocked issues the backend start command for one region. Must be
// called with mu held.
func (s *Scheduler) startLocked(region *session.Region, trackVolume, now float64) error {
	voice, err := s.backend.CreateVoice(region.Buffer)
	if err != nil {
		return err
	}

	base := region.Gain * trackVolume
	voice.SetGain(base*s.master, 0)

	regionID := region.ID
	voice.OnEnded(func() { s.voiceEnded(regionID) })

	delta := region.StartTime - now
	when := s.backend.CurrentTime() + delta
	if err := voice.Start(when, region.BufferOffset, region.PlayableDuration()); err != nil {
		voice.Stop()
		return err
	}

	s.scheduled[regionID] = true
	s.active[regionID] = &activeSource{
		regionID:  regionID,
		voice:     voice,
		baseGain:  base,
		startedAt: region.StartTime,
	}
	return nil
}

// voiceEnded releases bookkeeping for a voice that ran out of samples. The
// scheduled flag stays set until the playhead passes the region end, which
// keeps a short region from re-triggering inside its own window.
func (s *Scheduler) voiceEnded(regionID string) {
	s.mu.Lock()
	delete(s.active, regionID)
	s.mu.Unlock()
}

// StopAll immediately stops and releases every active source. Required
// before any discontinuous time jump.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.active {
		s.stopLocked(id)
	}
	s.scheduled = make(map[string]bool)
}

// Seek clears all scheduling state; scheduled/active bookkeeping assumes
// monotonic forward progress and is invalid after a jump.
func (s *Scheduler) Seek(_ float64) {
	s.StopAll()
	s.mu.Lock()
	s.warned = make(map[string]bool)
	s.mu.Unlock()
}

// SetMasterVolume clamps to [0,1] and reapplies gain to live voices
// directly, bypassing any batching.
func (s *Scheduler) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	s.mu.Lock()
	s.master = volume
	for _, src := range s.active {
		src.voice.SetGain(src.baseGain*volume, s.cfg.GainRamp)
	}
	s.mu.Unlock()
}

// MasterVolume returns the master gain.
func (s *Scheduler) MasterVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

// ActiveVoices returns the number of live sources.
func (s *Scheduler) ActiveVoices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// stopLocked stops one voice and drops it from the active map. Must be
// called with mu held.
func (s *Scheduler) stopLocked(regionID string) {
	if src, ok := s.active[regionID]; ok {
		src.voice.Stop()
		delete(s.active, regionID)
	}
}
