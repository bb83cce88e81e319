// Package mixer is the software audio backend: it renders scheduled voices
// into 20ms interleaved int16 frames, sample-accurately. The backend clock
// is the number of samples rendered, so a voice started at a future clock
// time begins mid-frame on the exact sample.
package mixer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mixxaudio/mixxcore/internal/audio"
	"github.com/mixxaudio/mixxcore/internal/schedule"
)

// MaxVoices bounds simultaneous playback; CreateVoice refuses past it and
// the scheduler retries on a later tick.
const MaxVoices = 64

// ErrNoFreeVoice is returned when the voice pool is exhausted.
var ErrNoFreeVoice = errors.New("mixer: no free voice")

// Mixer implements schedule.Backend.
type Mixer struct {
	mu       sync.Mutex
	rendered int64 // frames rendered == backend clock in samples
	voices   []*voice
	frameCh  chan []int16
	analysis *analysisRing
}

// New creates a mixer with a buffered monitor-frame channel.
func New() *Mixer {
	return &Mixer{
		frameCh:  make(chan []int16, 100),
		analysis: newAnalysisRing(analysisSize),
	}
}

// CurrentTime is the backend clock in seconds.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.rendered) / audio.SampleRate
}

// CreateVoice binds a new voice to a decoded buffer.
func (m *Mixer) CreateVoice(buf *audio.Buffer) (schedule.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.voices) >= MaxVoices {
		return nil, ErrNoFreeVoice
	}
	v := &voice{m: m, buf: buf}
	m.voices = append(m.voices, v)
	return v, nil
}

// ActiveVoices returns the number of live voices.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Frames returns the monitor stream of rendered 20ms PCM frames.
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// Pump renders frames at real-time rate into the monitor channel. Blocks
// until ctx is cancelled.
func (m *Mixer) Pump(ctx context.Context) {
	defer close(m.frameCh)
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := m.RenderFrame()
			select {
			case m.frameCh <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// RenderFrame mixes every live voice into one interleaved int16 frame and
// advances the backend clock. Ended voices are released and their callbacks
// fired after the mixer lock is dropped, so a callback may safely call back
// into the mixer or the scheduler.
func (m *Mixer) RenderFrame() []int16 {
	mix := make([]float64, audio.FrameSamples)

	m.mu.Lock()
	base := m.rendered
	var endedCallbacks []func()

	live := m.voices[:0]
	for _, v := range m.voices {
		done := v.render(mix, base)
		if done {
			if v.ended != nil {
				endedCallbacks = append(endedCallbacks, v.ended)
			}
			v.released = true
		} else {
			live = append(live, v)
		}
	}
	m.voices = live
	m.rendered += audio.FrameSize

	mono := make([]float64, audio.FrameSize)
	for i := 0; i < audio.FrameSize; i++ {
		mono[i] = (mix[i*audio.Channels] + mix[i*audio.Channels+1]) / 2
	}
	m.analysis.push(mono)
	m.mu.Unlock()

	for _, fn := range endedCallbacks {
		fn()
	}

	frame := make([]int16, audio.FrameSamples)
	for i, s := range mix {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		frame[i] = int16(v)
	}
	return frame
}

type voice struct {
	m   *Mixer
	buf *audio.Buffer

	started     bool
	released    bool
	startSample int64 // backend clock sample where playback begins
	offset      int   // buffer frame offset
	remaining   int   // buffer frames left to play

	gain     float64
	gainGoal float64
	gainStep float64 // per-sample linear step, 0 when settled

	ended func()
}

// Start schedules playback at an absolute backend time. Times already in
// the past start immediately.
func (v *voice) Start(when, offset, duration float64) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if v.released {
		return errors.New("mixer: voice already released")
	}
	if v.started {
		return errors.New("mixer: voice already started")
	}
	start := int64(when * audio.SampleRate)
	if start < v.m.rendered {
		start = v.m.rendered
	}
	v.started = true
	v.startSample = start
	v.offset = int(offset * float64(v.buf.SampleRate))
	v.remaining = int(duration * float64(v.buf.SampleRate))
	if max := v.buf.Frames() - v.offset; v.remaining > max {
		v.remaining = max
	}
	return nil
}

// Stop releases the voice immediately; no end notification fires.
func (v *voice) Stop() {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if v.released {
		return
	}
	v.released = true
	for i, other := range v.m.voices {
		if other == v {
			v.m.voices = append(v.m.voices[:i], v.m.voices[i+1:]...)
			break
		}
	}
}

// SetGain ramps linearly toward gain over rampSeconds; a non-positive ramp
// jumps straight to the target.
func (v *voice) SetGain(gain, rampSeconds float64) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	v.gainGoal = gain
	if rampSeconds <= 0 {
		v.gain = gain
		v.gainStep = 0
		return
	}
	v.gainStep = (gain - v.gain) / (rampSeconds * audio.SampleRate)
}

// OnEnded registers the natural end-of-playback callback. Voices released
// via Stop do not fire it.
func (v *voice) OnEnded(fn func()) {
	v.m.mu.Lock()
	v.ended = fn
	v.m.mu.Unlock()
}

// render mixes this voice into the frame starting at backend sample base.
// Returns true once the voice has played out. Must be called with the mixer
// lock held.
func (v *voice) render(mix []float64, base int64) bool {
	if !v.started {
		return false
	}
	for i := 0; i < audio.FrameSize; i++ {
		v.stepGain()
		rel := base + int64(i) - v.startSample
		if rel < 0 {
			continue
		}
		if rel >= int64(v.remaining) {
			return true
		}
		frame := v.offset + int(rel)
		for ch := 0; ch < audio.Channels; ch++ {
			mix[i*audio.Channels+ch] += float64(v.buf.Sample(frame, ch)) * v.gain
		}
	}
	return false
}

// stepGain advances the linear ramp by one sample.
func (v *voice) stepGain() {
	if v.gainStep == 0 {
		return
	}
	v.gain += v.gainStep
	if (v.gainStep > 0 && v.gain >= v.gainGoal) ||
		(v.gainStep < 0 && v.gain <= v.gainGoal) {
		v.gain = v.gainGoal
		v.gainStep = 0
	}
}
