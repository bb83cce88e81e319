package mixer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mixxaudio/mixxcore/internal/audio"
	"github.com/mixxaudio/mixxcore/internal/meter"
)

// dcBuffer is a constant-level buffer, handy for sample-exact assertions.
func dcBuffer(level float32, seconds float64) *audio.Buffer {
	frames := int(seconds * audio.SampleRate)
	samples := make([]float32, frames*audio.Channels)
	for i := range samples {
		samples[i] = level
	}
	return &audio.Buffer{Samples: samples, Channels: audio.Channels, SampleRate: audio.SampleRate}
}

func TestBackendClockAdvancesPerFrame(t *testing.T) {
	m := New()
	if m.CurrentTime() != 0 {
		t.Errorf("initial CurrentTime = %v, want 0", m.CurrentTime())
	}
	m.RenderFrame()
	m.RenderFrame()
	want := 2 * float64(audio.FrameSize) / audio.SampleRate
	if got := m.CurrentTime(); math.Abs(got-want) > 1e-9 {
		t.Errorf("CurrentTime after 2 frames = %v, want %v", got, want)
	}
}

func TestVoiceStartIsSampleAccurate(t *testing.T) {
	m := New()
	v, err := m.CreateVoice(dcBuffer(0.5, 1))
	if err != nil {
		t.Fatal(err)
	}
	v.SetGain(1, 0)

	// 0.01s = 480 samples = halfway into the first 20ms frame.
	if err := v.Start(0.01, 0, 0.5); err != nil {
		t.Fatal(err)
	}

	frame := m.RenderFrame()
	if frame[479*audio.Channels] != 0 {
		t.Errorf("sample 479 = %d, want silence before the start sample", frame[479*audio.Channels])
	}
	if frame[480*audio.Channels] == 0 {
		t.Error("sample 480 silent, want playback to begin exactly there")
	}
}

func TestVoiceStartInPastBeginsImmediately(t *testing.T) {
	m := New()
	m.RenderFrame() // clock is now past zero
	v, _ := m.CreateVoice(dcBuffer(0.5, 1))
	v.SetGain(1, 0)
	if err := v.Start(0, 0, 0.5); err != nil {
		t.Fatal(err)
	}

	frame := m.RenderFrame()
	if frame[0] == 0 {
		t.Error("voice scheduled in the past did not start on the next sample")
	}
}

func TestVoiceEndNotification(t *testing.T) {
	m := New()
	v, _ := m.CreateVoice(dcBuffer(0.5, 1))
	v.SetGain(1, 0)

	ended := false
	v.OnEnded(func() { ended = true })

	// 0.005s = 240 samples, ends inside the first frame.
	if err := v.Start(0, 0, 0.005); err != nil {
		t.Fatal(err)
	}
	frame := m.RenderFrame()

	if !ended {
		t.Error("OnEnded not fired after playback ran out")
	}
	if m.ActiveVoices() != 0 {
		t.Errorf("ActiveVoices = %d, want 0 after end", m.ActiveVoices())
	}
	if frame[239*audio.Channels] == 0 {
		t.Error("sample 239 silent, want audio up to the end")
	}
	if frame[240*audio.Channels] != 0 {
		t.Error("sample 240 audible, want silence past the end")
	}
}

func TestStopReleasesWithoutEndNotification(t *testing.T) {
	m := New()
	v, _ := m.CreateVoice(dcBuffer(0.5, 1))
	v.SetGain(1, 0)
	ended := false
	v.OnEnded(func() { ended = true })
	if err := v.Start(0, 0, 0.5); err != nil {
		t.Fatal(err)
	}

	v.Stop()
	if m.ActiveVoices() != 0 {
		t.Errorf("ActiveVoices = %d, want 0 after Stop", m.ActiveVoices())
	}
	m.RenderFrame()
	if ended {
		t.Error("OnEnded fired for an explicitly stopped voice")
	}
}

func TestVoicePoolBounded(t *testing.T) {
	m := New()
	buf := dcBuffer(0.1, 0.1)
	for i := 0; i < MaxVoices; i++ {
		if _, err := m.CreateVoice(buf); err != nil {
			t.Fatalf("voice %d refused: %v", i, err)
		}
	}
	if _, err := m.CreateVoice(buf); err != ErrNoFreeVoice {
		t.Errorf("voice %d error = %v, want ErrNoFreeVoice", MaxVoices, err)
	}
}

func TestBufferOffsetApplied(t *testing.T) {
	// First half silent, second half loud: starting at offset 0.5s must be
	// audible immediately.
	frames := audio.SampleRate
	samples := make([]float32, frames*audio.Channels)
	for i := frames / 2 * audio.Channels; i < len(samples); i++ {
		samples[i] = 0.5
	}
	buf := &audio.Buffer{Samples: samples, Channels: audio.Channels, SampleRate: audio.SampleRate}

	m := New()
	v, _ := m.CreateVoice(buf)
	v.SetGain(1, 0)
	if err := v.Start(0, 0.5, 0.25); err != nil {
		t.Fatal(err)
	}
	frame := m.RenderFrame()
	if frame[0] == 0 {
		t.Error("offset playback silent, want the loud half of the buffer")
	}
}

func TestGainRampReachesTarget(t *testing.T) {
	m := New()
	v, _ := m.CreateVoice(dcBuffer(1.0, 1))
	if err := v.Start(0, 0, 1); err != nil {
		t.Fatal(err)
	}

	// Ramp 0 -> 1 over one frame's worth of samples.
	v.SetGain(1, float64(audio.FrameSize)/audio.SampleRate)

	first := m.RenderFrame()
	second := m.RenderFrame()

	early := math.Abs(float64(first[10*audio.Channels]))
	late := math.Abs(float64(first[(audio.FrameSize-10)*audio.Channels]))
	if early >= late {
		t.Errorf("ramp not rising within frame: early=%v late=%v", early, late)
	}
	settled := math.Abs(float64(second[audio.FrameSize/2*audio.Channels]))
	if settled < 32000 {
		t.Errorf("post-ramp level = %v, want near full scale", settled)
	}
}

func TestPumpDeliversFramesUntilCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Pump(ctx)
		close(done)
	}()

	select {
	case frame := <-m.Frames():
		if len(frame) != audio.FrameSamples {
			t.Errorf("frame length = %d, want %d", len(frame), audio.FrameSamples)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from Pump")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pump did not stop after cancel")
	}
}

func TestFillAnalysisFeedsMeter(t *testing.T) {
	m := New()
	v, _ := m.CreateVoice(audio.ToneBuffer(440, 1, 0.8))
	v.SetGain(1, 0)
	if err := v.Start(0, 0, 1); err != nil {
		t.Fatal(err)
	}
	// Fill the analysis ring (1024 mono samples = two 960-sample frames).
	m.RenderFrame()
	m.RenderFrame()

	b := meter.NewBuffers(0, 0)
	m.FillAnalysis(b)

	if len(b.TimeDomain) != analysisSize || len(b.FreqDomain) != analysisSize/2 {
		t.Fatalf("analysis sizes = %d/%d, want %d/%d",
			len(b.TimeDomain), len(b.FreqDomain), analysisSize, analysisSize/2)
	}

	reading := meter.NewMeter(meter.DefaultConfig()).Measure(b)
	if reading.Peak < 0.5 {
		t.Errorf("Peak = %v, want the tone to register", reading.Peak)
	}
	// A 440Hz tone is low-band-heavy: tilt must lean negative.
	if reading.SpectralTilt >= 0 {
		t.Errorf("SpectralTilt = %v, want negative for a low tone", reading.SpectralTilt)
	}

	var maxBin float32
	for _, mag := range b.FreqDomain {
		if mag > maxBin {
			maxBin = mag
		}
	}
	if maxBin < 0.3 {
		t.Errorf("max bin magnitude = %v, want concentrated tone energy", maxBin)
	}
}
