package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is a decoded audio buffer. Regions hold read-only references to a
// shared Buffer; nothing mutates Samples after decode.
type Buffer struct {
	Samples    []float32 // interleaved
	Channels   int
	SampleRate int
}

// Duration returns the playable length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.Channels == 0 || b.SampleRate == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return float64(frames) / float64(b.SampleRate)
}

// Frames returns the number of sample frames (per-channel samples).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Sample returns the sample for one channel at a frame index, zero outside
// the buffer. Channel indexes past the buffer's channel count fold back to
// channel 0 so mono buffers play on both sides of a stereo mix.
func (b *Buffer) Sample(frame, channel int) float32 {
	if b == nil || frame < 0 || frame >= b.Frames() {
		return 0
	}
	if channel >= b.Channels {
		channel = 0
	}
	return b.Samples[frame*b.Channels+channel]
}
