package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
)

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(path string) ([]int16, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	return samples, nil
}

// DecodeBuffer decodes an audio file into a float32 Buffer ready to be
// referenced by regions.
func DecodeBuffer(path string) (*Buffer, error) {
	pcm, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}
	return &Buffer{Samples: samples, Channels: Channels, SampleRate: SampleRate}, nil
}

// ToneBuffer synthesizes a stereo sine buffer, used by the demo session and
// tests when no media directory is configured.
func ToneBuffer(freq float64, duration float64, gain float32) *Buffer {
	frames := int(duration * SampleRate)
	samples := make([]float32, frames*Channels)
	step := 2 * math.Pi * freq / SampleRate
	for i := 0; i < frames; i++ {
		v := gain * float32(math.Sin(step*float64(i)))
		samples[i*Channels] = v
		samples[i*Channels+1] = v
	}
	return &Buffer{Samples: samples, Channels: Channels, SampleRate: SampleRate}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
