package stream

import (
	"io"

	"github.com/ebitengine/oto/v3"
	"github.com/mixxaudio/mixxcore/internal/audio"
)

// Speaker plays the monitor bus on the local audio device.
type Speaker struct {
	broadcaster *Broadcaster
	listener    *Listener
	ctx         *oto.Context
	player      *oto.Player
	leftover    []byte
}

// NewSpeaker opens the device context. Blocks until the device is ready.
func NewSpeaker(b *Broadcaster) (*Speaker, error) {
	op := &oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready
	return &Speaker{broadcaster: b, ctx: ctx}, nil
}

// Start subscribes to the monitor bus and begins playback.
func (s *Speaker) Start() {
	s.listener = s.broadcaster.Subscribe()
	s.player = s.ctx.NewPlayer(s)
	s.player.Play()
}

// Close stops playback and drops the bus subscription.
func (s *Speaker) Close() {
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	if s.listener != nil {
		s.broadcaster.Unsubscribe(s.listener)
		s.listener = nil
	}
}

// Read supplies PCM bytes to the device. An underrun pads with silence
// rather than blocking the device callback.
func (s *Speaker) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(s.leftover) == 0 {
			select {
			case <-s.listener.done:
				return n, io.EOF
			case frame, ok := <-s.listener.C:
				if !ok {
					return n, io.EOF
				}
				s.leftover = audio.SamplesToBytes(frame)
			default:
				for i := n; i < len(p); i++ {
					p[i] = 0
				}
				return len(p), nil
			}
		}
		c := copy(p[n:], s.leftover)
		s.leftover = s.leftover[c:]
		n += c
	}
	return n, nil
}
