package transport

import "testing"

func TestBeatGridResolution(t *testing.T) {
	g := NewBeatGrid(120, CommonTime(), 44100)

	// At 120 BPM one beat is 0.5s = 22050 samples.
	if g.SamplesPerBeat() != 22050 {
		t.Errorf("SamplesPerBeat = %d, want 22050", g.SamplesPerBeat())
	}
	// 4/4 means 4 beats per bar.
	if g.SamplesPerBar() != 88200 {
		t.Errorf("SamplesPerBar = %d, want 88200", g.SamplesPerBar())
	}
}

func TestBeatGridPositionAt(t *testing.T) {
	g := NewBeatGrid(120, CommonTime(), 44100)

	tests := []struct {
		sample uint64
		bar    uint32
		beat   uint8
	}{
		{0, 1, 1},
		{22050, 1, 2},
		{88199, 1, 4},
		{88200, 2, 1},
		{88200 + 22050, 2, 2},
	}
	for _, tt := range tests {
		pos := g.PositionAt(tt.sample)
		if pos.Bar != tt.bar || pos.Beat != tt.beat {
			t.Errorf("PositionAt(%d) = bar %d beat %d, want bar %d beat %d",
				tt.sample, pos.Bar, pos.Beat, tt.bar, tt.beat)
		}
	}
}

func TestBeatGridSubdivision(t *testing.T) {
	g := NewBeatGrid(120, CommonTime(), 44100)
	pos := g.PositionAt(11025) // halfway through beat 1
	if pos.Subdivision < 0.49 || pos.Subdivision > 0.51 {
		t.Errorf("Subdivision = %v, want ~0.5", pos.Subdivision)
	}
}

func TestBeatGridSampleAt(t *testing.T) {
	g := NewBeatGrid(120, CommonTime(), 44100)
	if got := g.SampleAt(1, 1); got != 0 {
		t.Errorf("SampleAt(1,1) = %d, want 0", got)
	}
	if got := g.SampleAt(2, 1); got != 88200 {
		t.Errorf("SampleAt(2,1) = %d, want 88200", got)
	}
	if got := g.SampleAt(1, 3); got != 44100 {
		t.Errorf("SampleAt(1,3) = %d, want 44100", got)
	}
	// Zero bar/beat must not underflow.
	if got := g.SampleAt(0, 0); got != 0 {
		t.Errorf("SampleAt(0,0) = %d, want 0", got)
	}
}

func TestBeatGridBoundaries(t *testing.T) {
	g := NewBeatGrid(120, CommonTime(), 44100)
	if got := g.NextBeatAfter(0); got != 22050 {
		t.Errorf("NextBeatAfter(0) = %d, want 22050", got)
	}
	if got := g.NextBeatAfter(22050); got != 44100 {
		t.Errorf("NextBeatAfter(22050) = %d, want 44100", got)
	}
	if got := g.NextBarAfter(100); got != 88200 {
		t.Errorf("NextBarAfter(100) = %d, want 88200", got)
	}
}

func TestBeatGridBPMClamp(t *testing.T) {
	g := NewBeatGrid(1000, CommonTime(), 44100)
	if g.BPM != 300 {
		t.Errorf("BPM = %v, want clamped 300", g.BPM)
	}
	g.SetBPM(5)
	if g.BPM != 20 {
		t.Errorf("BPM = %v, want clamped 20", g.BPM)
	}
}
