package transport

// TimeSignature is beats per bar over the note value.
type TimeSignature struct {
	Numerator   uint8
	Denominator uint8
}

// CommonTime is the 4/4 default.
func CommonTime() TimeSignature {
	return TimeSignature{Numerator: 4, Denominator: 4}
}

// BeatPosition is a pre-resolved musical position.
type BeatPosition struct {
	SamplePosition uint64
	Bar            uint32
	Beat           uint8
	Subdivision    float64 // 0.0 - 1.0 within the beat
}

// ZeroBeat is bar 1, beat 1.
func ZeroBeat() BeatPosition {
	return BeatPosition{Bar: 1, Beat: 1}
}

// BeatGrid converts between sample positions and bar/beat positions for a
// fixed tempo and time signature.
type BeatGrid struct {
	BPM           float64
	TimeSignature TimeSignature
	SampleRate    uint32

	samplesPerBeat uint64
	samplesPerBar  uint64
}

// NewBeatGrid builds a grid. BPM is clamped to [20, 300].
func NewBeatGrid(bpm float64, sig TimeSignature, sampleRate uint32) *BeatGrid {
	g := &BeatGrid{TimeSignature: sig, SampleRate: sampleRate}
	g.SetBPM(bpm)
	return g
}

// SetBPM updates the tempo and recalculates the grid.
func (g *BeatGrid) SetBPM(bpm float64) {
	if bpm < 20 {
		bpm = 20
	} else if bpm > 300 {
		bpm = 300
	}
	g.BPM = bpm
	g.samplesPerBeat = uint64((60.0 / bpm) * float64(g.SampleRate))
	g.samplesPerBar = g.samplesPerBeat * uint64(g.TimeSignature.Numerator)
}

// PositionAt resolves the bar/beat position at a sample.
func (g *BeatGrid) PositionAt(sample uint64) BeatPosition {
	barsDone := sample / g.samplesPerBar
	inBar := sample % g.samplesPerBar
	beatsInBar := inBar / g.samplesPerBeat
	inBeat := inBar % g.samplesPerBeat
	return BeatPosition{
		SamplePosition: sample,
		Bar:            uint32(barsDone) + 1,
		Beat:           uint8(beatsInBar) + 1,
		Subdivision:    float64(inBeat) / float64(g.samplesPerBeat),
	}
}

// SampleAt returns the sample position of a bar:beat (both 1-based).
func (g *BeatGrid) SampleAt(bar uint32, beat uint8) uint64 {
	var barSamples, beatSamples uint64
	if bar > 0 {
		barSamples = uint64(bar-1) * g.samplesPerBar
	}
	if beat > 0 {
		beatSamples = uint64(beat-1) * g.samplesPerBeat
	}
	return barSamples + beatSamples
}

// NextBeatAfter returns the first beat boundary strictly after sample.
func (g *BeatGrid) NextBeatAfter(sample uint64) uint64 {
	return (sample/g.samplesPerBeat)*g.samplesPerBeat + g.samplesPerBeat
}

// NextBarAfter returns the first bar boundary strictly after sample.
func (g *BeatGrid) NextBarAfter(sample uint64) uint64 {
	return (sample/g.samplesPerBar)*g.samplesPerBar + g.samplesPerBar
}

// SamplesPerBeat returns the grid resolution in samples.
func (g *BeatGrid) SamplesPerBeat() uint64 { return g.samplesPerBeat }

// SamplesPerBar returns the bar length in samples.
func (g *BeatGrid) SamplesPerBar() uint64 { return g.samplesPerBar }
