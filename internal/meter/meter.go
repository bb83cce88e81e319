// Package meter turns raw analyser snapshots into bounded, stable metrics
// suitable for visual feedback. Measure is a pure per-tick transform apart
// from the carried smoothing state it keeps on the caller's Buffers.
package meter

import "math"

// Config holds the tunable metering constants. The defaults are empirical;
// they are not derived from anything and tests pin them as-is.
type Config struct {
	Calibration     float64 // rms scale before the [0,1] clamp
	SmoothPrev      float64 // one-pole smoothing, previous weight
	SmoothNew       float64 // one-pole smoothing, input weight
	TransientRatio  float64 // peak must exceed lastPeak by this factor
	TransientMargin float64 // and exceed the smoothed level by this much
	PeakDecayNew    float64 // lastPeak update, current-peak weight
	PeakDecayPrev   float64 // lastPeak update, previous weight
	TiltFraction    float64 // share of bins at each spectral extreme
	LowBandFraction float64 // share of bins counted as the low band
	Epsilon         float64 // crest-factor divide guard
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		Calibration:     1.0,
		SmoothPrev:      0.68,
		SmoothNew:       0.32,
		TransientRatio:  1.12,
		TransientMargin: 0.12,
		PeakDecayNew:    0.6,
		PeakDecayPrev:   0.4,
		TiltFraction:    0.32,
		LowBandFraction: 0.12,
		Epsilon:         1e-6,
	}
}

// Buffers holds one analysed source's capture arrays plus the carried
// smoothing state. The analyser fills TimeDomain (or ByteTimeDomain when
// float capture is unavailable) and FreqDomain before each Measure call.
type Buffers struct {
	TimeDomain     []float32 // samples in [-1,1]
	ByteTimeDomain []byte    // fallback capture, 128 = silence
	FreqDomain     []float32 // normalized bin magnitudes in [0,1]

	smoothedLevel float64
	lastPeak      float64
}

// NewBuffers allocates capture arrays for the given analyser resolution.
func NewBuffers(timeSize, freqBins int) *Buffers {
	b := &Buffers{}
	b.Resize(timeSize, freqBins)
	return b
}

// Resize reallocates the capture arrays for a new analyser resolution while
// keeping the carried smoothing state.
func (b *Buffers) Resize(timeSize, freqBins int) {
	if len(b.TimeDomain) != timeSize {
		b.TimeDomain = make([]float32, timeSize)
	}
	if len(b.FreqDomain) != freqBins {
		b.FreqDomain = make([]float32, freqBins)
	}
}

// UseByteCapture switches the buffers to byte-domain time capture, for
// analysers that cannot provide float samples.
func (b *Buffers) UseByteCapture(timeSize int) {
	b.TimeDomain = nil
	if len(b.ByteTimeDomain) != timeSize {
		b.ByteTimeDomain = make([]byte, timeSize)
	}
}

// Reading is the immutable per-tick output. Everything except SpectralTilt
// (in [-1,1]) and CrestFactor (unbounded positive) lies in [0,1] for inputs
// in [-1,1].
type Reading struct {
	RMS           float64
	Level         float64
	Peak          float64
	CrestFactor   float64
	SpectralTilt  float64
	LowBandEnergy float64
	Transient     bool
}

// Meter applies one Config to any number of buffer objects.
type Meter struct {
	cfg Config
}

// NewMeter creates a meter; zero-value fields in cfg fall back to defaults.
func NewMeter(cfg Config) *Meter {
	def := DefaultConfig()
	if cfg.SmoothPrev == 0 && cfg.SmoothNew == 0 {
		cfg.SmoothPrev, cfg.SmoothNew = def.SmoothPrev, def.SmoothNew
	}
	if cfg.Calibration == 0 {
		cfg.Calibration = def.Calibration
	}
	if cfg.TransientRatio == 0 {
		cfg.TransientRatio = def.TransientRatio
	}
	if cfg.TransientMargin == 0 {
		cfg.TransientMargin = def.TransientMargin
	}
	if cfg.PeakDecayNew == 0 && cfg.PeakDecayPrev == 0 {
		cfg.PeakDecayNew, cfg.PeakDecayPrev = def.PeakDecayNew, def.PeakDecayPrev
	}
	if cfg.TiltFraction == 0 {
		cfg.TiltFraction = def.TiltFraction
	}
	if cfg.LowBandFraction == 0 {
		cfg.LowBandFraction = def.LowBandFraction
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = def.Epsilon
	}
	return &Meter{cfg: cfg}
}

// Measure computes a Reading from the current capture arrays and advances
// the carried smoothing state on b.
func (m *Meter) Measure(b *Buffers) Reading {
	peak, rms := m.timeDomainStats(b)

	normalized := rms * m.cfg.Calibration
	if normalized > 1 {
		normalized = 1
	}

	smoothed := b.smoothedLevel*m.cfg.SmoothPrev + normalized*m.cfg.SmoothNew

	crest := peak / math.Max(rms, m.cfg.Epsilon)

	// Sudden onset: the peak jumped relative to its own decayed history AND
	// stands clear of the sustained level.
	transient := peak > b.lastPeak*m.cfg.TransientRatio &&
		peak-smoothed > m.cfg.TransientMargin

	reading := Reading{
		RMS:           rms,
		Level:         smoothed,
		Peak:          peak,
		CrestFactor:   crest,
		SpectralTilt:  m.spectralTilt(b.FreqDomain),
		LowBandEnergy: m.lowBandEnergy(b.FreqDomain),
		Transient:     transient,
	}

	b.smoothedLevel = smoothed
	b.lastPeak = peak*m.cfg.PeakDecayNew + b.lastPeak*m.cfg.PeakDecayPrev
	return reading
}

// timeDomainStats reads the float capture, falling back to byte capture
// normalized to [-1,1].
func (m *Meter) timeDomainStats(b *Buffers) (peak, rms float64) {
	var sumSq float64
	n := 0

	if len(b.TimeDomain) > 0 {
		for _, s := range b.TimeDomain {
			v := math.Abs(float64(s))
			if v > peak {
				peak = v
			}
			sumSq += float64(s) * float64(s)
		}
		n = len(b.TimeDomain)
	} else if len(b.ByteTimeDomain) > 0 {
		for _, raw := range b.ByteTimeDomain {
			s := (float64(raw) - 128) / 128
			v := math.Abs(s)
			if v > peak {
				peak = v
			}
			sumSq += s * s
		}
		n = len(b.ByteTimeDomain)
	}

	if n > 0 {
		rms = math.Sqrt(sumSq / float64(n))
	}
	return peak, rms
}

// spectralTilt is the average magnitude of the top bins minus the bottom
// bins, clamped to [-1,1]. Positive means high-frequency-heavy.
func (m *Meter) spectralTilt(bins []float32) float64 {
	n := len(bins)
	k := int(float64(n) * m.cfg.TiltFraction)
	if k == 0 {
		return 0
	}
	var low, high float64
	for i := 0; i < k; i++ {
		low += float64(bins[i])
	}
	for i := n - k; i < n; i++ {
		high += float64(bins[i])
	}
	tilt := (high - low) / float64(k)
	if tilt > 1 {
		tilt = 1
	} else if tilt < -1 {
		tilt = -1
	}
	return tilt
}

// lowBandEnergy is the normalized average magnitude of the lowest bins.
func (m *Meter) lowBandEnergy(bins []float32) float64 {
	n := len(bins)
	if n == 0 {
		return 0
	}
	k := int(float64(n) * m.cfg.LowBandFraction)
	if k < 1 {
		k = 1
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += float64(bins[i])
	}
	e := sum / float64(k)
	if e > 1 {
		e = 1
	} else if e < 0 {
		e = 0
	}
	return e
}
