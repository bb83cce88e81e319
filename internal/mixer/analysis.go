package mixer

import (
	"math"
	"math/bits"

	"github.com/mixxaudio/mixxcore/internal/meter"
)

// analysisSize is the FFT window over the master bus, a power of two.
const analysisSize = 1024

// analysisRing keeps the most recent mono samples of the master mix.
type analysisRing struct {
	buf []float64
	pos int
}

func newAnalysisRing(size int) *analysisRing {
	return &analysisRing{buf: make([]float64, size)}
}

func (r *analysisRing) push(samples []float64) {
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos = (r.pos + 1) % len(r.buf)
	}
}

// snapshot copies the ring oldest-first into dst.
func (r *analysisRing) snapshot(dst []float64) {
	n := len(r.buf)
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.pos+i)%n]
	}
}

// FillAnalysis captures the master-bus analyser snapshot into b: the mono
// time-domain window and normalized FFT bin magnitudes. Call once per host
// tick before measuring.
func (m *Mixer) FillAnalysis(b *meter.Buffers) {
	window := make([]float64, analysisSize)
	m.mu.Lock()
	m.analysis.snapshot(window)
	m.mu.Unlock()

	b.Resize(analysisSize, analysisSize/2)
	for i, s := range window {
		b.TimeDomain[i] = float32(s)
	}

	// Hann window keeps bin magnitudes stable for visual metering.
	re := make([]float64, analysisSize)
	im := make([]float64, analysisSize)
	var windowSum float64
	for i, s := range window {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(analysisSize-1)))
		re[i] = s * w
		windowSum += w
	}
	fft(re, im)

	// Normalized so a full-scale sine lands near 1.0 in its bin.
	scale := 2 / windowSum
	for k := 0; k < analysisSize/2; k++ {
		mag := math.Hypot(re[k], im[k]) * scale
		if mag > 1 {
			mag = 1
		}
		b.FreqDomain[k] = float32(mag)
	}
}

// fft is an in-place iterative radix-2 transform. len(re) must be a power
// of two.
func fft(re, im []float64) {
	n := len(re)
	if n < 2 {
		return
	}
	shift := 64 - uint(bits.Len(uint(n-1)))
	for i := 0; i < n; i++ {
		j := int(bits.Reverse64(uint64(i)) >> shift)
		if j > i {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := step * float64(k)
				wr, wi := math.Cos(angle), math.Sin(angle)
				i0, i1 := start+k, start+k+half
				tr := wr*re[i1] - wi*im[i1]
				ti := wr*im[i1] + wi*re[i1]
				re[i1] = re[i0] - tr
				im[i1] = im[i0] - ti
				re[i0] += tr
				im[i0] += ti
			}
		}
	}
}
