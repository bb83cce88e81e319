// Package curve computes and memoizes shaper curves. Automation sweeps hit
// the cache with near-duplicate drive amounts, so keys are quantized before
// lookup.
package curve

import "math"

// Smoothstep returns the smoothstep interpolation for t in [0,1]:
// 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Fade is a fade curve family.
type Fade int

const (
	FadeLinear Fade = iota
	FadeExponential
	FadeLogarithmic
	FadeSCurve
)

// Gain evaluates the fade at position in [0,1].
func (f Fade) Gain(position float64) float64 {
	p := position
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	switch f {
	case FadeExponential:
		return p * p
	case FadeLogarithmic:
		return math.Sqrt(p)
	case FadeSCurve:
		return Smoothstep(p)
	default:
		return p
	}
}

// Shape samples a soft-clip transfer curve over the input range [-1,1].
// amount in [0,1] sets the drive; zero is a straight wire.
func Shape(amount float64, sampleCount int) []float32 {
	if sampleCount < 2 {
		sampleCount = 2
	}
	curve := make([]float32, sampleCount)
	if amount <= 0 {
		for i := range curve {
			curve[i] = float32(2*float64(i)/float64(sampleCount-1) - 1)
		}
		return curve
	}
	drive := 1 + amount*4
	// tanh soft clipper via the sigmoid identity, normalized so the curve
	// endpoints land on exactly -1/+1.
	norm := 2/(1+math.Exp(-2*drive)) - 1
	for i := range curve {
		x := 2*float64(i)/float64(sampleCount-1) - 1
		y := (2/(1+math.Exp(-2*x*drive)) - 1) / norm
		curve[i] = float32(y)
	}
	return curve
}
