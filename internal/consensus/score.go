package consensus

import "math"

const (
	// confidenceExponent shapes the trust curve: every extra independent
	// witness shrinks the room a single liar has by N^-1.5.
	confidenceExponent = 1.5

	// DefaultValidityThreshold is the confidence a round must reach to pass.
	DefaultValidityThreshold = 0.6

	// DefaultMaxResidual is the geometric error, in world units, at which
	// confidence attenuates to zero and the verdict always fails.
	DefaultMaxResidual = 5.0
)

// Scorer converts witness count and geometric agreement into a trust value.
type Scorer struct {
	MaxResidual float64 // MaxResidual is the residual attenuating confidence to zero
}

// Score returns the trust value in [0,1] for a round with the given
// distinct observer count and geometric error. The count term is the exact
// curve 1 - 1/N^1.5; the residual attenuates it linearly and can flip a
// verdict even when the count term is high. Never exceeds the count ceiling.
func (s Scorer) Score(observerCount int, geometricError float64) float64 {
	base := BaseConfidence(observerCount)
	if base == 0 {
		return 0
	}

	maxResidual := s.MaxResidual
	if maxResidual <= 0 {
		maxResidual = DefaultMaxResidual
	}

	attenuation := 1 - geometricError/maxResidual
	if attenuation < 0 {
		attenuation = 0
	}
	if attenuation > 1 {
		attenuation = 1
	}

	return base * attenuation
}

// BaseConfidence returns the count-only trust ceiling 1 - 1/N^1.5,
// floored at 0 below two observers.
func BaseConfidence(observerCount int) float64 {
	if observerCount < 2 {
		return 0
	}

	return 1 - 1/math.Pow(float64(observerCount), confidenceExponent)
}
