package utils

import (
	"math"
	"math/rand"
)

// Weibull describes a Weibull distribution by shape and scale
type Weibull struct {
	Shape float64
	Scale float64
}

// NewWeibull fits a Weibull distribution with the given mean and standard
// deviation. A non-positive deviation yields a degenerate distribution that
// always samples the mean.
func NewWeibull(mean, dev float64) Weibull {
	if dev <= 0 || mean <= 0 {
		return Weibull{Shape: math.Inf(1), Scale: mean}
	}
	cv := dev / mean

	// The coefficient of variation decreases monotonically with the shape.
	lo, hi := math.Log(0.05), math.Log(500.0)
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if weibullCV(math.Exp(mid)) > cv {
			lo = mid
		} else {
			hi = mid
		}
	}
	shape := math.Exp((lo + hi) / 2)
	return Weibull{
		Shape: shape,
		Scale: mean / math.Gamma(1+1/shape),
	}
}

// Sample draws one value
func (w Weibull) Sample(rng *rand.Rand) float64 {
	if math.IsInf(w.Shape, 1) {
		return w.Scale
	}
	u := rng.Float64()
	return w.Scale * math.Pow(-math.Log1p(-u), 1/w.Shape)
}

// Mean returns the expected value
func (w Weibull) Mean() float64 {
	if math.IsInf(w.Shape, 1) {
		return w.Scale
	}
	return w.Scale * math.Gamma(1+1/w.Shape)
}

func weibullCV(shape float64) float64 {
	g1 := math.Gamma(1 + 1/shape)
	g2 := math.Gamma(1 + 2/shape)
	return math.Sqrt(g2/(g1*g1) - 1)
}
