package core

import "math"

// Targets are fitted on log(1+price) and mapped back with exp(x)-1.
// Both directions use the dedicated functions so small prices keep full precision.

// -----------------------------------------------------------------------------

func TransformTarget(price float64) float64 {
	return math.Log1p(price)
}

// -----------------------------------------------------------------------------

func InverseTarget(value float64) float64 {
	return math.Expm1(value)
}

// -----------------------------------------------------------------------------

// TransformTargets maps a slice of prices into model space.
func TransformTargets(prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = TransformTarget(p)
	}
	return out
}
