package core

import "math"

// -----------------------------------------------------------------------------

// SafeRatio divides num by den, substituting def when den is zero or the result is not finite.
func SafeRatio(num, den, def float64) float64 {
	if den == 0 {
		return def
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return def
	}
	return r
}
