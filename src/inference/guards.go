package inference

import (
	"math"

	"fare-observer/src/helpers"
)

// ApplyGuards checks a raw prediction. Non-finite values are errors, negative
// values are mirrored and values above bound are returned with a warning.
func ApplyGuards(value, bound float64) (float64, bool, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false, helpers.NewNumericGuardViolation(value)
	}
	if value < 0 {
		value = -value
	}
	return value, value > bound, nil
}
