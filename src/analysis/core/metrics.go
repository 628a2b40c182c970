package core

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// -----------------------------------------------------------------------------

// RSquared is the coefficient of determination of predicted against actual.
// A constant actual series scores 1 for a perfect fit and 0 otherwise.
func RSquared(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}

	mean := stat.Mean(actual, nil)
	ssTot := 0.0
	for _, v := range actual {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		for i := range actual {
			if actual[i] != predicted[i] {
				return 0
			}
		}
		return 1
	}

	return stat.RSquaredFrom(predicted, actual, nil)
}

// -----------------------------------------------------------------------------

// MeanAbsoluteError of predicted against actual.
func MeanAbsoluteError(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// -----------------------------------------------------------------------------

// RootMeanSquaredError of predicted against actual.
func RootMeanSquaredError(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	sum := 0.0
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}
