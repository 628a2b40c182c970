package core

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Defaults substituted when a rolling window has no usable prior observations.
const (
	DefaultMean  = 0.0
	DefaultStd   = 1.0
	DefaultCount = 0.0
)

// -----------------------------------------------------------------------------

// CalculateMeanStd computes mean and sample standard deviation.
// Fewer than two values give a zero deviation.
func CalculateMeanStd(data []float64) (float64, float64) {
	switch len(data) {
	case 0:
		return 0, 0
	case 1:
		return data[0], 0
	}
	return stat.MeanStdDev(data, nil)
}

// -----------------------------------------------------------------------------

// WindowStats summarises a window of strictly preceding prices.
// An empty window yields DefaultMean; fewer than two values yield DefaultStd.
func WindowStats(prior []float64) (mean, std float64) {
	if len(prior) == 0 {
		return DefaultMean, DefaultStd
	}
	if len(prior) == 1 {
		return prior[0], DefaultStd
	}
	mean, std = stat.MeanStdDev(prior, nil)
	if math.IsNaN(std) || math.IsInf(std, 0) {
		std = DefaultStd
	}
	return mean, std
}

// -----------------------------------------------------------------------------

// CalculateCorrelation computes the Pearson correlation coefficient.
func CalculateCorrelation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}

	_, stdX := CalculateMeanStd(x)
	_, stdY := CalculateMeanStd(y)
	if stdX == 0 || stdY == 0 {
		return 0
	}

	result := stat.Correlation(x, y, nil)
	if math.IsNaN(result) {
		return 0
	}
	return result
}

// -----------------------------------------------------------------------------

// Normalize scales values in place so they sum to one. A zero sum is left untouched.
func Normalize(values []float64) {
	total := floats.Sum(values)
	if total == 0 {
		return
	}
	floats.Scale(1/total, values)
}
