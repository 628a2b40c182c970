package analysis

import (
	"fare-observer/src/analysis/core"
	"fare-observer/src/models"
)

// Neutral values substituted when a ratio's denominator is zero.
const (
	DefaultMomentum        = 1.0
	DefaultVolatilityIndex = 0.0
	DefaultRelativePrice   = 1.0
)

// -----------------------------------------------------------------------------

// ApplyRatios derives the cross-feature ratios from the rolling statistics.
// It reads only rolling fields so it inherits their point-in-time guarantee.
func ApplyRatios(fv *models.MFeatureVector) {
	fv.RouteMomentum = core.SafeRatio(fv.RouteMeanShort, fv.RouteMeanLong, DefaultMomentum)
	fv.RouteVolatilityIndex = core.SafeRatio(fv.RouteStdLong, fv.RouteMeanLong, DefaultVolatilityIndex)
	fv.CarrierRelativePrice = core.SafeRatio(fv.CarrierMeanShort, fv.RouteMeanShort, DefaultRelativePrice)
}
