package training

import (
	"encoding/json"
	"fmt"
	"math"

	"fare-observer/src/analysis"
	"fare-observer/src/analysis/core"
	"fare-observer/src/helpers"
	"fare-observer/src/models"
)

// ResidualStats describe prediction error in price units, used for intervals.
type ResidualStats struct {
	GlobalStd float64            `json:"global_std"`
	RouteStd  map[string]float64 `json:"route_std"`
	Rows      int                `json:"rows"`
}

// ModelArtifact is everything needed to reproduce a model's predictions.
type ModelArtifact struct {
	Version      string                     `json:"version"`
	FeatureOrder []string                   `json:"feature_order"`
	Currency     string                     `json:"currency"`
	Booster      *GradientBoostedRegressor  `json:"booster"`
	Encoder      *analysis.FrequencyEncoder `json:"encoder"`
	Residuals    ResidualStats              `json:"residuals"`
	Metrics      models.MTrainingMetrics    `json:"metrics"`
}

// -----------------------------------------------------------------------------

// PredictPrice maps one projected row to a price in original units.
func (a *ModelArtifact) PredictPrice(x []float64) float64 {
	return core.InverseTarget(a.Booster.Predict(x))
}

// -----------------------------------------------------------------------------

// PredictPrices maps projected rows to prices in original units.
func (a *ModelArtifact) PredictPrices(X [][]float64) []float64 {
	out := a.Booster.PredictBatch(X)
	for i := range out {
		out[i] = core.InverseTarget(out[i])
	}
	return out
}

// -----------------------------------------------------------------------------

// Validate checks the artifact is usable with schema.
func (a *ModelArtifact) Validate(schema *analysis.FeatureSchema) error {
	if a.Booster == nil {
		return helpers.NewValidationError("artifact %s has no booster", a.Version)
	}
	if len(a.FeatureOrder) != a.Booster.NumFeatures {
		return helpers.NewSchemaMismatchError("artifact %s locks %d features but the booster expects %d",
			a.Version, len(a.FeatureOrder), a.Booster.NumFeatures)
	}
	_, err := schema.Resolve(a.FeatureOrder)
	return err
}

// -----------------------------------------------------------------------------

// IntervalStd returns the residual deviation for a route and whether it is route specific.
func (a *ModelArtifact) IntervalStd(routeKey string) (float64, bool) {
	if std, ok := a.Residuals.RouteStd[routeKey]; ok && std > 0 && !math.IsNaN(std) {
		return std, true
	}
	return a.Residuals.GlobalStd, false
}

// -----------------------------------------------------------------------------

func MarshalArtifact(a *ModelArtifact) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact %s: %w", a.Version, err)
	}
	return data, nil
}

// -----------------------------------------------------------------------------

func UnmarshalArtifact(data []byte) (*ModelArtifact, error) {
	var a ModelArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	return &a, nil
}

// -----------------------------------------------------------------------------

// computeResiduals summarises actual minus predicted prices overall and per route.
func computeResiduals(routes []string, actual, predicted []float64, minRouteRows int) ResidualStats {
	stats := ResidualStats{RouteStd: make(map[string]float64), Rows: len(actual)}
	if len(actual) == 0 {
		return stats
	}

	all := make([]float64, len(actual))
	byRoute := make(map[string][]float64)
	for i := range actual {
		all[i] = actual[i] - predicted[i]
		byRoute[routes[i]] = append(byRoute[routes[i]], all[i])
	}

	_, stats.GlobalStd = core.CalculateMeanStd(all)
	for route, res := range byRoute {
		if len(res) >= minRouteRows {
			_, stats.RouteStd[route] = core.CalculateMeanStd(res)
		}
	}
	return stats
}
