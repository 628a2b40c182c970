package analysis

import (
	"fare-observer/src/models"
)

// UnseenFrequency is assigned to airlines and routes absent from the training corpus.
const UnseenFrequency = 0.0

// FrequencyEncoder maps categories to their share of the training corpus.
// It is fitted once per training run and persisted inside the model artifact.
type FrequencyEncoder struct {
	Airline map[string]float64 `json:"airline"`
	Route   map[string]float64 `json:"route"`
}

// -----------------------------------------------------------------------------

// FitFrequencyEncoder locks category shares from the training rows only.
func FitFrequencyEncoder(rows []models.MFeatureRow) *FrequencyEncoder {
	enc := &FrequencyEncoder{
		Airline: make(map[string]float64),
		Route:   make(map[string]float64),
	}
	if len(rows) == 0 {
		return enc
	}

	for _, r := range rows {
		enc.Airline[r.Features.Airline]++
		enc.Route[r.Features.RouteKey]++
	}
	total := float64(len(rows))
	for k, v := range enc.Airline {
		enc.Airline[k] = v / total
	}
	for k, v := range enc.Route {
		enc.Route[k] = v / total
	}
	return enc
}

// -----------------------------------------------------------------------------

// Apply writes locked frequencies into fv.
func (e *FrequencyEncoder) Apply(fv *models.MFeatureVector) {
	fv.AirlineFrequency = UnseenFrequency
	fv.RouteFrequency = UnseenFrequency
	if e == nil {
		return
	}
	if v, ok := e.Airline[fv.Airline]; ok {
		fv.AirlineFrequency = v
	}
	if v, ok := e.Route[fv.RouteKey]; ok {
		fv.RouteFrequency = v
	}
}

// -----------------------------------------------------------------------------

// Encode returns copies of the row features with locked frequencies applied.
func (e *FrequencyEncoder) Encode(rows []models.MFeatureRow) []models.MFeatureVector {
	out := make([]models.MFeatureVector, len(rows))
	for i, r := range rows {
		out[i] = r.Features
		e.Apply(&out[i])
	}
	return out
}
