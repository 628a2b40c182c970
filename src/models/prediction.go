package models

import "time"

// MPredictionRequest is the raw input to predict().
// Distance and duration fall back to the latest known values for the route when zero.
type MPredictionRequest struct {
	Origin          string    `json:"origin" binding:"required"`
	Destination     string    `json:"destination" binding:"required"`
	Airline         string    `json:"airline" binding:"required"`
	DepartureAt     time.Time `json:"departure_at" binding:"required"`
	Stops           int       `json:"stops"`
	Duration        string    `json:"duration,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	DistanceKm      float64   `json:"distance_km,omitempty"`
	AsOf            time.Time `json:"as_of,omitempty"`
}

// MPredictionResponse is what predict() returns to the serving layer.
type MPredictionResponse struct {
	PredictedPrice float64 `json:"predicted_price"`
	LowerBound     float64 `json:"lower_bound"`
	UpperBound     float64 `json:"upper_bound"`
	Currency       string  `json:"currency"`
	ModelVersion   string  `json:"model_version"`
	SanityWarning  bool    `json:"sanity_warning"`
	RouteSpecific  bool    `json:"route_specific_interval"`
}
