package models

// MFeatureVector holds every feature derived for one observation.
// Rolling fields are computed from strictly preceding observations of the same partition.
type MFeatureVector struct {
	ObservationID int64  `json:"observation_id"`
	CollectedAtMs int64  `json:"collected_at_ms"`
	RouteKey      string `json:"route_key"`
	Airline       string `json:"airline"`

	// Flight characteristics
	DistanceKm           float64 `json:"distance_km"`
	Stops                float64 `json:"stops"`
	DurationMinutes      float64 `json:"duration_minutes"`
	DepartureHourBucket  float64 `json:"departure_hour_bucket"`
	DepartureMonth       float64 `json:"departure_month"`
	DepartureWeekday     float64 `json:"departure_weekday"`
	DaysUntilDeparture   float64 `json:"days_until_departure"`
	DepartureBusinessDay float64 `json:"departure_business_day"`

	// Route partition (short and long windows)
	RouteMeanShort  float64 `json:"route_mean_short"`
	RouteStdShort   float64 `json:"route_std_short"`
	RouteMeanLong   float64 `json:"route_mean_long"`
	RouteStdLong    float64 `json:"route_std_long"`
	RouteCountShort float64 `json:"route_count_short"`

	// Airline+route partition
	CarrierMeanShort  float64 `json:"carrier_mean_short"`
	CarrierStdShort   float64 `json:"carrier_std_short"`
	CarrierMeanLong   float64 `json:"carrier_mean_long"`
	CarrierStdLong    float64 `json:"carrier_std_long"`
	CarrierCountShort float64 `json:"carrier_count_short"`

	// Ratios
	RouteMomentum        float64 `json:"route_momentum"`
	RouteVolatilityIndex float64 `json:"route_volatility_index"`
	CarrierRelativePrice float64 `json:"carrier_relative_price"`

	// Frequency encodings, filled by a locked encoder
	AirlineFrequency float64 `json:"airline_frequency"`
	RouteFrequency   float64 `json:"route_frequency"`
}

// MFeatureRow pairs a feature vector with its target and timestamp for training.
type MFeatureRow struct {
	Features MFeatureVector
	Price    float64
}
