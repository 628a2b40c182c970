package models

import "time"

// MPriceObservation is one recorded fare quote. Observations are immutable once stored.
type MPriceObservation struct {
	ID              int64     `json:"id" db:"id"`
	Origin          string    `json:"origin" db:"origin"`
	Destination     string    `json:"destination" db:"destination"`
	Airline         string    `json:"airline" db:"airline"`
	CollectedAt     time.Time `json:"collected_at" db:"collected_at"`
	DepartureAt     time.Time `json:"departure_at" db:"departure_at"`
	Price           float64   `json:"price" db:"price"`
	Currency        string    `json:"currency" db:"currency"`
	Stops           int       `json:"stops" db:"stops"`
	Duration        string    `json:"duration,omitempty" db:"duration"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	DistanceKm      float64   `json:"distance_km" db:"distance_km"`
}

// -----------------------------------------------------------------------------

// RouteKey identifies the route partition ("DEL-BOM").
func (o MPriceObservation) RouteKey() string {
	return RouteKey(o.Origin, o.Destination)
}

// -----------------------------------------------------------------------------

// CarrierKey identifies the airline+route partition ("IndiGo|DEL-BOM").
func (o MPriceObservation) CarrierKey() string {
	return CarrierKey(o.Airline, o.Origin, o.Destination)
}

// -----------------------------------------------------------------------------

func RouteKey(origin, destination string) string {
	return origin + "-" + destination
}

// -----------------------------------------------------------------------------

func CarrierKey(airline, origin, destination string) string {
	return airline + "|" + RouteKey(origin, destination)
}
