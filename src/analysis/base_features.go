package analysis

import (
	"math"
	"regexp"
	"strconv"
	"time"

	"fare-observer/src/analysis/core"
	"fare-observer/src/models"
	"fare-observer/src/utils"
)

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// -----------------------------------------------------------------------------

// ParseISODuration converts an ISO-8601 flight duration (PT2H15M) to minutes.
// Unparseable input yields 0.
func ParseISODuration(value string) int {
	m := isoDurationPattern.FindStringSubmatch(value)
	if m == nil || value == "P" || value == "PT" {
		return 0
	}
	part := func(s string) int {
		if s == "" {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return n
	}
	return part(m[1])*24*60 + part(m[2])*60 + part(m[3])
}

// -----------------------------------------------------------------------------

// DepartureHourBucket: morning 0, afternoon 1, evening 2, night 3.
func DepartureHourBucket(hour int) int {
	switch {
	case hour >= 5 && hour < 12:
		return 0
	case hour >= 12 && hour < 17:
		return 1
	case hour >= 17 && hour < 22:
		return 2
	default:
		return 3
	}
}

// -----------------------------------------------------------------------------

// DaysUntilDeparture counts calendar days from collection to departure, clipped at zero.
func DaysUntilDeparture(collected, departure time.Time) int {
	c := collected.UTC()
	d := departure.UTC()
	cDay := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
	dDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	days := int(math.Round(dDay.Sub(cDay).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// -----------------------------------------------------------------------------

// fillBaseFeatures copies and derives the observation's own non-price fields.
func fillBaseFeatures(fv *models.MFeatureVector, obs models.MPriceObservation, cal *utils.DepartureCalendar, airports map[string]models.MAirport) {
	fv.ObservationID = obs.ID
	fv.CollectedAtMs = obs.CollectedAt.UnixMilli()
	fv.RouteKey = obs.RouteKey()
	fv.Airline = obs.Airline

	fv.DistanceKm = obs.DistanceKm
	if fv.DistanceKm <= 0 {
		fv.DistanceKm = routeDistance(obs.Origin, obs.Destination, airports)
	}
	fv.Stops = float64(obs.Stops)

	minutes := obs.DurationMinutes
	if minutes <= 0 {
		minutes = ParseISODuration(obs.Duration)
	}
	fv.DurationMinutes = float64(minutes)

	dep := obs.DepartureAt.UTC()
	fv.DepartureHourBucket = float64(DepartureHourBucket(dep.Hour()))
	fv.DepartureMonth = float64(dep.Month())
	fv.DepartureWeekday = float64((int(dep.Weekday()) + 6) % 7)
	fv.DaysUntilDeparture = float64(DaysUntilDeparture(obs.CollectedAt, obs.DepartureAt))
	if cal.IsBusinessDay(dep) {
		fv.DepartureBusinessDay = 1
	}
}

// -----------------------------------------------------------------------------

func routeDistance(origin, destination string, airports map[string]models.MAirport) float64 {
	o, ok1 := airports[origin]
	d, ok2 := airports[destination]
	if !ok1 || !ok2 {
		return 0
	}
	return core.HaversineKm(o.Latitude, o.Longitude, d.Latitude, d.Longitude)
}
