package datasource

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"fare-observer/src/analysis/core"
	"fare-observer/src/models"
)

type airport struct {
	lat, lon float64
}

var airports = map[string]airport{
	"DEL": {28.5562, 77.1000},
	"BOM": {19.0896, 72.8656},
	"BLR": {13.1986, 77.7066},
	"GOI": {15.3808, 73.8314},
	"MAA": {12.9941, 80.1709},
	"DXB": {25.2532, 55.3657},
}

// Route is an origin/destination pair served by the generator.
type Route struct {
	Origin      string
	Destination string
}

// SyntheticSource generates a deterministic fare history. Prices follow
// distance, booking horizon, weekday and airline, plus bounded noise.
type SyntheticSource struct {
	Seed     uint64
	Start    time.Time
	Days     int
	PerDay   int
	Currency string
	Routes   []Route
	Airlines map[string]float64 // price multiplier per airline
}

// -----------------------------------------------------------------------------

func NewSyntheticSource(seed uint64, start time.Time, days int, currency string) *SyntheticSource {
	return &SyntheticSource{
		Seed:     seed,
		Start:    start.UTC(),
		Days:     days,
		PerDay:   2,
		Currency: currency,
		Routes: []Route{
			{"DEL", "BOM"}, {"BOM", "DEL"}, {"BLR", "GOI"}, {"DEL", "BLR"}, {"MAA", "DXB"},
		},
		Airlines: map[string]float64{"IndiGo": 1.0, "Vistara": 1.18, "AirAsia": 0.9},
	}
}

// -----------------------------------------------------------------------------

func (s *SyntheticSource) Name() string { return "synthetic" }

// -----------------------------------------------------------------------------

func (s *SyntheticSource) Read(ctx context.Context) ([]models.MPriceObservation, error) {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x5eed))
	names := sortedAirlines(s.Airlines)

	var out []models.MPriceObservation
	for day := 0; day < s.Days; day++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range s.Routes {
			distance := routeKm(r)
			for _, airline := range names {
				for k := 0; k < s.PerDay; k++ {
					collected := s.Start.AddDate(0, 0, day).Add(time.Duration(6+k*8)*time.Hour + time.Duration(rng.IntN(60))*time.Minute)
					horizon := 1 + rng.IntN(60)
					departure := collected.AddDate(0, 0, horizon).Truncate(time.Hour).Add(time.Duration(rng.IntN(18)) * time.Hour)
					stops := 0
					if distance > 1500 && rng.Float64() < 0.4 {
						stops = 1
					}
					minutes := int(distance/8) + 35 + stops*75

					obs := models.MPriceObservation{
						Origin:          r.Origin,
						Destination:     r.Destination,
						Airline:         airline,
						CollectedAt:     collected,
						DepartureAt:     departure,
						Price:           s.price(rng, distance, horizon, departure, stops, s.Airlines[airline]),
						Currency:        s.Currency,
						Stops:           stops,
						DurationMinutes: minutes,
						DistanceKm:      distance,
					}
					obs.ID = ObservationID(obs)
					out = append(out, obs)
				}
			}
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *SyntheticSource) price(rng *rand.Rand, distance float64, horizon int, departure time.Time, stops int, premium float64) float64 {
	p := 40 + 0.09*distance
	// Late bookings are expensive.
	p *= 1 + 0.9*math.Exp(-float64(horizon)/10)
	if wd := departure.Weekday(); wd == time.Friday || wd == time.Sunday {
		p *= 1.12
	}
	p *= premium
	p *= 1 - 0.08*float64(stops)
	p *= 1 + (rng.Float64()-0.5)*0.1
	return math.Round(p*100) / 100
}

// -----------------------------------------------------------------------------

func routeKm(r Route) float64 {
	a, okA := airports[r.Origin]
	b, okB := airports[r.Destination]
	if !okA || !okB {
		return 0
	}
	return math.Round(core.HaversineKm(a.lat, a.lon, b.lat, b.lon))
}

// -----------------------------------------------------------------------------

func sortedAirlines(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
