package analysis

import (
	"fmt"

	"fare-observer/src/helpers"
	"fare-observer/src/models"
)

// FeatureColumn is one named model input.
type FeatureColumn struct {
	Name  string
	Value func(fv *models.MFeatureVector) float64
}

// FeatureSchema is the ordered list of model inputs produced by the builder.
// Window sizes are part of the column names so a model trained with other
// windows fails the schema check instead of silently reading different stats.
type FeatureSchema struct {
	columns []FeatureColumn
	index   map[string]int
}

// -----------------------------------------------------------------------------

func NewFeatureSchema(short, long int) *FeatureSchema {
	s := fmt.Sprint(short)
	l := fmt.Sprint(long)

	columns := []FeatureColumn{
		{"distance_km", func(fv *models.MFeatureVector) float64 { return fv.DistanceKm }},
		{"stops", func(fv *models.MFeatureVector) float64 { return fv.Stops }},
		{"duration_minutes", func(fv *models.MFeatureVector) float64 { return fv.DurationMinutes }},
		{"departure_hour_bucket", func(fv *models.MFeatureVector) float64 { return fv.DepartureHourBucket }},
		{"departure_month", func(fv *models.MFeatureVector) float64 { return fv.DepartureMonth }},
		{"departure_weekday", func(fv *models.MFeatureVector) float64 { return fv.DepartureWeekday }},
		{"days_until_departure", func(fv *models.MFeatureVector) float64 { return fv.DaysUntilDeparture }},
		{"departure_business_day", func(fv *models.MFeatureVector) float64 { return fv.DepartureBusinessDay }},

		{"route_mean_" + s, func(fv *models.MFeatureVector) float64 { return fv.RouteMeanShort }},
		{"route_std_" + s, func(fv *models.MFeatureVector) float64 { return fv.RouteStdShort }},
		{"route_mean_" + l, func(fv *models.MFeatureVector) float64 { return fv.RouteMeanLong }},
		{"route_std_" + l, func(fv *models.MFeatureVector) float64 { return fv.RouteStdLong }},
		{"route_count_" + s, func(fv *models.MFeatureVector) float64 { return fv.RouteCountShort }},

		{"carrier_mean_" + s, func(fv *models.MFeatureVector) float64 { return fv.CarrierMeanShort }},
		{"carrier_std_" + s, func(fv *models.MFeatureVector) float64 { return fv.CarrierStdShort }},
		{"carrier_mean_" + l, func(fv *models.MFeatureVector) float64 { return fv.CarrierMeanLong }},
		{"carrier_std_" + l, func(fv *models.MFeatureVector) float64 { return fv.CarrierStdLong }},
		{"carrier_count_" + s, func(fv *models.MFeatureVector) float64 { return fv.CarrierCountShort }},

		{"route_momentum", func(fv *models.MFeatureVector) float64 { return fv.RouteMomentum }},
		{"route_volatility_index", func(fv *models.MFeatureVector) float64 { return fv.RouteVolatilityIndex }},
		{"carrier_relative_price", func(fv *models.MFeatureVector) float64 { return fv.CarrierRelativePrice }},

		{"airline_frequency", func(fv *models.MFeatureVector) float64 { return fv.AirlineFrequency }},
		{"route_frequency", func(fv *models.MFeatureVector) float64 { return fv.RouteFrequency }},
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.Name] = i
	}
	return &FeatureSchema{columns: columns, index: index}
}

// -----------------------------------------------------------------------------

// Names returns a copy of the column order.
func (s *FeatureSchema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// -----------------------------------------------------------------------------

// Resolve maps a persisted feature order onto schema columns.
// Any name the builder does not produce is a SchemaMismatchError.
func (s *FeatureSchema) Resolve(order []string) ([]FeatureColumn, error) {
	if len(order) == 0 {
		return nil, helpers.NewSchemaMismatchError("feature order is empty")
	}
	seen := make(map[string]bool, len(order))
	cols := make([]FeatureColumn, len(order))
	for i, name := range order {
		idx, ok := s.index[name]
		if !ok {
			return nil, helpers.NewSchemaMismatchError("feature %q at position %d is not produced by this builder", name, i)
		}
		if seen[name] {
			return nil, helpers.NewSchemaMismatchError("feature %q appears twice in the locked order", name)
		}
		seen[name] = true
		cols[i] = s.columns[idx]
	}
	return cols, nil
}

// -----------------------------------------------------------------------------

// Matrix projects feature vectors into rows following order exactly.
func (s *FeatureSchema) Matrix(vectors []models.MFeatureVector, order []string) ([][]float64, error) {
	cols, err := s.Resolve(order)
	if err != nil {
		return nil, err
	}
	matrix := make([][]float64, len(vectors))
	for i := range vectors {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.Value(&vectors[i])
		}
		matrix[i] = row
	}
	return matrix, nil
}

// -----------------------------------------------------------------------------

// Vector projects one feature vector following order exactly.
func (s *FeatureSchema) Vector(fv models.MFeatureVector, order []string) ([]float64, error) {
	m, err := s.Matrix([]models.MFeatureVector{fv}, order)
	if err != nil {
		return nil, err
	}
	return m[0], nil
}

// -----------------------------------------------------------------------------

// SameOrder reports whether two locked orders are identical element by element.
func SameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
