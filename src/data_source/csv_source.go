package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/models"
)

var requiredColumns = []string{"origin", "destination", "airline", "collected_at", "departure_at", "price"}

// CSVSource reads observations from a header-addressed CSV file.
// Times are RFC 3339. Rows without an id get one derived by ObservationID.
type CSVSource struct {
	Path     string
	Currency string
}

// -----------------------------------------------------------------------------

func NewCSVSource(path, currency string) *CSVSource {
	return &CSVSource{Path: path, Currency: currency}
}

// -----------------------------------------------------------------------------

func (s *CSVSource) Name() string { return "csv:" + s.Path }

// -----------------------------------------------------------------------------

func (s *CSVSource) Read(ctx context.Context) ([]models.MPriceObservation, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.parse(ctx, f)
}

// -----------------------------------------------------------------------------

func (s *CSVSource) parse(ctx context.Context, r io.Reader) ([]models.MPriceObservation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, helpers.NewValidationError("csv %s has no header: %v", s.Path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, helpers.NewValidationError("csv %s is missing column %q", s.Path, name)
		}
	}

	var out []models.MPriceObservation
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, helpers.NewValidationError("csv %s line %d: %v", s.Path, line, err)
		}

		obs, err := s.observation(col, record, line)
		if err != nil {
			return nil, helpers.NewValidationError("csv %s line %d: %v", s.Path, line, err)
		}
		out = append(out, obs)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *CSVSource) observation(col map[string]int, record []string, line int) (models.MPriceObservation, error) {
	field := func(name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	obs := models.MPriceObservation{
		Origin:      strings.ToUpper(field("origin")),
		Destination: strings.ToUpper(field("destination")),
		Airline:     field("airline"),
		Currency:    field("currency"),
		Duration:    field("duration"),
	}
	if obs.Currency == "" {
		obs.Currency = s.Currency
	}

	var err error
	explicitID := field("id")
	if explicitID != "" {
		if obs.ID, err = strconv.ParseInt(explicitID, 10, 64); err != nil || obs.ID <= 0 {
			return obs, fmt.Errorf("bad id %q", explicitID)
		}
	}
	if obs.CollectedAt, err = time.Parse(time.RFC3339, field("collected_at")); err != nil {
		return obs, fmt.Errorf("bad collected_at: %w", err)
	}
	obs.CollectedAt = obs.CollectedAt.UTC()
	if obs.DepartureAt, err = time.Parse(time.RFC3339, field("departure_at")); err != nil {
		return obs, fmt.Errorf("bad departure_at: %w", err)
	}
	obs.DepartureAt = obs.DepartureAt.UTC()
	if obs.Price, err = strconv.ParseFloat(field("price"), 64); err != nil {
		return obs, fmt.Errorf("bad price: %w", err)
	}
	if v := field("stops"); v != "" {
		if obs.Stops, err = strconv.Atoi(v); err != nil {
			return obs, fmt.Errorf("bad stops %q", v)
		}
	}
	if v := field("duration_minutes"); v != "" {
		if obs.DurationMinutes, err = strconv.Atoi(v); err != nil {
			return obs, fmt.Errorf("bad duration_minutes %q", v)
		}
	}
	if v := field("distance_km"); v != "" {
		if obs.DistanceKm, err = strconv.ParseFloat(v, 64); err != nil {
			return obs, fmt.Errorf("bad distance_km %q", v)
		}
	}
	if explicitID == "" {
		obs.ID = ObservationID(obs)
	}
	return obs, nil
}
