package analysis

import (
	"errors"
	"math"
	"sort"

	"fare-observer/src/analysis/core"
	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/utils"
)

// FeatureBuilder turns price history into point-in-time feature vectors.
type FeatureBuilder struct {
	Config   *models.MConfig
	Logger   *logger.Logger
	Calendar *utils.DepartureCalendar
	Schema   *FeatureSchema
}

// -----------------------------------------------------------------------------

func NewFeatureBuilder(cfg *models.MConfig, log *logger.Logger) *FeatureBuilder {
	return &FeatureBuilder{
		Config:   cfg,
		Logger:   log,
		Calendar: utils.NewDepartureCalendar(cfg.Features.CalendarMIC),
		Schema:   NewFeatureSchema(cfg.Features.ShortWindow, cfg.Features.LongWindow),
	}
}

// -----------------------------------------------------------------------------

// Build computes one feature row per observation, ordered by collection time.
// A route whose observations cannot be totally ordered contributes no rows and
// its DataOrderingError is returned alongside the rows of the other routes.
func (b *FeatureBuilder) Build(history []models.MPriceObservation) ([]models.MFeatureRow, error) {
	if err := b.validateCurrency(history); err != nil {
		return nil, err
	}

	byRoute := make(map[string][]models.MPriceObservation)
	for _, obs := range history {
		byRoute[obs.RouteKey()] = append(byRoute[obs.RouteKey()], obs)
	}

	routes := make([]string, 0, len(byRoute))
	for r := range byRoute {
		routes = append(routes, r)
	}
	sort.Strings(routes)

	var errs []error
	rows := make([]models.MFeatureRow, 0, len(history))

	for _, route := range routes {
		partition, err := orderPartition(route, byRoute[route])
		if err != nil {
			b.Logger.Error("Skipping route %s: %v", route, err)
			errs = append(errs, err)
			continue
		}

		routeWindow := utils.NewPriceWindow(b.Config.Features.LongWindow)
		carrierWindows := make(map[string]*utils.PriceWindow)

		for _, obs := range partition {
			carrierWindow, ok := carrierWindows[obs.CarrierKey()]
			if !ok {
				carrierWindow = utils.NewPriceWindow(b.Config.Features.LongWindow)
				carrierWindows[obs.CarrierKey()] = carrierWindow
			}

			var fv models.MFeatureVector
			fillBaseFeatures(&fv, obs, b.Calendar, b.Config.Features.Airports)
			b.fillRolling(&fv, routeWindow, carrierWindow)
			ApplyRatios(&fv)

			rows = append(rows, models.MFeatureRow{Features: fv, Price: obs.Price})

			// The current price becomes history only after its own row is built.
			routeWindow.Append(obs.Price)
			carrierWindow.Append(obs.Price)
		}
	}

	SortRows(rows)
	b.Logger.Debug("Built %d feature rows across %d routes", len(rows), len(routes))
	return rows, errors.Join(errs...)
}

// -----------------------------------------------------------------------------

// BuildOne computes the feature vector of a new observation from the history
// available at prediction time. Only history collected strictly before
// target.CollectedAt on the same route is used.
func (b *FeatureBuilder) BuildOne(history []models.MPriceObservation, target models.MPriceObservation) (models.MFeatureVector, error) {
	route := target.RouteKey()
	var prior []models.MPriceObservation
	for _, obs := range history {
		if obs.RouteKey() == route && obs.CollectedAt.Before(target.CollectedAt) {
			prior = append(prior, obs)
		}
	}

	partition, err := orderPartition(route, prior)
	if err != nil {
		return models.MFeatureVector{}, err
	}

	routeWindow := utils.NewPriceWindow(b.Config.Features.LongWindow)
	carrierWindow := utils.NewPriceWindow(b.Config.Features.LongWindow)
	carrier := target.CarrierKey()
	for _, obs := range partition {
		routeWindow.Append(obs.Price)
		if obs.CarrierKey() == carrier {
			carrierWindow.Append(obs.Price)
		}
	}

	var fv models.MFeatureVector
	fillBaseFeatures(&fv, target, b.Calendar, b.Config.Features.Airports)
	b.fillRolling(&fv, routeWindow, carrierWindow)
	ApplyRatios(&fv)
	return fv, nil
}

// -----------------------------------------------------------------------------

func (b *FeatureBuilder) fillRolling(fv *models.MFeatureVector, route, carrier *utils.PriceWindow) {
	short := b.Config.Features.ShortWindow
	long := b.Config.Features.LongWindow

	routeShort := route.Latest(short)
	fv.RouteMeanShort, fv.RouteStdShort = core.WindowStats(routeShort)
	fv.RouteMeanLong, fv.RouteStdLong = core.WindowStats(route.Latest(long))
	fv.RouteCountShort = float64(len(routeShort))

	carrierShort := carrier.Latest(short)
	fv.CarrierMeanShort, fv.CarrierStdShort = core.WindowStats(carrierShort)
	fv.CarrierMeanLong, fv.CarrierStdLong = core.WindowStats(carrier.Latest(long))
	fv.CarrierCountShort = float64(len(carrierShort))
}

// -----------------------------------------------------------------------------

func (b *FeatureBuilder) validateCurrency(history []models.MPriceObservation) error {
	want := b.Config.Features.Currency
	for _, obs := range history {
		if want == "" {
			want = obs.Currency
		}
		if obs.Currency != "" && obs.Currency != want {
			return helpers.NewValidationError("observation %d is priced in %s, expected %s", obs.ID, obs.Currency, want)
		}
		if math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0) || obs.Price <= 0 {
			return helpers.NewValidationError("observation %d has invalid price %v", obs.ID, obs.Price)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// orderPartition sorts a copy by (CollectedAt, ID) and rejects missing or ambiguous timestamps.
func orderPartition(partition string, obs []models.MPriceObservation) ([]models.MPriceObservation, error) {
	sorted := make([]models.MPriceObservation, len(obs))
	copy(sorted, obs)

	for _, o := range sorted {
		if o.CollectedAt.IsZero() {
			return nil, helpers.NewDataOrderingError(partition, "observation %d has no collection timestamp", o.ID)
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CollectedAt.Equal(sorted[j].CollectedAt) {
			return sorted[i].CollectedAt.Before(sorted[j].CollectedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].CollectedAt.Equal(sorted[i-1].CollectedAt) && sorted[i].ID == sorted[i-1].ID {
			return nil, helpers.NewDataOrderingError(partition, "observations share timestamp %s and id %d",
				sorted[i].CollectedAt.Format("2006-01-02T15:04:05.000Z07:00"), sorted[i].ID)
		}
	}
	return sorted, nil
}

// -----------------------------------------------------------------------------

// SortRows orders rows chronologically with deterministic tie breaks.
func SortRows(rows []models.MFeatureRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Features, rows[j].Features
		if a.CollectedAtMs != b.CollectedAtMs {
			return a.CollectedAtMs < b.CollectedAtMs
		}
		if a.ObservationID != b.ObservationID {
			return a.ObservationID < b.ObservationID
		}
		if a.RouteKey != b.RouteKey {
			return a.RouteKey < b.RouteKey
		}
		return a.Airline < b.Airline
	})
}
