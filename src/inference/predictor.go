package inference

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"fare-observer/src/analysis"
	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/training"

	"github.com/shopspring/decimal"
)

// DeployedReader is the registry view the predictor needs.
type DeployedReader interface {
	GetDeployed(ctx context.Context) (*models.MModelRecord, error)
	DeployedVersion(ctx context.Context) (string, error)
}

type servingModel struct {
	record   models.MModelRecord
	artifact *training.ModelArtifact
}

// Predictor serves the deployed model. The model pointer is swapped whole,
// so a request sees either the old or the new model, never a mix.
type Predictor struct {
	Config    *models.MConfig
	Logger    *logger.Logger
	Registry  DeployedReader
	Artifacts interfaces.IArtifactStore
	History   interfaces.IHistorySource
	Builder   *analysis.FeatureBuilder

	current atomic.Pointer[servingModel]
}

// -----------------------------------------------------------------------------

func NewPredictor(cfg *models.MConfig, log *logger.Logger, reg DeployedReader, artifacts interfaces.IArtifactStore, history interfaces.IHistorySource) *Predictor {
	return &Predictor{
		Config:    cfg,
		Logger:    log,
		Registry:  reg,
		Artifacts: artifacts,
		History:   history,
		Builder:   analysis.NewFeatureBuilder(cfg, log.Named("features")),
	}
}

// -----------------------------------------------------------------------------

// Version returns the version being served ("" when none).
func (p *Predictor) Version() string {
	if m := p.current.Load(); m != nil {
		return m.record.Version
	}
	return ""
}

// -----------------------------------------------------------------------------

// Record returns the registry record of the served model.
func (p *Predictor) Record() (models.MModelRecord, bool) {
	m := p.current.Load()
	if m == nil {
		return models.MModelRecord{}, false
	}
	return m.record, true
}

// -----------------------------------------------------------------------------

// Refresh loads the deployed model if it differs from the served one.
// A schema mismatch is a configuration error and leaves the served model in place.
func (p *Predictor) Refresh(ctx context.Context) (bool, error) {
	version, err := p.Registry.DeployedVersion(ctx)
	if err != nil {
		return false, err
	}
	if version == "" || version == p.Version() {
		return false, nil
	}

	rec, err := p.Registry.GetDeployed(ctx)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	data, err := p.Artifacts.Load(rec.ArtifactPath)
	if err != nil {
		return false, err
	}
	artifact, err := training.UnmarshalArtifact(data)
	if err != nil {
		return false, err
	}
	if !analysis.SameOrder(rec.FeatureOrder, artifact.FeatureOrder) {
		return false, helpers.NewSchemaMismatchError("model %s: recorded feature order differs from its artifact", rec.Version)
	}
	if err := artifact.Validate(p.Builder.Schema); err != nil {
		return false, err
	}

	previous := p.Version()
	p.current.Store(&servingModel{record: *rec, artifact: artifact})
	modelSwaps.Inc()
	p.Logger.Info("Serving model %s (was %q)", rec.Version, previous)
	return true, nil
}

// -----------------------------------------------------------------------------

// Watch polls the registry until ctx is done.
func (p *Predictor) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Refresh(ctx); err != nil {
				p.Logger.Error("Model refresh failed: %v", err)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Predict builds features for one request from history strictly before its
// as-of time and scores it with the served model.
func (p *Predictor) Predict(ctx context.Context, req models.MPredictionRequest) (models.MPredictionResponse, error) {
	start := time.Now()
	defer func() { predictionLatency.Observe(time.Since(start).Seconds()) }()

	model := p.current.Load()
	if model == nil {
		return models.MPredictionResponse{}, helpers.NewNotFoundError("no model is deployed")
	}
	if err := validateRequest(req); err != nil {
		return models.MPredictionResponse{}, err
	}

	target := p.observation(req)
	history, err := p.History.LoadRouteHistory(ctx, target.Origin, target.Destination, target.CollectedAt)
	if err != nil {
		return models.MPredictionResponse{}, err
	}
	backfill(&target, history)

	fv, err := p.Builder.BuildOne(history, target)
	if err != nil {
		return models.MPredictionResponse{}, err
	}
	artifact := model.artifact
	artifact.Encoder.Apply(&fv)

	x, err := p.Builder.Schema.Vector(fv, artifact.FeatureOrder)
	if err != nil {
		return models.MPredictionResponse{}, err
	}

	price, warning, err := ApplyGuards(artifact.PredictPrice(x), p.Config.Inference.SanityBound)
	if err != nil {
		guardViolations.Inc()
		p.Logger.Error("Model %s produced a non-finite price for %s: %v", model.record.Version, fv.RouteKey, err)
		return models.MPredictionResponse{}, err
	}
	if warning {
		sanityWarnings.Inc()
		p.Logger.Warning("Model %s predicted %.2f for %s, above the sanity bound %.0f",
			model.record.Version, price, fv.RouteKey, p.Config.Inference.SanityBound)
	}

	std, routeSpecific := artifact.IntervalStd(fv.RouteKey)
	margin := p.Config.Inference.ConfidenceZ * std

	predictionsServed.Inc()
	return models.MPredictionResponse{
		PredictedPrice: cents(price),
		LowerBound:     cents(math.Max(0, price-margin)),
		UpperBound:     cents(price + margin),
		Currency:       artifact.Currency,
		ModelVersion:   model.record.Version,
		SanityWarning:  warning,
		RouteSpecific:  routeSpecific,
	}, nil
}

// -----------------------------------------------------------------------------

func (p *Predictor) observation(req models.MPredictionRequest) models.MPriceObservation {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return models.MPriceObservation{
		Origin:          strings.ToUpper(req.Origin),
		Destination:     strings.ToUpper(req.Destination),
		Airline:         req.Airline,
		CollectedAt:     asOf.UTC(),
		DepartureAt:     req.DepartureAt.UTC(),
		Currency:        p.Config.Features.Currency,
		Stops:           req.Stops,
		Duration:        req.Duration,
		DurationMinutes: req.DurationMinutes,
		DistanceKm:      req.DistanceKm,
	}
}

// -----------------------------------------------------------------------------

// backfill copies route constants from the latest prior observation.
func backfill(target *models.MPriceObservation, history []models.MPriceObservation) {
	if len(history) == 0 {
		return
	}
	latest := history[len(history)-1]
	if target.DistanceKm <= 0 {
		target.DistanceKm = latest.DistanceKm
	}
	if target.DurationMinutes <= 0 && target.Duration == "" {
		target.DurationMinutes = latest.DurationMinutes
		target.Duration = latest.Duration
	}
}

// -----------------------------------------------------------------------------

func validateRequest(req models.MPredictionRequest) error {
	switch {
	case strings.TrimSpace(req.Origin) == "", strings.TrimSpace(req.Destination) == "":
		return helpers.NewValidationError("origin and destination are required")
	case strings.TrimSpace(req.Airline) == "":
		return helpers.NewValidationError("airline is required")
	case req.DepartureAt.IsZero():
		return helpers.NewValidationError("departure_at is required")
	case req.Stops < 0:
		return helpers.NewValidationError("stops cannot be negative")
	}
	return nil
}

// -----------------------------------------------------------------------------

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
