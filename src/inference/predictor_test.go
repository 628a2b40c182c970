package inference

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"fare-observer/src/config"
	datasource "fare-observer/src/data_source"
	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/pipeline"
	"fare-observer/src/registry"
	"fare-observer/src/storage"
)

func TestApplyGuards(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		want    float64
		warning bool
		err     bool
	}{
		{"plain", 4200, 4200, false, false},
		{"negative is mirrored", -310.5, 310.5, false, false},
		{"at bound", 1e6, 1e6, false, false},
		{"above bound", 1e6 + 1, 1e6 + 1, true, false},
		{"nan", math.NaN(), 0, false, true},
		{"positive inf", math.Inf(1), 0, false, true},
		{"negative inf", math.Inf(-1), 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warning, err := ApplyGuards(tt.value, 1e6)
			if tt.err {
				var guard *helpers.NumericGuardViolation
				if !errors.As(err, &guard) {
					t.Fatalf("expected NumericGuardViolation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want || warning != tt.warning {
				t.Errorf("ApplyGuards(%v) = %v, %v; want %v, %v", tt.value, got, warning, tt.want, tt.warning)
			}
		})
	}
}

// -----------------------------------------------------------------------------

type fixture struct {
	cfg       *models.MConfig
	log       *logger.Logger
	store     *storage.AsyncSQLiteDB
	artifacts *storage.FileArtifactStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := &models.MConfig{}
	(&config.Config{MConfig: cfg}).ApplyDefaults()
	cfg.Storage.DBPath = filepath.Join(dir, "fares.db")
	cfg.Storage.ModelDir = filepath.Join(dir, "models")
	cfg.Training.NEstimators = 30
	cfg.Training.MaxDepth = 4
	log := logger.NewLogger("ERROR", "inference-test")

	store, err := storage.NewAsyncSQLiteDB(cfg, log)
	if err != nil {
		t.Fatalf("NewAsyncSQLiteDB: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := storage.NewFileArtifactStore(cfg.Storage.ModelDir, log)
	if err != nil {
		t.Fatalf("NewFileArtifactStore: %v", err)
	}
	return &fixture{cfg: cfg, log: log, store: store, artifacts: artifacts}
}

// deploy seeds synthetic history and runs one training cycle.
func (f *fixture) deploy(t *testing.T) *registry.Registry {
	t.Helper()
	ctx := context.Background()

	history, err := datasource.NewSyntheticSource(11, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 30, f.cfg.Features.Currency).Read(ctx)
	if err != nil {
		t.Fatalf("synthetic history: %v", err)
	}
	if _, err := f.store.SaveObservations(ctx, history); err != nil {
		t.Fatalf("SaveObservations: %v", err)
	}

	reg := registry.NewRegistry(f.store, nil, f.log)
	res, err := pipeline.NewPipeline(f.cfg, f.log, f.store, reg, f.artifacts, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Record.Deployed {
		t.Fatalf("first run was not deployed: %+v", res.Decision)
	}
	return reg
}

func request() models.MPredictionRequest {
	return models.MPredictionRequest{
		Origin:      "del",
		Destination: "bom",
		Airline:     "IndiGo",
		DepartureAt: time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC),
		AsOf:        time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

// -----------------------------------------------------------------------------

func TestPredictWithoutDeployedModel(t *testing.T) {
	f := newFixture(t)
	reg := registry.NewRegistry(f.store, nil, f.log)
	p := NewPredictor(f.cfg, f.log, reg, f.artifacts, f.store)

	swapped, err := p.Refresh(context.Background())
	if err != nil || swapped {
		t.Fatalf("Refresh on empty registry = %v, %v", swapped, err)
	}
	if _, err := p.Predict(context.Background(), request()); !helpers.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestPredictValidatesRequest(t *testing.T) {
	f := newFixture(t)
	reg := f.deploy(t)
	p := NewPredictor(f.cfg, f.log, reg, f.artifacts, f.store)
	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tests := map[string]func(*models.MPredictionRequest){
		"missing origin":    func(r *models.MPredictionRequest) { r.Origin = " " },
		"missing airline":   func(r *models.MPredictionRequest) { r.Airline = "" },
		"missing departure": func(r *models.MPredictionRequest) { r.DepartureAt = time.Time{} },
		"negative stops":    func(r *models.MPredictionRequest) { r.Stops = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := request()
			mutate(&req)
			if _, err := p.Predict(context.Background(), req); !helpers.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestPredictEndToEnd(t *testing.T) {
	f := newFixture(t)
	reg := f.deploy(t)
	ctx := context.Background()

	p := NewPredictor(f.cfg, f.log, reg, f.artifacts, f.store)
	swapped, err := p.Refresh(ctx)
	if err != nil || !swapped {
		t.Fatalf("Refresh = %v, %v", swapped, err)
	}
	deployed, _ := reg.DeployedVersion(ctx)
	if p.Version() != deployed {
		t.Fatalf("serving %q, deployed %q", p.Version(), deployed)
	}
	if swapped, err := p.Refresh(ctx); err != nil || swapped {
		t.Fatalf("second Refresh = %v, %v", swapped, err)
	}

	got, err := p.Predict(ctx, request())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got.PredictedPrice <= 0 || math.IsInf(got.PredictedPrice, 0) {
		t.Fatalf("price = %v", got.PredictedPrice)
	}
	if got.LowerBound < 0 || got.LowerBound > got.PredictedPrice || got.UpperBound < got.PredictedPrice {
		t.Errorf("interval [%v, %v] does not bracket %v", got.LowerBound, got.UpperBound, got.PredictedPrice)
	}
	if cents := got.PredictedPrice * 100; math.Abs(cents-math.Round(cents)) > 1e-6 {
		t.Errorf("price %v is not rounded to cents", got.PredictedPrice)
	}
	if got.ModelVersion != deployed || got.Currency != f.cfg.Features.Currency {
		t.Errorf("response metadata = %+v", got)
	}

	again, err := p.Predict(ctx, request())
	if err != nil || again != got {
		t.Fatalf("repeat prediction = %+v, %v; want %+v", again, err, got)
	}

	// A price collected exactly at the as-of instant must not be seen.
	req := request()
	spike := models.MPriceObservation{
		ID: 1 << 40, Origin: "DEL", Destination: "BOM", Airline: "IndiGo",
		CollectedAt: req.AsOf, DepartureAt: req.DepartureAt,
		Price: 900000, Currency: f.cfg.Features.Currency, DistanceKm: 1150,
	}
	if _, err := f.store.SaveObservations(ctx, []models.MPriceObservation{spike}); err != nil {
		t.Fatalf("SaveObservations: %v", err)
	}
	after, err := p.Predict(ctx, req)
	if err != nil {
		t.Fatalf("Predict after spike: %v", err)
	}
	if after != got {
		t.Errorf("observation at as-of changed the prediction: %+v vs %+v", after, got)
	}
}

// -----------------------------------------------------------------------------

type fixedRecord struct {
	rec models.MModelRecord
}

func (r fixedRecord) GetDeployed(context.Context) (*models.MModelRecord, error) {
	rec := r.rec
	return &rec, nil
}

func (r fixedRecord) DeployedVersion(context.Context) (string, error) {
	return r.rec.Version, nil
}

func TestRefreshRejectsFeatureOrderMismatch(t *testing.T) {
	f := newFixture(t)
	reg := f.deploy(t)
	ctx := context.Background()

	rec, err := reg.GetDeployed(ctx)
	if err != nil || rec == nil {
		t.Fatalf("GetDeployed = %v, %v", rec, err)
	}
	tampered := *rec
	tampered.FeatureOrder = slices.Clone(rec.FeatureOrder)
	slices.Reverse(tampered.FeatureOrder)

	p := NewPredictor(f.cfg, f.log, fixedRecord{tampered}, f.artifacts, f.store)
	swapped, err := p.Refresh(ctx)
	var mismatch *helpers.SchemaMismatchError
	if swapped || !errors.As(err, &mismatch) {
		t.Fatalf("Refresh = %v, %v; want SchemaMismatchError", swapped, err)
	}
	if p.Version() != "" {
		t.Errorf("tampered model is being served: %q", p.Version())
	}
	if _, err := p.Predict(ctx, request()); !helpers.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
