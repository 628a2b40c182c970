package training

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"fare-observer/src/analysis"
	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"
)

var t0 = time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

func testConfig() *models.MConfig {
	cfg := &models.MConfig{}
	cfg.Features.ShortWindow = 7
	cfg.Features.LongWindow = 30
	cfg.Features.CalendarMIC = "XNYS"
	cfg.Features.Currency = "EUR"
	cfg.Training = models.MTrainingConfig{
		ValidationStrategy:   StrategyHoldout,
		HoldoutFraction:      0.8,
		TrainWindowDays:      60,
		TestWindowDays:       14,
		MinTrainRows:         10,
		MinTestRows:          2,
		MinRows:              50,
		NEstimators:          40,
		LearningRate:         0.1,
		MaxDepth:             4,
		MinSamplesLeaf:       2,
		PermutationSeed:      999,
		LeakageThreshold:     0.05,
		ResidualMinRouteRows: 10,
		CommitRetries:        3,
		ParallelFolds:        true,
	}
	return cfg
}

func testTrainer(cfg *models.MConfig) *Trainer {
	schema := analysis.NewFeatureSchema(cfg.Features.ShortWindow, cfg.Features.LongWindow)
	return NewTrainer(cfg, logger.NewLogger("ERROR", "training-test"), schema)
}

// structuredRows produces fares driven by booking horizon, route and airline.
func structuredRows(t *testing.T, cfg *models.MConfig, days int) []models.MFeatureRow {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	routes := []struct {
		origin, dest string
		base         float64
	}{{"DEL", "BOM", 120}, {"BLR", "GOI", 70}, {"DEL", "DXB", 320}}
	airlines := map[string]float64{"IndiGo": 0, "Vistara": 40}

	var history []models.MPriceObservation
	id := int64(1)
	for d := 0; d < days; d++ {
		for _, r := range routes {
			for airline, premium := range airlines {
				horizon := 1 + rng.IntN(60)
				collected := t0.AddDate(0, 0, d).Add(time.Duration(id%7) * time.Minute)
				history = append(history, models.MPriceObservation{
					ID: id, Origin: r.origin, Destination: r.dest, Airline: airline,
					CollectedAt: collected, DepartureAt: collected.AddDate(0, 0, horizon),
					Price:    r.base + premium + 3*float64(60-horizon) + rng.Float64()*5,
					Currency: "EUR", Stops: int(id % 2), DurationMinutes: 90 + int(r.base/4),
				})
				id++
			}
		}
	}

	b := analysis.NewFeatureBuilder(cfg, logger.NewLogger("ERROR", "builder"))
	rows, err := b.Build(history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return rows
}

// noiseRows carries random features and an unrelated random price.
func noiseRows(n int) []models.MFeatureRow {
	rng := rand.New(rand.NewPCG(42, 43))
	rows := make([]models.MFeatureRow, n)
	for i := range rows {
		rows[i] = models.MFeatureRow{
			Features: models.MFeatureVector{
				ObservationID:      int64(i + 1),
				CollectedAtMs:      t0.Add(time.Duration(i) * time.Hour).UnixMilli(),
				RouteKey:           "A-B",
				Airline:            "X",
				DistanceKm:         rng.Float64() * 5000,
				Stops:              float64(rng.IntN(3)),
				DurationMinutes:    float64(60 + rng.IntN(600)),
				DaysUntilDeparture: float64(rng.IntN(90)),
				RouteMeanShort:     100 + rng.Float64()*100,
				RouteMeanLong:      100 + rng.Float64()*100,
				RouteStdLong:       rng.Float64() * 30,
			},
			Price: 100 + rng.Float64()*100,
		}
	}
	return rows
}

func TestGradientBoostingFitsStepFunction(t *testing.T) {
	X := make([][]float64, 40)
	y := make([]float64, 40)
	for i := range X {
		X[i] = []float64{float64(i), float64(i % 3)}
		y[i] = 10
		if i >= 20 {
			y[i] = 20
		}
	}
	p := BoosterParams{NEstimators: 60, LearningRate: 0.3, MaxDepth: 2, MinSamplesLeaf: 1}
	m, err := FitGradientBoosting(X, y, p)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if got := m.Predict([]float64{3, 0}); math.Abs(got-10) > 1e-3 {
		t.Fatalf("left plateau prediction = %v", got)
	}
	if got := m.Predict([]float64{35, 2}); math.Abs(got-20) > 1e-3 {
		t.Fatalf("right plateau prediction = %v", got)
	}
	if m.Gains[0] <= m.Gains[1] {
		t.Fatalf("informative feature should carry the gain: %v", m.Gains)
	}
	if root := m.Trees[0].Nodes[0]; root.Leaf || root.Feature != 0 || root.Threshold != 19.5 {
		t.Fatalf("unexpected root split %+v", root)
	}

	again, _ := FitGradientBoosting(X, y, p)
	if !reflect.DeepEqual(m, again) {
		t.Fatalf("fitting is not deterministic")
	}
}

func TestGradientBoostingRejectsBadInput(t *testing.T) {
	p := BoosterParams{NEstimators: 1, LearningRate: 0.1, MaxDepth: 1}
	if _, err := FitGradientBoosting(nil, nil, p); err == nil {
		t.Fatalf("expected error on empty input")
	}
	if _, err := FitGradientBoosting([][]float64{{1}, {1, 2}}, []float64{1, 2}, p); err == nil {
		t.Fatalf("expected error on ragged rows")
	}
}

func TestHoldoutSplitIsStrictlyChronological(t *testing.T) {
	rows := noiseRows(100)
	// Rows 78..81 share one timestamp, straddling the 80% cut.
	for i := 78; i <= 81; i++ {
		rows[i].Features.CollectedAtMs = rows[78].Features.CollectedAtMs
	}
	folds, err := HoldoutSplit(rows, 0.8, 50)
	if err != nil {
		t.Fatalf("HoldoutSplit: %v", err)
	}
	f := folds[0]
	if f.TrainEnd != 82 || f.TestStart != 82 || f.TestEnd != 100 {
		t.Fatalf("fold = %+v", f)
	}
	if rows[f.TrainEnd-1].Features.CollectedAtMs >= rows[f.TestStart].Features.CollectedAtMs {
		t.Fatalf("train and test share a timestamp")
	}

	if _, err := HoldoutSplit(rows[:20], 0.8, 50); !helpers.IsInsufficientData(err) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}

	flat := noiseRows(60)
	for i := range flat {
		flat[i].Features.CollectedAtMs = t0.UnixMilli()
	}
	if _, err := HoldoutSplit(flat, 0.8, 50); !helpers.IsInsufficientData(err) {
		t.Fatalf("single timestamp cannot be split, got %v", err)
	}
}

func TestWalkForwardFoldsAreStrictlyChronological(t *testing.T) {
	cfg := testConfig()
	rows := structuredRows(t, cfg, 120)

	folds, err := WalkForwardFolds(rows, 60, 14, 10, 2)
	if err != nil {
		t.Fatalf("WalkForwardFolds: %v", err)
	}
	if len(folds) < 3 {
		t.Fatalf("expected several folds, got %d", len(folds))
	}
	for _, f := range folds {
		maxTrain := rows[f.TrainEnd-1].Features.CollectedAtMs
		minTest := rows[f.TestStart].Features.CollectedAtMs
		if !(maxTrain < minTest) {
			t.Fatalf("fold %d: max train %d not < min test %d", f.Index, maxTrain, minTest)
		}
		if f.TrainEnd != f.TestStart {
			t.Fatalf("fold %d: test must follow train immediately", f.Index)
		}
	}
}

func TestWalkForwardFoldsFailures(t *testing.T) {
	cfg := testConfig()
	rows := structuredRows(t, cfg, 20)
	if _, err := WalkForwardFolds(rows, 90, 14, 10, 2); !helpers.IsInsufficientData(err) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}

	rows[5], rows[50] = rows[50], rows[5]
	_, err := WalkForwardFolds(rows, 5, 2, 1, 1)
	var ordering *helpers.DataOrderingError
	if !errors.As(err, &ordering) {
		t.Fatalf("expected DataOrderingError for unsorted rows, got %v", err)
	}
}

func TestAdaptiveWindows(t *testing.T) {
	tests := []struct {
		span, train, test   int
		wantTrain, wantTest int
	}{
		{span: 400, train: 90, test: 14, wantTrain: 90, wantTest: 14},
		{span: 60, train: 90, test: 14, wantTrain: 30, wantTest: 12},
		{span: 19, train: 90, test: 14, wantTrain: 9, wantTest: 3},
		{span: 4, train: 90, test: 14, wantTrain: 7, wantTest: 2},
		{span: 4, train: 5, test: 1, wantTrain: 5, wantTest: 1},
	}
	for _, tt := range tests {
		train, test := AdaptiveWindows(tt.span, tt.train, tt.test)
		if train != tt.wantTrain || test != tt.wantTest {
			t.Errorf("AdaptiveWindows(%d, %d, %d) = %d/%d, want %d/%d",
				tt.span, tt.train, tt.test, train, test, tt.wantTrain, tt.wantTest)
		}
	}
}

func TestPlanFoldsAdaptiveWindowsFitShortHistory(t *testing.T) {
	cfg := testConfig()
	rows := structuredRows(t, cfg, 20)

	tc := cfg.Training
	tc.ValidationStrategy = StrategyWalkForward
	tc.TrainWindowDays, tc.TestWindowDays = 90, 14
	if _, err := PlanFolds(rows, tc); !helpers.IsInsufficientData(err) {
		t.Fatalf("fixed 90/14 windows on 20 days: expected InsufficientDataError, got %v", err)
	}

	tc.AdaptiveWindows = true
	folds, err := PlanFolds(rows, tc)
	if err != nil {
		t.Fatalf("PlanFolds: %v", err)
	}
	if len(folds) == 0 {
		t.Fatalf("expected folds")
	}
	for _, f := range folds {
		trainSpan := rows[f.TrainEnd-1].Features.CollectedAtMs - rows[f.TrainStart].Features.CollectedAtMs
		if trainSpan > (9 * 24 * time.Hour).Milliseconds() {
			t.Fatalf("fold %d trains on %s, want at most 9 days", f.Index, time.Duration(trainSpan)*time.Millisecond)
		}
	}
}

func TestPermutationNoiseDoesNotRaiseLeakage(t *testing.T) {
	cfg := testConfig()
	cfg.Training.MinRows = 100
	tr := testTrainer(cfg)

	plan, err := tr.Prepare(noiseRows(1000))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cand, err := tr.Train(context.Background(), plan, "vnoise")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	ev := cand.Evaluation
	if ev.LeakageFlagged || cand.Leakage != nil {
		t.Fatalf("noise model flagged as leaking: r2=%v perm=%v", ev.R2, ev.PermutationR2)
	}
	if ev.R2 > 0.05 || ev.PermutationR2 > 0.05 {
		t.Fatalf("noise model should score near zero: r2=%v perm=%v", ev.R2, ev.PermutationR2)
	}
	if math.Abs(ev.R2-ev.PermutationR2) > 0.3 {
		t.Fatalf("permuted and unpermuted r2 should be comparable: %v vs %v", ev.R2, ev.PermutationR2)
	}
}

type oracleModel struct{ prices []float64 }

func (o oracleModel) PredictPrices(X [][]float64) []float64 { return o.prices }

func TestPermutationFlagsModelIgnoringInputs(t *testing.T) {
	prices := []float64{100, 150, 200, 250, 300}
	X := [][]float64{{1}, {2}, {3}, {4}, {5}}
	if r2 := PermutationR2(oracleModel{prices}, X, prices, 1); r2 != 1 {
		t.Fatalf("perm r2 = %v", r2)
	}

	tr := testTrainer(testConfig())
	plan := &Plan{Rows: noiseRows(10), Folds: []Fold{{TrainEnd: 5, TestStart: 5, TestEnd: 10}}}
	ev := tr.aggregate("v1", plan, []SliceMetrics{{R2: 0.9, PermutationR2: 0.06}})
	if !ev.LeakageFlagged {
		t.Fatalf("perm r2 above threshold must be flagged")
	}
	ev = tr.aggregate("v1", plan, []SliceMetrics{{R2: 0.9, PermutationR2: 0.05}})
	if ev.LeakageFlagged {
		t.Fatalf("perm r2 equal to the threshold passes")
	}
}

func TestTrainHoldoutAndEvaluateIncumbent(t *testing.T) {
	cfg := testConfig()
	tr := testTrainer(cfg)
	plan, err := tr.Prepare(structuredRows(t, cfg, 90))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	cand, err := tr.Train(context.Background(), plan, "v1")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if cand.Evaluation.R2 < 0.5 {
		t.Fatalf("structured data should be learnable, r2 = %v", cand.Evaluation.R2)
	}
	if cand.Leakage != nil {
		t.Fatalf("unexpected leakage: %v", cand.Leakage)
	}
	if !analysis.SameOrder(cand.Artifact.FeatureOrder, tr.Schema.Names()) {
		t.Fatalf("artifact must lock the schema order")
	}
	if cand.Metrics.FoldCount != 1 || cand.Metrics.Strategy != StrategyHoldout {
		t.Fatalf("metrics = %+v", cand.Metrics)
	}
	if cand.Artifact.Residuals.GlobalStd <= 0 {
		t.Fatalf("residual stats missing")
	}

	again, err := tr.Evaluate(context.Background(), cand.Artifact, plan)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !reflect.DeepEqual(again, cand.Evaluation) {
		t.Fatalf("re-evaluating the candidate on its own plan differs:\n%+v\n%+v", again, cand.Evaluation)
	}
	if !again.SameSlice(cand.Evaluation) {
		t.Fatalf("slices must match")
	}
}

func TestTrainWalkForwardDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Training.ValidationStrategy = StrategyWalkForward
	tr := testTrainer(cfg)
	rows := structuredRows(t, cfg, 110)

	run := func() *Candidate {
		plan, err := tr.Prepare(rows)
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		cand, err := tr.Train(context.Background(), plan, "vwf")
		if err != nil {
			t.Fatalf("Train: %v", err)
		}
		return cand
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a.Evaluation, b.Evaluation) {
		t.Fatalf("parallel folds must aggregate deterministically")
	}
	if a.Evaluation.Folds < 2 || len(a.Metrics.Folds) != a.Evaluation.Folds {
		t.Fatalf("expected multiple folds, got %+v", a.Metrics)
	}
	for _, f := range a.Metrics.Folds {
		if !f.TrainEnd.Before(f.TestStart) {
			t.Fatalf("fold %d overlaps", f.Index)
		}
	}
}

func TestEvaluateRejectsForeignSchema(t *testing.T) {
	cfg := testConfig()
	tr := testTrainer(cfg)
	plan, err := tr.Prepare(structuredRows(t, cfg, 60))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cand, err := tr.Train(context.Background(), plan, "v1")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	foreign := *cand.Artifact
	foreign.FeatureOrder = append([]string(nil), cand.Artifact.FeatureOrder...)
	foreign.FeatureOrder[0] = "route_mean_14"
	_, err = tr.Evaluate(context.Background(), &foreign, plan)
	var mismatch *helpers.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	cfg := testConfig()
	tr := testTrainer(cfg)
	plan, err := tr.Prepare(structuredRows(t, cfg, 60))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cand, err := tr.Train(context.Background(), plan, "v1")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	data, err := MarshalArtifact(cand.Artifact)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	loaded, err := UnmarshalArtifact(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(loaded, cand.Artifact) {
		t.Fatalf("artifact does not round-trip")
	}

	X, _ := tr.Schema.Matrix(cand.Artifact.Encoder.Encode(plan.Rows[:5]), cand.Artifact.FeatureOrder)
	if !reflect.DeepEqual(loaded.PredictPrices(X), cand.Artifact.PredictPrices(X)) {
		t.Fatalf("loaded artifact predicts differently")
	}
}
