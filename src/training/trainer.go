package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"fare-observer/src/analysis"
	"fare-observer/src/analysis/core"
	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"

	"golang.org/x/sync/errgroup"
)

// Features whose correlation with the raw price exceeds this are reported as suspected leaks.
const correlationLeakBound = 0.99

// Plan is the evaluation protocol of one run. The incumbent is scored on exactly
// the same rows and folds as the candidate.
type Plan struct {
	Strategy string
	Rows     []models.MFeatureRow
	Folds    []Fold
}

// Candidate is the outcome of fitting a new model.
type Candidate struct {
	Artifact   *ModelArtifact
	Metrics    models.MTrainingMetrics
	Evaluation models.MEvaluationResult
	Leakage    error
}

type foldFit struct {
	artifact *ModelArtifact
	metrics  SliceMetrics
	trainR2  float64
	routes   []string
	actual   []float64
	predict  []float64
}

// Trainer runs the chronological fit/evaluate protocol.
type Trainer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Schema *analysis.FeatureSchema
}

// -----------------------------------------------------------------------------

func NewTrainer(cfg *models.MConfig, log *logger.Logger, schema *analysis.FeatureSchema) *Trainer {
	return &Trainer{Config: cfg, Logger: log, Schema: schema}
}

// -----------------------------------------------------------------------------

// Prepare sorts rows chronologically and lays out the folds.
func (t *Trainer) Prepare(rows []models.MFeatureRow) (*Plan, error) {
	sorted := make([]models.MFeatureRow, len(rows))
	copy(sorted, rows)
	analysis.SortRows(sorted)

	folds, err := PlanFolds(sorted, t.Config.Training)
	if err != nil {
		return nil, err
	}

	strategy := t.Config.Training.ValidationStrategy
	if strategy == "" {
		strategy = StrategyHoldout
	}
	t.Logger.Info("Prepared %d fold(s) over %d rows using %s", len(folds), len(sorted), strategy)
	return &Plan{Strategy: strategy, Rows: sorted, Folds: folds}, nil
}

// -----------------------------------------------------------------------------

// Train fits one model per fold and returns the final fold's model as candidate.
func (t *Trainer) Train(ctx context.Context, plan *Plan, version string) (*Candidate, error) {
	fits := make([]*foldFit, len(plan.Folds))

	run := func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		fit, err := t.fitFold(plan, plan.Folds[i], version)
		if err != nil {
			return fmt.Errorf("fold %d: %w", i, err)
		}
		fits[i] = fit
		return nil
	}

	if t.Config.Training.ParallelFolds && len(plan.Folds) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		ctx = gctx
		for i := range plan.Folds {
			g.Go(func() error { return run(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range plan.Folds {
			if err := run(i); err != nil {
				return nil, err
			}
		}
	}

	perFold := make([]SliceMetrics, len(fits))
	for i, f := range fits {
		perFold[i] = f.metrics
	}
	evaluation := t.aggregate(version, plan, perFold)

	final := fits[len(fits)-1]
	finalFold := plan.Folds[len(plan.Folds)-1]
	metrics := t.trainingMetrics(plan, fits, evaluation)
	metrics.TrainR2 = final.trainR2
	metrics.TrainRows = finalFold.TrainRows()
	metrics.TestRows = evaluation.RowCount
	metrics.FeatureImportances = importances(final.artifact)
	metrics.SuspectedLeaks = t.correlationCheck(plan.Rows[finalFold.TrainStart:finalFold.TrainEnd], final.artifact)

	artifact := final.artifact
	artifact.Metrics = metrics
	artifact.Residuals = computeResiduals(final.routes, final.actual, final.predict, t.Config.Training.ResidualMinRouteRows)

	candidate := &Candidate{Artifact: artifact, Metrics: metrics, Evaluation: evaluation}
	if evaluation.LeakageFlagged {
		candidate.Leakage = helpers.NewLeakageDetectedError(evaluation.PermutationR2, t.Config.Training.LeakageThreshold)
		t.Logger.Critical("Suspected target leakage in %s: %v", version, candidate.Leakage)
	}

	t.Logger.Info("Trained %s: r2=%.4f mae=%.2f rmse=%.2f perm_r2=%.4f folds=%d",
		version, evaluation.R2, evaluation.MAE, evaluation.RMSE, evaluation.PermutationR2, evaluation.Folds)
	return candidate, nil
}

// -----------------------------------------------------------------------------

// Evaluate scores an already fitted artifact on the plan's test slices without refitting.
func (t *Trainer) Evaluate(ctx context.Context, artifact *ModelArtifact, plan *Plan) (models.MEvaluationResult, error) {
	if err := artifact.Validate(t.Schema); err != nil {
		return models.MEvaluationResult{}, err
	}

	perFold := make([]SliceMetrics, len(plan.Folds))
	for i, fold := range plan.Folds {
		if err := ctx.Err(); err != nil {
			return models.MEvaluationResult{}, err
		}
		test := plan.Rows[fold.TestStart:fold.TestEnd]
		X, err := t.Schema.Matrix(artifact.Encoder.Encode(test), artifact.FeatureOrder)
		if err != nil {
			return models.MEvaluationResult{}, err
		}
		perFold[i] = EvaluateSlice(artifact, X, rowPrices(test), t.permutationSeed(fold))
	}

	return t.aggregate(artifact.Version, plan, perFold), nil
}

// -----------------------------------------------------------------------------

func (t *Trainer) fitFold(plan *Plan, fold Fold, version string) (*foldFit, error) {
	train := plan.Rows[fold.TrainStart:fold.TrainEnd]
	test := plan.Rows[fold.TestStart:fold.TestEnd]
	order := t.Schema.Names()

	encoder := analysis.FitFrequencyEncoder(train)
	Xtrain, err := t.Schema.Matrix(encoder.Encode(train), order)
	if err != nil {
		return nil, err
	}
	trainPrices := rowPrices(train)

	tc := t.Config.Training
	booster, err := FitGradientBoosting(Xtrain, core.TransformTargets(trainPrices), BoosterParams{
		NEstimators:    tc.NEstimators,
		LearningRate:   tc.LearningRate,
		MaxDepth:       tc.MaxDepth,
		MinSamplesLeaf: tc.MinSamplesLeaf,
	})
	if err != nil {
		return nil, err
	}

	artifact := &ModelArtifact{
		Version:      version,
		FeatureOrder: order,
		Currency:     t.Config.Features.Currency,
		Booster:      booster,
		Encoder:      encoder,
	}

	Xtest, err := t.Schema.Matrix(encoder.Encode(test), order)
	if err != nil {
		return nil, err
	}
	testPrices := rowPrices(test)

	routes := make([]string, len(test))
	for i, r := range test {
		routes[i] = r.Features.RouteKey
	}

	t.Logger.Debug("Fold %d: %d train rows, %d test rows", fold.Index, len(train), len(test))
	return &foldFit{
		artifact: artifact,
		metrics:  EvaluateSlice(artifact, Xtest, testPrices, t.permutationSeed(fold)),
		trainR2:  core.RSquared(trainPrices, artifact.PredictPrices(Xtrain)),
		routes:   routes,
		actual:   testPrices,
		predict:  artifact.PredictPrices(Xtest),
	}, nil
}

// -----------------------------------------------------------------------------

// aggregate averages fold metrics in fold order. Candidate and incumbent both go through here.
func (t *Trainer) aggregate(version string, plan *Plan, perFold []SliceMetrics) models.MEvaluationResult {
	first := plan.Folds[0]
	last := plan.Folds[len(plan.Folds)-1]

	result := models.MEvaluationResult{
		ModelVersion: version,
		SliceStart:   rowTime(plan.Rows[first.TestStart]),
		SliceEnd:     rowTime(plan.Rows[last.TestEnd-1]),
		Folds:        len(plan.Folds),
	}
	for i, m := range perFold {
		result.R2 += m.R2
		result.MAE += m.MAE
		result.RMSE += m.RMSE
		result.PermutationR2 += m.PermutationR2
		result.RowCount += plan.Folds[i].TestRows()
	}
	k := float64(len(perFold))
	result.R2 /= k
	result.MAE /= k
	result.RMSE /= k
	result.PermutationR2 /= k
	result.LeakageFlagged = result.PermutationR2 > t.Config.Training.LeakageThreshold
	return result
}

// -----------------------------------------------------------------------------

func (t *Trainer) trainingMetrics(plan *Plan, fits []*foldFit, eval models.MEvaluationResult) models.MTrainingMetrics {
	m := models.MTrainingMetrics{
		Strategy:  plan.Strategy,
		MeanR2:    eval.R2,
		MeanMAE:   eval.MAE,
		MeanRMSE:  eval.RMSE,
		FoldCount: len(fits),
	}

	r2s := make([]float64, len(fits))
	for i, f := range fits {
		fold := plan.Folds[i]
		r2s[i] = f.metrics.R2
		m.Folds = append(m.Folds, models.MFoldMetrics{
			Index:         fold.Index,
			TrainStart:    rowTime(plan.Rows[fold.TrainStart]),
			TrainEnd:      rowTime(plan.Rows[fold.TrainEnd-1]),
			TestStart:     rowTime(plan.Rows[fold.TestStart]),
			TestEnd:       rowTime(plan.Rows[fold.TestEnd-1]),
			TrainRows:     fold.TrainRows(),
			TestRows:      fold.TestRows(),
			R2:            f.metrics.R2,
			MAE:           f.metrics.MAE,
			RMSE:          f.metrics.RMSE,
			PermutationR2: f.metrics.PermutationR2,
		})
	}
	_, m.StdR2 = core.CalculateMeanStd(r2s)
	return m
}

// -----------------------------------------------------------------------------

// correlationCheck flags features that track the raw target almost perfectly.
func (t *Trainer) correlationCheck(train []models.MFeatureRow, artifact *ModelArtifact) []string {
	X, err := t.Schema.Matrix(artifact.Encoder.Encode(train), artifact.FeatureOrder)
	if err != nil || len(X) < 2 {
		return nil
	}
	prices := rowPrices(train)
	column := make([]float64, len(X))

	var suspects []string
	for j, name := range artifact.FeatureOrder {
		for i := range X {
			column[i] = X[i][j]
		}
		if c := core.CalculateCorrelation(column, prices); math.Abs(c) > correlationLeakBound {
			t.Logger.Warning("Feature %s correlates %.4f with price", name, c)
			suspects = append(suspects, name)
		}
	}
	return suspects
}

// -----------------------------------------------------------------------------

func (t *Trainer) permutationSeed(fold Fold) uint64 {
	return t.Config.Training.PermutationSeed + uint64(fold.Index)
}

// -----------------------------------------------------------------------------

func importances(a *ModelArtifact) map[string]float64 {
	gains := append([]float64(nil), a.Booster.Gains...)
	core.Normalize(gains)

	out := make(map[string]float64, len(gains))
	for i, name := range a.FeatureOrder {
		out[name] = gains[i]
	}
	return out
}

// -----------------------------------------------------------------------------

func rowPrices(rows []models.MFeatureRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Price
	}
	return out
}

// -----------------------------------------------------------------------------

func rowTime(r models.MFeatureRow) time.Time {
	return time.UnixMilli(r.Features.CollectedAtMs).UTC()
}
