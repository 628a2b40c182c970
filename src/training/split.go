package training

import (
	"sort"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/models"
)

// Validation strategies.
const (
	StrategyHoldout     = "holdout"
	StrategyWalkForward = "walk_forward"
)

// Fold is one chronological train/test split over row indices.
// Every train row is strictly earlier than every test row.
type Fold struct {
	Index      int
	TrainStart int
	TrainEnd   int // exclusive
	TestStart  int
	TestEnd    int // exclusive
}

// -----------------------------------------------------------------------------

func (f Fold) TrainRows() int { return f.TrainEnd - f.TrainStart }

// -----------------------------------------------------------------------------

func (f Fold) TestRows() int { return f.TestEnd - f.TestStart }

// -----------------------------------------------------------------------------

// timestamps returns the collection times of chronologically sorted rows.
func timestamps(rows []models.MFeatureRow) ([]int64, error) {
	ts := make([]int64, len(rows))
	for i, r := range rows {
		ts[i] = r.Features.CollectedAtMs
		if i > 0 && ts[i] < ts[i-1] {
			return nil, helpers.NewDataOrderingError("feature table", "row %d at %d precedes row %d at %d", i, ts[i], i-1, ts[i-1])
		}
	}
	return ts, nil
}

// -----------------------------------------------------------------------------

// idxAtOrAfter returns the first index whose timestamp is >= t.
func idxAtOrAfter(ts []int64, t int64) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i] >= t })
}

// -----------------------------------------------------------------------------

// HoldoutSplit cuts sorted rows at fraction. The cut moves forward past rows
// sharing the last training timestamp so no timestamp is on both sides.
func HoldoutSplit(rows []models.MFeatureRow, fraction float64, minRows int) ([]Fold, error) {
	ts, err := timestamps(rows)
	if err != nil {
		return nil, err
	}
	n := len(ts)
	if n < minRows || n < 2 {
		return nil, helpers.NewInsufficientDataError(n, minRows, "holdout split needs at least %d rows, have %d", minRows, n)
	}

	cut := int(float64(n) * fraction)
	if cut < 1 {
		cut = 1
	}
	for cut < n && ts[cut] == ts[cut-1] {
		cut++
	}
	if cut >= n {
		return nil, helpers.NewInsufficientDataError(n, minRows, "no rows are strictly later than the training cut")
	}

	return []Fold{{Index: 0, TrainStart: 0, TrainEnd: cut, TestStart: cut, TestEnd: n}}, nil
}

// -----------------------------------------------------------------------------

// WalkForwardFolds builds rolling folds of trainDays followed by testDays,
// sliding by testDays. Folds with too few rows on either side are not valid;
// having no valid fold at all is an InsufficientDataError.
func WalkForwardFolds(rows []models.MFeatureRow, trainDays, testDays, minTrain, minTest int) ([]Fold, error) {
	ts, err := timestamps(rows)
	if err != nil {
		return nil, err
	}
	n := len(ts)
	if n == 0 {
		return nil, helpers.NewInsufficientDataError(0, minTrain+minTest, "feature table is empty")
	}

	trainSpan := (time.Duration(trainDays) * 24 * time.Hour).Milliseconds()
	testSpan := (time.Duration(testDays) * 24 * time.Hour).Milliseconds()
	last := ts[n-1]

	var folds []Fold
	for start := ts[0]; start+trainSpan <= last; start += testSpan {
		trainEnd := start + trainSpan
		f := Fold{
			Index:      len(folds),
			TrainStart: idxAtOrAfter(ts, start),
			TrainEnd:   idxAtOrAfter(ts, trainEnd),
			TestStart:  idxAtOrAfter(ts, trainEnd),
			TestEnd:    idxAtOrAfter(ts, trainEnd+testSpan),
		}
		if f.TrainRows() >= minTrain && f.TestRows() >= minTest {
			folds = append(folds, f)
		}
	}

	if len(folds) == 0 {
		return nil, helpers.NewInsufficientDataError(n, minTrain+minTest,
			"no valid %d/%d day fold over %d rows spanning %s", trainDays, testDays, n,
			time.Duration(last-ts[0])*time.Millisecond)
	}
	return folds, nil
}

// -----------------------------------------------------------------------------

// AdaptiveWindows shrinks the configured walk-forward windows to fit a
// history spanning spanDays: training covers at most half the span (never
// under 7 days) and testing at most a fifth (never under 2).
func AdaptiveWindows(spanDays, trainDays, testDays int) (int, int) {
	return min(trainDays, max(7, spanDays/2)), min(testDays, max(2, spanDays/5))
}

// historySpanDays is the number of whole days between the first and last row.
func historySpanDays(rows []models.MFeatureRow) int {
	if len(rows) == 0 {
		return 0
	}
	first := rows[0].Features.CollectedAtMs
	last := rows[len(rows)-1].Features.CollectedAtMs
	return int(time.Duration(last-first) * time.Millisecond / (24 * time.Hour))
}

// -----------------------------------------------------------------------------

// PlanFolds applies the configured validation strategy.
func PlanFolds(rows []models.MFeatureRow, cfg models.MTrainingConfig) ([]Fold, error) {
	switch cfg.ValidationStrategy {
	case StrategyWalkForward:
		trainDays, testDays := cfg.TrainWindowDays, cfg.TestWindowDays
		if cfg.AdaptiveWindows {
			trainDays, testDays = AdaptiveWindows(historySpanDays(rows), trainDays, testDays)
		}
		return WalkForwardFolds(rows, trainDays, testDays, cfg.MinTrainRows, cfg.MinTestRows)
	case StrategyHoldout, "":
		return HoldoutSplit(rows, cfg.HoldoutFraction, cfg.MinRows)
	default:
		return nil, helpers.NewConfigurationError("unsupported validation strategy %q", cfg.ValidationStrategy)
	}
}
