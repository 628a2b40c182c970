package models

import "time"

// MEvaluationResult is the holdout outcome of one model on one slice. Never mutated.
type MEvaluationResult struct {
	ModelVersion   string    `json:"model_version"`
	R2             float64   `json:"r2"`
	MAE            float64   `json:"mae"`
	RMSE           float64   `json:"rmse"`
	PermutationR2  float64   `json:"permutation_r2"`
	SliceStart     time.Time `json:"slice_start"`
	SliceEnd       time.Time `json:"slice_end"`
	RowCount       int       `json:"row_count"`
	Folds          int       `json:"folds"`
	LeakageFlagged bool      `json:"leakage_flagged"`
}

// SameSlice reports whether both results were computed over the same rows.
func (e MEvaluationResult) SameSlice(other MEvaluationResult) bool {
	return e.SliceStart.Equal(other.SliceStart) &&
		e.SliceEnd.Equal(other.SliceEnd) &&
		e.RowCount == other.RowCount &&
		e.Folds == other.Folds
}

// MFoldMetrics are the metrics of a single fold.
type MFoldMetrics struct {
	Index         int       `json:"index"`
	TrainStart    time.Time `json:"train_start"`
	TrainEnd      time.Time `json:"train_end"`
	TestStart     time.Time `json:"test_start"`
	TestEnd       time.Time `json:"test_end"`
	TrainRows     int       `json:"train_rows"`
	TestRows      int       `json:"test_rows"`
	R2            float64   `json:"r2"`
	MAE           float64   `json:"mae"`
	RMSE          float64   `json:"rmse"`
	PermutationR2 float64   `json:"permutation_r2"`
}

// MTrainingMetrics summarise a training run.
type MTrainingMetrics struct {
	Strategy           string             `json:"strategy"`
	TrainR2            float64            `json:"train_r2"`
	MeanR2             float64            `json:"mean_r2"`
	StdR2              float64            `json:"std_r2"`
	MeanMAE            float64            `json:"mean_mae"`
	MeanRMSE           float64            `json:"mean_rmse"`
	FoldCount          int                `json:"fold_count"`
	TrainRows          int                `json:"train_rows"`
	TestRows           int                `json:"test_rows"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
	SuspectedLeaks     []string           `json:"suspected_leaks,omitempty"`
	Folds              []MFoldMetrics     `json:"folds,omitempty"`
}
