package training

import (
	"math/rand/v2"

	"fare-observer/src/analysis/core"
)

// PriceModel predicts prices in original units from projected rows.
type PriceModel interface {
	PredictPrices(X [][]float64) []float64
}

// SliceMetrics are the metrics of one model on one test slice.
type SliceMetrics struct {
	R2            float64
	MAE           float64
	RMSE          float64
	PermutationR2 float64
}

// -----------------------------------------------------------------------------

// EvaluateSlice scores model on X against true prices and runs the permutation test.
func EvaluateSlice(model PriceModel, X [][]float64, prices []float64, seed uint64) SliceMetrics {
	predicted := model.PredictPrices(X)
	return SliceMetrics{
		R2:            core.RSquared(prices, predicted),
		MAE:           core.MeanAbsoluteError(prices, predicted),
		RMSE:          core.RootMeanSquaredError(prices, predicted),
		PermutationR2: PermutationR2(model, X, prices, seed),
	}
}

// -----------------------------------------------------------------------------

// PermutationR2 shuffles every feature column independently with a fixed seed
// and scores the model on the shuffled rows against the real targets.
func PermutationR2(model PriceModel, X [][]float64, prices []float64, seed uint64) float64 {
	n := len(X)
	if n == 0 {
		return 0
	}
	nf := len(X[0])

	shuffled := make([][]float64, n)
	for i := range shuffled {
		shuffled[i] = make([]float64, nf)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for j := 0; j < nf; j++ {
		perm := rng.Perm(n)
		for i := 0; i < n; i++ {
			shuffled[i][j] = X[perm[i]][j]
		}
	}

	return core.RSquared(prices, model.PredictPrices(shuffled))
}
