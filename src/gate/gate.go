package gate

import (
	"fmt"

	"fare-observer/src/helpers"
	"fare-observer/src/models"
)

// Decision is the outcome of comparing a candidate with the deployed model.
type Decision struct {
	Accept bool
	Kind   string
	Reason string
}

// -----------------------------------------------------------------------------

// LeakageFree reports whether the candidate passed the permutation test.
func LeakageFree(candidate models.MEvaluationResult, threshold float64) bool {
	return !candidate.LeakageFlagged && candidate.PermutationR2 <= threshold
}

// -----------------------------------------------------------------------------

// Accept is the deployment rule. All comparisons are strict and unrounded:
// equal R² or equal MAE is not an improvement.
func Accept(candidate, deployed models.MEvaluationResult, threshold float64) bool {
	return candidate.R2 > deployed.R2 &&
		candidate.MAE < deployed.MAE &&
		LeakageFree(candidate, threshold)
}

// -----------------------------------------------------------------------------

// Decide applies Accept, or the bootstrap rule when there is no deployed result.
// Both results must cover the same test slice.
func Decide(candidate models.MEvaluationResult, deployed *models.MEvaluationResult, threshold float64) (Decision, error) {
	if !LeakageFree(candidate, threshold) {
		return Decision{
			Kind:   models.DecisionLeakage,
			Reason: fmt.Sprintf("permutation r2 %.4f exceeds %.2f", candidate.PermutationR2, threshold),
		}, nil
	}

	if deployed == nil {
		return Decision{
			Accept: true,
			Kind:   models.DecisionBootstrap,
			Reason: "no deployed model to compare against",
		}, nil
	}

	if !candidate.SameSlice(*deployed) {
		return Decision{}, helpers.NewValidationError(
			"candidate %s and deployed %s were evaluated on different slices", candidate.ModelVersion, deployed.ModelVersion)
	}

	if Accept(candidate, *deployed, threshold) {
		return Decision{
			Accept: true,
			Kind:   models.DecisionAccept,
			Reason: fmt.Sprintf("r2 %.4f > %.4f and mae %.2f < %.2f",
				candidate.R2, deployed.R2, candidate.MAE, deployed.MAE),
		}, nil
	}

	return Decision{
		Kind:   models.DecisionReject,
		Reason: rejectReason(candidate, *deployed),
	}, nil
}

// -----------------------------------------------------------------------------

func rejectReason(candidate, deployed models.MEvaluationResult) string {
	switch {
	case candidate.R2 <= deployed.R2 && candidate.MAE >= deployed.MAE:
		return fmt.Sprintf("r2 %.4f <= %.4f and mae %.2f >= %.2f", candidate.R2, deployed.R2, candidate.MAE, deployed.MAE)
	case candidate.R2 <= deployed.R2:
		return fmt.Sprintf("r2 %.4f <= %.4f", candidate.R2, deployed.R2)
	default:
		return fmt.Sprintf("mae %.2f >= %.2f", candidate.MAE, deployed.MAE)
	}
}
