package pipeline

import (
	"context"

	"fare-observer/src/analysis"
	"fare-observer/src/helpers"
	"fare-observer/src/models"
	"fare-observer/src/training"
)

type incumbentResult struct {
	evaluation *models.MEvaluationResult
	// missing: the deployed artifact no longer exists, so there is nothing to beat.
	missing bool
	err     error
}

// -----------------------------------------------------------------------------

// evaluateIncumbent scores the deployed artifact, without refitting, on the
// candidate's test rows.
func (p *Pipeline) evaluateIncumbent(ctx context.Context, deployed *models.MModelRecord, plan *training.Plan) *incumbentResult {
	if !p.Artifacts.Exists(deployed.ArtifactPath) {
		p.Logger.Warning("Deployed model %s has no artifact at %s; treating as first model", deployed.Version, deployed.ArtifactPath)
		return &incumbentResult{missing: true}
	}

	artifact, err := p.loadArtifact(deployed)
	if err != nil {
		p.Logger.Error("Cannot load deployed model %s: %v", deployed.Version, err)
		return &incumbentResult{err: err}
	}

	eval, err := p.Trainer.Evaluate(ctx, artifact, plan)
	if err != nil {
		p.Logger.Error("Cannot evaluate deployed model %s: %v", deployed.Version, err)
		return &incumbentResult{err: err}
	}
	return &incumbentResult{evaluation: &eval}
}

// -----------------------------------------------------------------------------

func (p *Pipeline) loadArtifact(rec *models.MModelRecord) (*training.ModelArtifact, error) {
	data, err := p.Artifacts.Load(rec.ArtifactPath)
	if err != nil {
		return nil, err
	}
	artifact, err := training.UnmarshalArtifact(data)
	if err != nil {
		return nil, err
	}
	if !analysis.SameOrder(artifact.FeatureOrder, rec.FeatureOrder) {
		return nil, helpers.NewSchemaMismatchError("artifact of %s does not carry the recorded feature order", rec.Version)
	}
	return artifact, nil
}
