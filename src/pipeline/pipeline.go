package pipeline

import (
	"context"
	"fmt"
	"time"

	"fare-observer/src/analysis"
	"fare-observer/src/gate"
	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/registry"
	"fare-observer/src/training"

	"github.com/google/uuid"
)

const commitRetryDelay = 50 * time.Millisecond

// RunResult summarises one retrain run.
type RunResult struct {
	RunID     string
	Record    models.MModelRecord
	Decision  gate.Decision
	Conflicts int
}

// Pipeline runs build -> train -> incumbent evaluation -> gate -> commit.
// A run either commits exactly one record or fails and commits nothing.
type Pipeline struct {
	Config    *models.MConfig
	Logger    *logger.Logger
	History   interfaces.IHistorySource
	Registry  *registry.Registry
	Artifacts interfaces.IArtifactStore
	Notifier  interfaces.IDeploymentNotifier
	Builder   *analysis.FeatureBuilder
	Trainer   *training.Trainer

	// Now is the clock used for versions and timestamps.
	Now func() time.Time
}

// -----------------------------------------------------------------------------

func NewPipeline(cfg *models.MConfig, log *logger.Logger, history interfaces.IHistorySource, reg *registry.Registry,
	artifacts interfaces.IArtifactStore, notifier interfaces.IDeploymentNotifier) *Pipeline {
	builder := analysis.NewFeatureBuilder(cfg, log.Named("features"))
	return &Pipeline{
		Config:    cfg,
		Logger:    log,
		History:   history,
		Registry:  reg,
		Artifacts: artifacts,
		Notifier:  notifier,
		Builder:   builder,
		Trainer:   training.NewTrainer(cfg, log.Named("training"), builder.Schema),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// -----------------------------------------------------------------------------

// Run performs one retrain. Feature and training errors abort before any commit.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	p.Logger.Info("Retrain run %s started", runID)

	result, err := p.run(ctx, runID)
	trainingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		trainingRuns.WithLabelValues("failed").Inc()
		p.Logger.Error("Retrain run %s failed: %v", runID, err)
		return nil, err
	}

	outcome := "candidate"
	if result.Record.Deployed {
		outcome = "deployed"
	}
	trainingRuns.WithLabelValues(outcome).Inc()
	p.Logger.Info("Retrain run %s finished in %v: %s %s", runID, time.Since(start).Round(time.Millisecond), result.Decision.Kind, result.Record.Version)
	return result, nil
}

// -----------------------------------------------------------------------------

func (p *Pipeline) run(ctx context.Context, runID string) (*RunResult, error) {
	history, err := p.History.LoadHistory(ctx)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, helpers.NewInsufficientDataError(0, p.Config.Training.MinRows, "no observations to train on")
	}

	rows, err := p.Builder.Build(history)
	if err != nil {
		return nil, fmt.Errorf("feature build: %w", err)
	}

	plan, err := p.Trainer.Prepare(rows)
	if err != nil {
		return nil, err
	}

	version, err := p.Registry.NextVersion(ctx, p.Now())
	if err != nil {
		return nil, err
	}

	candidate, err := p.Trainer.Train(ctx, plan, version)
	if err != nil {
		return nil, err
	}
	if candidate.Leakage != nil {
		leakageAlarms.Inc()
	}

	data, err := training.MarshalArtifact(candidate.Artifact)
	if err != nil {
		return nil, err
	}
	path, err := p.Artifacts.Save(version, data)
	if err != nil {
		return nil, err
	}
	// Only a committed record may reference the artifact.
	committed := false
	defer func() {
		if !committed {
			p.discardArtifact(version, path)
		}
	}()

	base := models.MModelRecord{
		Version:         version,
		RunID:           runID,
		TrainedAt:       p.Now(),
		TrainingMetrics: candidate.Metrics,
		Evaluation:      candidate.Evaluation,
		FeatureOrder:    candidate.Artifact.FeatureOrder,
		ArtifactPath:    path,
	}

	result := &RunResult{RunID: runID}
	incumbents := make(map[string]*incumbentResult)

	commit := func(attempt int) error {
		deployed, err := p.Registry.GetDeployed(ctx)
		if err != nil {
			return err
		}

		record := base
		var decision gate.Decision
		superseded := ""
		if deployed != nil {
			superseded = deployed.Version
			inc, ok := incumbents[deployed.Version]
			if !ok {
				inc = p.evaluateIncumbent(ctx, deployed, plan)
				incumbents[deployed.Version] = inc
			}
			decision, err = p.decide(candidate.Evaluation, inc)
			if err != nil {
				return err
			}
			record.IncumbentEvaluation = inc.evaluation
			record.ComparedAgainstVersion = deployed.Version
			compared := p.Now()
			record.ComparedOnTimestamp = &compared
		} else {
			decision, err = gate.Decide(candidate.Evaluation, nil, p.Config.Training.LeakageThreshold)
			if err != nil {
				return err
			}
		}

		record.Deployed = decision.Accept
		record.IsCandidate = !decision.Accept
		record.DecisionReason = decision.Reason
		if decision.Accept {
			now := p.Now()
			record.DeployedAt = &now
		}

		if err := p.Registry.Commit(ctx, record, superseded); err != nil {
			if helpers.IsCommitConflict(err) {
				commitConflicts.Inc()
				result.Conflicts++
			}
			return err
		}
		committed = true
		result.Record = record
		result.Decision = decision
		return nil
	}

	err = helpers.RetryWithBackoff(ctx, p.Logger, "commit "+version, p.Config.Training.CommitRetries+1,
		commitRetryDelay, helpers.IsCommitConflict, commit)
	if err != nil {
		if !helpers.IsCommitConflict(err) {
			return nil, err
		}
		// Lost every race: keep the run as a candidate rather than discarding it.
		held := base
		held.IsCandidate = true
		held.DecisionReason = fmt.Sprintf("held after %d commit conflicts: %v", result.Conflicts, err)
		if err := p.Registry.Commit(ctx, held, ""); err != nil {
			return nil, err
		}
		committed = true
		result.Record = held
		result.Decision = gate.Decision{Kind: models.DecisionReject, Reason: held.DecisionReason}
	}

	gateDecisions.WithLabelValues(result.Decision.Kind).Inc()
	p.logDecision(result)
	p.notify(ctx, result)
	return result, nil
}

// -----------------------------------------------------------------------------

func (p *Pipeline) discardArtifact(version, path string) {
	if err := p.Artifacts.Delete(path); err != nil {
		p.Logger.Warning("Run left orphaned artifact for %s: %v", version, err)
		return
	}
	p.Logger.Info("Discarded uncommitted artifact for %s", version)
}

// -----------------------------------------------------------------------------

func (p *Pipeline) decide(candidate models.MEvaluationResult, inc *incumbentResult) (gate.Decision, error) {
	threshold := p.Config.Training.LeakageThreshold
	switch {
	case inc.missing:
		d, err := gate.Decide(candidate, nil, threshold)
		if d.Accept {
			d.Reason = "deployed artifact unavailable: " + d.Reason
		}
		return d, err
	case inc.err != nil:
		if !gate.LeakageFree(candidate, threshold) {
			return gate.Decide(candidate, nil, threshold)
		}
		return gate.Decision{Kind: models.DecisionReject, Reason: "incumbent could not be evaluated: " + inc.err.Error()}, nil
	default:
		return gate.Decide(candidate, inc.evaluation, threshold)
	}
}

// -----------------------------------------------------------------------------

func (p *Pipeline) logDecision(r *RunResult) {
	switch r.Decision.Kind {
	case models.DecisionLeakage:
		p.Logger.Critical("Run %s: %s rejected for suspected leakage: %s", r.RunID, r.Record.Version, r.Decision.Reason)
	case models.DecisionReject:
		p.Logger.Info("Run %s: %s rejected: %s", r.RunID, r.Record.Version, r.Decision.Reason)
	default:
		p.Logger.Info("Run %s: %s %s: %s", r.RunID, r.Record.Version, r.Decision.Kind, r.Decision.Reason)
	}
}

// -----------------------------------------------------------------------------

// notify publishes the committed decision. Delivery failures are logged only.
func (p *Pipeline) notify(ctx context.Context, r *RunResult) {
	if p.Notifier == nil {
		return
	}

	deployedVersion := r.Record.ComparedAgainstVersion
	if r.Record.Deployed {
		deployedVersion = r.Record.Version
	}
	eval := r.Record.Evaluation
	event := models.MDeploymentEvent{
		Type:            "deployment",
		RunID:           r.RunID,
		Version:         r.Record.Version,
		Decision:        r.Decision.Kind,
		Reason:          r.Decision.Reason,
		DeployedVersion: deployedVersion,
		Candidate:       &eval,
		Incumbent:       r.Record.IncumbentEvaluation,
		Timestamp:       p.Now().UnixMilli(),
	}
	if err := p.Notifier.Notify(ctx, event); err != nil {
		p.Logger.Warning("Failed to publish decision for %s: %v", r.Record.Version, err)
	}
}
