package registry

import (
	"context"
	"sync"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
)

// Registry is the only writer of model records. It issues versions and keeps
// the single-deployed invariant on top of the store's atomic commit.
type Registry struct {
	Store    interfaces.IRegistryStore
	Notifier interfaces.IDeploymentNotifier
	Logger   *logger.Logger

	mu          sync.Mutex
	lastVersion string
}

// -----------------------------------------------------------------------------

func NewRegistry(store interfaces.IRegistryStore, notifier interfaces.IDeploymentNotifier, log *logger.Logger) *Registry {
	return &Registry{Store: store, Notifier: notifier, Logger: log}
}

// -----------------------------------------------------------------------------

// NextVersion issues a version strictly greater than any stored or issued one.
func (r *Registry) NextVersion(ctx context.Context, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.lastVersion
	stored, err := r.Store.LatestVersion(ctx)
	if err != nil {
		return "", err
	}
	if stored > last {
		last = stored
	}
	r.lastVersion = models.NewModelVersion(now, last)
	return r.lastVersion, nil
}

// -----------------------------------------------------------------------------

func (r *Registry) GetDeployed(ctx context.Context) (*models.MModelRecord, error) {
	return r.Store.GetDeployed(ctx)
}

// -----------------------------------------------------------------------------

func (r *Registry) DeployedVersion(ctx context.Context) (string, error) {
	return r.Store.DeployedVersion(ctx)
}

// -----------------------------------------------------------------------------

func (r *Registry) GetRecord(ctx context.Context, version string) (*models.MModelRecord, error) {
	return r.Store.GetRecord(ctx, version)
}

// -----------------------------------------------------------------------------

func (r *Registry) History(ctx context.Context, limit int) ([]models.MModelRecord, error) {
	return r.Store.History(ctx, limit)
}

// -----------------------------------------------------------------------------

// Commit validates and writes one record. A deployed record supersedes
// supersededVersion ("" for the first model) or fails with ConcurrentCommitConflict.
func (r *Registry) Commit(ctx context.Context, record models.MModelRecord, supersededVersion string) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	if err := r.Store.Commit(ctx, record, supersededVersion); err != nil {
		return err
	}

	if record.Deployed {
		r.Logger.Info("Deployed %s (superseding %q): %s", record.Version, supersededVersion, record.DecisionReason)
	} else {
		r.Logger.Info("Held %s as candidate: %s", record.Version, record.DecisionReason)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Rollback makes an existing version the deployed one.
func (r *Registry) Rollback(ctx context.Context, version string) (*models.MModelRecord, error) {
	previous, err := r.Store.DeployedVersion(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := r.Store.Rollback(ctx, version)
	if err != nil {
		return nil, err
	}
	r.Logger.Warning("Rolled back deployed model %q -> %s", previous, version)

	if r.Notifier != nil {
		eval := rec.Evaluation
		event := models.MDeploymentEvent{
			Type:            "deployment",
			Version:         rec.Version,
			Decision:        models.DecisionRollback,
			Reason:          "operator rollback from " + previous,
			DeployedVersion: rec.Version,
			Candidate:       &eval,
			Timestamp:       time.Now().UnixMilli(),
		}
		if err := r.Notifier.Notify(ctx, event); err != nil {
			r.Logger.Warning("Failed to publish rollback of %s: %v", version, err)
		}
	}
	return rec, nil
}

// -----------------------------------------------------------------------------

func validateRecord(rec models.MModelRecord) error {
	if _, err := models.ParseModelVersion(rec.Version); err != nil {
		return helpers.NewValidationError("%v", err)
	}
	if rec.Deployed == rec.IsCandidate {
		return helpers.NewValidationError("record %s must be exactly one of deployed or candidate", rec.Version)
	}
	if len(rec.FeatureOrder) == 0 {
		return helpers.NewValidationError("record %s has no feature order", rec.Version)
	}
	if rec.ArtifactPath == "" {
		return helpers.NewValidationError("record %s has no artifact", rec.Version)
	}
	return nil
}
