package interfaces

import (
	"context"

	"fare-observer/src/models"
)

// -----------------------------------------------------------------------------
// IObservationStore defines the contract for persisting price observations.
// -----------------------------------------------------------------------------

type IObservationStore interface {
	IHistorySource

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveObservations inserts a batch of observations. Existing ids are left untouched.
	SaveObservations(ctx context.Context, obs []models.MPriceObservation) (int, error)

	// -----------------------------------------------------------------------------

	// Stats returns counts used by the system-health endpoint.
	Stats(ctx context.Context) (models.MStoreStats, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

// -----------------------------------------------------------------------------
// IRegistryStore persists model records. At most one record is deployed at any time.
// -----------------------------------------------------------------------------

type IRegistryStore interface {

	// GetDeployed returns the deployed record, or nil when no model was ever accepted.
	GetDeployed(ctx context.Context) (*models.MModelRecord, error)

	// -----------------------------------------------------------------------------

	// Commit writes record atomically. A deployed record replaces supersededVersion
	// and fails with ConcurrentCommitConflict if another version is deployed by then.
	Commit(ctx context.Context, record models.MModelRecord, supersededVersion string) error

	// -----------------------------------------------------------------------------

	// Rollback makes an existing record the single deployed one.
	Rollback(ctx context.Context, version string) (*models.MModelRecord, error)

	// -----------------------------------------------------------------------------

	// GetRecord returns one record by version.
	GetRecord(ctx context.Context, version string) (*models.MModelRecord, error)

	// -----------------------------------------------------------------------------

	// History lists records newest first.
	History(ctx context.Context, limit int) ([]models.MModelRecord, error)

	// -----------------------------------------------------------------------------

	// DeployedVersion is a cheap consistent read of the deployed pointer ("" when none).
	DeployedVersion(ctx context.Context) (string, error)

	// -----------------------------------------------------------------------------

	// LatestVersion returns the newest version ever written ("" when empty).
	LatestVersion(ctx context.Context) (string, error)
}

// -----------------------------------------------------------------------------
// IArtifactStore keeps serialized model artifacts.
// -----------------------------------------------------------------------------

type IArtifactStore interface {
	Save(version string, data []byte) (string, error)
	Load(path string) ([]byte, error)
	Exists(path string) bool
	Delete(path string) error
}
