package interfaces

import (
	"context"

	"fare-observer/src/models"
)

// -----------------------------------------------------------------------------
// IDeploymentNotifier shares registry decisions with external systems (websocket, Redis).
// -----------------------------------------------------------------------------

type IDeploymentNotifier interface {
	// -----------------------------------------------------------------------------
	// Notify pushes one deployment event. Failures never undo the registry commit.
	Notify(ctx context.Context, event models.MDeploymentEvent) error
}

// -----------------------------------------------------------------------------
// IDataExchanger is the serving surface lifecycle.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	IDeploymentNotifier

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
