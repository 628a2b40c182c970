package interfaces

import (
	"context"
	"time"

	"fare-observer/src/models"
)

// -----------------------------------------------------------------------------
// IHistorySource provides the observation corpus for training and inference.
// -----------------------------------------------------------------------------

type IHistorySource interface {

	// LoadHistory returns every observation. Order is not guaranteed.
	LoadHistory(ctx context.Context) ([]models.MPriceObservation, error)

	// -----------------------------------------------------------------------------

	// LoadRouteHistory returns observations of one route collected strictly before.
	LoadRouteHistory(ctx context.Context, origin, destination string, before time.Time) ([]models.MPriceObservation, error)
}

// -----------------------------------------------------------------------------
// IObservationReader yields observations from an import source (file, generator).
// -----------------------------------------------------------------------------

type IObservationReader interface {
	Name() string
	Read(ctx context.Context) ([]models.MPriceObservation, error)
}
