package notify

import (
	"context"
	"errors"

	"fare-observer/src/interfaces"
	"fare-observer/src/models"
)

// FanOut delivers each event to every notifier. One failing sink does not
// stop the others; their errors are joined.
type FanOut []interfaces.IDeploymentNotifier

func (f FanOut) Notify(ctx context.Context, event models.MDeploymentEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
