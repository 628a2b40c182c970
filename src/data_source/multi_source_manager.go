package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
)

// MultiSourceManager aggregates several observation readers into one import.
type MultiSourceManager struct {
	Sources map[string]interfaces.IObservationReader
	Logger  *logger.Logger
	mu      sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMultiSourceManager(sources []interfaces.IObservationReader, log *logger.Logger) *MultiSourceManager {
	m := &MultiSourceManager{
		Sources: make(map[string]interfaces.IObservationReader),
		Logger:  log,
	}

	for _, s := range sources {
		m.Sources[s.Name()] = s
	}

	return m
}

// -----------------------------------------------------------------------------

// AddSource registers a new reader
func (m *MultiSourceManager) AddSource(source interfaces.IObservationReader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	if _, exists := m.Sources[name]; exists {
		return fmt.Errorf("source %s already exists", name)
	}

	m.Sources[name] = source
	m.Logger.Info("Added source: %s", name)
	return nil
}

// -----------------------------------------------------------------------------

// RemoveSource drops a reader
func (m *MultiSourceManager) RemoveSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Sources[name]; !exists {
		return fmt.Errorf("source %s not found", name)
	}

	delete(m.Sources, name)
	m.Logger.Info("Removed source: %s", name)
	return nil
}

// -----------------------------------------------------------------------------

// ReadAll reads every source concurrently and merges the results.
// Rows repeated under the same id are kept once. An id carried by two rows
// that disagree is a validation error naming both sources.
// The merged list is ordered by collection time then id.
func (m *MultiSourceManager) ReadAll(ctx context.Context) ([]models.MPriceObservation, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.Sources))
	for name := range m.Sources {
		names = append(names, name)
	}
	sources := make([]interfaces.IObservationReader, len(names))
	sort.Strings(names)
	for i, name := range names {
		sources[i] = m.Sources[name]
	}
	m.mu.RUnlock()

	results := make([][]models.MPriceObservation, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src interfaces.IObservationReader) {
			defer wg.Done()
			results[i], errs[i] = src.Read(ctx)
		}(i, src)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", names[i], err)
		}
	}

	type origin struct {
		source string
		index  int
	}
	seen := make(map[int64]origin)
	var merged []models.MPriceObservation
	for i, list := range results {
		dupes := 0
		for _, obs := range list {
			if prev, ok := seen[obs.ID]; ok {
				if !samePayload(merged[prev.index], obs) {
					return nil, helpers.NewValidationError("observation id %d is claimed by differing rows from %s and %s", obs.ID, prev.source, names[i])
				}
				dupes++
				continue
			}
			seen[obs.ID] = origin{source: names[i], index: len(merged)}
			merged = append(merged, obs)
		}
		m.Logger.Info("Source %s: %d observations (%d repeated rows skipped)", names[i], len(list), dupes)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if !merged[a].CollectedAt.Equal(merged[b].CollectedAt) {
			return merged[a].CollectedAt.Before(merged[b].CollectedAt)
		}
		return merged[a].ID < merged[b].ID
	})
	return merged, nil
}

// -----------------------------------------------------------------------------

func samePayload(a, b models.MPriceObservation) bool {
	return a.Origin == b.Origin &&
		a.Destination == b.Destination &&
		a.Airline == b.Airline &&
		a.CollectedAt.Equal(b.CollectedAt) &&
		a.DepartureAt.Equal(b.DepartureAt) &&
		a.Price == b.Price &&
		a.Currency == b.Currency &&
		a.Stops == b.Stops &&
		a.Duration == b.Duration &&
		a.DurationMinutes == b.DurationMinutes &&
		a.DistanceKm == b.DistanceKm
}
