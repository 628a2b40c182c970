package storage

import (
	"context"

	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
)

// Store is a backend that keeps both observations and the model registry.
type Store interface {
	interfaces.IObservationStore
	interfaces.IRegistryStore
}

// -----------------------------------------------------------------------------

// NewStore creates and initializes the configured backend.
func NewStore(cfg *models.MConfig, log *logger.Logger) (Store, error) {
	var (
		db  Store
		err error
	)

	switch cfg.Storage.DBType {
	case "postgres":
		db, err = NewPostgresDB(cfg, log)
	case "sqlite", "":
		db, err = NewAsyncSQLiteDB(cfg, log)
	default:
		return nil, helpers.NewConfigurationError("unsupported db_type %q", cfg.Storage.DBType)
	}
	if err != nil {
		return nil, helpers.NewDatabaseError("create store", err)
	}
	if err := db.Initialize(); err != nil {
		return nil, helpers.NewDatabaseError("initialize store", err)
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// NewHistorySource returns the corpus reader selected by history_source.
// The returned close function releases any dedicated pool.
func NewHistorySource(ctx context.Context, cfg *models.MConfig, log *logger.Logger, store Store) (interfaces.IHistorySource, func(), error) {
	switch cfg.Storage.HistorySource {
	case "pgx":
		src, err := NewPgxHistorySource(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case "store", "":
		return store, func() {}, nil
	default:
		return nil, nil, helpers.NewConfigurationError("unsupported history_source %q", cfg.Storage.HistorySource)
	}
}
