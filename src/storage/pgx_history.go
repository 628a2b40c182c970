package storage

import (
	"context"
	"fmt"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxHistorySource streams the observation corpus straight from a Postgres
// ingestion table. It reads the same layout PostgresDB writes.
type PgxHistorySource struct {
	Pool   *pgxpool.Pool
	Table  string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPgxHistorySource(ctx context.Context, cfg *models.MConfig, log *logger.Logger) (*PgxHistorySource, error) {
	dsn := cfg.Storage.HistoryDSN
	if dsn == "" {
		dsn = cfg.Storage.DBConnectionString
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, helpers.NewDatabaseError("open history pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, helpers.NewDatabaseError("ping history pool", err)
	}

	return &PgxHistorySource{
		Pool:   pool,
		Table:  fmt.Sprintf(`"%s"."observations"`, SchemaName(cfg.Name)),
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (s *PgxHistorySource) LoadHistory(ctx context.Context) ([]models.MPriceObservation, error) {
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY collected_at, id`, observationColumns, s.Table))
	if err != nil {
		return nil, helpers.NewDatabaseError("query history", err)
	}
	out, err := collectObservations(rows)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug("Loaded %d observations from %s", len(out), s.Table)
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *PgxHistorySource) LoadRouteHistory(ctx context.Context, origin, destination string, before time.Time) ([]models.MPriceObservation, error) {
	rows, err := s.Pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE origin = $1 AND destination = $2 AND collected_at < $3 ORDER BY collected_at, id`, observationColumns, s.Table),
		origin, destination, toNanos(before))
	if err != nil {
		return nil, helpers.NewDatabaseError("query route history", err)
	}
	return collectObservations(rows)
}

// -----------------------------------------------------------------------------

func collectObservations(rows pgx.Rows) ([]models.MPriceObservation, error) {
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[observationRow])
	if err != nil {
		return nil, helpers.NewDatabaseError("scan history", err)
	}
	return toObservations(list), nil
}

// -----------------------------------------------------------------------------

func (s *PgxHistorySource) Close() {
	s.Pool.Close()
}
