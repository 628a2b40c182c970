package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"

	"github.com/jmoiron/sqlx"
)

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Queries are written with ? placeholders and rebound for the driver.
type sqlStore struct {
	DB     *sqlx.DB
	Logger *logger.Logger

	observations string
	records      string
	insertIgnore string

	// lockCommit serializes registry writers across processes.
	lockCommit func(ctx context.Context, tx *sqlx.Tx) error
	// deployedViolation reports a breach of the one_deployed_model index.
	deployedViolation func(err error) bool

	mu sync.Mutex
}

// -----------------------------------------------------------------------------

func (s *sqlStore) q(query string) string {
	return s.DB.Rebind(query)
}

// -----------------------------------------------------------------------------
// Observations
// -----------------------------------------------------------------------------

func (s *sqlStore) SaveObservations(ctx context.Context, obs []models.MPriceObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, helpers.NewDatabaseError("begin observation insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, fmt.Sprintf(s.insertIgnore, s.observations, observationColumns,
		`:id, :origin, :destination, :airline, :collected_at, :departure_at, :price, :currency, :stops, :duration, :duration_minutes, :distance_km`))
	if err != nil {
		return 0, helpers.NewDatabaseError("prepare observation insert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, o := range obs {
		res, err := stmt.ExecContext(ctx, fromObservation(o))
		if err != nil {
			return 0, helpers.NewDatabaseError(fmt.Sprintf("insert observation %d", o.ID), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, helpers.NewDatabaseError("commit observation insert", err)
	}
	s.Logger.Debug("Stored %d of %d observations", inserted, len(obs))
	return inserted, nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) LoadHistory(ctx context.Context) ([]models.MPriceObservation, error) {
	var rows []observationRow
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY collected_at, id`, observationColumns, s.observations)
	if err := s.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, helpers.NewDatabaseError("load history", err)
	}
	return toObservations(rows), nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) LoadRouteHistory(ctx context.Context, origin, destination string, before time.Time) ([]models.MPriceObservation, error) {
	var rows []observationRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE origin = ? AND destination = ? AND collected_at < ? ORDER BY collected_at, id`,
		observationColumns, s.observations)
	if err := s.DB.SelectContext(ctx, &rows, s.q(query), origin, destination, toNanos(before)); err != nil {
		return nil, helpers.NewDatabaseError("load route history", err)
	}
	return toObservations(rows), nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) Stats(ctx context.Context) (models.MStoreStats, error) {
	var stats models.MStoreStats
	query := fmt.Sprintf(`
		SELECT COUNT(*) AS observations,
			COUNT(DISTINCT origin || '-' || destination) AS routes,
			COALESCE(MAX(collected_at), 0) AS latest_observation
		FROM %s`, s.observations)
	if err := s.DB.GetContext(ctx, &stats, query); err != nil {
		return stats, helpers.NewDatabaseError("observation stats", err)
	}
	// Stored as nanoseconds, reported as milliseconds.
	stats.LatestObservation /= int64(time.Millisecond)

	var registry struct {
		ModelCount     int64 `db:"model_count"`
		CandidateCount int64 `db:"candidate_count"`
	}
	query = fmt.Sprintf(`
		SELECT COUNT(*) AS model_count,
			COALESCE(SUM(CASE WHEN is_candidate THEN 1 ELSE 0 END), 0) AS candidate_count
		FROM %s`, s.records)
	if err := s.DB.GetContext(ctx, &registry, query); err != nil {
		return stats, helpers.NewDatabaseError("registry stats", err)
	}
	stats.ModelCount = registry.ModelCount
	stats.CandidateCount = registry.CandidateCount
	return stats, nil
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

func (s *sqlStore) GetDeployed(ctx context.Context) (*models.MModelRecord, error) {
	return s.getRecord(ctx, s.DB, fmt.Sprintf(`SELECT %s FROM %s WHERE deployed = TRUE`, recordColumns, s.records))
}

// -----------------------------------------------------------------------------

func (s *sqlStore) GetRecord(ctx context.Context, version string) (*models.MModelRecord, error) {
	rec, err := s.getRecord(ctx, s.DB, fmt.Sprintf(`SELECT %s FROM %s WHERE version = ?`, recordColumns, s.records), version)
	if err == nil && rec == nil {
		return nil, helpers.NewNotFoundError("model version %s not found", version)
	}
	return rec, err
}

// -----------------------------------------------------------------------------

func (s *sqlStore) getRecord(ctx context.Context, db sqlx.QueryerContext, query string, args ...interface{}) (*models.MModelRecord, error) {
	var row recordRow
	if err := sqlx.GetContext(ctx, db, &row, s.q(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, helpers.NewDatabaseError("read model record", err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, helpers.NewDatabaseError("decode model record", err)
	}
	return &rec, nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) DeployedVersion(ctx context.Context) (string, error) {
	return s.deployedVersion(ctx, s.DB)
}

// -----------------------------------------------------------------------------

func (s *sqlStore) deployedVersion(ctx context.Context, db sqlx.QueryerContext) (string, error) {
	var version string
	err := sqlx.GetContext(ctx, db, &version, fmt.Sprintf(`SELECT version FROM %s WHERE deployed = TRUE`, s.records))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", helpers.NewDatabaseError("read deployed version", err)
	}
	return version, nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) LatestVersion(ctx context.Context) (string, error) {
	var version sql.NullString
	if err := s.DB.GetContext(ctx, &version, fmt.Sprintf(`SELECT MAX(version) FROM %s`, s.records)); err != nil {
		return "", helpers.NewDatabaseError("read latest version", err)
	}
	return version.String, nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) History(ctx context.Context, limit int) ([]models.MModelRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY version DESC`, recordColumns, s.records)
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []recordRow
	if err := s.DB.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, helpers.NewDatabaseError("read model history", err)
	}

	out := make([]models.MModelRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, helpers.NewDatabaseError("decode model record", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// Commit inserts record in one transaction. For a deployed record the previous
// deployed row is cleared in the same transaction, and only if it is still supersededVersion.
func (s *sqlStore) Commit(ctx context.Context, record models.MModelRecord, supersededVersion string) error {
	if record.Deployed && record.IsCandidate {
		return helpers.NewValidationError("record %s cannot be both deployed and candidate", record.Version)
	}
	row, err := fromRecord(record)
	if err != nil {
		return helpers.NewDatabaseError("encode model record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin commit", err)
	}
	defer tx.Rollback()

	if s.lockCommit != nil {
		if err := s.lockCommit(ctx, tx); err != nil {
			return helpers.NewDatabaseError("lock registry", err)
		}
	}

	if record.Deployed {
		current, err := s.deployedVersion(ctx, tx)
		if err != nil {
			return err
		}
		if current != supersededVersion {
			return helpers.NewConcurrentCommitConflict(supersededVersion, current)
		}
		if current != "" {
			if _, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(`UPDATE %s SET deployed = FALSE WHERE version = ?`, s.records)), current); err != nil {
				return helpers.NewDatabaseError("retire deployed model", err)
			}
		}
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:version, :run_id, :trained_at, :training_metrics, :evaluation, :incumbent_evaluation, `+
		`:deployed, :is_candidate, :compared_against_version, :compared_on_timestamp, :deployed_at, :feature_order, :artifact_path, :decision_reason)`,
		s.records, recordColumns)
	if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
		if s.deployedViolation != nil && s.deployedViolation(err) {
			actual, _ := s.deployedVersion(ctx, s.DB)
			return helpers.NewConcurrentCommitConflict(supersededVersion, actual)
		}
		return helpers.NewDatabaseError(fmt.Sprintf("insert model record %s", record.Version), err)
	}

	if err := tx.Commit(); err != nil {
		if s.deployedViolation != nil && s.deployedViolation(err) {
			return helpers.NewConcurrentCommitConflict(supersededVersion, "")
		}
		return helpers.NewDatabaseError("commit model record", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Rollback switches the deployed pointer to an existing version in one transaction.
func (s *sqlStore) Rollback(ctx context.Context, version string) (*models.MModelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, helpers.NewDatabaseError("begin rollback", err)
	}
	defer tx.Rollback()

	if s.lockCommit != nil {
		if err := s.lockCommit(ctx, tx); err != nil {
			return nil, helpers.NewDatabaseError("lock registry", err)
		}
	}

	rec, err := s.getRecord(ctx, tx, fmt.Sprintf(`SELECT %s FROM %s WHERE version = ?`, recordColumns, s.records), version)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, helpers.NewNotFoundError("model version %s not found", version)
	}
	if rec.Deployed {
		return rec, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET deployed = FALSE WHERE deployed = TRUE`, s.records)); err != nil {
		return nil, helpers.NewDatabaseError("retire deployed model", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(`UPDATE %s SET deployed = TRUE, is_candidate = FALSE, deployed_at = ? WHERE version = ?`, s.records)),
		toNanos(now), version); err != nil {
		return nil, helpers.NewDatabaseError("deploy model", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, helpers.NewDatabaseError("commit rollback", err)
	}

	rec.Deployed = true
	rec.IsCandidate = false
	rec.DeployedAt = &now
	return rec, nil
}

// -----------------------------------------------------------------------------

func toObservations(rows []observationRow) []models.MPriceObservation {
	out := make([]models.MPriceObservation, len(rows))
	for i, r := range rows {
		out[i] = r.observation()
	}
	return out
}
